// Package schedule implements the pure MAC-schedule construction functions
// (RF control plane specification Section 4.5): fair_schedule,
// best_channel, pure_tdma, and the supplemental full_channel variant
// recovered from original_source/python/dragonradio/dragonradio/schedule.py.
package schedule

import (
	"errors"
	"fmt"

	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
)

// NodeId aliases neighborhood.NodeId; a schedule slot holds either a
// NodeId or Idle.
type NodeId = neighborhood.NodeId

// Idle marks a (channel, slot) cell with no assigned transmitter.
const Idle NodeId = 0

// ChannelIdx indexes a channel in a Schedule.
type ChannelIdx int

// Affinity maps a node to the channel it was last assigned, carried
// forward across reschedules so existing transmitters keep their channel.
type Affinity map[NodeId]ChannelIdx

// ErrNoSlot indicates BestChannel found no cell assigned to the given node.
var ErrNoSlot = errors.New("schedule: node has no assigned slot")

// Schedule is a dense nchannels x nslots matrix of NodeId. Idle (zero)
// means no one transmits in that cell. Sequence-numbered; a later
// sequence supersedes an earlier one once installed (see mac.Binding).
type Schedule struct {
	Seq        uint64
	NChannels  int
	NSlots     int
	Cells      [][]NodeId // Cells[channel][slot]
}

// At returns the node assigned to (channel, slot).
func (s *Schedule) At(channel ChannelIdx, slot int) NodeId {
	return s.Cells[channel][slot]
}

// Clone deep-copies the schedule, preserving sequence and dimensions.
func (s *Schedule) Clone() *Schedule {
	cells := make([][]NodeId, len(s.Cells))
	for i, row := range s.Cells {
		cells[i] = append([]NodeId(nil), row...)
	}
	return &Schedule{Seq: s.Seq, NChannels: s.NChannels, NSlots: s.NSlots, Cells: cells}
}

func newMatrix(nchannels, nslots int) [][]NodeId {
	cells := make([][]NodeId, nchannels)
	for i := range cells {
		cells[i] = make([]NodeId, nslots)
	}
	return cells
}

// PureTDMA returns a 1 x len(nodes) schedule giving each node a single
// slot on the sole channel, in the order given.
func PureTDMA(nodes []NodeId) *Schedule {
	nslots := len(nodes)
	cells := newMatrix(1, nslots)
	for i, node := range nodes {
		cells[0][i] = node
	}
	return &Schedule{NChannels: 1, NSlots: nslots, Cells: cells}
}

// FullChannel greedily gives each node its own channel, spaced by k
// channels apart where possible; nodes beyond nchannels get no slot at
// all. Supplemental to spec.md, recovered from
// original_source/.../schedule.py's fullChannelMACSchedule.
func FullChannel(nchannels, nslots int, nodes []NodeId, k int) *Schedule {
	cells := newMatrix(nchannels, nslots)

	assign := nodes
	if len(assign) > nchannels {
		assign = assign[:nchannels]
	}

	i := 0
	remaining := append([]NodeId(nil), assign...)
	for len(remaining) != 0 {
		if isChannelEmpty(cells[i]) {
			fillChannel(cells[i], remaining[0])
			remaining = remaining[1:]
			i += k
		} else {
			i++
		}
		if i >= nchannels {
			i = 0
		}
	}

	return &Schedule{NChannels: nchannels, NSlots: nslots, Cells: cells}
}

func isChannelEmpty(row []NodeId) bool {
	for _, v := range row {
		if v != Idle {
			return false
		}
	}
	return true
}

func fillChannel(row []NodeId, node NodeId) {
	for i := range row {
		row[i] = node
	}
}

// FairSchedule distributes slots evenly across nodes on nchannels
// channels, carrying forward prior channel affinity for nodes already
// assigned. It returns the new Schedule (sequence left at zero; the
// caller stamps the sequence number on install) and the updated affinity
// map including newly-assigned nodes.
//
// Grounded on original_source/.../schedule.py's fairMACSchedule: nodes
// keep their prior channel; unassigned nodes are scanned starting from a
// rolling base channel, placed on the first channel whose occupant count
// is <= floor(nodeidx/nchannels), then the base advances by k (mod
// nchannels) to spread assignments. Each channel's slots cycle through
// its assigned nodes round-robin.
func FairSchedule(nchannels, nslots int, nodes []NodeId, k int, prior Affinity) (*Schedule, Affinity) {
	channels := make([][]NodeId, nchannels)
	assignments := make(Affinity, len(prior)+len(nodes))

	for node, chan_ := range prior {
		assignments[node] = chan_
		channels[chan_] = append(channels[chan_], node)
	}

	basechan := 0

	for nodeidx, node := range nodes {
		if _, already := assignments[node]; already {
			continue
		}

		for i := 0; i < nchannels; i++ {
			chanIdx := ChannelIdx(mod(basechan+i, nchannels))

			if len(channels[chanIdx]) <= nodeidx/nchannels {
				channels[chanIdx] = append(channels[chanIdx], node)
				assignments[node] = chanIdx
				basechan = mod(int(chanIdx)+k, nchannels)
				break
			}
		}
	}

	cells := newMatrix(nchannels, nslots)
	for chanIdx := 0; chanIdx < nchannels; chanIdx++ {
		assigned := channels[chanIdx]
		if len(assigned) == 0 {
			continue
		}
		for slot := 0; slot < nslots; slot++ {
			cells[chanIdx][slot] = assigned[slot%len(assigned)]
		}
	}

	return &Schedule{NChannels: nchannels, NSlots: nslots, Cells: cells}, assignments
}

// mod is a non-negative modulo (Go's % can return negative for negative
// operands; basechan+i and basechan+k are always computed from
// non-negative ChannelIdx values here, but mod keeps the arithmetic
// explicit and safe regardless).
func mod(a, n int) int {
	if n == 0 {
		return 0
	}
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// BestChannel returns the channel on which node has the most assigned
// slots. Returns ErrNoSlot if node appears in no cell of s.
func BestChannel(s *Schedule, node NodeId) (ChannelIdx, error) {
	best := ChannelIdx(-1)
	bestCount := 0

	for chanIdx, row := range s.Cells {
		count := 0
		for _, v := range row {
			if v == node {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			best = ChannelIdx(chanIdx)
		}
	}

	if best < 0 {
		return 0, fmt.Errorf("best channel for node %d: %w", node, ErrNoSlot)
	}
	return best, nil
}
