// Package flowstats implements FlowPerformance (RF control plane
// specification Section 4.3): per-flow, per-measurement-period byte and
// packet counters for sources and sinks, densely indexed from the first
// measurement period a flow was observed in.
package flowstats

import (
	"sync"
	"time"
)

// FlowId identifies a traffic flow, classified by destination UDP port
// (or broadcast).
type FlowId uint16

// NodeId identifies a fleet node.
type NodeId uint8

// MP is a measurement-period index: floor((now - scenario_start) / period).
type MP int64

// MPStats holds one (flow, mp) cell's counters. All counters are
// monotonically non-decreasing within a scenario stage.
type MPStats struct {
	NPacketsSent int64
	NBytesSent   int64
	TSSent       time.Time
	NPacketsRecv int64
	NBytesRecv   int64
	TSRecv       time.Time
}

// FlowStats is a drained snapshot of one flow's dense MP range, as sent
// over the internal peer protocol (FlowStats message, specification
// Section 6.2).
type FlowStats struct {
	FlowID   FlowId
	Src      NodeId
	Dest     NodeId
	FirstMP  MP
	NPackets []int64 // dense from FirstMP; sent-side counts only
	NBytes   []int64
}

// flowSeries is a densely-indexed vector of MPStats starting at LowMP.
type flowSeries struct {
	lowMP NodeIDRange
	cells []MPStats
	src   NodeId
	dest  NodeId
}

// NodeIDRange is MP but named distinctly to avoid confusion with NodeId in
// field declarations; it is simply the first MP in which a flow series was
// observed.
type NodeIDRange = MP

func (fs *flowSeries) ensure(mp MP) {
	if len(fs.cells) == 0 {
		fs.lowMP = mp
		fs.cells = make([]MPStats, 1)
		return
	}
	idx := int(mp - fs.lowMP)
	if idx < 0 {
		// Observed an MP older than lowMP: shift lowMP down and prepend.
		shift := int(fs.lowMP - mp)
		grown := make([]MPStats, len(fs.cells)+shift)
		copy(grown[shift:], fs.cells)
		fs.cells = grown
		fs.lowMP = mp
		return
	}
	if idx >= len(fs.cells) {
		grown := make([]MPStats, idx+1)
		copy(grown, fs.cells)
		fs.cells = grown
	}
}

func (fs *flowSeries) cell(mp MP) *MPStats {
	fs.ensure(mp)
	return &fs.cells[mp-fs.lowMP]
}

func (fs *flowSeries) highMP() MP {
	if len(fs.cells) == 0 {
		return fs.lowMP
	}
	return fs.lowMP + MP(len(fs.cells)) - 1
}

// Clock abstracts the wall-clock -> MP mapping so tests can control time
// deterministically; production code supplies a clock backed by
// time.Now() and a fixed scenario start + measurement period.
type Clock interface {
	NowMP() MP
	Now() time.Time
}

// FlowPerformance owns the sources/sinks counters for every known flow.
// Concurrent updates are serialized by a single mutex guarding both the
// sources and sinks maps.
type FlowPerformance struct {
	clock Clock

	mu      sync.Mutex
	sources map[FlowId]*flowSeries
	sinks   map[FlowId]*flowSeries
}

// New creates an empty FlowPerformance bound to clock.
func New(clock Clock) *FlowPerformance {
	return &FlowPerformance{
		clock:   clock,
		sources: make(map[FlowId]*flowSeries),
		sinks:   make(map[FlowId]*flowSeries),
	}
}

// RecordSent records nbytes transmitted on flow from src to dest at the
// current MP, incrementing both packet and byte counters and stamping
// TSSent.
func (fp *FlowPerformance) RecordSent(flow FlowId, src, dest NodeId, nbytes int) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	series := fp.seriesLocked(fp.sources, flow, src, dest)
	mp := fp.clock.NowMP()
	cell := series.cell(mp)
	cell.NPacketsSent++
	cell.NBytesSent += int64(nbytes)
	cell.TSSent = fp.clock.Now()
}

// RecordRecv records nbytes received on flow from src to dest at the
// current MP.
func (fp *FlowPerformance) RecordRecv(flow FlowId, src, dest NodeId, nbytes int) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	series := fp.seriesLocked(fp.sinks, flow, src, dest)
	mp := fp.clock.NowMP()
	cell := series.cell(mp)
	cell.NPacketsRecv++
	cell.NBytesRecv += int64(nbytes)
	cell.TSRecv = fp.clock.Now()
}

func (fp *FlowPerformance) seriesLocked(m map[FlowId]*flowSeries, flow FlowId, src, dest NodeId) *flowSeries {
	series, ok := m[flow]
	if !ok {
		series = &flowSeries{src: src, dest: dest}
		m[flow] = series
	}
	return series
}

// Drain snapshots every known flow (source or sink) over its full observed
// MP range; the counters in each snapshot are the sent-side ones (see
// mergedLocked). If reset is true, all counters are cleared after the
// snapshot is taken.
func (fp *FlowPerformance) Drain(reset bool) []FlowStats {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	flows := make(map[FlowId]struct{})
	for id := range fp.sources {
		flows[id] = struct{}{}
	}
	for id := range fp.sinks {
		flows[id] = struct{}{}
	}

	out := make([]FlowStats, 0, len(flows))
	for id := range flows {
		out = append(out, fp.mergedLocked(id))
	}

	if reset {
		fp.sources = make(map[FlowId]*flowSeries)
		fp.sinks = make(map[FlowId]*flowSeries)
	}

	return out
}

// mergedLocked builds a single dense FlowStats covering the union MP range
// of a flow's source and sink series. Only the source series' sent
// counters are copied in; received counters are not included, and MPs
// seen only on the sink side read as zero. The caller must hold fp.mu.
func (fp *FlowPerformance) mergedLocked(id FlowId) FlowStats {
	src := fp.sources[id]
	sink := fp.sinks[id]

	low := MP(0)
	high := MP(-1)
	have := false

	for _, s := range []*flowSeries{src, sink} {
		if s == nil || len(s.cells) == 0 {
			continue
		}
		if !have || s.lowMP < low {
			low = s.lowMP
		}
		if !have || s.highMP() > high {
			high = s.highMP()
		}
		have = true
	}

	if !have {
		return FlowStats{FlowID: id}
	}

	n := int(high-low) + 1
	npackets := make([]int64, n)
	nbytes := make([]int64, n)

	var srcNode, destNode NodeId
	if src != nil {
		srcNode, destNode = src.src, src.dest
	} else if sink != nil {
		srcNode, destNode = sink.src, sink.dest
	}

	for i := 0; i < n; i++ {
		mp := low + MP(i)
		if src != nil && mp >= src.lowMP && mp <= src.highMP() {
			npackets[i] += src.cells[mp-src.lowMP].NPacketsSent
			nbytes[i] += src.cells[mp-src.lowMP].NBytesSent
		}
	}

	return FlowStats{
		FlowID:   id,
		Src:      srcNode,
		Dest:     destNode,
		FirstMP:  low,
		NPackets: npackets,
		NBytes:   nbytes,
	}
}

// SentCell returns a copy of the sent-side MPStats for (flow, mp), and
// whether it exists.
func (fp *FlowPerformance) SentCell(flow FlowId, mp MP) (MPStats, bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return cellOf(fp.sources[flow], mp)
}

// RecvCell returns a copy of the recv-side MPStats for (flow, mp), and
// whether it exists.
func (fp *FlowPerformance) RecvCell(flow FlowId, mp MP) (MPStats, bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return cellOf(fp.sinks[flow], mp)
}

func cellOf(s *flowSeries, mp MP) (MPStats, bool) {
	if s == nil || mp < s.lowMP || mp > s.highMP() {
		return MPStats{}, false
	}
	return s.cells[mp-s.lowMP], true
}

// MPRange returns the [low, high] measurement-period range observed for
// flow across both sources and sinks. ok is false if the flow has never
// been observed.
func (fp *FlowPerformance) MPRange(flow FlowId) (low, high MP, ok bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	src := fp.sources[flow]
	sink := fp.sinks[flow]

	have := false
	for _, s := range []*flowSeries{src, sink} {
		if s == nil || len(s.cells) == 0 {
			continue
		}
		if !have || s.lowMP < low {
			low = s.lowMP
		}
		if !have || s.highMP() > high {
			high = s.highMP()
		}
		have = true
	}
	return low, high, have
}
