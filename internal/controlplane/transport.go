package controlplane

import (
	"net"
	"time"

	"github.com/drexelwireless/dragonradio-sub000/internal/flowstats"
	"github.com/drexelwireless/dragonradio-sub000/internal/mac"
	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
	"github.com/drexelwireless/dragonradio-sub000/internal/schedule"
	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

// channelBandwidthHz is the nominal per-channel width used to derive a
// voxel's [FStart, FEnd) band from a schedule channel index, in the
// absence of any DSP-level frequency plan in this specification's scope.
const channelBandwidthHz = 1_000_000.0

// PeerTransport broadcasts DiscoveryHello frames over the internal peer
// protocol socket, implementing discovery.HelloSender so a
// discovery.Discovery can be constructed independently of the
// Controller that later supervises its Run loop.
type PeerTransport struct {
	Conn      *net.UDPConn
	Broadcast *net.UDPAddr
}

// SendHello broadcasts a DiscoveryHello announcing self's identity,
// gateway status, and location.
func (t *PeerTransport) SendHello(self neighborhood.NodeId, isGateway bool, loc neighborhood.Location) error {
	h := wire.DiscoveryHello{
		NodeID:    uint8(self),
		IsGateway: isGateway,
		Lat:       loc.Lat,
		Lon:       loc.Lon,
		Alt:       loc.Alt,
	}
	payload := wire.EncodeDiscoveryHello(h)
	buf := appendFrame(nil, payload)
	_, err := t.Conn.WriteToUDP(buf, t.Broadcast)
	return err
}

// locationSource adapts a neighborhood.Neighborhood into collab.LocationSource,
// reporting every neighbor whose last update is younger than maxAge.
type locationSource struct {
	neigh *neighborhood.Neighborhood
}

// NewLocationSource builds a collab.LocationSource backed by neigh.
func NewLocationSource(neigh *neighborhood.Neighborhood) *locationSource {
	return &locationSource{neigh: neigh}
}

func (s *locationSource) Locations(maxAge time.Duration) []wire.LocationReport {
	now := time.Now()
	var out []wire.LocationReport
	for _, n := range s.neigh.Snapshot() {
		if n.Loc.Timestamp.IsZero() || now.Sub(n.Loc.Timestamp) > maxAge {
			continue
		}
		out = append(out, wire.LocationReport{
			NodeID:      uint8(n.ID),
			Lat:         n.Loc.Lat,
			Lon:         n.Loc.Lon,
			Alt:         n.Loc.Alt,
			AgeUnixNano: now.Sub(n.Loc.Timestamp).Nanoseconds(),
		})
	}
	return out
}

// voxelSource adapts a mac.Binding and flowstats.FlowPerformance into
// collab.VoxelSource. Predicted voxels come from the currently installed
// schedule (one per occupied channel, duty cycle = the fraction of slots
// the transmitting node holds); historical voxels come from a drain of
// observed flow traffic, one voxel per flow whose channel is assumed to
// be the same the MAC would predict for its source node. Neither this
// specification nor the retrieved corpus models DSP-level center
// frequencies, so channelBandwidthHz stands in for a real frequency plan.
type voxelSource struct {
	self     neighborhood.NodeId
	macBind  *mac.Binding
	flowPerf *flowstats.FlowPerformance
}

// NewVoxelSource builds a collab.VoxelSource backed by macBind and flowPerf.
func NewVoxelSource(self neighborhood.NodeId, macBind *mac.Binding, flowPerf *flowstats.FlowPerformance) *voxelSource {
	return &voxelSource{self: self, macBind: macBind, flowPerf: flowPerf}
}

func (s *voxelSource) HistoricalVoxels() []wire.SpectrumVoxel {
	var out []wire.SpectrumVoxel
	for _, fs := range s.flowPerf.Drain(false) {
		ch := channelForNode(s.macBind.Schedule(), schedule.NodeId(fs.Src))
		out = append(out, wire.SpectrumVoxel{
			FStart:    float64(ch) * channelBandwidthHz,
			FEnd:      float64(ch+1) * channelBandwidthHz,
			DutyCycle: 1.0,
			Tx:        uint8(fs.Src),
			Rx:        []uint8{uint8(fs.Dest)},
			Measured:  true,
		})
	}
	return out
}

func (s *voxelSource) PredictedVoxels(trimLo, trimHi float64, future time.Duration) []wire.SpectrumVoxel {
	sched := s.macBind.Schedule()
	if sched == nil {
		return nil
	}

	var out []wire.SpectrumVoxel
	for ch := 0; ch < sched.NChannels; ch++ {
		occupant := schedule.Idle
		for slot := 0; slot < sched.NSlots; slot++ {
			if n := sched.At(schedule.ChannelIdx(ch), slot); n != schedule.Idle {
				occupant = n
				break
			}
		}
		if occupant == schedule.Idle {
			continue
		}

		nslots := 0
		for slot := 0; slot < sched.NSlots; slot++ {
			if sched.At(schedule.ChannelIdx(ch), slot) == occupant {
				nslots++
			}
		}

		fStart := float64(ch)*channelBandwidthHz + trimLo*channelBandwidthHz
		fEnd := float64(ch+1)*channelBandwidthHz - trimHi*channelBandwidthHz
		out = append(out, wire.SpectrumVoxel{
			FStart:    fStart,
			FEnd:      fEnd,
			DutyCycle: float64(nslots) / float64(sched.NSlots),
			Tx:        uint8(occupant),
			Measured:  false,
		})
	}
	return out
}

// channelForNode returns the channel node is assigned to in sched, or 0
// if sched is nil or node holds no slot.
func channelForNode(sched *schedule.Schedule, node schedule.NodeId) schedule.ChannelIdx {
	if sched == nil {
		return 0
	}
	ch, err := schedule.BestChannel(sched, node)
	if err != nil {
		return 0
	}
	return ch
}

// performanceSource adapts flowstats.FlowPerformance into
// collab.PerformanceSource.
type performanceSource struct {
	flowPerf *flowstats.FlowPerformance
}

// NewPerformanceSource builds a collab.PerformanceSource backed by flowPerf.
func NewPerformanceSource(flowPerf *flowstats.FlowPerformance) *performanceSource {
	return &performanceSource{flowPerf: flowPerf}
}

func (s *performanceSource) FlowStats() []wire.FlowStatsUpdate {
	drained := s.flowPerf.Drain(false)
	out := make([]wire.FlowStatsUpdate, len(drained))
	for i, fs := range drained {
		out[i] = wire.FlowStatsUpdate{
			FlowID:   uint32(fs.FlowID),
			Src:      uint8(fs.Src),
			Dest:     uint8(fs.Dest),
			FirstMP:  int64(fs.FirstMP),
			NPackets: fs.NPackets,
			NBytes:   fs.NBytes,
		}
	}
	return out
}
