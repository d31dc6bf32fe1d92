// Package dsp defines the narrow interfaces the control plane uses to
// reach the DSP/TUN/GPS radio frontend (RF control plane specification
// Section 6). The real signal chain, TUN device, and GPS receiver are out
// of scope for this repository; these interfaces are the seam a hardware
// or simulator adapter implements, and the seam this repository's own
// tests drive with fakes.
package dsp

import (
	"github.com/drexelwireless/dragonradio-sub000/internal/link"
	"github.com/drexelwireless/dragonradio-sub000/internal/mac"
	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
	"github.com/drexelwireless/dragonradio-sub000/internal/schedule"
)

// FlowId identifies a flow the way flowstats and mandate do.
type FlowId = uint32

// NodeId identifies a radio node.
type NodeId = neighborhood.NodeId

// PacketSink receives payloads the link layer has reassembled in order.
// Implemented by the TUN device adapter in production; a test fake in
// this repository.
type PacketSink interface {
	DeliverPacket(flow FlowId, src, dest NodeId, payload []byte, seq uint32)
}

// TransmitQueue hands a framed payload to the DSP transmit chain at a
// given modulation and coding scheme.
type TransmitQueue interface {
	Enqueue(dest NodeId, mcs link.MCS, payload []byte) error
}

// ScheduleInstaller pushes a freshly computed schedule down to the MAC
// layer that actually gates channel access.
type ScheduleInstaller interface {
	InstallSchedule(s *schedule.Schedule, variant mac.Variant) error
}

// LocationSource resolves a node's most recently known position, backing
// both HELLO stamping and collaboration voxel pushes.
type LocationSource interface {
	Location(id NodeId) (neighborhood.Location, bool)
}

// EventRecorder stands in for the radio.h5 structured event log: a sink
// for arbitrary keyed diagnostic events the DSP or control plane wants
// preserved for post-run analysis.
type EventRecorder interface {
	RecordEvent(kind string, fields map[string]any)
}
