package controlplane

import (
	"fmt"

	"github.com/drexelwireless/dragonradio-sub000/internal/dsp"
	"github.com/drexelwireless/dragonradio-sub000/internal/link"
	"github.com/drexelwireless/dragonradio-sub000/internal/mac"
	radiometrics "github.com/drexelwireless/dragonradio-sub000/internal/metrics"
	"github.com/drexelwireless/dragonradio-sub000/internal/schedule"
)

// dspPacketSender adapts a dsp.TransmitQueue into link.PacketSender,
// framing a link-layer data or ACK packet into the single opaque payload
// the DSP transmit chain accepts.
type dspPacketSender struct {
	queue dsp.TransmitQueue
}

// NewDSPPacketSender returns the link.PacketSender every LinkController
// session hands its framed packets to on the way to the DSP transmit
// queue.
func NewDSPPacketSender(queue dsp.TransmitQueue) link.PacketSender {
	return dspPacketSender{queue: queue}
}

const (
	linkFrameData byte = iota
	linkFrameAck
)

func (s dspPacketSender) SendData(dest link.NodeId, seq link.SeqNum, mcs link.MCS, data []byte) error {
	buf := make([]byte, 0, 3+len(data))
	buf = append(buf, linkFrameData, byte(seq>>8), byte(seq))
	buf = append(buf, data...)
	return s.queue.Enqueue(dsp.NodeId(dest), mcs, buf)
}

func (s dspPacketSender) SendAck(dest link.NodeId, expected link.SeqNum, sackBitmap uint32) error {
	buf := []byte{
		linkFrameAck,
		byte(expected >> 8), byte(expected),
		byte(sackBitmap >> 24), byte(sackBitmap >> 16), byte(sackBitmap >> 8), byte(sackBitmap),
	}
	return s.queue.Enqueue(dsp.NodeId(dest), link.MCS0, buf)
}

// linkListener fans LinkController session events out to the Prometheus
// collector and, when one is configured, to the packet sink that hands
// reassembled payloads to the layer above the radio link.
type linkListener struct {
	metrics *radiometrics.Collector
	sink    dsp.PacketSink
}

// NewLinkListener builds the link.Listener every LinkController Manager
// reports MCS changes, retransmits, and in-order deliveries to. Either
// argument may be nil.
func NewLinkListener(metrics *radiometrics.Collector, sink dsp.PacketSink) link.Listener {
	return linkListener{metrics: metrics, sink: sink}
}

func (l linkListener) OnDeliver(dest link.NodeId, data []byte) {
	if l.sink == nil {
		return
	}
	// The link layer reassembles in order but carries no flow
	// classification of its own; flow and sequence are left zero until a
	// higher layer (out of scope here) tags payloads before they reach
	// the sink.
	l.sink.DeliverPacket(0, dsp.NodeId(dest), dsp.NodeId(dest), data, 0)
}

func (l linkListener) OnMCSChange(dest link.NodeId, mcs link.MCS) {
	if l.metrics != nil {
		l.metrics.SetMCSLevel(fmt.Sprintf("%d", dest), float64(mcs))
	}
}

func (l linkListener) OnRetransmit(dest link.NodeId, reason string) {
	if l.metrics != nil {
		l.metrics.RecordRetransmit(fmt.Sprintf("%d", dest), reason)
	}
}

// macScheduleInstaller adapts a mac.Binding into dsp.ScheduleInstaller,
// rejecting an install whose variant does not match the binding's
// configured MAC variant instead of silently installing a schedule the
// binding cannot gate channel access with.
type macScheduleInstaller struct {
	bind *mac.Binding
}

// NewScheduleInstaller returns the dsp.ScheduleInstaller that feeds a
// newly decoded schedule into bind.
func NewScheduleInstaller(bind *mac.Binding) dsp.ScheduleInstaller {
	return macScheduleInstaller{bind: bind}
}

func (m macScheduleInstaller) InstallSchedule(s *schedule.Schedule, variant mac.Variant) error {
	if variant != m.bind.Variant() {
		return fmt.Errorf("controlplane: schedule variant %s does not match bound MAC variant %s", variant, m.bind.Variant())
	}
	if !m.bind.Install(s) {
		return fmt.Errorf("controlplane: schedule seq %d rejected as stale or equal", s.Seq)
	}
	return nil
}
