package controlplane

import (
	"testing"

	"github.com/drexelwireless/dragonradio-sub000/internal/dsp"
	"github.com/drexelwireless/dragonradio-sub000/internal/link"
	"github.com/drexelwireless/dragonradio-sub000/internal/mac"
	"github.com/drexelwireless/dragonradio-sub000/internal/schedule"
)

type fakeQueue struct {
	dest    []dsp.NodeId
	mcs     []link.MCS
	payload [][]byte
}

func (q *fakeQueue) Enqueue(dest dsp.NodeId, mcs link.MCS, payload []byte) error {
	q.dest = append(q.dest, dest)
	q.mcs = append(q.mcs, mcs)
	q.payload = append(q.payload, payload)
	return nil
}

func TestDSPPacketSenderFramesDataAndAck(t *testing.T) {
	q := &fakeQueue{}
	sender := NewDSPPacketSender(q)

	if err := sender.SendData(3, 7, link.MCS2, []byte("hello")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if len(q.payload) != 1 || q.payload[0][0] != linkFrameData {
		t.Fatalf("SendData payload = %+v, want a data-tagged frame", q.payload)
	}
	if q.dest[0] != dsp.NodeId(3) || q.mcs[0] != link.MCS2 {
		t.Errorf("SendData dest/mcs = %v/%v, want 3/MCS2", q.dest[0], q.mcs[0])
	}

	if err := sender.SendAck(3, 42, 0xFF); err != nil {
		t.Fatalf("SendAck: %v", err)
	}
	if q.payload[1][0] != linkFrameAck {
		t.Errorf("SendAck payload = %+v, want an ack-tagged frame", q.payload[1])
	}
	if q.mcs[1] != link.MCS0 {
		t.Errorf("SendAck mcs = %v, want MCS0 (acks never adapt)", q.mcs[1])
	}
}

type fakeSink struct {
	flow  []dsp.FlowId
	src   []dsp.NodeId
	dest  []dsp.NodeId
	bytes [][]byte
}

func (s *fakeSink) DeliverPacket(flow dsp.FlowId, src, dest dsp.NodeId, payload []byte, seq uint32) {
	s.flow = append(s.flow, flow)
	s.src = append(s.src, src)
	s.dest = append(s.dest, dest)
	s.bytes = append(s.bytes, payload)
}

func TestLinkListenerForwardsDeliveryToSink(t *testing.T) {
	sink := &fakeSink{}
	l := NewLinkListener(nil, sink)

	l.OnDeliver(5, []byte("payload"))

	if len(sink.bytes) != 1 || string(sink.bytes[0]) != "payload" {
		t.Fatalf("sink received %+v, want one delivery of \"payload\"", sink.bytes)
	}
	if sink.src[0] != dsp.NodeId(5) {
		t.Errorf("sink src = %v, want 5", sink.src[0])
	}
}

func TestLinkListenerRecordsMetricsWithoutPanickingWhenNil(t *testing.T) {
	l := NewLinkListener(nil, nil)
	l.OnMCSChange(1, link.MCS3)
	l.OnRetransmit(1, "timeout")
	l.OnDeliver(1, []byte("x"))
}

func TestScheduleInstallerRejectsVariantMismatch(t *testing.T) {
	bind := mac.NewTDMABinding(1)
	installer := NewScheduleInstaller(bind)

	sched := schedule.PureTDMA([]schedule.NodeId{1, 2})
	sched.Seq = 1

	if err := installer.InstallSchedule(sched, mac.FDMA); err == nil {
		t.Fatal("expected a variant mismatch error")
	}
	if bind.Schedule() != nil {
		t.Error("mismatched schedule should not have been installed")
	}

	if err := installer.InstallSchedule(sched, mac.TDMA); err != nil {
		t.Fatalf("InstallSchedule: %v", err)
	}
	if got := bind.Schedule(); got == nil || got.Seq != 1 {
		t.Errorf("schedule not installed, got %+v", got)
	}
}
