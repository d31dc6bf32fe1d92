package link

import (
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []struct {
		seq  SeqNum
		mcs  MCS
		data []byte
	}
}

func (f *fakeSender) SendData(_ NodeId, seq SeqNum, mcs MCS, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, struct {
		seq  SeqNum
		mcs  MCS
		data []byte
	}{seq, mcs, data})
	return nil
}

func (f *fakeSender) SendAck(NodeId, SeqNum, uint32) error { return nil }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeListener struct {
	mu         sync.Mutex
	delivered  [][]byte
	mcsEvents  []MCS
	retransmits []string
}

func (f *fakeListener) OnDeliver(_ NodeId, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, data)
}

func (f *fakeListener) OnMCSChange(_ NodeId, mcs MCS) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mcsEvents = append(f.mcsEvents, mcs)
}

func (f *fakeListener) OnRetransmit(_ NodeId, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retransmits = append(f.retransmits, reason)
}

func testConfig() Config {
	return Config{
		WindowSize:        4,
		QueueCapacity:     16,
		RetransmitTimeout: time.Hour, // tests drive retransmit manually
		MaxRetries:        2,
		InitialMCS:        MCS1,
		MCSHysteresis:     2,
	}
}

func TestEnqueueAssignsSequentialSeqAndSends(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(1, sender, testConfig())

	s.handleEnqueue([]byte("a"))
	s.handleEnqueue([]byte("b"))

	if sender.count() != 2 {
		t.Fatalf("sender got %d sends, want 2", sender.count())
	}
	if sender.sent[0].seq != 0 || sender.sent[1].seq != 1 {
		t.Errorf("sequence numbers not assigned in order: %+v", sender.sent)
	}
}

func TestWindowFullCountsQueueDrop(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()
	cfg.WindowSize = 2
	s := NewSession(1, sender, cfg)

	s.handleEnqueue([]byte("a"))
	s.handleEnqueue([]byte("b"))
	s.handleEnqueue([]byte("c")) // window full, should drop

	if s.QueueDrops() != 1 {
		t.Errorf("QueueDrops() = %d, want 1", s.QueueDrops())
	}
	if sender.count() != 2 {
		t.Errorf("sender got %d sends, want 2 (third should have been dropped)", sender.count())
	}
}

func TestCumulativeAckClearsWindow(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(1, sender, testConfig())

	s.handleEnqueue([]byte("a"))
	s.handleEnqueue([]byte("b"))
	s.handleEnqueue([]byte("c"))

	s.handleAck(ackEvent{expected: 2}) // acks seq 0 and 1 cumulatively

	s.mu.Lock()
	_, has0 := s.window[0]
	_, has1 := s.window[1]
	_, has2 := s.window[2]
	s.mu.Unlock()

	if has0 || has1 {
		t.Error("cumulatively acked packets should be removed from the window")
	}
	if !has2 {
		t.Error("un-acked packet should remain in the window")
	}
}

func TestSelectiveAckClearsOutOfOrderEntry(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(1, sender, testConfig())

	s.handleEnqueue([]byte("a")) // seq 0
	s.handleEnqueue([]byte("b")) // seq 1
	s.handleEnqueue([]byte("c")) // seq 2

	// expected=0 (nothing cumulatively acked yet), but seq 1 (bit 1) was received.
	s.handleAck(ackEvent{expected: 0, sackBitmap: 1 << 1})

	s.mu.Lock()
	_, has1 := s.window[1]
	s.mu.Unlock()

	if has1 {
		t.Error("selectively acked packet should be removed from the window")
	}
}

func TestSelectiveNakRetransmitsGap(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()
	cfg.WindowSize = 8
	s := NewSession(1, sender, cfg)

	s.handleEnqueue([]byte("a")) // seq 0
	s.handleEnqueue([]byte("b")) // seq 1
	s.handleEnqueue([]byte("c")) // seq 2
	before := sender.count()

	// expected=0 (seq 0 still outstanding, handled by the retransmit timer,
	// not a NAK). seq 2 (bit for i=2) was received but seq 1 (i=1) was not:
	// a genuine gap in the middle of the window, NAK'd immediately.
	s.handleAck(ackEvent{expected: 0, sackBitmap: 1 << 2})

	if sender.count() <= before {
		t.Error("expected an immediate retransmit of the gapped packet")
	}
	last := sender.sent[len(sender.sent)-1]
	if last.seq != 1 {
		t.Errorf("retransmitted seq = %d, want 1", last.seq)
	}
}

func TestInOrderDeliveryFlushesReorderBuffer(t *testing.T) {
	listener := &fakeListener{}
	s := NewSession(1, &fakeSender{}, testConfig(), WithListener(listener))

	s.handleData(dataEvent{seq: 0, data: []byte("a")})
	s.handleData(dataEvent{seq: 2, data: []byte("c")}) // out of order, buffered
	s.handleData(dataEvent{seq: 1, data: []byte("b")}) // fills the gap

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.delivered) != 3 {
		t.Fatalf("delivered %d payloads, want 3", len(listener.delivered))
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if string(listener.delivered[i]) != w {
			t.Errorf("delivered[%d] = %q, want %q", i, listener.delivered[i], w)
		}
	}
}

func TestDuplicateDataIsIgnored(t *testing.T) {
	listener := &fakeListener{}
	s := NewSession(1, &fakeSender{}, testConfig(), WithListener(listener))

	s.handleData(dataEvent{seq: 0, data: []byte("a")})
	s.handleData(dataEvent{seq: 0, data: []byte("a-dup")})

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.delivered) != 1 {
		t.Fatalf("delivered %d payloads, want 1 (duplicate should be dropped)", len(listener.delivered))
	}
}

func TestRetransmitTickRetriesThenDrops(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.RetransmitTimeout = time.Millisecond
	s := NewSession(1, sender, cfg)

	s.handleEnqueue([]byte("a"))

	// Force the packet to look stale.
	s.mu.Lock()
	s.window[0].sentAt = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	s.handleRetransmitTick() // retries once
	s.mu.Lock()
	_, stillThere := s.window[0]
	s.mu.Unlock()
	if !stillThere {
		t.Fatal("packet should still be in the window after first retry")
	}

	s.mu.Lock()
	s.window[0].sentAt = time.Now().Add(-time.Hour)
	s.mu.Unlock()
	s.handleRetransmitTick() // exceeds MaxRetries, drop

	if s.LLDrops() != 1 {
		t.Errorf("LLDrops() = %d, want 1", s.LLDrops())
	}
	s.mu.Lock()
	_, stillThere = s.window[0]
	s.mu.Unlock()
	if stillThere {
		t.Error("packet should have been dropped from the window")
	}
}

func TestMCSUpgradeRequiresHysteresisStreak(t *testing.T) {
	listener := &fakeListener{}
	cfg := testConfig()
	cfg.MCSHysteresis = 3
	s := NewSession(1, &fakeSender{}, cfg, WithListener(listener))

	start := s.MCS()
	s.feedMCSFilter(true)
	s.feedMCSFilter(true)
	if s.MCS() != start {
		t.Fatal("MCS should not upgrade before the hysteresis streak completes")
	}
	s.feedMCSFilter(true)
	if s.MCS() != start+1 {
		t.Errorf("MCS() = %v, want %v after a full success streak", s.MCS(), start+1)
	}
}

func TestMCSDowngradesImmediatelyOnFailure(t *testing.T) {
	listener := &fakeListener{}
	cfg := testConfig()
	cfg.InitialMCS = MCS2
	s := NewSession(1, &fakeSender{}, cfg, WithListener(listener))

	s.feedMCSFilter(false)
	if s.MCS() != MCS1 {
		t.Errorf("MCS() = %v, want MCS1 after a single failure", s.MCS())
	}
}

func TestMCSNeverDropsBelowZero(t *testing.T) {
	cfg := testConfig()
	cfg.InitialMCS = MCS0
	s := NewSession(1, &fakeSender{}, cfg)

	s.feedMCSFilter(false)
	if s.MCS() != MCS0 {
		t.Errorf("MCS() = %v, want MCS0 (floor)", s.MCS())
	}
}
