package link

import (
	"context"
	"testing"
	"time"
)

func TestManagerCreatesOneSessionPerDestination(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(sender, nil, testConfig())
	defer m.Close()

	ctx := context.Background()
	if err := m.Send(ctx, 5, []byte("a")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := m.Send(ctx, 7, []byte("b")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := m.Send(ctx, 5, []byte("c")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() has %d sessions, want 2", len(snap))
	}
}

func TestManagerDeliverRoutesToCorrectSession(t *testing.T) {
	listener := &fakeListener{}
	m := NewManager(&fakeSender{}, listener, testConfig())
	defer m.Close()

	ctx := context.Background()
	m.Deliver(ctx, 3, 0, []byte("hello"))

	deadline := time.After(time.Second)
	for {
		listener.mu.Lock()
		n := len(listener.delivered)
		listener.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestManagerCloseStopsSessions(t *testing.T) {
	m := NewManager(&fakeSender{}, nil, testConfig())
	ctx := context.Background()
	_ = m.Send(ctx, 1, []byte("x"))
	m.Close() // should not panic or hang
}
