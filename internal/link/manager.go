package link

import (
	"context"
	"sync"
)

// SessionSnapshot is a read-only view of one destination's link state,
// used for status reporting.
type SessionSnapshot struct {
	Dest       NodeId
	MCS        MCS
	LLDrops    uint64
	QueueDrops uint64
}

// Manager owns one Session per destination, created on first use.
type Manager struct {
	sender   PacketSender
	listener Listener
	cfg      Config

	mu       sync.Mutex
	sessions map[NodeId]*Session
	cancel   map[NodeId]context.CancelFunc
}

// NewManager creates a Manager that lazily spins up a Session (and its
// driving goroutine) for each new destination.
func NewManager(sender PacketSender, listener Listener, cfg Config) *Manager {
	if listener == nil {
		listener = noopListener{}
	}
	return &Manager{
		sender:   sender,
		listener: listener,
		cfg:      cfg,
		sessions: make(map[NodeId]*Session),
		cancel:   make(map[NodeId]context.CancelFunc),
	}
}

// sessionFor returns the Session for dest, starting a new one under ctx if
// none exists yet.
func (m *Manager) sessionFor(ctx context.Context, dest NodeId) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[dest]; ok {
		return s
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := NewSession(dest, m.sender, m.cfg, WithListener(m.listener))
	m.sessions[dest] = s
	m.cancel[dest] = cancel
	go s.Run(sessCtx)
	return s
}

// Send enqueues data for dest, starting that destination's session on
// first use.
func (m *Manager) Send(ctx context.Context, dest NodeId, data []byte) error {
	return m.sessionFor(ctx, dest).Enqueue(data)
}

// Deliver routes a received data packet to dest's session.
func (m *Manager) Deliver(ctx context.Context, dest NodeId, seq SeqNum, data []byte) {
	m.sessionFor(ctx, dest).RecvData(seq, data)
}

// Ack routes a received selective ACK to dest's session.
func (m *Manager) Ack(ctx context.Context, dest NodeId, expected SeqNum, sackBitmap uint32) {
	m.sessionFor(ctx, dest).RecvAck(expected, sackBitmap)
}

// Snapshot returns the current state of every active session.
func (m *Manager) Snapshot() []SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionSnapshot, 0, len(m.sessions))
	for dest, s := range m.sessions {
		out = append(out, SessionSnapshot{
			Dest:       dest,
			MCS:        s.MCS(),
			LLDrops:    s.LLDrops(),
			QueueDrops: s.QueueDrops(),
		})
	}
	return out
}

// Close cancels every active session's goroutine.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.cancel {
		cancel()
	}
}
