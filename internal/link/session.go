// Package link implements LinkController (RF control plane specification
// Section 4.6): one ARQ sliding-window actor per destination, with
// selective ACK/NAK, retransmission timers, and Markov-filtered adaptive
// MCS selection.
//
// Grounded on the teacher's Session: atomic state readable without a lock,
// an owned goroutine draining channels of inbound events, and a
// PacketSender interface so the transport never needs a back-reference
// into the session.
package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// NodeId identifies a fleet node.
type NodeId uint8

// SeqNum is a 16-bit wrapping sequence number.
type SeqNum uint16

// seqLess reports whether a comes before b in wraparound sequence space,
// using the standard half-range comparison.
func seqLess(a, b SeqNum) bool {
	return SeqNum(a-b) > 1<<15
}

// MCS is a modulation-and-coding-scheme index; higher is faster but less
// robust. Level 0 is the most robust scheme used for broadcast and ACK
// traffic, which never adapts.
type MCS uint8

const (
	MCS0 MCS = iota
	MCS1
	MCS2
	MCS3
	MCS4
	mcsCount
)

func (m MCS) clamp() MCS {
	if m >= mcsCount {
		return mcsCount - 1
	}
	return m
}

// ErrQueueFull is returned by Enqueue when the destination's send queue is
// at capacity; the Session has already counted it in QueueDrops.
var ErrQueueFull = errors.New("link: send queue full")

// PacketSender transmits framed link-layer packets; implemented by the DSP
// bridge (internal/dsp) in production and by a fake in tests.
type PacketSender interface {
	SendData(dest NodeId, seq SeqNum, mcs MCS, data []byte) error
	SendAck(dest NodeId, expected SeqNum, sackBitmap uint32) error
}

// Listener receives in-order delivered payloads, MCS change notifications,
// and retransmission events. Following the back-reference-free listener
// pattern, Session holds only this interface, never a pointer to its
// owner.
type Listener interface {
	OnDeliver(dest NodeId, data []byte)
	OnMCSChange(dest NodeId, mcs MCS)
	// OnRetransmit reports a retransmission attempt ("timeout") or a
	// packet abandoned after MaxRetries ("dropped").
	OnRetransmit(dest NodeId, reason string)
}

type noopListener struct{}

func (noopListener) OnDeliver(NodeId, []byte)     {}
func (noopListener) OnMCSChange(NodeId, MCS)      {}
func (noopListener) OnRetransmit(NodeId, string)  {}

// Config parameterizes one Session's ARQ and AMC behavior.
type Config struct {
	WindowSize        int
	QueueCapacity     int
	RetransmitTimeout time.Duration
	MaxRetries        int
	InitialMCS        MCS
	// MCSHysteresis is how many consecutive success samples are required
	// before the Markov filter steps the MCS up, damping flapping on a
	// noisy link. A single failure steps it down immediately.
	MCSHysteresis int
}

// DefaultConfig returns reasonable defaults modeled on the scenario's
// default measurement period and typical link RTTs.
func DefaultConfig() Config {
	return Config{
		WindowSize:        32,
		QueueCapacity:     256,
		RetransmitTimeout: 200 * time.Millisecond,
		MaxRetries:        5,
		InitialMCS:        MCS1,
		MCSHysteresis:     4,
	}
}

// Option configures optional Session parameters.
type Option func(*Session)

// WithListener installs the delivery/MCS-change listener.
func WithListener(l Listener) Option {
	return func(s *Session) { s.listener = l }
}

type pendingPacket struct {
	seq      SeqNum
	data     []byte
	mcs      MCS
	sentAt   time.Time
	retries  int
}

type ackEvent struct {
	expected   SeqNum
	sackBitmap uint32
}

type dataEvent struct {
	seq  SeqNum
	data []byte
}

// Session is the ARQ+AMC actor for one destination. Broadcast and pure-ACK
// traffic bypass adaptation and always go out at MCS0 (handled by callers
// choosing not to route that traffic through a Session at all).
type Session struct {
	dest     NodeId
	sender   PacketSender
	listener Listener
	cfg      Config

	mcs       atomic.Uint32
	streak    atomic.Int32 // run length of consecutive success samples
	llDrops   atomic.Uint64
	qDrops    atomic.Uint64
	delivered atomic.Uint64

	mu           sync.Mutex
	nextTxSeq    SeqNum
	window       map[SeqNum]*pendingPacket
	recvExpected SeqNum
	recvBuffer   map[SeqNum][]byte
	started      bool

	enqueueCh chan []byte
	ackCh     chan ackEvent
	dataCh    chan dataEvent
}

// NewSession creates a Session sending to dest via sender.
func NewSession(dest NodeId, sender PacketSender, cfg Config, opts ...Option) *Session {
	s := &Session{
		dest:       dest,
		sender:     sender,
		listener:   noopListener{},
		cfg:        cfg,
		window:     make(map[SeqNum]*pendingPacket, cfg.WindowSize),
		recvBuffer: make(map[SeqNum][]byte),
		enqueueCh:  make(chan []byte, cfg.QueueCapacity),
		ackCh:      make(chan ackEvent, 16),
		dataCh:     make(chan dataEvent, 16),
	}
	s.mcs.Store(uint32(cfg.InitialMCS))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dest returns the destination this session serves.
func (s *Session) Dest() NodeId { return s.dest }

// MCS returns the currently selected modulation and coding scheme.
func (s *Session) MCS() MCS { return MCS(s.mcs.Load()) }

// LLDrops returns the count of packets dropped after exhausting retries.
func (s *Session) LLDrops() uint64 { return s.llDrops.Load() }

// QueueDrops returns the count of packets rejected because the send queue
// was full.
func (s *Session) QueueDrops() uint64 { return s.qDrops.Load() }

// Enqueue submits data for transmission. Returns ErrQueueFull if the send
// queue is at capacity, counting the rejection in QueueDrops. Data accepted
// here but later refused by Run because the window is full is counted in
// QueueDrops as well.
func (s *Session) Enqueue(data []byte) error {
	select {
	case s.enqueueCh <- data:
		return nil
	default:
		s.qDrops.Add(1)
		return ErrQueueFull
	}
}

// RecvData delivers a received data packet's sequence number and payload
// to the session's reorder buffer.
func (s *Session) RecvData(seq SeqNum, data []byte) {
	s.dataCh <- dataEvent{seq: seq, data: data}
}

// RecvAck delivers a selective ACK: expected is the receiver's next
// expected sequence number (cumulative ACK), and sackBitmap's bit i
// (0-indexed) indicates expected+i was also received out of order.
func (s *Session) RecvAck(expected SeqNum, sackBitmap uint32) {
	s.ackCh <- ackEvent{expected: expected, sackBitmap: sackBitmap}
}

// Run drives the session's actor loop until ctx is canceled.
func (s *Session) Run(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.RetransmitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case data := <-s.enqueueCh:
			s.handleEnqueue(data)

		case ev := <-s.ackCh:
			s.handleAck(ev)

		case ev := <-s.dataCh:
			s.handleData(ev)

		case <-timer.C:
			s.handleRetransmitTick()
			timer.Reset(s.cfg.RetransmitTimeout)
		}
	}
}

func (s *Session) handleEnqueue(data []byte) {
	s.mu.Lock()
	if len(s.window) >= s.cfg.WindowSize {
		s.mu.Unlock()
		s.qDrops.Add(1)
		return
	}
	seq := s.nextTxSeq
	s.nextTxSeq++
	mcs := s.MCS()
	s.window[seq] = &pendingPacket{seq: seq, data: data, mcs: mcs, sentAt: time.Now()}
	s.mu.Unlock()

	_ = s.sender.SendData(s.dest, seq, mcs, data)
}

// handleAck removes cumulatively and selectively acknowledged packets from
// the window and feeds the Markov MCS filter a success sample. A selective
// NAK (an outstanding seq past `expected` and below the highest SACKed seq
// that sackBitmap does not cover) forces an immediate retransmit of the
// missing packet rather than waiting for its timer.
func (s *Session) handleAck(ev ackEvent) {
	s.mu.Lock()
	for seq := range s.window {
		if seqLess(seq, ev.expected) {
			delete(s.window, seq)
		}
	}
	highest := -1
	for i := 31; i >= 0; i-- {
		if ev.sackBitmap&(1<<uint(i)) != 0 {
			highest = i
			break
		}
	}
	var toRetransmit []*pendingPacket
	for i := 0; i < 32; i++ {
		seq := ev.expected + SeqNum(i)
		pkt, ok := s.window[seq]
		if !ok {
			continue
		}
		if ev.sackBitmap&(1<<uint(i)) != 0 {
			delete(s.window, seq)
		} else if i > 0 && i < highest {
			// A later packet was SACKed but this one wasn't: treat it
			// as a selective NAK and retransmit now.
			toRetransmit = append(toRetransmit, pkt)
		}
	}
	s.mu.Unlock()

	for _, pkt := range toRetransmit {
		pkt.retries++
		pkt.sentAt = time.Now()
		_ = s.sender.SendData(s.dest, pkt.seq, pkt.mcs, pkt.data)
	}

	s.feedMCSFilter(true)
}

func (s *Session) handleData(ev dataEvent) {
	s.mu.Lock()
	if !s.started {
		s.recvExpected = ev.seq
		s.started = true
	}

	if ev.seq == s.recvExpected {
		s.recvExpected++
		deliveries := [][]byte{ev.data}
		for {
			buffered, ok := s.recvBuffer[s.recvExpected]
			if !ok {
				break
			}
			delete(s.recvBuffer, s.recvExpected)
			deliveries = append(deliveries, buffered)
			s.recvExpected++
		}
		s.mu.Unlock()

		for _, d := range deliveries {
			s.delivered.Add(1)
			s.listener.OnDeliver(s.dest, d)
		}
		return
	}

	if seqLess(s.recvExpected, ev.seq) {
		s.recvBuffer[ev.seq] = ev.data
	}
	// A seq at or before recvExpected-1 is a stale duplicate: drop silently.
	s.mu.Unlock()
}

// handleRetransmitTick scans the window for packets past their
// retransmission deadline, retransmitting up to MaxRetries times before
// declaring a link-layer drop and feeding the MCS filter a failure sample.
func (s *Session) handleRetransmitTick() {
	now := time.Now()
	var retransmit, dropped []*pendingPacket

	s.mu.Lock()
	for seq, pkt := range s.window {
		if now.Sub(pkt.sentAt) < s.cfg.RetransmitTimeout {
			continue
		}
		if pkt.retries >= s.cfg.MaxRetries {
			delete(s.window, seq)
			dropped = append(dropped, pkt)
			continue
		}
		pkt.retries++
		pkt.sentAt = now
		retransmit = append(retransmit, pkt)
	}
	s.mu.Unlock()

	for range dropped {
		s.llDrops.Add(1)
		s.feedMCSFilter(false)
		s.listener.OnRetransmit(s.dest, "dropped")
	}
	for _, pkt := range retransmit {
		s.listener.OnRetransmit(s.dest, "timeout")
		_ = s.sender.SendData(s.dest, pkt.seq, pkt.mcs, pkt.data)
	}
}

// feedMCSFilter applies a Markov filter to link-quality samples: a run of
// MCSHysteresis consecutive successes steps the MCS up one level, and a
// single failure immediately steps it down one level and resets the
// streak, matching the fast-degrade/slow-upgrade adaptation pattern used
// for fading RF links.
func (s *Session) feedMCSFilter(success bool) {
	current := s.MCS()

	if !success {
		s.streak.Store(0)
		next := current
		if current > MCS0 {
			next = current - 1
		}
		if next != current {
			s.mcs.Store(uint32(next))
			s.listener.OnMCSChange(s.dest, next)
		}
		return
	}

	streak := s.streak.Add(1)
	if int(streak) < s.cfg.MCSHysteresis {
		return
	}
	s.streak.Store(0)

	next := (current + 1).clamp()
	if next != current {
		s.mcs.Store(uint32(next))
		s.listener.OnMCSChange(s.dest, next)
	}
}
