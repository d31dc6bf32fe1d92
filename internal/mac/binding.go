// Package mac implements MACBinding (RF control plane specification
// Section 4.7): the runtime decision of whether this node may transmit in
// a given (channel, slot), driven by either a monotonically-versioned
// installed Schedule (TDMA/FDMA) or a persistent random-access probability
// (ALOHA).
package mac

import (
	"math/rand"
	"sync"

	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
	"github.com/drexelwireless/dragonradio-sub000/internal/schedule"
)

// NodeId aliases neighborhood.NodeId.
type NodeId = neighborhood.NodeId

// Variant selects how PopLoad decides transmit eligibility.
type Variant uint8

const (
	// TDMA grants the slot to whichever node the installed Schedule
	// assigns on the sole channel.
	TDMA Variant = iota
	// FDMA grants the slot to whichever node the installed Schedule
	// assigns on each of several channels.
	FDMA
	// ALOHA grants transmission opportunities probabilistically,
	// independent of any installed Schedule.
	ALOHA
)

func (v Variant) String() string {
	switch v {
	case TDMA:
		return "tdma"
	case FDMA:
		return "fdma"
	case ALOHA:
		return "aloha"
	default:
		return "unknown"
	}
}

// Rng abstracts the random source behind ALOHA's transmit decision so
// tests can supply a deterministic sequence.
type Rng interface {
	Float64() float64
}

// Binding is the single MAC decision point for one node. TDMA and FDMA
// bindings hold an installed Schedule; ALOHA bindings hold a transmit
// probability instead.
type Binding struct {
	variant Variant
	self    NodeId
	rng     Rng

	mu       sync.RWMutex
	sched    *schedule.Schedule
	alohaP   float64
}

// NewTDMABinding creates a Binding driven by installed Schedules.
func NewTDMABinding(self NodeId) *Binding {
	return &Binding{variant: TDMA, self: self}
}

// NewFDMABinding creates a multi-channel Binding driven by installed
// Schedules.
func NewFDMABinding(self NodeId) *Binding {
	return &Binding{variant: FDMA, self: self}
}

// NewALOHABinding creates a persistent random-access Binding that
// transmits with probability p on any check.
func NewALOHABinding(self NodeId, p float64, rng Rng) *Binding {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Binding{variant: ALOHA, self: self, alohaP: p, rng: rng}
}

// Variant returns the binding's MAC variant.
func (b *Binding) Variant() Variant { return b.variant }

// Install replaces the binding's Schedule if seq is newer than the
// currently installed one, per the monotonic sequence-numbered install
// rule: a schedule update that arrives out of order (lower or equal
// sequence) is silently discarded. Returns true if installed.
func (b *Binding) Install(s *schedule.Schedule) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sched != nil && s.Seq <= b.sched.Seq {
		return false
	}
	b.sched = s
	return true
}

// Schedule returns the currently installed schedule, or nil if none has
// been installed yet.
func (b *Binding) Schedule() *schedule.Schedule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sched
}

// SetALOHAProbability updates the persistent transmit probability used by
// an ALOHA binding.
func (b *Binding) SetALOHAProbability(p float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alohaP = p
}

// PopLoad reports whether this node may transmit in (channel, slot) right
// now. For TDMA/FDMA this is a deterministic lookup against the installed
// schedule; for ALOHA it is a single Bernoulli trial against the
// configured probability, independent of channel/slot.
func (b *Binding) PopLoad(channel schedule.ChannelIdx, slot int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch b.variant {
	case ALOHA:
		return b.rng.Float64() < b.alohaP
	default:
		if b.sched == nil {
			return false
		}
		if int(channel) >= b.sched.NChannels || slot >= b.sched.NSlots {
			return false
		}
		return b.sched.At(channel, slot) == b.self
	}
}
