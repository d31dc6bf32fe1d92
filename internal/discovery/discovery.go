// Package discovery implements NeighborDiscovery (RF control plane
// specification Section 4.8): a persistent ALOHA HELLO broadcast with
// exponentially randomized inter-transmission times, starting in an
// aggressive discovery phase and settling into a slower standard phase
// after a fixed number of discovery-phase HELLOs (Config.DiscoveryRounds).
package discovery

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
)

// NodeId aliases neighborhood.NodeId.
type NodeId = neighborhood.NodeId

// Phase is the discovery state machine's two phases.
type Phase uint8

const (
	PhaseDiscovery Phase = iota
	PhaseStandard
)

func (p Phase) String() string {
	if p == PhaseStandard {
		return "standard"
	}
	return "discovery"
}

// Rng abstracts the random source behind exponential interval jitter.
type Rng interface {
	Float64() float64
}

// HelloSender broadcasts a HELLO announcing self's identity, gateway
// status, and location.
type HelloSender interface {
	SendHello(self NodeId, isGateway bool, loc neighborhood.Location) error
}

// Config parameterizes the discovery and standard phase timings.
type Config struct {
	// DiscoveryMeanInterval is the mean inter-HELLO time during the
	// discovery phase (aggressive, to populate the neighborhood fast).
	DiscoveryMeanInterval time.Duration
	// StandardMeanInterval is the mean inter-HELLO time once the
	// discovery phase's DiscoveryRounds HELLOs have been sent.
	StandardMeanInterval time.Duration
	// DiscoveryRounds is how many HELLOs are sent in the discovery
	// phase before transitioning to the standard phase.
	DiscoveryRounds int
}

// DefaultConfig returns reasonable discovery timings: a one-second mean
// during discovery, settling to ten seconds once standard.
func DefaultConfig() Config {
	return Config{
		DiscoveryMeanInterval: time.Second,
		StandardMeanInterval:  10 * time.Second,
		DiscoveryRounds:       10,
	}
}

// Discovery drives the HELLO loop for one node.
type Discovery struct {
	self      NodeId
	isGateway bool
	locFunc   func() neighborhood.Location
	sender    HelloSender
	cfg       Config
	rng       Rng

	phase atomic.Uint32
	round atomic.Uint32
}

// New creates a Discovery for self. locFunc is polled for the current
// location to stamp into each HELLO.
func New(self NodeId, isGateway bool, locFunc func() neighborhood.Location, sender HelloSender, cfg Config, rng Rng) *Discovery {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Discovery{self: self, isGateway: isGateway, locFunc: locFunc, sender: sender, cfg: cfg, rng: rng}
}

// Phase returns the discovery state machine's current phase.
func (d *Discovery) Phase() Phase { return Phase(d.phase.Load()) }

// NextInterval draws the next inter-HELLO wait time from an exponential
// distribution (memoryless, matching ALOHA's collision-avoidance model)
// whose mean depends on the current phase.
func (d *Discovery) NextInterval() time.Duration {
	mean := d.cfg.DiscoveryMeanInterval
	if d.Phase() == PhaseStandard {
		mean = d.cfg.StandardMeanInterval
	}
	u := d.rng.Float64()
	if u >= 1 {
		u = 0.999999
	}
	return time.Duration(-math.Log(1-u) * float64(mean))
}

// tick sends one HELLO and advances the discovery round counter,
// transitioning to the standard phase once DiscoveryRounds is reached.
func (d *Discovery) tick() error {
	err := d.sender.SendHello(d.self, d.isGateway, d.locFunc())

	if d.Phase() == PhaseDiscovery {
		n := d.round.Add(1)
		if int(n) >= d.cfg.DiscoveryRounds {
			d.phase.Store(uint32(PhaseStandard))
		}
	}

	return err
}

// Run drives the HELLO loop until ctx is canceled.
func (d *Discovery) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.NextInterval()):
			_ = d.tick()
		}
	}
}
