package discovery

import (
	"testing"
	"time"

	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
)

type fakeSender struct {
	calls int
	last  NodeId
}

func (f *fakeSender) SendHello(self NodeId, _ bool, _ neighborhood.Location) error {
	f.calls++
	f.last = self
	return nil
}

type fixedRng struct{ v float64 }

func (r fixedRng) Float64() float64 { return r.v }

func noLoc() neighborhood.Location { return neighborhood.Location{} }

func TestTickAdvancesRoundCounter(t *testing.T) {
	sender := &fakeSender{}
	cfg := Config{DiscoveryMeanInterval: time.Millisecond, StandardMeanInterval: time.Second, DiscoveryRounds: 3}
	d := New(1, false, noLoc, sender, cfg, fixedRng{0.5})

	for i := 0; i < 2; i++ {
		if err := d.tick(); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if d.Phase() != PhaseDiscovery {
		t.Error("should still be in discovery phase before DiscoveryRounds is reached")
	}

	if err := d.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if d.Phase() != PhaseStandard {
		t.Error("should transition to standard phase after DiscoveryRounds HELLOs")
	}
	if sender.calls != 3 {
		t.Errorf("sender got %d calls, want 3", sender.calls)
	}
}

func TestNextIntervalScalesWithPhaseMean(t *testing.T) {
	cfg := Config{DiscoveryMeanInterval: time.Second, StandardMeanInterval: 100 * time.Second, DiscoveryRounds: 1}
	d := New(1, false, noLoc, &fakeSender{}, cfg, fixedRng{0.5})

	discoveryInterval := d.NextInterval()
	d.tick() // transitions to standard after 1 round

	standardInterval := d.NextInterval()
	if standardInterval <= discoveryInterval {
		t.Errorf("standard-phase interval (%v) should be larger than discovery-phase interval (%v) for the same draw", standardInterval, discoveryInterval)
	}
}

func TestNextIntervalNeverNegative(t *testing.T) {
	cfg := DefaultConfig()
	d := New(1, false, noLoc, &fakeSender{}, cfg, fixedRng{0.999999999})
	if d.NextInterval() < 0 {
		t.Error("NextInterval should never be negative")
	}
}
