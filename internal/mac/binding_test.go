package mac

import (
	"testing"

	"github.com/drexelwireless/dragonradio-sub000/internal/schedule"
)

func sched(seq uint64, cells [][]schedule.NodeId) *schedule.Schedule {
	return &schedule.Schedule{Seq: seq, NChannels: len(cells), NSlots: len(cells[0]), Cells: cells}
}

func TestInstallAcceptsHigherSeq(t *testing.T) {
	b := NewTDMABinding(1)
	ok := b.Install(sched(1, [][]schedule.NodeId{{1, 2}}))
	if !ok {
		t.Fatal("first install should succeed")
	}
	ok = b.Install(sched(2, [][]schedule.NodeId{{2, 1}}))
	if !ok {
		t.Fatal("higher-seq install should succeed")
	}
	if b.Schedule().Seq != 2 {
		t.Errorf("Schedule().Seq = %d, want 2", b.Schedule().Seq)
	}
}

func TestInstallRejectsStaleOrEqualSeq(t *testing.T) {
	b := NewTDMABinding(1)
	b.Install(sched(5, [][]schedule.NodeId{{1}}))

	if b.Install(sched(5, [][]schedule.NodeId{{2}})) {
		t.Error("equal-seq install should be rejected")
	}
	if b.Install(sched(3, [][]schedule.NodeId{{2}})) {
		t.Error("stale-seq install should be rejected")
	}
	if b.Schedule().Seq != 5 {
		t.Errorf("Schedule().Seq = %d, want 5 (unchanged)", b.Schedule().Seq)
	}
}

func TestTDMAPopLoadMatchesSchedule(t *testing.T) {
	b := NewTDMABinding(2)
	b.Install(sched(1, [][]schedule.NodeId{{1, 2, 1}}))

	if b.PopLoad(0, 1) != true {
		t.Error("node 2 should be allowed to transmit at slot 1")
	}
	if b.PopLoad(0, 0) != false {
		t.Error("node 2 should not be allowed to transmit at slot 0")
	}
}

func TestPopLoadFalseWithoutInstalledSchedule(t *testing.T) {
	b := NewTDMABinding(1)
	if b.PopLoad(0, 0) {
		t.Error("PopLoad should be false before any schedule is installed")
	}
}

func TestPopLoadOutOfRangeIsFalse(t *testing.T) {
	b := NewTDMABinding(1)
	b.Install(sched(1, [][]schedule.NodeId{{1}}))
	if b.PopLoad(5, 5) {
		t.Error("PopLoad out of schedule bounds should be false")
	}
}

type stepRng struct {
	vals []float64
	i    int
}

func (r *stepRng) Float64() float64 {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v
}

func TestALOHAPopLoadIsBernoulliTrial(t *testing.T) {
	rng := &stepRng{vals: []float64{0.1, 0.9}}
	b := NewALOHABinding(1, 0.5, rng)

	if !b.PopLoad(0, 0) {
		t.Error("0.1 < 0.5 should transmit")
	}
	if b.PopLoad(0, 0) {
		t.Error("0.9 >= 0.5 should not transmit")
	}
}

func TestSetALOHAProbabilityTakesEffect(t *testing.T) {
	rng := &stepRng{vals: []float64{0.4}}
	b := NewALOHABinding(1, 0.1, rng)
	if b.PopLoad(0, 0) {
		t.Error("0.4 >= 0.1 should not transmit")
	}

	b.SetALOHAProbability(0.9)
	rng.i = 0
	if !b.PopLoad(0, 0) {
		t.Error("0.4 < 0.9 should transmit after raising probability")
	}
}
