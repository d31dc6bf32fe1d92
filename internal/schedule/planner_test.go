package schedule

import (
	"reflect"
	"testing"
)

func nodeSlice(ids ...int) []NodeId {
	out := make([]NodeId, len(ids))
	for i, id := range ids {
		out[i] = NodeId(id)
	}
	return out
}

func TestPureTDMA(t *testing.T) {
	s := PureTDMA(nodeSlice(1, 2, 3))
	want := [][]NodeId{{1, 2, 3}}
	if !reflect.DeepEqual(s.Cells, want) {
		t.Errorf("PureTDMA() = %v, want %v", s.Cells, want)
	}
}

func TestFairScheduleDeterministic(t *testing.T) {
	nodes := nodeSlice(1, 2, 3, 4, 5)

	s1, a1 := FairSchedule(2, 4, nodes, 3, Affinity{})
	s2, a2 := FairSchedule(2, 4, nodes, 3, Affinity{})

	if !reflect.DeepEqual(s1.Cells, s2.Cells) {
		t.Errorf("FairSchedule not deterministic: %v vs %v", s1.Cells, s2.Cells)
	}
	if !reflect.DeepEqual(a1, a2) {
		t.Errorf("affinity not deterministic: %v vs %v", a1, a2)
	}
}

func TestFairScheduleNoDuplicateAcrossChannelsInSameSlot(t *testing.T) {
	cases := []struct {
		nchannels, nslots, k int
		nodes                []NodeId
	}{
		{1, 1, 3, nodeSlice(1)},
		{2, 4, 3, nodeSlice(1, 2, 3, 4, 5)},
		{5, 3, 1, nodeSlice(1, 2)},
		{3, 7, 10, nodeSlice(1, 2, 3, 4, 5, 6, 7, 8, 9)}, // k >= nchannels
	}

	for _, tc := range cases {
		s, _ := FairSchedule(tc.nchannels, tc.nslots, tc.nodes, tc.k, Affinity{})

		for slot := 0; slot < tc.nslots; slot++ {
			seen := map[NodeId]int{}
			for chanIdx := 0; chanIdx < tc.nchannels; chanIdx++ {
				node := s.Cells[chanIdx][slot]
				if node == Idle {
					continue
				}
				seen[node]++
			}
			for node, count := range seen {
				if count > 1 {
					t.Errorf("case %+v: node %d appears in %d channels at slot %d", tc, node, count, slot)
				}
			}
		}
	}
}

func TestFairScheduleKGreaterThanNChannelsTerminates(t *testing.T) {
	s, affinity := FairSchedule(3, 5, nodeSlice(1, 2, 3, 4, 5, 6, 7), 100, Affinity{})
	if s.NChannels != 3 || s.NSlots != 5 {
		t.Fatalf("unexpected dimensions: %+v", s)
	}
	if len(affinity) != 7 {
		t.Errorf("affinity has %d entries, want 7", len(affinity))
	}
}

func TestFairSchedulePreservesPriorAffinity(t *testing.T) {
	prior := Affinity{1: 0, 2: 1}
	s, affinity := FairSchedule(2, 2, nodeSlice(1, 2, 3), 3, prior)

	if affinity[1] != 0 || affinity[2] != 1 {
		t.Fatalf("prior affinity not preserved: %v", affinity)
	}

	// Node 1 must only ever appear on channel 0.
	for slot := 0; slot < s.NSlots; slot++ {
		if s.Cells[1][slot] == 1 {
			t.Errorf("node 1 appeared on channel 1 at slot %d, should have kept channel 0", slot)
		}
	}
}

func TestBestChannel(t *testing.T) {
	s := &Schedule{
		NChannels: 2,
		NSlots:    4,
		Cells: [][]NodeId{
			{1, 1, 2, 1},
			{2, 2, 1, 2},
		},
	}

	ch, err := BestChannel(s, 1)
	if err != nil {
		t.Fatalf("BestChannel: %v", err)
	}
	if ch != 0 {
		t.Errorf("BestChannel(1) = %v, want 0 (3 slots vs 1)", ch)
	}

	if _, err := BestChannel(s, 99); err == nil {
		t.Error("expected ErrNoSlot for unassigned node")
	}
}

func TestFullChannel(t *testing.T) {
	s := FullChannel(4, 2, nodeSlice(1, 2, 3), 1)
	if s.NChannels != 4 {
		t.Fatalf("unexpected channel count")
	}

	seen := map[NodeId]bool{}
	for _, row := range s.Cells {
		if row[0] == Idle {
			continue
		}
		if row[0] != row[1] {
			t.Errorf("FullChannel row not uniform: %v", row)
		}
		seen[row[0]] = true
	}
	for _, n := range nodeSlice(1, 2, 3) {
		if !seen[n] {
			t.Errorf("node %d never assigned a channel", n)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := PureTDMA(nodeSlice(1, 2))
	clone := s.Clone()
	clone.Cells[0][0] = 99

	if s.Cells[0][0] == 99 {
		t.Error("Clone() shares backing storage with the original")
	}
}
