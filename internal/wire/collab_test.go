package wire

import "testing"

func TestInformRoundTrip(t *testing.T) {
	in := Inform{Nonce: 0xdeadbeef, KeepaliveSeconds: 30, Neighbors: []uint8{1, 2, 3}}
	got, err := DecodeInform(EncodeInform(in))
	if err != nil {
		t.Fatalf("DecodeInform: %v", err)
	}
	if got.Nonce != in.Nonce || got.KeepaliveSeconds != in.KeepaliveSeconds || len(got.Neighbors) != 3 {
		t.Errorf("got %+v, want %+v", got, in)
	}
}

func TestNotifyRoundTrip(t *testing.T) {
	n := Notify{Neighbors: []uint8{4, 5}}
	got, err := DecodeNotify(EncodeNotify(n))
	if err != nil {
		t.Fatalf("DecodeNotify: %v", err)
	}
	if len(got.Neighbors) != 2 || got.Neighbors[0] != 4 {
		t.Errorf("got %+v, want %+v", got, n)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	h := PeerHeader{SenderID: 9, MsgCount: 42, TimestampUnixNano: 123456789}
	got, err := DecodeHello(EncodeHello(h))
	if err != nil {
		t.Fatalf("DecodeHello: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestLocationUpdateRoundTrip(t *testing.T) {
	u := PeerLocationUpdate{
		Header: PeerHeader{SenderID: 1, MsgCount: 1, TimestampUnixNano: 10},
		Locations: []LocationReport{
			{NodeID: 2, Lat: 1.5, Lon: -2.5, Alt: 10, AgeUnixNano: 5},
			{NodeID: 3, Lat: 0, Lon: 0, Alt: 0, AgeUnixNano: 0},
		},
	}
	got, err := DecodeLocationUpdate(EncodeLocationUpdate(u))
	if err != nil {
		t.Fatalf("DecodeLocationUpdate: %v", err)
	}
	if len(got.Locations) != 2 || got.Locations[0].Lat != 1.5 || got.Locations[0].Lon != -2.5 {
		t.Errorf("got %+v, want %+v", got, u)
	}
}

func TestSpectrumUsageRoundTrip(t *testing.T) {
	r := SpectrumUsageReport{
		Header: PeerHeader{SenderID: 1, MsgCount: 2, TimestampUnixNano: 99},
		Voxels: []SpectrumVoxel{
			{FStart: 900e6, FEnd: 901e6, DutyCycle: 0.5, Tx: 1, Rx: []uint8{2, 3}, Measured: true},
			{FStart: 905e6, FEnd: 906e6, DutyCycle: 0.2, Tx: 4, Rx: nil, Measured: false},
		},
	}
	got, err := DecodeSpectrumUsage(EncodeSpectrumUsage(r))
	if err != nil {
		t.Fatalf("DecodeSpectrumUsage: %v", err)
	}
	if len(got.Voxels) != 2 || got.Voxels[0].DutyCycle != 0.5 || !got.Voxels[0].Measured {
		t.Errorf("got %+v, want %+v", got, r)
	}
	if got.Voxels[1].Measured {
		t.Error("voxel[1].Measured should be false")
	}
}

func TestDetailedPerformanceRoundTrip(t *testing.T) {
	r := DetailedPerformanceReport{
		Header: PeerHeader{SenderID: 1, MsgCount: 3, TimestampUnixNano: 7},
		Flows: []FlowStatsUpdate{
			{FlowID: 1, Src: 1, Dest: 2, FirstMP: 0, NPackets: []int64{1, 2}, NBytes: []int64{10, 20}},
			{FlowID: 2, Src: 2, Dest: 1, FirstMP: 5, NPackets: []int64{3}, NBytes: []int64{30}},
		},
	}
	got, err := DecodeDetailedPerformance(EncodeDetailedPerformance(r))
	if err != nil {
		t.Fatalf("DecodeDetailedPerformance: %v", err)
	}
	if len(got.Flows) != 2 || got.Flows[0].FlowID != 1 || got.Flows[1].FirstMP != 5 {
		t.Errorf("got %+v, want %+v", got, r)
	}
}

func TestKeepaliveAndLeaveTags(t *testing.T) {
	if tp, _ := PeekType(EncodeKeepalive()); tp != MsgKeepalive {
		t.Error("keepalive tag mismatch")
	}
	if tp, _ := PeekType(EncodeLeave()); tp != MsgLeave {
		t.Error("leave tag mismatch")
	}
}
