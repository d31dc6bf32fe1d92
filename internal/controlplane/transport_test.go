package controlplane

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/drexelwireless/dragonradio-sub000/internal/flowstats"
	"github.com/drexelwireless/dragonradio-sub000/internal/mac"
	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
	"github.com/drexelwireless/dragonradio-sub000/internal/netio"
	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

func TestPeerTransportSendHelloBroadcasts(t *testing.T) {
	ctx := context.Background()
	recv, err := netio.ListenUDP(ctx, "127.0.0.1:0", netio.DefaultRecvBufBytes)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer recv.Close()

	send, err := netio.ListenUDP(ctx, "127.0.0.1:0", netio.DefaultRecvBufBytes)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer send.Close()

	transport := &PeerTransport{Conn: send, Broadcast: recv.LocalAddr().(*net.UDPAddr)}
	if err := transport.SendHello(5, true, neighborhood.Location{Lat: 1, Lon: 2, Alt: 3}); err != nil {
		t.Fatalf("SendHello: %v", err)
	}

	buf := make([]byte, 1024)
	recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := recv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}

	frameLen := int(buf[0])<<8 | int(buf[1])
	payload := buf[2 : 2+frameLen]
	if frameLen != n-2 {
		t.Fatalf("frame length prefix %d does not match received bytes %d", frameLen, n-2)
	}

	h, err := wire.DecodeDiscoveryHello(payload)
	if err != nil {
		t.Fatalf("DecodeDiscoveryHello: %v", err)
	}
	if h.NodeID != 5 || !h.IsGateway || h.Lat != 1 {
		t.Errorf("decoded hello = %+v", h)
	}
}

func TestLocationSourceFiltersStaleEntries(t *testing.T) {
	neigh := neighborhood.New(1)
	neigh.Add(2, false, neighborhood.Location{Lat: 1, Timestamp: time.Now()})
	neigh.Add(3, false, neighborhood.Location{Lat: 2, Timestamp: time.Now().Add(-time.Hour)})
	neigh.Add(4, false, neighborhood.Location{}) // zero timestamp, never located

	src := NewLocationSource(neigh)
	locs := src.Locations(time.Minute)

	if len(locs) != 1 || locs[0].NodeID != 2 {
		t.Errorf("Locations() = %+v, want only node 2", locs)
	}
}

func TestVoxelSourcePredictedVoxelsCoverOccupiedChannels(t *testing.T) {
	bind := mac.NewTDMABinding(1)
	src := NewVoxelSource(1, bind, flowstats.New(testClock{start: time.Now()}))

	voxels := src.PredictedVoxels(0, 0, time.Second)
	if len(voxels) != 0 {
		t.Fatalf("expected no voxels before a schedule is installed, got %d", len(voxels))
	}
}

func TestVoxelSourceHistoricalVoxelsOneEntryPerFlow(t *testing.T) {
	bind := mac.NewTDMABinding(1)
	fp := flowstats.New(testClock{start: time.Now()})
	fp.RecordSent(1, 1, 2, 100)

	src := NewVoxelSource(1, bind, fp)
	voxels := src.HistoricalVoxels()
	if len(voxels) != 1 {
		t.Fatalf("HistoricalVoxels() = %d entries, want 1", len(voxels))
	}
	if !voxels[0].Measured {
		t.Error("historical voxels should be marked Measured")
	}
}

func TestPerformanceSourceConvertsDrainedStats(t *testing.T) {
	fp := flowstats.New(testClock{start: time.Now()})
	fp.RecordSent(9, 1, 2, 300)

	src := NewPerformanceSource(fp)
	updates := src.FlowStats()
	if len(updates) != 1 || updates[0].FlowID != 9 || updates[0].Src != 1 || updates[0].Dest != 2 {
		t.Errorf("FlowStats() = %+v", updates)
	}
}
