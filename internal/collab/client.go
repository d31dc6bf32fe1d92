// Package collab implements CollaborationClient (RF control plane
// specification Section 4.10): a three-channel external protocol that
// registers with a well-known server, pushes HELLO/location/spectrum/
// performance reports to every fleet peer on its own connection, and
// logs whatever competing fleets push back on the inbound side.
//
// No ZMQ client library exists anywhere in the retrieved dependency
// corpus, so every channel here reuses the length-prefixed TCP framing
// already defined for the internal peer protocol rather than a
// PUSH/PULL socket.
package collab

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

// NodeId aliases neighborhood.NodeId.
type NodeId = neighborhood.NodeId

// LocationSource reports this node's current view of peer locations,
// already filtered to entries younger than maxAge.
type LocationSource interface {
	Locations(maxAge time.Duration) []wire.LocationReport
}

// VoxelSource supplies the two CIL voxel lists published in each
// SPECTRUM_USAGE report: historical voxels drained from accumulated load
// reports, and voxels predicted from the current MAC schedule or ALOHA
// channel set.
type VoxelSource interface {
	HistoricalVoxels() []wire.SpectrumVoxel
	PredictedVoxels(trimLo, trimHi float64, future time.Duration) []wire.SpectrumVoxel
}

// PerformanceSource supplies the per-flow counters published in each
// DETAILED_PERFORMANCE report.
type PerformanceSource interface {
	FlowStats() []wire.FlowStatsUpdate
}

// Config parameterizes the three channels' periods and the
// collaboration server's address.
type Config struct {
	SelfID            NodeId
	RegistrationAddr  string
	DialTimeout       time.Duration
	RetryInterval     time.Duration
	FallbackKeepalive time.Duration

	LocationUpdatePeriod time.Duration
	MaxLocationAge       time.Duration

	SpectrumUsageUpdatePeriod time.Duration
	SpectrumUsageMinPeriod    time.Duration
	SpectrumUsageMaxPeriod    time.Duration
	SpecChanTrimLo            float64
	SpecChanTrimHi            float64
	SpecFuturePeriod          time.Duration

	DetailedPerformancePeriod time.Duration
}

// DefaultConfig returns the collaboration client's default timings.
func DefaultConfig(self NodeId, registrationAddr string) Config {
	return Config{
		SelfID:                    self,
		RegistrationAddr:          registrationAddr,
		DialTimeout:               time.Second,
		RetryInterval:             time.Second,
		FallbackKeepalive:         30 * time.Second,
		LocationUpdatePeriod:      5 * time.Second,
		MaxLocationAge:            60 * time.Second,
		SpectrumUsageUpdatePeriod: 10 * time.Second,
		SpectrumUsageMinPeriod:    5 * time.Second,
		SpectrumUsageMaxPeriod:    30 * time.Second,
		SpecChanTrimLo:            0.1,
		SpecChanTrimHi:            0.1,
		SpecFuturePeriod:          10 * time.Second,
		DetailedPerformancePeriod: 10 * time.Second,
	}
}

func (c Config) spectrumEffectivePeriod() time.Duration {
	p := c.SpectrumUsageUpdatePeriod
	if p < c.SpectrumUsageMinPeriod {
		p = c.SpectrumUsageMinPeriod
	}
	if p > c.SpectrumUsageMaxPeriod {
		p = c.SpectrumUsageMaxPeriod
	}
	return p
}

// RegistrationDialer opens the registration-channel connection to the
// well-known collaboration server.
type RegistrationDialer interface {
	DialRegistration(ctx context.Context) (net.Conn, error)
}

// PeerDialer opens the outbound peer-channel connection used to push
// reports to one peer.
type PeerDialer interface {
	DialPeer(ctx context.Context, id NodeId) (net.Conn, error)
}

// TCPRegistrationDialer is the default RegistrationDialer.
type TCPRegistrationDialer struct {
	Addr    string
	Timeout time.Duration
}

// DialRegistration dials the configured address over TCP.
func (d TCPRegistrationDialer) DialRegistration(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", d.Addr)
}

// TCPPeerDialer is the default PeerDialer, resolving a peer id to a
// host:port learned out of band (e.g. from NeighborDiscovery) and
// updated via SetAddr/RemoveAddr as the neighborhood changes.
type TCPPeerDialer struct {
	mu      sync.RWMutex
	addrs   map[NodeId]string
	timeout time.Duration
}

// NewTCPPeerDialer creates an empty TCPPeerDialer.
func NewTCPPeerDialer(timeout time.Duration) *TCPPeerDialer {
	return &TCPPeerDialer{addrs: make(map[NodeId]string), timeout: timeout}
}

// SetAddr records the push address for peer id.
func (d *TCPPeerDialer) SetAddr(id NodeId, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs[id] = addr
}

// RemoveAddr forgets the push address for peer id.
func (d *TCPPeerDialer) RemoveAddr(id NodeId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.addrs, id)
}

// DialPeer dials the address currently recorded for id.
func (d *TCPPeerDialer) DialPeer(ctx context.Context, id NodeId) (net.Conn, error) {
	d.mu.RLock()
	addr, ok := d.addrs[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("collab: no push address for peer %d", id)
	}
	dialer := net.Dialer{Timeout: d.timeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

// Client drives the registration channel and one outbound push loop per
// fleet peer.
type Client struct {
	cfg        Config
	regDialer  RegistrationDialer
	peerDialer PeerDialer
	loc        LocationSource
	vox        VoxelSource
	perf       PerformanceSource
	logger     *slog.Logger

	mu        sync.Mutex
	peers     map[NodeId]struct{}
	msgCounts map[NodeId]uint32
	nonce     uint64
	keepalive time.Duration

	peersChanged chan struct{}
}

// NewClient constructs a Client. logger defaults to slog.Default() if
// nil.
func NewClient(cfg Config, regDialer RegistrationDialer, peerDialer PeerDialer, loc LocationSource, vox VoxelSource, perf PerformanceSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:          cfg,
		regDialer:    regDialer,
		peerDialer:   peerDialer,
		loc:          loc,
		vox:          vox,
		perf:         perf,
		logger:       logger,
		peers:        make(map[NodeId]struct{}),
		msgCounts:    make(map[NodeId]uint32),
		keepalive:    cfg.FallbackKeepalive,
		peersChanged: make(chan struct{}, 1),
	}
}

// Peers returns the current neighbor list as last reported by INFORM or
// NOTIFY.
func (c *Client) Peers() []NodeId {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NodeId, 0, len(c.peers))
	for id := range c.peers {
		out = append(out, id)
	}
	return out
}

// Run drives the registration channel and the peer push supervisor
// until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.registrationLoop(ctx) })
	g.Go(func() error { return c.peerSupervisor(ctx) })
	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) setPeers(ids []uint8) {
	next := make(map[NodeId]struct{}, len(ids))
	for _, id := range ids {
		next[NodeId(id)] = struct{}{}
	}
	c.mu.Lock()
	c.peers = next
	c.mu.Unlock()
	select {
	case c.peersChanged <- struct{}{}:
	default:
	}
}

func (c *Client) nextHeader(id NodeId) wire.PeerHeader {
	c.mu.Lock()
	c.msgCounts[id]++
	n := c.msgCounts[id]
	c.mu.Unlock()
	return wire.PeerHeader{
		SenderID:          uint8(c.cfg.SelfID),
		MsgCount:          n,
		TimestampUnixNano: time.Now().UnixNano(),
	}
}

// registrationLoop keeps a registration session alive, reconnecting
// after a transient failure, until ctx is canceled.
func (c *Client) registrationLoop(ctx context.Context) error {
	for {
		err := c.runRegistrationSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Warn("collab: registration session failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryInterval):
			}
			continue
		}
		return nil
	}
}

func (c *Client) runRegistrationSession(ctx context.Context) error {
	conn, err := c.regDialer.DialRegistration(ctx)
	if err != nil {
		return fmt.Errorf("collab: dial registration: %w", err)
	}
	defer conn.Close()

	req := wire.RegisterRequest{NodeID: uint8(c.cfg.SelfID)}
	if err := wire.WriteFrame(conn, wire.EncodeRegisterRequest(req)); err != nil {
		return fmt.Errorf("collab: send register: %w", err)
	}

	payload, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("collab: read inform: %w", err)
	}
	inform, err := wire.DecodeInform(payload)
	if err != nil {
		return fmt.Errorf("collab: decode inform: %w", err)
	}

	c.mu.Lock()
	c.nonce = inform.Nonce
	if inform.KeepaliveSeconds > 0 {
		c.keepalive = time.Duration(inform.KeepaliveSeconds) * time.Second
	}
	keepalive := c.keepalive
	c.mu.Unlock()
	c.setPeers(inform.Neighbors)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.keepaliveLoop(gctx, conn, keepalive) })
	g.Go(func() error { return c.notifyListenLoop(gctx, conn) })
	waitErr := g.Wait()

	if ctx.Err() != nil {
		_ = wire.WriteFrame(conn, wire.EncodeLeave())
	}
	return waitErr
}

func (c *Client) keepaliveLoop(ctx context.Context, conn net.Conn, interval time.Duration) error {
	if interval <= 0 {
		interval = c.cfg.FallbackKeepalive
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := wire.WriteFrame(conn, wire.EncodeKeepalive()); err != nil {
				return fmt.Errorf("collab: send keepalive: %w", err)
			}
		}
	}
}

func (c *Client) notifyListenLoop(ctx context.Context, conn net.Conn) error {
	type frame struct {
		payload []byte
		err     error
	}
	frames := make(chan frame, 1)
	go func() {
		for {
			payload, err := wire.ReadFrame(conn)
			frames <- frame{payload, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-frames:
			if f.err != nil {
				return fmt.Errorf("collab: read notify: %w", f.err)
			}
			tag, err := wire.PeekType(f.payload)
			if err != nil || tag != wire.MsgNotify {
				continue
			}
			n, err := wire.DecodeNotify(f.payload)
			if err != nil {
				c.logger.Warn("collab: malformed notify", "error", err)
				continue
			}
			c.setPeers(n.Neighbors)
		}
	}
}

// peerSupervisor keeps exactly one push loop running per current peer,
// starting and stopping loops as the neighbor list changes.
func (c *Client) peerSupervisor(ctx context.Context) error {
	active := make(map[NodeId]context.CancelFunc)
	g, gctx := errgroup.WithContext(ctx)

	reconcile := func() {
		c.mu.Lock()
		wanted := make(map[NodeId]struct{}, len(c.peers))
		for id := range c.peers {
			wanted[id] = struct{}{}
		}
		c.mu.Unlock()

		for id := range wanted {
			if _, ok := active[id]; ok {
				continue
			}
			peerCtx, cancel := context.WithCancel(gctx)
			active[id] = cancel
			peerID := id
			g.Go(func() error {
				if err := c.pushToPeer(peerCtx, peerID); err != nil && peerCtx.Err() == nil {
					c.logger.Warn("collab: peer push loop exited", "peer", peerID, "error", err)
				}
				return nil
			})
		}
		for id, cancel := range active {
			if _, ok := wanted[id]; !ok {
				cancel()
				delete(active, id)
			}
		}
	}

	reconcile()
	for {
		select {
		case <-ctx.Done():
			for _, cancel := range active {
				cancel()
			}
			_ = g.Wait()
			return ctx.Err()
		case <-c.peersChanged:
			reconcile()
		}
	}
}

func (c *Client) pushToPeer(ctx context.Context, id NodeId) error {
	for {
		err := c.runPeerSession(ctx, id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Warn("collab: peer session failed, retrying", "peer", id, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryInterval):
			}
			continue
		}
		return nil
	}
}

func (c *Client) runPeerSession(ctx context.Context, id NodeId) error {
	conn, err := c.peerDialer.DialPeer(ctx, id)
	if err != nil {
		return fmt.Errorf("collab: dial peer %d: %w", id, err)
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.EncodeHello(c.nextHeader(id))); err != nil {
		return fmt.Errorf("collab: send hello to %d: %w", id, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.locationLoop(gctx, conn, id) })
	g.Go(func() error { return c.spectrumLoop(gctx, conn, id) })
	g.Go(func() error { return c.performanceLoop(gctx, conn, id) })
	return g.Wait()
}

func (c *Client) locationLoop(ctx context.Context, conn net.Conn, id NodeId) error {
	ticker := time.NewTicker(c.cfg.LocationUpdatePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			update := wire.PeerLocationUpdate{
				Header:    c.nextHeader(id),
				Locations: c.loc.Locations(c.cfg.MaxLocationAge),
			}
			if err := wire.WriteFrame(conn, wire.EncodeLocationUpdate(update)); err != nil {
				return fmt.Errorf("collab: send location update to %d: %w", id, err)
			}
		}
	}
}

func (c *Client) spectrumLoop(ctx context.Context, conn net.Conn, id NodeId) error {
	ticker := time.NewTicker(c.cfg.spectrumEffectivePeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			voxels := c.vox.HistoricalVoxels()
			voxels = append(voxels, c.vox.PredictedVoxels(c.cfg.SpecChanTrimLo, c.cfg.SpecChanTrimHi, c.cfg.SpecFuturePeriod)...)
			report := wire.SpectrumUsageReport{Header: c.nextHeader(id), Voxels: voxels}
			if err := wire.WriteFrame(conn, wire.EncodeSpectrumUsage(report)); err != nil {
				return fmt.Errorf("collab: send spectrum usage to %d: %w", id, err)
			}
		}
	}
}

func (c *Client) performanceLoop(ctx context.Context, conn net.Conn, id NodeId) error {
	ticker := time.NewTicker(c.cfg.DetailedPerformancePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report := wire.DetailedPerformanceReport{Header: c.nextHeader(id), Flows: c.perf.FlowStats()}
			if err := wire.WriteFrame(conn, wire.EncodeDetailedPerformance(report)); err != nil {
				return fmt.Errorf("collab: send detailed performance to %d: %w", id, err)
			}
		}
	}
}
