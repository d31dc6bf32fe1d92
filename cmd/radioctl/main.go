// radioctl -- distributed radio control plane daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/drexelwireless/dragonradio-sub000/internal/collab"
	"github.com/drexelwireless/dragonradio-sub000/internal/config"
	"github.com/drexelwireless/dragonradio-sub000/internal/controlplane"
	"github.com/drexelwireless/dragonradio-sub000/internal/discovery"
	"github.com/drexelwireless/dragonradio-sub000/internal/dsp"
	"github.com/drexelwireless/dragonradio-sub000/internal/flowstats"
	"github.com/drexelwireless/dragonradio-sub000/internal/link"
	"github.com/drexelwireless/dragonradio-sub000/internal/mac"
	"github.com/drexelwireless/dragonradio-sub000/internal/mandate"
	radiometrics "github.com/drexelwireless/dragonradio-sub000/internal/metrics"
	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
	"github.com/drexelwireless/dragonradio-sub000/internal/netio"
	"github.com/drexelwireless/dragonradio-sub000/internal/persist"
	"github.com/drexelwireless/dragonradio-sub000/internal/timesync"
	appversion "github.com/drexelwireless/dragonradio-sub000/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics server and
// control plane tasks to drain during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("radioctl starting",
		slog.String("version", appversion.Version),
		slog.Int("node_id", int(cfg.Node.ID)),
		slog.Bool("is_gateway", cfg.Node.IsGateway),
		slog.String("remote_control_addr", cfg.Listen.RemoteControl),
		slog.String("peer_addr", cfg.Listen.Peer),
		slog.String("metrics_addr", cfg.Metrics.Addr))

	reg := prometheus.NewRegistry()
	collector := radiometrics.NewCollector(reg)

	if err := runDaemon(cfg, collector, reg, logger); err != nil {
		logger.Error("radioctl exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("radioctl stopped")
	return 0
}

// runDaemon wires every subsystem together and runs the control plane
// until a termination signal arrives, the same errgroup + signal-aware
// context shutdown pattern the daemon has always used.
func runDaemon(cfg *config.Config, collector *radiometrics.Collector, reg *prometheus.Registry, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	self := neighborhood.NodeId(cfg.Node.ID)

	neigh := neighborhood.New(self)
	clock := timesync.New(cfg.Node.GPSDO)
	scenarioStart := time.Now()
	flowPerf := flowstats.New(mpClock{scenarioStart: scenarioStart, period: cfg.Scoring.MeasurementPeriod})
	scorer := mandate.New(scenarioStart, cfg.Scoring.MeasurementPeriod)

	macBind, err := newMACBinding(cfg.MAC, self)
	if err != nil {
		return fmt.Errorf("configure mac binding: %w", err)
	}

	routes := controlplane.NewIPRouteInstaller(logger)

	remoteLn, err := net.Listen("tcp", cfg.Listen.RemoteControl)
	if err != nil {
		return fmt.Errorf("listen remote control %s: %w", cfg.Listen.RemoteControl, err)
	}
	defer remoteLn.Close()

	peerConn, err := netio.ListenUDP(ctx, cfg.Listen.Peer, netio.DefaultRecvBufBytes)
	if err != nil {
		return fmt.Errorf("listen peer protocol %s: %w", cfg.Listen.Peer, err)
	}
	defer peerConn.Close()

	broadcastAddr, err := peerBroadcastAddr(cfg.Listen.Peer)
	if err != nil {
		return fmt.Errorf("resolve peer broadcast address: %w", err)
	}

	transport := &controlplane.PeerTransport{Conn: peerConn, Broadcast: broadcastAddr}
	disc := discovery.New(self, cfg.Node.IsGateway, func() neighborhood.Location {
		if n, ok := neigh.Get(self); ok {
			return n.Loc
		}
		return neighborhood.Location{}
	}, transport, discovery.Config{
		DiscoveryMeanInterval: cfg.Discovery.MeanIntervalDiscovery,
		StandardMeanInterval:  cfg.Discovery.MeanIntervalStandard,
		DiscoveryRounds:       cfg.Discovery.Rounds,
	}, nil)

	var scoreWriter *persist.ScoreWriter
	if cfg.Persist.ScoreCSVPath != "" {
		scoreWriter, err = persist.OpenScoreWriter(cfg.Persist.ScoreCSVPath)
		if err != nil {
			return fmt.Errorf("open score writer: %w", err)
		}
		defer scoreWriter.Close()
	}

	var collabClient *collab.Client
	if cfg.Node.IsGateway && cfg.Collab.Enabled {
		collabCfg := collab.Config{
			SelfID:                    self,
			RegistrationAddr:          cfg.Collab.RegistrationAddr,
			DialTimeout:               5 * time.Second,
			RetryInterval:             5 * time.Second,
			FallbackKeepalive:         30 * time.Second,
			LocationUpdatePeriod:      cfg.Collab.LocationUpdatePeriod,
			MaxLocationAge:            cfg.Collab.MaxLocationAge,
			SpectrumUsageUpdatePeriod: cfg.Collab.SpectrumUsageUpdatePeriod,
			SpectrumUsageMinPeriod:    cfg.Collab.SpectrumUsageMinPeriod,
			SpectrumUsageMaxPeriod:    cfg.Collab.SpectrumUsageMaxPeriod,
			SpecChanTrimLo:            cfg.Collab.SpecChanTrimLo,
			SpecChanTrimHi:            cfg.Collab.SpecChanTrimHi,
			SpecFuturePeriod:          cfg.Collab.SpecFuturePeriod,
			DetailedPerformancePeriod: cfg.Collab.DetailedPerformanceUpdatePeriod,
		}
		regDialer := collab.TCPRegistrationDialer{Addr: cfg.Collab.RegistrationAddr, Timeout: collabCfg.DialTimeout}
		peerDialer := collab.NewTCPPeerDialer(collabCfg.DialTimeout)
		collabClient = collab.NewClient(collabCfg, regDialer, peerDialer,
			controlplane.NewLocationSource(neigh),
			controlplane.NewVoxelSource(self, macBind, flowPerf),
			controlplane.NewPerformanceSource(flowPerf),
			logger)
	}

	txQueue := dsp.NewNullTransmitQueue()
	events := dsp.LoggingEventRecorder{Logger: logger}
	linkMgr := link.NewManager(
		controlplane.NewDSPPacketSender(txQueue),
		controlplane.NewLinkListener(collector, nil),
		link.DefaultConfig(),
	)
	defer linkMgr.Close()

	ctrl := controlplane.NewController(controlplane.Params{
		Self:      self,
		IsGateway: cfg.Node.IsGateway,
		MACConfig: struct {
			NChannels int
			NSlots    int
		}{NChannels: cfg.MAC.NChannels, NSlots: cfg.MAC.NSlots},
		Neighborhood:   neigh,
		Clock:          clock,
		MAC:            macBind,
		FlowPerf:       flowPerf,
		Scorer:         scorer,
		Discovery:      disc,
		CollabClient:   collabClient,
		Metrics:        collector,
		ScoreWriter:    scoreWriter,
		Routes:         routes,
		Link:           linkMgr,
		Events:         events,
		RemoteListener: remoteLn,
		PeerConn:       peerConn,
		PeerBroadcast:  broadcastAddr,
		Logger:         logger,
	}, controlplane.DefaultConfig())

	g, gCtx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error { return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr) })

	g.Go(func() error { return runWatchdog(gCtx, logger) })

	g.Go(func() error { return ctrl.Run(gCtx) })

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// mpClock implements flowstats.Clock by bucketing wall-clock time into
// measurement periods the same way mandate.Scorer does, so flow
// statistics and mandate scoring index the same measurement period for
// a given timestamp.
type mpClock struct {
	scenarioStart time.Time
	period        time.Duration
}

func (c mpClock) Now() time.Time { return time.Now() }
func (c mpClock) NowMP() flowstats.MP {
	return flowstats.MP(time.Since(c.scenarioStart) / c.period)
}

// newMACBinding constructs the mac.Binding matching cfg.Variant.
func newMACBinding(cfg config.MACConfig, self neighborhood.NodeId) (*mac.Binding, error) {
	switch cfg.Variant {
	case "tdma":
		return mac.NewTDMABinding(mac.NodeId(self)), nil
	case "fdma":
		return mac.NewFDMABinding(mac.NodeId(self)), nil
	case "aloha":
		return mac.NewALOHABinding(mac.NodeId(self), cfg.ALOHAProbability, nil), nil
	default:
		return nil, fmt.Errorf("unsupported mac variant %q", cfg.Variant)
	}
}

// peerBroadcastAddr derives the subnet broadcast address for the internal
// peer protocol socket from its listen address's port, using the
// limited broadcast address since no subnet mask is configured at this
// abstraction level.
func peerBroadcastAddr(listenAddr string) (*net.UDPAddr, error) {
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("split peer listen address: %w", err)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort("255.255.255.255", port))
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address: %w", err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured watchdog interval. If watchdog is not configured, it exits
// immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval), slog.Duration("keepalive_interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
