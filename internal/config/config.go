// Package config manages the radioctl daemon configuration, read from a
// YAML file and unmarshaled with yaml.Unmarshal in the same style as the
// PTP daemons' own config loaders. Keys that match no field are ignored,
// not rejected.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete radioctl daemon configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Listen    ListenConfig    `yaml:"listen"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	MAC       MACConfig       `yaml:"mac"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Persist   PersistConfig   `yaml:"persist"`
	Collab    CollabConfig    `yaml:"collab"`
}

// NodeConfig identifies this radio within the fleet.
type NodeConfig struct {
	// ID is this node's fleet-unique identifier (1-254).
	ID uint8 `yaml:"id"`
	// IsGateway marks this node as the scenario's network gateway.
	IsGateway bool `yaml:"is_gateway"`
	// GPSDO reports whether the DSP has a GPS-disciplined oscillator, in
	// which case clock sync solves only for offset (Section 4.1).
	GPSDO bool `yaml:"gpsdo"`
}

// ListenConfig holds every socket address the daemon binds.
type ListenConfig struct {
	// RemoteControl is the local remote-control listen address (Section
	// 6.1), e.g. "127.0.0.1:8888".
	RemoteControl string `yaml:"remote_control"`
	// Peer is the internal peer-protocol listen address (Section 6.2),
	// e.g. ":4096".
	Peer string `yaml:"peer"`
	// Collab is the collaboration-bus listen address (Section 6.3).
	Collab string `yaml:"collab"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `yaml:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `yaml:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is the log output format: "json" or "text".
	Format string `yaml:"format"`
}

// MACConfig holds the default MAC binding parameters.
type MACConfig struct {
	// Variant selects the MAC discipline: "tdma", "fdma", or "aloha".
	Variant string `yaml:"variant"`
	// NChannels is the number of frequency channels available to the MAC.
	NChannels int `yaml:"nchannels"`
	// NSlots is the number of time slots per schedule period.
	NSlots int `yaml:"nslots"`
	// ALOHAProbability is the per-slot transmit probability when Variant
	// is "aloha".
	ALOHAProbability float64 `yaml:"aloha_probability"`
}

// DiscoveryConfig holds the NeighborDiscovery HELLO timing parameters.
type DiscoveryConfig struct {
	// MeanIntervalDiscovery is the mean inter-HELLO interval during the
	// aggressive discovery phase.
	MeanIntervalDiscovery time.Duration `yaml:"mean_interval_discovery"`
	// MeanIntervalStandard is the mean inter-HELLO interval once the
	// discovery phase's Rounds HELLOs have been sent.
	MeanIntervalStandard time.Duration `yaml:"mean_interval_standard"`
	// Rounds is how many HELLOs are sent in the discovery phase before
	// transitioning to the standard phase.
	Rounds int `yaml:"rounds"`
}

// ScoringConfig holds the MandateScorer timing parameters.
type ScoringConfig struct {
	// MeasurementPeriod is the width of one scoring measurement period.
	MeasurementPeriod time.Duration `yaml:"measurement_period"`
}

// PersistConfig holds the on-disk artifact locations.
type PersistConfig struct {
	// ScoreCSVPath is where score_reported.csv is written.
	ScoreCSVPath string `yaml:"score_csv_path"`
	// TimeSyncRingCapacity bounds the in-memory time-sync sample ring.
	TimeSyncRingCapacity int `yaml:"timesync_ring_capacity"`
}

// CollabConfig holds the collaboration bus addresses and report periods
// (Section 4.10).
type CollabConfig struct {
	// Enabled turns on the collaboration client. Only the gateway fields
	// a registration session in the normal fleet topology.
	Enabled bool `yaml:"enabled"`
	// RegistrationAddr is the well-known collaboration server's
	// host:port.
	RegistrationAddr string `yaml:"registration_addr"`
	// PeerListenAddr is where this node accepts inbound peer-channel
	// pushes from competing fleets.
	PeerListenAddr string `yaml:"peer_listen_addr"`
	// LocationUpdatePeriod is how often LOCATION_UPDATE is pushed to
	// each peer.
	LocationUpdatePeriod time.Duration `yaml:"location_update_period"`
	// MaxLocationAge bounds how stale a peer location may be and still
	// be included in a LOCATION_UPDATE.
	MaxLocationAge time.Duration `yaml:"max_location_age"`
	// SpectrumUsageUpdatePeriod is the desired SPECTRUM_USAGE period,
	// clamped to [SpectrumUsageMinPeriod, SpectrumUsageMaxPeriod].
	SpectrumUsageUpdatePeriod time.Duration `yaml:"spectrum_usage_update_period"`
	SpectrumUsageMinPeriod    time.Duration `yaml:"spectrum_usage_min_period"`
	SpectrumUsageMaxPeriod    time.Duration `yaml:"spectrum_usage_max_period"`
	// SpecChanTrimLo/Hi trim each predicted voxel's band edges by this
	// fraction of the channel's bandwidth.
	SpecChanTrimLo float64 `yaml:"spec_chan_trim_lo"`
	SpecChanTrimHi float64 `yaml:"spec_chan_trim_hi"`
	// SpecFuturePeriod is how far forward predicted voxels extend.
	SpecFuturePeriod time.Duration `yaml:"spec_future_period"`
	// DetailedPerformanceUpdatePeriod is how often DETAILED_PERFORMANCE
	// is pushed to each peer.
	DetailedPerformanceUpdatePeriod time.Duration `yaml:"detailed_performance_update_period"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID: 1,
		},
		Listen: ListenConfig{
			RemoteControl: "127.0.0.1:8888",
			Peer:          ":4096",
			Collab:        ":5556",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		MAC: MACConfig{
			Variant:          "tdma",
			NChannels:        1,
			NSlots:           10,
			ALOHAProbability: 0.1,
		},
		Discovery: DiscoveryConfig{
			MeanIntervalDiscovery: 1 * time.Second,
			MeanIntervalStandard:  10 * time.Second,
			Rounds:                10,
		},
		Scoring: ScoringConfig{
			MeasurementPeriod: 1 * time.Second,
		},
		Persist: PersistConfig{
			ScoreCSVPath:         "score_reported.csv",
			TimeSyncRingCapacity: 256,
		},
		Collab: CollabConfig{
			Enabled:                         false,
			PeerListenAddr:                  ":5558",
			LocationUpdatePeriod:            5 * time.Second,
			MaxLocationAge:                  60 * time.Second,
			SpectrumUsageUpdatePeriod:       10 * time.Second,
			SpectrumUsageMinPeriod:          5 * time.Second,
			SpectrumUsageMaxPeriod:          30 * time.Second,
			SpecChanTrimLo:                  0.1,
			SpecChanTrimHi:                  0.1,
			SpecFuturePeriod:                10 * time.Second,
			DetailedPerformanceUpdatePeriod: 10 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// Load reads configuration from a YAML file at path, starting from
// DefaultConfig() so a file naming only a handful of keys still gets
// sensible values for the rest, then validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidNodeID indicates the node id is zero or the reserved
	// broadcast value.
	ErrInvalidNodeID = errors.New("node.id must be between 1 and 254")

	// ErrEmptyRemoteControlAddr indicates the remote-control listen
	// address is empty.
	ErrEmptyRemoteControlAddr = errors.New("listen.remote_control must not be empty")

	// ErrEmptyPeerAddr indicates the internal peer listen address is
	// empty.
	ErrEmptyPeerAddr = errors.New("listen.peer must not be empty")

	// ErrInvalidMACVariant indicates an unrecognized MAC variant string.
	ErrInvalidMACVariant = errors.New("mac.variant must be tdma, fdma, or aloha")

	// ErrInvalidNChannels indicates a non-positive channel count.
	ErrInvalidNChannels = errors.New("mac.nchannels must be >= 1")

	// ErrInvalidNSlots indicates a non-positive slot count.
	ErrInvalidNSlots = errors.New("mac.nslots must be >= 1")

	// ErrInvalidALOHAProbability indicates a probability outside [0, 1].
	ErrInvalidALOHAProbability = errors.New("mac.aloha_probability must be within [0, 1]")

	// ErrInvalidMeasurementPeriod indicates a non-positive measurement
	// period.
	ErrInvalidMeasurementPeriod = errors.New("scoring.measurement_period must be > 0")

	// ErrEmptyCollabRegistrationAddr indicates the collaboration client
	// is enabled but has no registration server address configured.
	ErrEmptyCollabRegistrationAddr = errors.New("collab.registration_addr must not be empty when collab.enabled is true")
)

// ValidMACVariants lists the recognized MAC variant strings.
var ValidMACVariants = map[string]bool{
	"tdma":  true,
	"fdma":  true,
	"aloha": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Node.ID == 0 || cfg.Node.ID == 255 {
		return ErrInvalidNodeID
	}

	if cfg.Listen.RemoteControl == "" {
		return ErrEmptyRemoteControlAddr
	}

	if cfg.Listen.Peer == "" {
		return ErrEmptyPeerAddr
	}

	if !ValidMACVariants[cfg.MAC.Variant] {
		return ErrInvalidMACVariant
	}

	if cfg.MAC.NChannels < 1 {
		return ErrInvalidNChannels
	}

	if cfg.MAC.NSlots < 1 {
		return ErrInvalidNSlots
	}

	if cfg.MAC.ALOHAProbability < 0 || cfg.MAC.ALOHAProbability > 1 {
		return ErrInvalidALOHAProbability
	}

	if cfg.Scoring.MeasurementPeriod <= 0 {
		return ErrInvalidMeasurementPeriod
	}

	if cfg.Collab.Enabled && cfg.Collab.RegistrationAddr == "" {
		return ErrEmptyCollabRegistrationAddr
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
