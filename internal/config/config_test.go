package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drexelwireless/dragonradio-sub000/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Listen.RemoteControl != "127.0.0.1:8888" {
		t.Errorf("Listen.RemoteControl = %q, want %q", cfg.Listen.RemoteControl, "127.0.0.1:8888")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.MAC.Variant != "tdma" {
		t.Errorf("MAC.Variant = %q, want %q", cfg.MAC.Variant, "tdma")
	}

	if cfg.Scoring.MeasurementPeriod != 1*time.Second {
		t.Errorf("Scoring.MeasurementPeriod = %v, want %v", cfg.Scoring.MeasurementPeriod, time.Second)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
node:
  id: 7
  is_gateway: true
listen:
  remote_control: "127.0.0.1:9999"
mac:
  variant: "aloha"
  aloha_probability: 0.3
log:
  level: "debug"
  format: "text"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Node.ID != 7 {
		t.Errorf("Node.ID = %d, want 7", cfg.Node.ID)
	}
	if !cfg.Node.IsGateway {
		t.Error("Node.IsGateway = false, want true")
	}
	if cfg.Listen.RemoteControl != "127.0.0.1:9999" {
		t.Errorf("Listen.RemoteControl = %q, want %q", cfg.Listen.RemoteControl, "127.0.0.1:9999")
	}
	if cfg.MAC.Variant != "aloha" {
		t.Errorf("MAC.Variant = %q, want %q", cfg.MAC.Variant, "aloha")
	}
	if cfg.MAC.ALOHAProbability != 0.3 {
		t.Errorf("MAC.ALOHAProbability = %v, want 0.3", cfg.MAC.ALOHAProbability)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
node:
  id: 3
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Node.ID != 3 {
		t.Errorf("Node.ID = %d, want 3", cfg.Node.ID)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Defaults should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.MAC.Variant != "tdma" {
		t.Errorf("MAC.Variant = %q, want default %q", cfg.MAC.Variant, "tdma")
	}
	if cfg.Discovery.Rounds != 10 {
		t.Errorf("Discovery.Rounds = %d, want default 10", cfg.Discovery.Rounds)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "zero node id",
			modify:  func(cfg *config.Config) { cfg.Node.ID = 0 },
			wantErr: config.ErrInvalidNodeID,
		},
		{
			name:    "broadcast node id",
			modify:  func(cfg *config.Config) { cfg.Node.ID = 255 },
			wantErr: config.ErrInvalidNodeID,
		},
		{
			name:    "empty remote control addr",
			modify:  func(cfg *config.Config) { cfg.Listen.RemoteControl = "" },
			wantErr: config.ErrEmptyRemoteControlAddr,
		},
		{
			name:    "empty peer addr",
			modify:  func(cfg *config.Config) { cfg.Listen.Peer = "" },
			wantErr: config.ErrEmptyPeerAddr,
		},
		{
			name:    "bogus mac variant",
			modify:  func(cfg *config.Config) { cfg.MAC.Variant = "bogus" },
			wantErr: config.ErrInvalidMACVariant,
		},
		{
			name:    "zero channels",
			modify:  func(cfg *config.Config) { cfg.MAC.NChannels = 0 },
			wantErr: config.ErrInvalidNChannels,
		},
		{
			name:    "zero slots",
			modify:  func(cfg *config.Config) { cfg.MAC.NSlots = 0 },
			wantErr: config.ErrInvalidNSlots,
		},
		{
			name:    "aloha probability out of range",
			modify:  func(cfg *config.Config) { cfg.MAC.ALOHAProbability = 1.5 },
			wantErr: config.ErrInvalidALOHAProbability,
		},
		{
			name:    "zero measurement period",
			modify:  func(cfg *config.Config) { cfg.Scoring.MeasurementPeriod = 0 },
			wantErr: config.ErrInvalidMeasurementPeriod,
		},
		{
			name: "collab enabled without registration addr",
			modify: func(cfg *config.Config) {
				cfg.Collab.Enabled = true
				cfg.Collab.RegistrationAddr = ""
			},
			wantErr: config.ErrEmptyCollabRegistrationAddr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	t.Parallel()

	yamlContent := `
node:
  id: 42
log:
  level: "debug"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Node.ID != 42 {
		t.Errorf("Node.ID = %d, want 42 (from file)", cfg.Node.ID)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from file)", cfg.Log.Level, "debug")
	}
}

func TestLoadInheritsDefaultsForOmittedFields(t *testing.T) {
	t.Parallel()

	yamlContent := `
node:
  id: 7
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	want := config.DefaultConfig()
	if cfg.Metrics.Addr != want.Metrics.Addr {
		t.Errorf("Metrics.Addr = %q, want %q (default)", cfg.Metrics.Addr, want.Metrics.Addr)
	}

	if cfg.MAC.Variant != want.MAC.Variant {
		t.Errorf("MAC.Variant = %q, want %q (default)", cfg.MAC.Variant, want.MAC.Variant)
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "radioctl.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
