package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Monitor.SnapshotCount != 4 {
		t.Errorf("snapshot count = %d, want 4", cfg.Monitor.SnapshotCount)
	}
	if got := cfg.Recovery.GracePeriod().Minutes(); got != 3 {
		t.Errorf("grace period = %v minutes, want 3", got)
	}
	if got := cfg.Recovery.Cooldown().Minutes(); got != 5 {
		t.Errorf("recovery cooldown = %v minutes, want 5", got)
	}
	if cfg.Detector.ObservationThreshold != 3 {
		t.Errorf("observation threshold = %d, want 3", cfg.Detector.ObservationThreshold)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.IntervalSeconds != 10 {
		t.Errorf("interval = %d, want default 10", cfg.Monitor.IntervalSeconds)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
base_dir = "/tmp/orc-test"

[monitor]
interval_seconds = 30
strategy = "concurrent"

[recovery]
cooldown_seconds = 600
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir != "/tmp/orc-test" {
		t.Errorf("base dir = %q", cfg.BaseDir)
	}
	if cfg.Monitor.IntervalSeconds != 30 {
		t.Errorf("interval = %d, want 30", cfg.Monitor.IntervalSeconds)
	}
	if cfg.Monitor.Strategy != "concurrent" {
		t.Errorf("strategy = %q", cfg.Monitor.Strategy)
	}
	if cfg.Recovery.CooldownSeconds != 600 {
		t.Errorf("cooldown = %d, want 600", cfg.Recovery.CooldownSeconds)
	}
	// Untouched sections keep defaults.
	if cfg.Supervisor.HeartbeatTimeoutSeconds != 30 {
		t.Errorf("heartbeat timeout = %d, want default 30", cfg.Supervisor.HeartbeatTimeoutSeconds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TMUX_ORC_BASE_DIR", "/tmp/env-base")
	t.Setenv("TMUX_ORC_INTERVAL", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir != "/tmp/env-base" {
		t.Errorf("base dir = %q, want env override", cfg.BaseDir)
	}
	if cfg.Monitor.IntervalSeconds != 7 {
		t.Errorf("interval = %d, want 7", cfg.Monitor.IntervalSeconds)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Monitor.IntervalSeconds = 0 }},
		{"one snapshot", func(c *Config) { c.Monitor.SnapshotCount = 1 }},
		{"unknown strategy", func(c *Config) { c.Monitor.Strategy = "threads" }},
		{"bad ignore regex", func(c *Config) { c.Detector.IgnoreRegexes = []string{"("} }},
		{"bad prompt regex", func(c *Config) { c.Detector.PromptPatterns = []string{"["} }},
		{"zero recovery attempts", func(c *Config) { c.Recovery.MaxAttemptsPerHour = 0 }},
		{"empty base dir", func(c *Config) { c.BaseDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	cfg.BaseDir = "/var/run/orc"

	if got := cfg.PidPath(); got != "/var/run/orc/idle-monitor.pid" {
		t.Errorf("PidPath = %q", got)
	}
	if got := cfg.RecoveryDir(); got != "/var/run/orc/recovery" {
		t.Errorf("RecoveryDir = %q", got)
	}
}
