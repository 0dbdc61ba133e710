// Package config loads the orchestrator configuration. Defaults are compiled
// in; a TOML file and a handful of environment variables layer on top
// (env > TOML > default).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration for the monitoring daemon.
type Config struct {
	// BaseDir holds every file the daemon persists: PID file, heartbeat,
	// stop marker, startup lock, recovery state, history DB and logs.
	BaseDir string `toml:"base_dir"`

	Monitor    MonitorConfig    `toml:"monitor"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Recovery   RecoveryConfig   `toml:"recovery"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Detector   DetectorConfig   `toml:"detector"`
	Notify     NotifyConfig     `toml:"notify"`
	History    HistoryConfig    `toml:"history"`
}

// MonitorConfig controls the per-cycle health checking behavior.
type MonitorConfig struct {
	IntervalSeconds           int    `toml:"interval_seconds"`            // sleep between cycles
	CaptureLines              int    `toml:"capture_lines"`               // pane lines captured per snapshot
	SnapshotCount             int    `toml:"snapshot_count"`              // snapshots per agent per cycle
	SnapshotSpacingMS         int    `toml:"snapshot_spacing_ms"`         // spacing between snapshots
	IdleCooldownSeconds       int    `toml:"idle_cooldown_seconds"`       // between continuously-idle alerts per target
	FreshCooldownSeconds      int    `toml:"fresh_cooldown_seconds"`      // between needs-briefing alerts per target
	MaxSubmissionAttempts     int    `toml:"max_submission_attempts"`     // auto-submit cap for queued messages
	SubmissionCooldownSeconds int    `toml:"submission_cooldown_seconds"` // between auto-submit attempts
	Strategy                  string `toml:"strategy"`                    // "polling" or "concurrent"
	MaxConcurrent             int    `toml:"max_concurrent"`              // semaphore size for the concurrent strategy
}

// DaemonConfig controls singleton lifecycle files and shutdown behavior.
type DaemonConfig struct {
	PidFile                    string   `toml:"pid_file"`
	SupervisorPidFile          string   `toml:"supervisor_pid_file"`
	HeartbeatFile              string   `toml:"heartbeat_file"`
	StopMarkerFile             string   `toml:"stop_marker_file"`
	LockFile                   string   `toml:"lock_file"`
	LogFile                    string   `toml:"log_file"`
	StartupLockRetries         int      `toml:"startup_lock_retries"`
	GracefulStopTimeoutSeconds int      `toml:"graceful_stop_timeout_seconds"`
	// ProcessMarkers are substrings that must appear in /proc/<pid>/cmdline
	// for a PID file to be trusted. A recycled PID running something else
	// is treated as stale.
	ProcessMarkers []string `toml:"process_markers"`
}

// RecoveryConfig bounds PM recovery orchestration.
type RecoveryConfig struct {
	Enabled                    bool  `toml:"enabled"`
	GracePeriodSeconds         int   `toml:"grace_period_seconds"`   // health checks suspended after recovery
	CooldownSeconds            int   `toml:"cooldown_seconds"`       // between recoveries of one session
	MaxAttemptsPerHour         int   `toml:"max_attempts_per_hour"`  // hard cap inside the sliding window
	RetryDelaysSeconds         []int `toml:"retry_delays_seconds"`   // fixed progressive retry schedule
	ProgressiveDelayCapSeconds int   `toml:"progressive_delay_cap_seconds"`
	InitWaitMinSeconds         int   `toml:"init_wait_min_seconds"` // PM initialization wait, scaled by team size
	InitWaitMaxSeconds         int   `toml:"init_wait_max_seconds"`
}

// SupervisorConfig controls the self-healing wrapper process.
type SupervisorConfig struct {
	HeartbeatTimeoutSeconds int `toml:"heartbeat_timeout_seconds"`
	BackoffBaseSeconds      int `toml:"backoff_base_seconds"`
	BackoffCapSeconds       int `toml:"backoff_cap_seconds"`
	MaxFailures             int `toml:"max_failures"`
	FailureWindowSeconds    int `toml:"failure_window_seconds"`
}

// DetectorConfig holds the crash/idle classification tables as data so they
// can be tuned against real transcripts without a rebuild.
type DetectorConfig struct {
	CrashIndicators           []string `toml:"crash_indicators"`
	IgnoreRegexes             []string `toml:"ignore_regexes"`
	SafeContexts              []string `toml:"safe_contexts"`
	PromptPatterns            []string `toml:"prompt_patterns"`
	BusyMarkers               []string `toml:"busy_markers"`
	InterfaceMarkers          []string `toml:"interface_markers"`
	FreshMarkers              []string `toml:"fresh_markers"`
	PMWindowNames             []string `toml:"pm_window_names"`
	ObservationWindowSeconds  int      `toml:"observation_window_seconds"`
	ObservationThreshold      int      `toml:"observation_threshold"`
	MaxEditDistance           int      `toml:"max_edit_distance"` // 0 = exact slot comparison
}

// NotifyConfig controls consolidated report delivery.
type NotifyConfig struct {
	Enabled              bool   `toml:"enabled"`
	Desktop              bool   `toml:"desktop"`  // optional desktop channel
	LogPath              string `toml:"log_path"` // optional append-only notification log
	CrashCooldownSeconds int    `toml:"crash_cooldown_seconds"`
	WrapWidth            int    `toml:"wrap_width"` // side-channel body wrap, 0 = default
}

// HistoryConfig controls the sqlite transition log.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		BaseDir: defaultBaseDir(),
		Monitor: MonitorConfig{
			IntervalSeconds:           10,
			CaptureLines:              50,
			SnapshotCount:             4,
			SnapshotSpacingMS:         300,
			IdleCooldownSeconds:       300,
			FreshCooldownSeconds:      600,
			MaxSubmissionAttempts:     5,
			SubmissionCooldownSeconds: 10,
			Strategy:                  "polling",
			MaxConcurrent:             10,
		},
		Daemon: DaemonConfig{
			PidFile:                    "idle-monitor.pid",
			SupervisorPidFile:          "idle-monitor-supervisor.pid",
			HeartbeatFile:              "idle-monitor.heartbeat",
			StopMarkerFile:             "idle-monitor.graceful",
			LockFile:                   "idle-monitor.startup.lock",
			LogFile:                    "idle-monitor.log",
			StartupLockRetries:         5,
			GracefulStopTimeoutSeconds: 10,
			ProcessMarkers:             []string{"tmux-orc"},
		},
		Recovery: RecoveryConfig{
			Enabled:                    true,
			GracePeriodSeconds:         180,
			CooldownSeconds:            300,
			MaxAttemptsPerHour:         3,
			RetryDelaysSeconds:         []int{2, 5, 10},
			ProgressiveDelayCapSeconds: 30,
			InitWaitMinSeconds:         5,
			InitWaitMaxSeconds:         12,
		},
		Supervisor: SupervisorConfig{
			HeartbeatTimeoutSeconds: 30,
			BackoffBaseSeconds:      1,
			BackoffCapSeconds:       60,
			MaxFailures:             5,
			FailureWindowSeconds:    300,
		},
		Detector: DetectorConfig{
			CrashIndicators:          DefaultCrashIndicators(),
			IgnoreRegexes:            DefaultIgnoreRegexes(),
			SafeContexts:             DefaultSafeContexts(),
			PromptPatterns:           DefaultPromptPatterns(),
			BusyMarkers:              DefaultBusyMarkers(),
			InterfaceMarkers:         DefaultInterfaceMarkers(),
			FreshMarkers:             DefaultFreshMarkers(),
			PMWindowNames:            []string{"pm", "project-manager", "project manager"},
			ObservationWindowSeconds: 30,
			ObservationThreshold:     3,
			MaxEditDistance:          0,
		},
		Notify: NotifyConfig{
			Enabled:              true,
			Desktop:              false,
			CrashCooldownSeconds: 300,
			WrapWidth:            0,
		},
		History: HistoryConfig{
			Enabled: true,
			File:    "history.db",
		},
	}
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tmux_orchestrator"
	}
	return filepath.Join(home, ".tmux_orchestrator")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultBaseDir(), "config.toml")
}

// Load reads configuration with defaults, TOML file and env overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if base := os.Getenv("TMUX_ORC_BASE_DIR"); base != "" {
		cfg.BaseDir = base
	}
	if interval := os.Getenv("TMUX_ORC_INTERVAL"); interval != "" {
		if n, err := strconv.Atoi(interval); err == nil && n > 0 {
			cfg.Monitor.IntervalSeconds = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir must not be empty")
	}
	if c.Monitor.IntervalSeconds < 1 {
		return fmt.Errorf("monitor.interval_seconds must be >= 1, got %d", c.Monitor.IntervalSeconds)
	}
	if c.Monitor.SnapshotCount < 2 {
		return fmt.Errorf("monitor.snapshot_count must be >= 2, got %d", c.Monitor.SnapshotCount)
	}
	if c.Monitor.Strategy != "polling" && c.Monitor.Strategy != "concurrent" {
		return fmt.Errorf("monitor.strategy must be \"polling\" or \"concurrent\", got %q", c.Monitor.Strategy)
	}
	if c.Monitor.MaxConcurrent < 1 {
		return fmt.Errorf("monitor.max_concurrent must be >= 1, got %d", c.Monitor.MaxConcurrent)
	}
	if c.Detector.ObservationThreshold < 1 {
		return fmt.Errorf("detector.observation_threshold must be >= 1, got %d", c.Detector.ObservationThreshold)
	}
	for _, pattern := range c.Detector.IgnoreRegexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("detector.ignore_regexes entry %q: %w", pattern, err)
		}
	}
	for _, pattern := range c.Detector.PromptPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("detector.prompt_patterns entry %q: %w", pattern, err)
		}
	}
	if c.Recovery.MaxAttemptsPerHour < 1 {
		return fmt.Errorf("recovery.max_attempts_per_hour must be >= 1, got %d", c.Recovery.MaxAttemptsPerHour)
	}
	if c.Supervisor.BackoffBaseSeconds < 1 {
		return fmt.Errorf("supervisor.backoff_base_seconds must be >= 1, got %d", c.Supervisor.BackoffBaseSeconds)
	}
	return nil
}

// EnsureBaseDir creates the base directory tree.
func (c *Config) EnsureBaseDir() error {
	for _, dir := range []string{c.BaseDir, filepath.Join(c.BaseDir, "recovery")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Path helpers for the files shared across process boundaries.

func (c *Config) PidPath() string           { return filepath.Join(c.BaseDir, c.Daemon.PidFile) }
func (c *Config) SupervisorPidPath() string { return filepath.Join(c.BaseDir, c.Daemon.SupervisorPidFile) }
func (c *Config) HeartbeatPath() string     { return filepath.Join(c.BaseDir, c.Daemon.HeartbeatFile) }
func (c *Config) StopMarkerPath() string    { return filepath.Join(c.BaseDir, c.Daemon.StopMarkerFile) }
func (c *Config) LockPath() string          { return filepath.Join(c.BaseDir, c.Daemon.LockFile) }
func (c *Config) LogPath() string           { return filepath.Join(c.BaseDir, c.Daemon.LogFile) }
func (c *Config) RecoveryDir() string       { return filepath.Join(c.BaseDir, "recovery") }
func (c *Config) HistoryPath() string       { return filepath.Join(c.BaseDir, c.History.File) }

// Duration accessors.

func (c *MonitorConfig) Interval() time.Duration        { return time.Duration(c.IntervalSeconds) * time.Second }
func (c *MonitorConfig) SnapshotSpacing() time.Duration { return time.Duration(c.SnapshotSpacingMS) * time.Millisecond }
func (c *MonitorConfig) IdleCooldown() time.Duration    { return time.Duration(c.IdleCooldownSeconds) * time.Second }
func (c *MonitorConfig) FreshCooldown() time.Duration   { return time.Duration(c.FreshCooldownSeconds) * time.Second }
func (c *MonitorConfig) SubmissionCooldown() time.Duration {
	return time.Duration(c.SubmissionCooldownSeconds) * time.Second
}

func (c *RecoveryConfig) GracePeriod() time.Duration { return time.Duration(c.GracePeriodSeconds) * time.Second }
func (c *RecoveryConfig) Cooldown() time.Duration    { return time.Duration(c.CooldownSeconds) * time.Second }
func (c *RecoveryConfig) ProgressiveDelayCap() time.Duration {
	return time.Duration(c.ProgressiveDelayCapSeconds) * time.Second
}
func (c *RecoveryConfig) RetryDelays() []time.Duration {
	out := make([]time.Duration, len(c.RetryDelaysSeconds))
	for i, s := range c.RetryDelaysSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

func (c *SupervisorConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}
func (c *SupervisorConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}
func (c *SupervisorConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}
func (c *SupervisorConfig) FailureWindow() time.Duration {
	return time.Duration(c.FailureWindowSeconds) * time.Second
}

func (c *DetectorConfig) ObservationWindow() time.Duration {
	return time.Duration(c.ObservationWindowSeconds) * time.Second
}

func (c *NotifyConfig) CrashCooldown() time.Duration {
	return time.Duration(c.CrashCooldownSeconds) * time.Second
}
