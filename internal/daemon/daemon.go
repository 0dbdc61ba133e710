// Package daemon runs the monitoring loop as a singleton background process:
// discover agents, classify each one, recover crashed PMs, flush one report
// per PM and stamp a heartbeat, every cycle, until a stop marker or signal
// arrives.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/detector"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/discovery"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/health"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/history"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/notify"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/recovery"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/tmux"
)

// Daemon wires the per-cycle pipeline together.
type Daemon struct {
	cfg       *config.Config
	client    tmux.Client
	disco     *discovery.Discovery
	checker   *health.Checker
	strategy  health.Strategy
	notifier  *notify.Notifier
	recoverer *recovery.Manager
	recorder  *history.Recorder // nil when history is disabled
	lifecycle *Lifecycle
	logger    *slog.Logger

	cycle int64
	// known tracks targets seen last cycle so disappearances can be reported.
	known map[string]discovery.AgentInfo

	sleep func(time.Duration)
}

// New assembles a daemon from configuration. pmCommand is the command used
// to start replacement PMs.
func New(cfg *config.Config, client tmux.Client, logger *slog.Logger, pmCommand string) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	disco := discovery.New(client, cfg.Detector.PMWindowNames)
	crash := detector.NewCrashDetector(cfg.Detector)
	idle := detector.NewIdleDetector(cfg.Detector)

	// A recipient mid-task is not interrupted with a report.
	busy := func(target string) bool {
		content, err := client.CapturePane(target, cfg.Monitor.CaptureLines)
		if err != nil {
			return false
		}
		return idle.IsBusy(content)
	}
	notifier := notify.New(client, disco, cfg.Notify, logger, busy)

	store := recovery.NewStore(cfg.RecoveryDir())
	recoverer := recovery.New(client, disco, crash, store, cfg.Recovery, notifier, logger, cfg.Monitor.CaptureLines, pmCommand)

	checker := health.NewChecker(client, cfg.Monitor, cfg.Detector, crash, notifier, logger)
	strategy, err := health.NewStrategy(cfg.Monitor.Strategy, cfg.Monitor.MaxConcurrent)
	if err != nil {
		return nil, err
	}

	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.Open(cfg.HistoryPath())
		if err != nil {
			return nil, err
		}
	}

	return &Daemon{
		cfg:       cfg,
		client:    client,
		disco:     disco,
		checker:   checker,
		strategy:  strategy,
		notifier:  notifier,
		recoverer: recoverer,
		recorder:  recorder,
		lifecycle: NewLifecycle(cfg, logger),
		logger:    logger.With("component", "daemon"),
		known:     make(map[string]discovery.AgentInfo),
		sleep:     time.Sleep,
	}, nil
}

// Lifecycle exposes the singleton manager for the CLI.
func (d *Daemon) Lifecycle() *Lifecycle { return d.lifecycle }

// Run acquires the singleton and loops until a signal, a stop marker or
// context cancellation. The stop marker is both polled once per cycle and
// watched with fsnotify so a stop lands fast even mid-sleep.
func (d *Daemon) Run(ctx context.Context) error {
	if err := tmux.EnsureInstalled(); err != nil {
		return err
	}
	if err := d.lifecycle.Acquire(); err != nil {
		return err
	}
	defer d.lifecycle.Release()
	if d.recorder != nil {
		defer d.recorder.Close()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	markerEvents := d.watchStopMarker(ctx)

	d.logger.Info("monitor daemon started",
		"pid", os.Getpid(),
		"interval", d.cfg.Monitor.Interval(),
		"strategy", d.strategy.Name())

	ticker := time.NewTicker(d.cfg.Monitor.Interval())
	defer ticker.Stop()

	for {
		if d.stopMarkerPresent() {
			d.logger.Info("stop marker found, shutting down")
			os.Remove(d.cfg.StopMarkerPath())
			return nil
		}

		d.runCycle()

		if err := d.lifecycle.TouchHeartbeat(); err != nil {
			d.logger.Warn("heartbeat write failed", "error", err)
		}

		select {
		case <-ctx.Done():
			d.logger.Info("signal received, shutting down")
			return nil
		case <-markerEvents:
			d.logger.Info("stop marker created, shutting down")
			os.Remove(d.cfg.StopMarkerPath())
			return nil
		case <-ticker.C:
		}
	}
}

// watchStopMarker returns a channel that fires when the stop marker appears.
// fsnotify failures degrade to the per-cycle poll.
func (d *Daemon) watchStopMarker(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("fsnotify unavailable, relying on marker polling", "error", err)
		return out
	}
	if err := watcher.Add(d.cfg.BaseDir); err != nil {
		d.logger.Warn("watching base dir failed, relying on marker polling", "error", err)
		watcher.Close()
		return out
	}

	marker := d.cfg.StopMarkerPath()
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == marker && ev.Op.Has(fsnotify.Create) {
					select {
					case out <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out
}

func (d *Daemon) stopMarkerPresent() bool {
	_, err := os.Stat(d.cfg.StopMarkerPath())
	return err == nil
}

// runCycle is one full pass: discover, classify, record, recover, report.
func (d *Daemon) runCycle() {
	d.cycle++
	start := time.Now()

	agents, err := d.disco.ListAgents()
	if err != nil {
		d.logger.Warn("agent discovery failed", "error", err)
		return
	}

	d.reportMissing(agents)

	// A PM that just restarted needs time before the first verdict, so the
	// grace period skips it. The rest of its session is still checked.
	var toCheck []discovery.AgentInfo
	graced := make(map[string]bool)
	for _, agent := range agents {
		if _, seen := graced[agent.Session]; !seen {
			graced[agent.Session] = d.recoverer.InGracePeriod(agent.Session)
		}
		if graced[agent.Session] && agent.IsPM() {
			continue
		}
		toCheck = append(toCheck, agent)
	}

	results := d.strategy.Run(toCheck, d.checker.CheckAgent)

	crashedPMs := make(map[string]string) // session -> crashed PM target
	for _, res := range results {
		if res.Err != nil {
			d.logger.Warn("agent check failed", "target", res.Agent.Target, "error", res.Err)
		}
		d.record(res)
		if res.Status == health.StatusCrashed && res.Agent.IsPM() {
			crashedPMs[res.Agent.Session] = res.Agent.Target
		}
	}

	// A session whose PM window vanished entirely also needs recovery.
	for session, hadPM := range sessionsWithPM(agents) {
		if graced[session] || hadPM {
			continue
		}
		if _, already := crashedPMs[session]; !already {
			crashedPMs[session] = ""
		}
	}

	for session, target := range crashedPMs {
		d.recoverPM(session, target)
	}

	if sent := d.notifier.Flush(); sent > 0 {
		d.logger.Info("reports delivered", "count", sent)
	}

	d.logger.Debug("cycle complete",
		"cycle", d.cycle,
		"agents", len(toCheck),
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// sessionsWithPM maps each session to whether a PM window exists in it.
func sessionsWithPM(agents []discovery.AgentInfo) map[string]bool {
	out := make(map[string]bool)
	for _, agent := range agents {
		if _, seen := out[agent.Session]; !seen {
			out[agent.Session] = false
		}
		if agent.IsPM() {
			out[agent.Session] = true
		}
	}
	return out
}

// reportMissing queues an event for every target that existed last cycle and
// is gone now, then refreshes the known set.
func (d *Daemon) reportMissing(agents []discovery.AgentInfo) {
	current := make(map[string]discovery.AgentInfo, len(agents))
	for _, agent := range agents {
		current[agent.Target] = agent
	}
	for target, agent := range d.known {
		if _, still := current[target]; still {
			continue
		}
		d.notifier.Queue(notify.Event{
			Type:    notify.EventAgentMissing,
			Target:  target,
			Session: agent.Session,
			Message: fmt.Sprintf("%s window disappeared", agent.Type),
		})
		d.checker.Forget(target)
		if d.recorder != nil {
			d.recorder.Forget(target)
		}
	}
	d.known = current
}

func (d *Daemon) record(res health.Result) {
	if d.recorder == nil {
		return
	}
	if _, err := d.recorder.Record(d.cycle, res.Agent.Target, res.Agent.Session, string(res.Status), res.Detail); err != nil {
		d.logger.Warn("history record failed", "target", res.Agent.Target, "error", err)
	}
}

// recoverPM runs the budgeted recovery path for one session.
func (d *Daemon) recoverPM(session, target string) {
	ok, reason := d.recoverer.ShouldAttemptRecovery(session)
	if !ok {
		d.logger.Info("PM recovery withheld", "session", session, "reason", reason)
		return
	}
	if err := d.recoverer.RecoverPM(session, target); err != nil {
		d.logger.Error("PM recovery failed", "session", session, "error", err)
		return
	}
	if target != "" {
		d.checker.Forget(target)
		if d.recorder != nil {
			d.recorder.Forget(target)
		}
	}
}

// Status is a point-in-time snapshot for the status command.
type Status struct {
	Running       bool          `json:"running"`
	PID           int           `json:"pid,omitempty"`
	Supervised    bool          `json:"supervised"`
	SupervisorPID int           `json:"supervisor_pid,omitempty"`
	HeartbeatAge  time.Duration `json:"heartbeat_age_ns,omitempty"`
	HeartbeatOK   bool          `json:"heartbeat_ok"`
}

// CurrentStatus inspects the lifecycle files without touching the daemon.
func CurrentStatus(cfg *config.Config) Status {
	var st Status
	pidf := NewPIDFile(cfg.PidPath(), cfg.Daemon.ProcessMarkers)
	if pid := pidf.Running(); pid != 0 {
		st.Running = true
		st.PID = pid
	}
	supf := NewPIDFile(cfg.SupervisorPidPath(), cfg.Daemon.ProcessMarkers)
	if pid := supf.Running(); pid != 0 {
		st.Supervised = true
		st.SupervisorPID = pid
	}
	st.HeartbeatAge, st.HeartbeatOK = HeartbeatAge(cfg.HeartbeatPath())
	return st
}
