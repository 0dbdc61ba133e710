// Package supervisor keeps the monitor daemon alive. It spawns the monitor
// as a child process, watches its heartbeat file, and restarts it with
// exponential backoff when it exits or goes silent. A burst of failures
// pauses restarts until the failure window drains, so a daemon that dies on
// startup cannot spin the host.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/daemon"
)

// Child is a spawned monitor process.
type Child interface {
	PID() int
	// Alive reports whether the process is still running.
	Alive() bool
	// Terminate asks the process to exit (SIGTERM).
	Terminate() error
	// Kill forces the process down (SIGKILL).
	Kill() error
}

// ErrAlreadySupervised reports a live supervisor found during startup.
type ErrAlreadySupervised struct {
	PID int
}

func (e ErrAlreadySupervised) Error() string {
	return fmt.Sprintf("supervisor already running (pid %d)", e.PID)
}

// Supervisor restarts the monitor daemon until told to stop.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger
	pid    *daemon.PIDFile

	// spawn starts one monitor child. Replaced in tests.
	spawn func() (Child, error)
	// pollInterval bounds how fast a dead or silent child is noticed.
	pollInterval time.Duration

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// New builds a supervisor that runs `binary args...` as the monitor child.
func New(cfg *config.Config, logger *slog.Logger, binary string, args []string) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cfg:          cfg,
		logger:       logger.With("component", "supervisor"),
		pid:          daemon.NewPIDFile(cfg.SupervisorPidPath(), cfg.Daemon.ProcessMarkers),
		pollInterval: time.Second,
		now:          time.Now,
		wait:         sleepCtx,
	}
	s.spawn = func() (Child, error) { return spawnProcess(binary, args) }
	return s
}

// reasonStopRequested marks a child run ended by the graceful stop marker.
const reasonStopRequested = "stop requested"

// Run loops until the context is cancelled or the graceful stop marker
// appears. Each iteration spawns the monitor, watches it until it dies or
// its heartbeat goes stale, then backs off before the next start.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.cfg.EnsureBaseDir(); err != nil {
		return err
	}
	if pid := s.pid.Running(); pid != 0 {
		return ErrAlreadySupervised{PID: pid}
	}
	if err := s.pid.Write(os.Getpid()); err != nil {
		return err
	}
	defer s.pid.Remove()

	s.logger.Info("supervisor started", "pid", os.Getpid())

	backoff := s.cfg.Supervisor.BackoffBase()
	var failures []time.Time

	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.stopRequested() {
			s.logger.Info("stop marker found, shutting down")
			os.Remove(s.cfg.StopMarkerPath())
			return nil
		}

		started := s.now()
		reason, err := s.runChildOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil && reason == reasonStopRequested {
			s.logger.Info("stop marker found, shutting down")
			os.Remove(s.cfg.StopMarkerPath())
			return nil
		}
		if err != nil {
			s.logger.Error("starting monitor failed", "error", err)
		} else {
			s.logger.Warn("monitor needs restart", "reason", reason, "uptime", s.now().Sub(started).Round(time.Second))
		}

		// A run that outlived the failure window counts as a clean stretch.
		if err == nil && s.now().Sub(started) >= s.cfg.Supervisor.FailureWindow() {
			failures = nil
			backoff = s.cfg.Supervisor.BackoffBase()
		}

		now := s.now()
		failures = append(failures, now)
		failures = pruneWindow(failures, now, s.cfg.Supervisor.FailureWindow())

		if len(failures) >= s.cfg.Supervisor.MaxFailures {
			pause := failures[0].Add(s.cfg.Supervisor.FailureWindow()).Sub(now)
			s.logger.Error("monitor failing repeatedly, pausing restarts",
				"failures", len(failures),
				"pause", pause.Round(time.Second))
			if err := s.wait(ctx, pause); err != nil {
				return nil
			}
			failures = nil
			backoff = s.cfg.Supervisor.BackoffBase()
			continue
		}

		if err := s.wait(ctx, backoff); err != nil {
			return nil
		}
		backoff *= 2
		if limit := s.cfg.Supervisor.BackoffCap(); backoff > limit {
			backoff = limit
		}
	}
}

// runChildOnce spawns one child and blocks until it needs a restart. The
// returned reason is only meaningful when err is nil.
func (s *Supervisor) runChildOnce(ctx context.Context) (string, error) {
	child, err := s.spawn()
	if err != nil {
		return "", err
	}
	s.logger.Info("monitor spawned", "child_pid", child.PID())

	started := s.now()
	timeout := s.cfg.Supervisor.HeartbeatTimeout()
	for {
		if err := s.wait(ctx, s.pollInterval); err != nil {
			// Shutdown: take the child down with us.
			s.stopChild(child)
			return "shutdown", nil
		}

		if s.stopRequested() {
			s.stopChild(child)
			return reasonStopRequested, nil
		}

		if !child.Alive() {
			return "exited", nil
		}

		// A heartbeat older than the child is a leftover from a previous
		// run. Until the child's first touch it gets the full timeout from
		// spawn; a missing heartbeat counts against that same budget.
		uptime := s.now().Sub(started)
		stale := false
		if age, ok := s.heartbeatAge(); ok && age <= uptime {
			stale = age > timeout
		} else {
			stale = uptime > timeout
		}
		if stale {
			s.logger.Warn("heartbeat stale, replacing monitor",
				"uptime", uptime.Round(time.Second), "timeout", timeout)
			s.stopChild(child)
			return "heartbeat stale", nil
		}
	}
}

// stopRequested reports whether the graceful stop marker exists.
func (s *Supervisor) stopRequested() bool {
	_, err := os.Stat(s.cfg.StopMarkerPath())
	return err == nil
}

// heartbeatAge measures against the supervisor clock so tests can drive it.
func (s *Supervisor) heartbeatAge() (time.Duration, bool) {
	info, err := os.Stat(s.cfg.HeartbeatPath())
	if err != nil {
		return 0, false
	}
	return s.now().Sub(info.ModTime()), true
}

// stopChild escalates SIGTERM to SIGKILL.
func (s *Supervisor) stopChild(child Child) {
	if !child.Alive() {
		return
	}
	if err := child.Terminate(); err != nil {
		s.logger.Warn("terminating monitor failed", "error", err)
	}
	deadline := s.now().Add(time.Duration(s.cfg.Daemon.GracefulStopTimeoutSeconds) * time.Second)
	for child.Alive() && s.now().Before(deadline) {
		if err := s.wait(context.Background(), 100*time.Millisecond); err != nil {
			break
		}
	}
	if child.Alive() {
		child.Kill()
	}
}

// IsRunning reports the supervisor PID when one is alive.
func IsRunning(cfg *config.Config) int {
	return daemon.NewPIDFile(cfg.SupervisorPidPath(), cfg.Daemon.ProcessMarkers).Running()
}

func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// osChild wraps a real monitor process.
type osChild struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// spawnProcess starts the monitor in its own process group so a supervisor
// SIGINT does not tear the child down out from under us.
func spawnProcess(binary string, args []string) (Child, error) {
	cmd := exec.Command(binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting monitor %s: %w", binary, err)
	}

	c := &osChild{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

func (c *osChild) PID() int { return c.cmd.Process.Pid }

func (c *osChild) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *osChild) Terminate() error {
	return c.cmd.Process.Signal(syscall.SIGTERM)
}

func (c *osChild) Kill() error {
	return c.cmd.Process.Kill()
}
