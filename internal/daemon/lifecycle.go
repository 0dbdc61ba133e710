package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/util"
)

// ErrAlreadyRunning reports a live daemon found during startup.
type ErrAlreadyRunning struct {
	PID int
}

func (e ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("monitor daemon already running (pid %d)", e.PID)
}

// Lifecycle owns the singleton guarantees: at most one daemon per base
// directory, PID files that survive crashes, and an orderly stop path that
// escalates from a graceful marker to signals.
type Lifecycle struct {
	cfg    *config.Config
	logger *slog.Logger
	pid    *PIDFile

	sleep func(time.Duration)
}

func NewLifecycle(cfg *config.Config, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		cfg:    cfg,
		logger: logger.With("component", "lifecycle"),
		pid:    NewPIDFile(cfg.PidPath(), cfg.Daemon.ProcessMarkers),
		sleep:  time.Sleep,
	}
}

// PID exposes the daemon PID file.
func (l *Lifecycle) PID() *PIDFile { return l.pid }

// Acquire makes this process the singleton daemon. Two daemons started in
// the same instant race for a file lock; the loser sees the winner's PID
// file and backs off. The lock guards only startup, not the whole run, so a
// crashed daemon never wedges the lock.
func (l *Lifecycle) Acquire() error {
	if err := l.cfg.EnsureBaseDir(); err != nil {
		return err
	}

	lock := flock.New(l.cfg.LockPath())
	acquired := false
	for attempt := 0; attempt <= l.cfg.Daemon.StartupLockRetries; attempt++ {
		got, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("startup lock: %w", err)
		}
		if got {
			acquired = true
			break
		}
		// Another starter holds the lock; back off and re-check.
		l.sleep(time.Duration(1<<attempt) * 100 * time.Millisecond)
	}
	if !acquired {
		return fmt.Errorf("startup lock at %s held too long, giving up", l.cfg.LockPath())
	}
	defer lock.Unlock()

	if pid := l.pid.Running(); pid != 0 {
		return ErrAlreadyRunning{PID: pid}
	}

	// Leftover stop marker from a previous shutdown must not kill us
	// immediately.
	os.Remove(l.cfg.StopMarkerPath())

	if err := l.pid.Write(os.Getpid()); err != nil {
		return err
	}

	// The gap between Running() and Write() is covered by the lock, but a
	// paranoid re-read is cheap relative to running two daemons.
	if pid := l.pid.Running(); pid != os.Getpid() {
		l.pid.Remove()
		return ErrAlreadyRunning{PID: pid}
	}

	l.logger.Info("singleton acquired", "pid", os.Getpid(), "pid_file", l.pid.Path())
	return nil
}

// Release removes this process's PID file.
func (l *Lifecycle) Release() {
	if err := l.pid.Remove(); err != nil {
		l.logger.Warn("removing pid file failed", "error", err)
	}
}

// Stop shuts down the running daemon: first a graceful stop marker the run
// loop polls for, then SIGTERM, then SIGKILL. Reports whether a daemon was
// actually running.
func (l *Lifecycle) Stop() (bool, error) {
	pid := l.pid.Running()
	if pid == 0 {
		return false, nil
	}

	timeout := time.Duration(l.cfg.Daemon.GracefulStopTimeoutSeconds) * time.Second

	if err := os.WriteFile(l.cfg.StopMarkerPath(), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err == nil {
		if l.waitExit(pid, timeout) {
			l.cleanupAfterStop()
			return true, nil
		}
	} else {
		l.logger.Warn("writing stop marker failed", "error", err)
	}

	l.logger.Info("graceful stop timed out, sending SIGTERM", "pid", pid)
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return true, fmt.Errorf("SIGTERM pid %d: %w", pid, err)
	}
	if l.waitExit(pid, timeout) {
		l.cleanupAfterStop()
		return true, nil
	}

	l.logger.Warn("daemon ignored SIGTERM, sending SIGKILL", "pid", pid)
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return true, fmt.Errorf("SIGKILL pid %d: %w", pid, err)
	}
	l.waitExit(pid, timeout)
	l.cleanupAfterStop()
	return true, nil
}

func (l *Lifecycle) waitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		l.sleep(100 * time.Millisecond)
	}
	return !processAlive(pid)
}

func (l *Lifecycle) cleanupAfterStop() {
	l.pid.Remove()
	os.Remove(l.cfg.StopMarkerPath())
}

// TouchHeartbeat stamps the liveness file the supervisor watches. The write
// is atomic so the supervisor never reads a half-written stamp.
func (l *Lifecycle) TouchHeartbeat() error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	return util.AtomicWriteFile(l.cfg.HeartbeatPath(), []byte(stamp+"\n"), 0o644)
}

// HeartbeatAge returns the age of the last heartbeat. Missing or unreadable
// heartbeats report ok=false.
func (l *Lifecycle) HeartbeatAge() (time.Duration, bool) {
	return HeartbeatAge(l.cfg.HeartbeatPath())
}

// HeartbeatAge reads a heartbeat file and returns its age.
func HeartbeatAge(path string) (time.Duration, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}
