package supervisor

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
)

type fakeChild struct {
	alive      bool
	terminated bool
	killed     bool
}

func (c *fakeChild) PID() int    { return 4242 }
func (c *fakeChild) Alive() bool { return c.alive }
func (c *fakeChild) Terminate() error {
	c.terminated = true
	c.alive = false
	return nil
}
func (c *fakeChild) Kill() error {
	c.killed = true
	c.alive = false
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.Daemon.ProcessMarkers = nil
	if err := cfg.EnsureBaseDir(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

// newTestSupervisor wires a fake clock: wait() advances the clock instead of
// sleeping, so backoff schedules can be asserted exactly. The poll interval
// is shrunk so poll waits never collide with backoff durations.
func newTestSupervisor(t *testing.T, cfg *config.Config) (*Supervisor, *time.Time, *[]time.Duration) {
	t.Helper()
	s := New(cfg, nil, "/bin/false", nil)
	s.pollInterval = 10 * time.Millisecond

	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var waits []time.Duration
	s.now = func() time.Time { return clock }
	s.wait = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock = clock.Add(d)
		waits = append(waits, d)
		return nil
	}
	return s, &clock, &waits
}

// touchHeartbeat stamps the heartbeat file with an explicit mtime.
func touchHeartbeat(t *testing.T, cfg *config.Config, at time.Time) {
	t.Helper()
	if err := os.WriteFile(cfg.HeartbeatPath(), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(cfg.HeartbeatPath(), at, at); err != nil {
		t.Fatal(err)
	}
}

func TestRunRestartsWithBackoff(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.MaxFailures = 100 // keep the pause logic out of this test
	s, _, waits := newTestSupervisor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	spawns := 0
	s.spawn = func() (Child, error) {
		spawns++
		if spawns == 4 {
			cancel()
		}
		// Child that exits immediately.
		return &fakeChild{alive: false}, nil
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if spawns != 4 {
		t.Fatalf("spawns = %d, want 4", spawns)
	}

	// Backoff between restarts doubles from the base: 1s, 2s, 4s.
	var backoffs []time.Duration
	for _, d := range *waits {
		if d != s.pollInterval {
			backoffs = append(backoffs, d)
		}
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(backoffs) < len(want) {
		t.Fatalf("backoffs = %v, want at least %v", backoffs, want)
	}
	for i, w := range want {
		if backoffs[i] != w {
			t.Errorf("backoff %d = %v, want %v", i, backoffs[i], w)
		}
	}
}

func TestRunBackoffCapped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.MaxFailures = 100
	cfg.Supervisor.BackoffCapSeconds = 8
	s, _, waits := newTestSupervisor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	spawns := 0
	s.spawn = func() (Child, error) {
		spawns++
		if spawns == 8 {
			cancel()
		}
		return &fakeChild{alive: false}, nil
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, d := range *waits {
		if d != s.pollInterval && d > 8*time.Second {
			t.Errorf("backoff %v exceeds the cap", d)
		}
	}
}

func TestRunPausesAfterRepeatedFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.MaxFailures = 3
	s, _, waits := newTestSupervisor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	spawns := 0
	s.spawn = func() (Child, error) {
		spawns++
		if spawns == 4 {
			cancel()
		}
		return &fakeChild{alive: false}, nil
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The third failure inside the window triggers a long pause instead of
	// another quick backoff.
	var longest time.Duration
	for _, d := range *waits {
		if d > longest {
			longest = d
		}
	}
	if longest < time.Minute {
		t.Errorf("longest wait = %v, want a multi-minute pause after repeated failures", longest)
	}
	if longest >= cfg.Supervisor.FailureWindow() {
		t.Errorf("pause %v is not bounded by the failure window %v", longest, cfg.Supervisor.FailureWindow())
	}
}

func TestRunChildOnceHeartbeatStale(t *testing.T) {
	cfg := testConfig(t)
	s, clock, _ := newTestSupervisor(t, cfg)

	child := &fakeChild{alive: true}
	s.spawn = func() (Child, error) { return child, nil }

	// Heartbeat touched once at spawn time and never again.
	touchHeartbeat(t, cfg, *clock)

	reason, err := s.runChildOnce(context.Background())
	if err != nil {
		t.Fatalf("runChildOnce: %v", err)
	}
	if reason != "heartbeat stale" {
		t.Fatalf("reason = %q, want heartbeat stale", reason)
	}
	if !child.terminated {
		t.Error("stale child was not terminated")
	}
}

func TestRunChildOnceIgnoresLeftoverHeartbeat(t *testing.T) {
	cfg := testConfig(t)
	s, clock, _ := newTestSupervisor(t, cfg)

	child := &fakeChild{alive: true}
	s.spawn = func() (Child, error) { return child, nil }

	// Heartbeat left behind by a previous daemon, far past the timeout.
	touchHeartbeat(t, cfg, clock.Add(-5*time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	base := s.wait
	s.wait = func(c context.Context, d time.Duration) error {
		polls++
		if polls > 50 {
			cancel()
		}
		if err := base(c, d); err != nil {
			return err
		}
		// The fresh child heartbeats each cycle.
		touchHeartbeat(t, cfg, *clock)
		return nil
	}

	reason, err := s.runChildOnce(ctx)
	if err != nil {
		t.Fatalf("runChildOnce: %v", err)
	}
	if reason != "shutdown" {
		t.Fatalf("reason = %q, want shutdown (leftover heartbeat must not kill a fresh child)", reason)
	}
	if polls < 10 {
		t.Errorf("child watched for %d polls, want a full run until cancel", polls)
	}
}

func TestRunChildOnceNoHeartbeatEverIsStale(t *testing.T) {
	cfg := testConfig(t)
	s, clock, _ := newTestSupervisor(t, cfg)
	start := *clock

	child := &fakeChild{alive: true}
	s.spawn = func() (Child, error) { return child, nil }

	reason, err := s.runChildOnce(context.Background())
	if err != nil {
		t.Fatalf("runChildOnce: %v", err)
	}
	if reason != "heartbeat stale" {
		t.Fatalf("reason = %q, want heartbeat stale", reason)
	}
	if elapsed := clock.Sub(start); elapsed <= cfg.Supervisor.HeartbeatTimeout() {
		t.Errorf("child replaced after %v, want the full timeout from spawn first", elapsed)
	}
	if !child.terminated {
		t.Error("silent child was not terminated")
	}
}

func TestRunHonorsStopMarkerBeforeSpawn(t *testing.T) {
	cfg := testConfig(t)
	s, _, _ := newTestSupervisor(t, cfg)

	spawns := 0
	s.spawn = func() (Child, error) {
		spawns++
		return &fakeChild{alive: true}, nil
	}
	if err := os.WriteFile(cfg.StopMarkerPath(), []byte("stop\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if spawns != 0 {
		t.Errorf("spawns = %d, want 0", spawns)
	}
	if _, err := os.Stat(cfg.StopMarkerPath()); !os.IsNotExist(err) {
		t.Error("stop marker was not cleaned up")
	}
}

func TestRunHonorsStopMarkerWhileWatching(t *testing.T) {
	cfg := testConfig(t)
	s, _, _ := newTestSupervisor(t, cfg)

	child := &fakeChild{alive: true}
	s.spawn = func() (Child, error) { return child, nil }

	polls := 0
	base := s.wait
	s.wait = func(ctx context.Context, d time.Duration) error {
		polls++
		if polls == 3 {
			if err := os.WriteFile(cfg.StopMarkerPath(), []byte("stop\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		return base(ctx, d)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !child.terminated {
		t.Error("child left running after stop marker")
	}
	if _, err := os.Stat(cfg.StopMarkerPath()); !os.IsNotExist(err) {
		t.Error("stop marker was not cleaned up")
	}
}

func TestRunChildOnceChildExit(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, nil, "/bin/false", nil)
	s.wait = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	s.spawn = func() (Child, error) { return &fakeChild{alive: false}, nil }

	reason, err := s.runChildOnce(context.Background())
	if err != nil {
		t.Fatalf("runChildOnce: %v", err)
	}
	if reason != "exited" {
		t.Fatalf("reason = %q, want exited", reason)
	}
}

func TestRunRefusesSecondSupervisor(t *testing.T) {
	cfg := testConfig(t)
	s, _, _ := newTestSupervisor(t, cfg)

	if err := s.pid.Write(os.Getpid()); err != nil {
		t.Fatal(err)
	}
	defer s.pid.Remove()

	err := s.Run(context.Background())
	var already ErrAlreadySupervised
	if !errors.As(err, &already) {
		t.Fatalf("Run err = %v, want ErrAlreadySupervised", err)
	}
	if already.PID != os.Getpid() {
		t.Errorf("reported pid = %d, want %d", already.PID, os.Getpid())
	}
}
