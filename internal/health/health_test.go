package health

import (
	"strings"
	"testing"
	"time"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/detector"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/discovery"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/notify"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/tmux"
)

type recordingNotifier struct {
	events []notify.Event
}

func (r *recordingNotifier) Queue(ev notify.Event) bool {
	r.events = append(r.events, ev)
	return true
}

func (r *recordingNotifier) countType(t notify.EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

const (
	idlePane   = "╭──────────────╮\n│ > │\n╰──────────────╯\n? for shortcuts"
	busyPane   = idlePane + "\nCompacting conversation… (press esc to interrupt)"
	freshPane  = "Welcome to Claude Code!\n/help for help\n╭──────────────╮\n│ > │\n╰──────────────╯"
	queuedPane = "╭──────────────╮\n│ > fix the login redirect bug │\n╰──────────────╯\n? for shortcuts"
	crashPane  = "some earlier output\nbash-5.1$ "
	deadPane   = "connection closed by remote host"
)

var testAgent = discovery.AgentInfo{
	Target:  "proj:2",
	Session: "proj",
	Window:  2,
	Name:    "developer",
	Type:    discovery.RoleDeveloper,
}

func newTestChecker(t *testing.T) (*Checker, *tmux.Fake, *recordingNotifier, *time.Time) {
	t.Helper()
	fake := tmux.NewFake()
	cfg := config.Default()
	crash := detector.NewCrashDetector(cfg.Detector)
	notifier := &recordingNotifier{}
	c := NewChecker(fake, cfg.Monitor, cfg.Detector, crash, notifier, nil)

	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	c.sleep = func(time.Duration) {}
	return c, fake, notifier, &clock
}

func TestBusyMarkerForcesActive(t *testing.T) {
	c, fake, notifier, _ := newTestChecker(t)
	fake.Content[testAgent.Target] = busyPane

	res := c.CheckAgent(testAgent)
	if res.Status != StatusActive {
		t.Fatalf("Status = %s, want %s (detail %q)", res.Status, StatusActive, res.Detail)
	}
	if len(notifier.events) != 0 {
		t.Errorf("busy agent produced events: %+v", notifier.events)
	}
}

func TestChangingOutputIsActive(t *testing.T) {
	c, fake, notifier, _ := newTestChecker(t)
	fake.ContentSeq[testAgent.Target] = []string{
		idlePane + "\ncompiling module one",
		idlePane + "\ncompiling module two",
		idlePane + "\ncompiling module six",
		idlePane + "\ncompiling module ten",
	}

	res := c.CheckAgent(testAgent)
	if res.Status != StatusActive {
		t.Fatalf("Status = %s, want %s", res.Status, StatusActive)
	}
	if len(notifier.events) != 0 {
		t.Errorf("active agent produced events: %+v", notifier.events)
	}
}

func TestIdleEpisodeNotifications(t *testing.T) {
	c, fake, notifier, clock := newTestChecker(t)
	fake.Content[testAgent.Target] = idlePane

	// First quiet cycle: newly idle, one event.
	res := c.CheckAgent(testAgent)
	if res.Status != StatusNewlyIdle {
		t.Fatalf("first cycle Status = %s, want %s", res.Status, StatusNewlyIdle)
	}
	if got := notifier.countType(notify.EventAgentIdle); got != 1 {
		t.Fatalf("idle events after first cycle = %d, want 1", got)
	}

	// Second quiet cycle: continuously idle, cooldown suppresses the event.
	*clock = clock.Add(10 * time.Second)
	res = c.CheckAgent(testAgent)
	if res.Status != StatusContinuouslyIdle {
		t.Fatalf("second cycle Status = %s, want %s", res.Status, StatusContinuouslyIdle)
	}
	if got := notifier.countType(notify.EventAgentIdle); got != 1 {
		t.Errorf("idle events inside cooldown = %d, want 1", got)
	}

	// Past the cooldown the reminder fires again.
	*clock = clock.Add(6 * time.Minute)
	c.CheckAgent(testAgent)
	if got := notifier.countType(notify.EventAgentIdle); got != 2 {
		t.Errorf("idle events after cooldown = %d, want 2", got)
	}
}

func TestActivityResetsIdleEpisode(t *testing.T) {
	c, fake, notifier, clock := newTestChecker(t)

	fake.Content[testAgent.Target] = idlePane
	c.CheckAgent(testAgent)
	*clock = clock.Add(10 * time.Second)
	if res := c.CheckAgent(testAgent); res.Status != StatusContinuouslyIdle {
		t.Fatalf("Status = %s, want %s", res.Status, StatusContinuouslyIdle)
	}

	// A burst of output discards the cache.
	fake.ContentSeq[testAgent.Target] = []string{
		idlePane + "\nediting main.go",
		idlePane + "\nediting main.go, done",
		idlePane + "\nrunning tests",
		idlePane + "\nrunning tests..",
	}
	*clock = clock.Add(10 * time.Second)
	if res := c.CheckAgent(testAgent); res.Status != StatusActive {
		t.Fatalf("Status = %s, want %s", res.Status, StatusActive)
	}

	// The next quiet spell starts a fresh episode: newly idle again.
	*clock = clock.Add(10 * time.Second)
	res := c.CheckAgent(testAgent)
	if res.Status != StatusNewlyIdle {
		t.Fatalf("Status after reset = %s, want %s", res.Status, StatusNewlyIdle)
	}
	if got := notifier.countType(notify.EventAgentIdle); got != 2 {
		t.Errorf("idle events = %d, want 2 (one per episode)", got)
	}
}

func TestFreshAgentNotifiedWithCooldown(t *testing.T) {
	c, fake, notifier, clock := newTestChecker(t)
	fake.Content[testAgent.Target] = freshPane

	res := c.CheckAgent(testAgent)
	if res.Status != StatusFresh {
		t.Fatalf("Status = %s, want %s", res.Status, StatusFresh)
	}
	if got := notifier.countType(notify.EventAgentFresh); got != 1 {
		t.Fatalf("fresh events = %d, want 1", got)
	}

	*clock = clock.Add(10 * time.Second)
	c.CheckAgent(testAgent)
	if got := notifier.countType(notify.EventAgentFresh); got != 1 {
		t.Errorf("fresh events inside cooldown = %d, want 1", got)
	}

	*clock = clock.Add(11 * time.Minute)
	c.CheckAgent(testAgent)
	if got := notifier.countType(notify.EventAgentFresh); got != 2 {
		t.Errorf("fresh events after cooldown = %d, want 2", got)
	}
}

// countSubmits counts submission keypresses sent to a target, regardless of
// which key sequence the rotation picked.
func countSubmits(fake *tmux.Fake, target string) int {
	n := 0
	for _, ev := range fake.SentKeys {
		if ev.Target != target {
			continue
		}
		switch ev.Keys {
		case "C-m", "\n", "\r":
			n++
		}
	}
	return n
}

func TestQueuedMessageAutoSubmit(t *testing.T) {
	c, fake, _, clock := newTestChecker(t)
	fake.Content[testAgent.Target] = queuedPane

	res := c.CheckAgent(testAgent)
	if res.Status != StatusMessageQueued {
		t.Fatalf("Status = %s, want %s", res.Status, StatusMessageQueued)
	}
	if got := countSubmits(fake, testAgent.Target); got != 1 {
		t.Fatalf("enters after first check = %d, want 1", got)
	}

	// Inside the submission cooldown nothing is pressed.
	*clock = clock.Add(5 * time.Second)
	c.CheckAgent(testAgent)
	if got := countSubmits(fake, testAgent.Target); got != 1 {
		t.Errorf("enters inside cooldown = %d, want 1", got)
	}

	// The attempt cap holds no matter how long the message stays stuck.
	for i := 0; i < 20; i++ {
		*clock = clock.Add(11 * time.Second)
		c.CheckAgent(testAgent)
	}
	max := config.Default().Monitor.MaxSubmissionAttempts
	if got := countSubmits(fake, testAgent.Target); got != max {
		t.Errorf("enters after many cycles = %d, want cap %d", got, max)
	}

	// Attempts rotate through distinct key sequences.
	var keys []string
	for _, ev := range fake.SentKeys {
		if ev.Target == testAgent.Target {
			keys = append(keys, ev.Keys)
		}
	}
	want := []string{"C-m", "\n", "\r", "C-m", "\n"}
	if len(keys) != len(want) {
		t.Fatalf("submit keys = %q", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("submit key %d = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestFreshAgentNeverAutoSubmitted(t *testing.T) {
	c, fake, _, _ := newTestChecker(t)
	// Fresh interface with text sitting in the input box.
	fake.Content[testAgent.Target] = "Welcome to Claude Code!\n╭──────────────╮\n│ > hello there │\n╰──────────────╯"

	res := c.CheckAgent(testAgent)
	if res.Status != StatusFresh {
		t.Fatalf("Status = %s, want %s", res.Status, StatusFresh)
	}
	if got := countSubmits(fake, testAgent.Target); got != 0 {
		t.Errorf("fresh agent received %d enters, want 0", got)
	}
}

func TestCrashedAgent(t *testing.T) {
	c, fake, notifier, _ := newTestChecker(t)
	fake.Content[testAgent.Target] = crashPane

	res := c.CheckAgent(testAgent)
	if res.Status != StatusCrashed {
		t.Fatalf("Status = %s, want %s", res.Status, StatusCrashed)
	}
	if got := notifier.countType(notify.EventAgentCrashed); got != 1 {
		t.Fatalf("crash events = %d, want 1", got)
	}

	// Still crashed next cycle, but no duplicate event.
	c.CheckAgent(testAgent)
	if got := notifier.countType(notify.EventAgentCrashed); got != 1 {
		t.Errorf("crash events after second cycle = %d, want 1", got)
	}
}

func TestMissingInterfaceWithoutPromptIsError(t *testing.T) {
	c, fake, notifier, _ := newTestChecker(t)
	fake.Content[testAgent.Target] = deadPane

	res := c.CheckAgent(testAgent)
	if res.Status != StatusError {
		t.Fatalf("Status = %s, want %s", res.Status, StatusError)
	}
	if len(notifier.events) != 0 {
		t.Errorf("error state produced events: %+v", notifier.events)
	}
}

func TestCaptureFailureIsError(t *testing.T) {
	c, fake, _, _ := newTestChecker(t)
	fake.CaptureErr[testAgent.Target] = errCapture{}

	res := c.CheckAgent(testAgent)
	if res.Status != StatusError || res.Err == nil {
		t.Fatalf("Result = %+v, want error status with err", res)
	}
}

type errCapture struct{}

func (errCapture) Error() string { return "pane gone" }

func TestStrategies(t *testing.T) {
	agents := []discovery.AgentInfo{
		{Target: "a:1"}, {Target: "a:2"}, {Target: "b:1"}, {Target: "b:2"},
	}
	check := func(agent discovery.AgentInfo) Result {
		return Result{Agent: agent, Status: StatusActive}
	}

	for _, name := range []string{"polling", "concurrent"} {
		s, err := NewStrategy(name, 2)
		if err != nil {
			t.Fatalf("NewStrategy(%q): %v", name, err)
		}
		results := s.Run(agents, check)
		if len(results) != len(agents) {
			t.Fatalf("%s: %d results, want %d", name, len(results), len(agents))
		}
		for i, res := range results {
			if res.Agent.Target != agents[i].Target {
				t.Errorf("%s: result %d is %s, want %s (order must match input)", name, i, res.Agent.Target, agents[i].Target)
			}
		}
	}

	if _, err := NewStrategy("bogus", 1); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Errorf("NewStrategy(bogus) err = %v", err)
	}
}
