// Package health classifies each agent pane once per monitoring cycle. The
// checker takes several snapshots in quick succession, decides among the
// lifecycle states and carries the per-target bookkeeping (idle cache,
// submission attempts, notification cooldowns) across cycles.
package health

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/detector"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/discovery"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/notify"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/tmux"
)

// Status is the per-cycle classification of one agent pane.
type Status string

const (
	StatusFresh            Status = "fresh"             // interface up, never briefed
	StatusMessageQueued    Status = "message_queued"    // typed but unsubmitted input
	StatusActive           Status = "active"            // producing output or busy marker
	StatusNewlyIdle        Status = "newly_idle"        // just went quiet
	StatusContinuouslyIdle Status = "continuously_idle" // quiet across cycles
	StatusCrashed          Status = "crashed"           // worker process gone, shell prompt visible
	StatusError            Status = "error"             // interface gone, no prompt either
	StatusUnknown          Status = "unknown"
)

// Result is the outcome of checking one agent.
type Result struct {
	Agent   discovery.AgentInfo
	Status  Status
	Detail  string
	Err     error
	Content string // last snapshot, for downstream crash handling
}

// Notifier receives classification events.
type Notifier interface {
	Queue(notify.Event) bool
}

// agentState is the cross-cycle bookkeeping for one target.
type agentState struct {
	cache              *detector.TerminalCache
	lastStatus         Status
	submissionAttempts int
	lastSubmission     time.Time
	lastIdleNotify     time.Time
	lastFreshNotify    time.Time
}

// Checker runs the per-agent classification.
type Checker struct {
	client  tmux.Client
	cfg     config.MonitorConfig
	idle    *detector.IdleDetector
	crash   detector.Classifier
	notify  Notifier
	logger  *slog.Logger
	maxDist int

	// mu guards states, the crash detector's observation log and the
	// notifier queue; the concurrent strategy runs CheckAgent in parallel
	// and only the snapshot capture is safe without it.
	mu     sync.Mutex
	states map[string]*agentState

	now   func() time.Time
	sleep func(time.Duration)
}

// NewChecker builds a health checker. The detector tables come from dcfg;
// the cadence and cooldowns from mcfg.
func NewChecker(client tmux.Client, mcfg config.MonitorConfig, dcfg config.DetectorConfig, crash detector.Classifier, notifier Notifier, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		client:  client,
		cfg:     mcfg,
		idle:    detector.NewIdleDetector(dcfg),
		crash:   crash,
		notify:  notifier,
		logger:  logger.With("component", "health"),
		maxDist: dcfg.MaxEditDistance,
		states:  make(map[string]*agentState),
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// CheckAgent classifies one agent this cycle.
func (c *Checker) CheckAgent(agent discovery.AgentInfo) Result {
	target := agent.Target

	snapshots, err := c.takeSnapshots(target)

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(target)

	if err != nil {
		st.lastStatus = StatusError
		return Result{Agent: agent, Status: StatusError, Err: fmt.Errorf("capturing %s: %w", target, err)}
	}
	content := snapshots[len(snapshots)-1]
	res := Result{Agent: agent, Content: content}

	switch {
	case c.idle.IsBusy(content):
		// Compaction and thinking render static text while working.
		res.Status = StatusActive
		res.Detail = "busy marker"
		c.markActive(st, target)

	case c.idle.SnapshotsActive(snapshots):
		res.Status = StatusActive
		res.Detail = "output changing"
		c.markActive(st, target)

	case !c.idle.HasInterface(content):
		res = c.classifyNoInterface(agent, content, res, st)

	case c.idle.IsFresh(content):
		res.Status = StatusFresh
		res.Detail = "awaiting briefing"
		c.notifyFresh(agent, st)

	case c.idle.HasQueuedMessage(content):
		res.Status = StatusMessageQueued
		res.Detail = c.autoSubmit(target, st)

	default:
		res = c.classifyIdle(agent, content, res, st)
	}

	st.lastStatus = res.Status
	return res
}

// takeSnapshots captures the pane several times with a short spacing so a
// working agent shows a diff even between polling cycles.
func (c *Checker) takeSnapshots(target string) ([]string, error) {
	count := c.cfg.SnapshotCount
	if count < 2 {
		count = 2
	}
	snapshots := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 {
			c.sleep(c.cfg.SnapshotSpacing())
		}
		content, err := c.client.CapturePane(target, c.cfg.CaptureLines)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, content)
	}
	return snapshots, nil
}

// classifyNoInterface handles panes where the worker interface is gone: a
// trailing shell prompt or confirmed crash evidence means CRASHED, anything
// else is an ERROR worth reporting but not yet recovering from.
func (c *Checker) classifyNoInterface(agent discovery.AgentInfo, content string, res Result, st *agentState) Result {
	switch c.crash.Detect(agent.Target, content) {
	case detector.CrashConfirmed:
		res.Status = StatusCrashed
		res.Detail = "worker exited"
		if st.lastStatus != StatusCrashed {
			c.notify.Queue(notify.Event{
				Type:    notify.EventAgentCrashed,
				Target:  agent.Target,
				Session: agent.Session,
				Message: fmt.Sprintf("%s worker exited, shell prompt visible", agent.Type),
			})
		}
	case detector.CrashSuspected:
		// Evidence seen but not yet confirmed across observations. Stay quiet.
		res.Status = StatusError
		res.Detail = "crash suspected, awaiting confirmation"
	default:
		res.Status = StatusError
		res.Detail = "interface not rendered"
	}
	return res
}

// classifyIdle runs the two-slot cache. An unknown cache (first idle sighting
// after activity) is treated as newly idle.
func (c *Checker) classifyIdle(agent discovery.AgentInfo, content string, res Result, st *agentState) Result {
	if st.cache == nil {
		st.cache = detector.NewTerminalCache(c.maxDist)
	}
	st.cache.Update(content)

	switch st.cache.Status() {
	case detector.StatusContinuouslyIdle:
		res.Status = StatusContinuouslyIdle
		res.Detail = "no output across cycles"
		if c.now().Sub(st.lastIdleNotify) >= c.cfg.IdleCooldown() {
			st.lastIdleNotify = c.now()
			c.notify.Queue(notify.Event{
				Type:    notify.EventAgentIdle,
				Target:  agent.Target,
				Session: agent.Session,
				Message: fmt.Sprintf("%s idle across cycles, may need direction", agent.Type),
			})
		}
	default:
		// Unknown means one observation so far; both it and a genuine slot
		// mismatch are the start of an idle episode.
		res.Status = StatusNewlyIdle
		res.Detail = "just went quiet"
		st.lastIdleNotify = c.now()
		c.notify.Queue(notify.Event{
			Type:    notify.EventAgentIdle,
			Target:  agent.Target,
			Session: agent.Session,
			Message: fmt.Sprintf("%s just went idle", agent.Type),
		})
	}
	return res
}

// markActive resets the idle bookkeeping so the next quiet spell starts a
// fresh episode.
func (c *Checker) markActive(st *agentState, target string) {
	st.cache = nil
	st.submissionAttempts = 0
	c.crash.ResetTarget(target)
}

// notifyFresh queues a needs-briefing event, bounded by its own cooldown.
func (c *Checker) notifyFresh(agent discovery.AgentInfo, st *agentState) {
	if c.now().Sub(st.lastFreshNotify) < c.cfg.FreshCooldown() {
		return
	}
	st.lastFreshNotify = c.now()
	c.notify.Queue(notify.Event{
		Type:    notify.EventAgentFresh,
		Target:  agent.Target,
		Session: agent.Session,
		Message: fmt.Sprintf("%s started but never briefed", agent.Type),
	})
}

// autoSubmit tries to submit a stuck queued message, bounded per target so a
// broken input box cannot be hammered forever. Successive attempts rotate
// through distinct key sequences in case one form is being swallowed by the
// agent's input handling. Returns a detail string.
func (c *Checker) autoSubmit(target string, st *agentState) string {
	if st.submissionAttempts >= c.cfg.MaxSubmissionAttempts {
		return fmt.Sprintf("queued message stuck after %d submissions", st.submissionAttempts)
	}
	if c.now().Sub(st.lastSubmission) < c.cfg.SubmissionCooldown() {
		return "queued message, submission cooling down"
	}

	st.submissionAttempts++
	st.lastSubmission = c.now()
	if err := c.submitKeys(target, st.submissionAttempts); err != nil {
		c.logger.Warn("auto-submit failed", "target", target, "error", err)
		return "queued message, submission failed"
	}
	c.logger.Info("auto-submitted queued message", "target", target, "attempt", st.submissionAttempts)
	return fmt.Sprintf("auto-submitted (attempt %d)", st.submissionAttempts)
}

func (c *Checker) submitKeys(target string, attempt int) error {
	switch attempt % 3 {
	case 1:
		return c.client.PressEnter(target)
	case 2:
		return c.client.SendKeys(target, "\n")
	default:
		return c.client.SendKeys(target, "\r")
	}
}

// Forget drops the cross-cycle state for a target, e.g. after its window was
// replaced during recovery.
func (c *Checker) Forget(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, target)
	c.crash.ResetTarget(target)
}

func (c *Checker) state(target string) *agentState {
	st, ok := c.states[target]
	if !ok {
		st = &agentState{}
		c.states[target] = st
	}
	return st
}
