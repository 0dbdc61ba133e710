// Package notify collects monitoring events during a cycle and delivers at
// most one consolidated report per recipient when the cycle flushes. The
// recipient is always the session's project manager; grouping happens on the
// resolved PM target, never on the event source, so a noisy session still
// produces a single message.
package notify

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/tmux"
)

// EventType classifies a notification event.
type EventType string

const (
	EventAgentCrashed    EventType = "agent.crashed"
	EventAgentIdle       EventType = "agent.idle"
	EventAgentFresh      EventType = "agent.fresh"
	EventAgentMissing    EventType = "agent.missing"
	EventRecoverySuccess EventType = "recovery.success"
	EventRecoveryFailed  EventType = "recovery.failed"
	EventTeamNotice      EventType = "team.notice"
)

// Event is one observation worth telling the PM about.
type Event struct {
	ID        string
	Type      EventType
	Target    string // source agent target
	Session   string
	Message   string
	Timestamp time.Time
	Metadata  map[string]string
}

// PMResolver locates the recipient for a session's events: the session's PM,
// or the orchestrator when the session has none.
type PMResolver interface {
	FindPMTarget(session string) (string, error)
	FindOrchestrator() (string, error)
}

// BusyFunc reports whether a recipient pane is mid-task. Busy recipients do
// not get interrupted; their report is deferred to the next cycle.
type BusyFunc func(target string) bool

type cooldownKey struct {
	eventType EventType
	target    string
}

// Notifier batches events per cycle.
type Notifier struct {
	client   tmux.Client
	resolver PMResolver
	cfg      config.NotifyConfig
	logger   *slog.Logger
	busy     BusyFunc

	queue     []Event
	cooldowns map[EventType]time.Duration
	lastSent  map[cooldownKey]time.Time
	now       func() time.Time
}

// New creates a Notifier. busy may be nil, in which case recipients are
// always considered interruptible.
func New(client tmux.Client, resolver PMResolver, cfg config.NotifyConfig, logger *slog.Logger, busy BusyFunc) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		client:    client,
		resolver:  resolver,
		cfg:       cfg,
		logger:    logger.With("component", "notifier"),
		busy:      busy,
		cooldowns: make(map[EventType]time.Duration),
		lastSent:  make(map[cooldownKey]time.Time),
		now:       time.Now,
	}
	n.cooldowns[EventAgentCrashed] = cfg.CrashCooldown()
	return n
}

// SetCooldown bounds how often one event type may fire for the same source
// target. Zero removes the bound.
func (n *Notifier) SetCooldown(t EventType, d time.Duration) {
	if d <= 0 {
		delete(n.cooldowns, t)
		return
	}
	n.cooldowns[t] = d
}

// Queue records an event for this cycle's flush. Events inside their
// per-type per-target cooldown are dropped. Reports whether the event was
// accepted.
func (n *Notifier) Queue(ev Event) bool {
	if !n.cfg.Enabled {
		return false
	}

	if d, ok := n.cooldowns[ev.Type]; ok && d > 0 {
		key := cooldownKey{ev.Type, ev.Target}
		if last, seen := n.lastSent[key]; seen && n.now().Sub(last) < d {
			return false
		}
		n.lastSent[key] = n.now()
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = n.now()
	}
	n.queue = append(n.queue, ev)
	return true
}

// Pending returns the number of queued events.
func (n *Notifier) Pending() int { return len(n.queue) }

// Flush delivers one consolidated report per recipient and returns the
// number of messages sent. Events whose recipient is busy stay queued for
// the next cycle; events whose session has no PM go to the orchestrator, or
// are logged and dropped when there is no orchestrator either.
func (n *Notifier) Flush() int {
	if len(n.queue) == 0 {
		return 0
	}

	bySession := make(map[string][]Event)
	var order []string
	for _, ev := range n.queue {
		if _, seen := bySession[ev.Session]; !seen {
			order = append(order, ev.Session)
		}
		bySession[ev.Session] = append(bySession[ev.Session], ev)
	}
	n.queue = n.queue[:0]

	sent := 0
	for _, session := range order {
		events := bySession[session]

		recipient, err := n.resolver.FindPMTarget(session)
		if err != nil {
			n.logger.Warn("resolving recipient failed", "session", session, "error", err)
			continue
		}
		if recipient == "" {
			// No PM: escalate to the orchestrator if one is running.
			recipient, err = n.resolver.FindOrchestrator()
			if err != nil {
				n.logger.Warn("resolving orchestrator failed", "session", session, "error", err)
				continue
			}
		}
		if recipient == "" {
			n.logger.Info("no recipient for session, dropping events", "session", session, "events", len(events))
			continue
		}

		if n.busy != nil && n.busy(recipient) {
			// Defer rather than interleave into an active task.
			n.logger.Debug("recipient busy, deferring report", "recipient", recipient, "events", len(events))
			n.queue = append(n.queue, events...)
			continue
		}

		report := n.buildReport(session, events)
		if err := n.client.SendMessage(recipient, report); err != nil {
			n.logger.Warn("sending report failed", "recipient", recipient, "error", err)
			continue
		}
		sent++

		n.sendSideChannels(session, report, events)
	}
	return sent
}

// sectionOrder fixes the report layout: dead agents first.
var sectionOrder = []EventType{
	EventAgentCrashed,
	EventAgentMissing,
	EventAgentIdle,
	EventAgentFresh,
	EventRecoverySuccess,
	EventRecoveryFailed,
	EventTeamNotice,
}

var sectionTitles = map[EventType]string{
	EventAgentCrashed:    "CRASHED",
	EventAgentMissing:    "MISSING",
	EventAgentIdle:       "IDLE",
	EventAgentFresh:      "NEEDS BRIEFING",
	EventRecoverySuccess: "RECOVERED",
	EventRecoveryFailed:  "RECOVERY FAILED",
	EventTeamNotice:      "NOTICE",
}

// buildReport renders one consolidated message with grouped sections.
func (n *Notifier) buildReport(session string, events []Event) string {
	byType := make(map[EventType][]Event)
	for _, ev := range events {
		byType[ev.Type] = append(byType[ev.Type], ev)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MONITOR REPORT [%s] %d event(s)", session, len(events))
	for _, t := range sectionOrder {
		group := byType[t]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Target < group[j].Target })
		fmt.Fprintf(&b, " | %s:", sectionTitles[t])
		for i, ev := range group {
			if i > 0 {
				b.WriteString(";")
			}
			fmt.Fprintf(&b, " %s - %s", ev.Target, ev.Message)
		}
	}

	// tmux send-keys treats newlines as submissions; the pane report is
	// always a single line. Side channels reflow it where newlines are safe.
	return b.String()
}
