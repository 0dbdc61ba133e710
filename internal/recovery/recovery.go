// Package recovery restarts crashed project managers. Every transition is
// budgeted: a cooldown between recoveries per session, a hard attempt cap
// inside a sliding hour, and a grace period after a successful restart during
// which health checks leave the new PM alone.
package recovery

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/detector"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/discovery"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/notify"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/tmux"
)

// attemptWindow is the sliding window for the per-session attempt cap.
const attemptWindow = time.Hour

// staleInProgress bounds how long an in-progress marker is trusted. A daemon
// killed mid-recovery leaves the marker behind; past this age it is cleared.
const staleInProgress = 10 * time.Minute

const pmWindowName = "pm"

// TeamNotifier receives recovery outcome events.
type TeamNotifier interface {
	Queue(notify.Event) bool
}

// Manager orchestrates PM crash detection and restart.
type Manager struct {
	client tmux.Client
	disco  *discovery.Discovery
	crash  detector.Classifier
	store  *Store
	cfg    config.RecoveryConfig
	notify TeamNotifier
	logger *slog.Logger

	captureLines int
	pmCommand    string // command run in the new PM window

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a recovery manager. pmCommand is the agent command started in
// replacement PM windows.
func New(client tmux.Client, disco *discovery.Discovery, crash detector.Classifier, store *Store, cfg config.RecoveryConfig, notifier TeamNotifier, logger *slog.Logger, captureLines int, pmCommand string) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:       client,
		disco:        disco,
		crash:        crash,
		store:        store,
		cfg:          cfg,
		notify:       notifier,
		logger:       logger.With("component", "recovery"),
		captureLines: captureLines,
		pmCommand:    pmCommand,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// DetectPMCrash reports whether the session's PM is gone or showing crash
// output. A session with no PM window at all counts as crashed with an empty
// target, so the caller can spawn a fresh one.
func (m *Manager) DetectPMCrash(session string) (bool, string, error) {
	target, err := m.disco.FindPMTarget(session)
	if err != nil {
		return false, "", fmt.Errorf("locating PM for %s: %w", session, err)
	}
	if target == "" {
		return true, "", nil
	}

	content, err := m.client.CapturePane(target, m.captureLines)
	if err != nil {
		return false, target, fmt.Errorf("capturing PM pane %s: %w", target, err)
	}
	return m.crash.Detect(target, content) == detector.CrashConfirmed, target, nil
}

// InGracePeriod reports whether a session's PM was recovered recently enough
// that health checks should skip it.
func (m *Manager) InGracePeriod(session string) bool {
	st, err := m.store.Load(session)
	if err != nil {
		m.logger.Warn("loading recovery state failed", "session", session, "error", err)
		return false
	}
	return st.LastRecovery != nil && m.now().Sub(*st.LastRecovery) < m.cfg.GracePeriod()
}

// ShouldAttemptRecovery applies the budget checks. The returned reason is
// empty when recovery may proceed.
func (m *Manager) ShouldAttemptRecovery(session string) (bool, string) {
	if !m.cfg.Enabled {
		return false, "recovery disabled"
	}

	st, err := m.store.Load(session)
	if err != nil {
		return false, fmt.Sprintf("state unreadable: %v", err)
	}
	now := m.now()

	if st.InProgress != nil {
		if now.Sub(*st.InProgress) < staleInProgress {
			return false, "recovery already in progress"
		}
		// Stale marker from an interrupted run.
		st.InProgress = nil
		if err := m.store.Save(st); err != nil {
			m.logger.Warn("clearing stale in-progress marker failed", "session", session, "error", err)
		}
	}

	if st.LastRecovery != nil && now.Sub(*st.LastRecovery) < m.cfg.Cooldown() {
		return false, fmt.Sprintf("cooldown active, last recovery %s ago", now.Sub(*st.LastRecovery).Round(time.Second))
	}

	st.PruneAttempts(now, attemptWindow)
	if len(st.Attempts) >= m.cfg.MaxAttemptsPerHour {
		return false, fmt.Sprintf("attempt cap reached (%d in the last hour)", len(st.Attempts))
	}

	return true, ""
}

// RecoverPM replaces a session's PM. crashedTarget may be empty when the PM
// window vanished entirely. The attempt is recorded before any destructive
// step so an interrupted run still counts against the budget.
func (m *Manager) RecoverPM(session, crashedTarget string) error {
	st, err := m.store.Load(session)
	if err != nil {
		return fmt.Errorf("loading recovery state: %w", err)
	}

	now := m.now()
	attemptID := uuid.NewString()
	st.PruneAttempts(now, attemptWindow)
	st.Attempts = append(st.Attempts, now)
	st.InProgress = &now
	st.LastTarget = crashedTarget
	st.LastAttemptID = attemptID
	if err := m.store.Save(st); err != nil {
		return fmt.Errorf("persisting recovery attempt: %w", err)
	}
	attempt := len(st.Attempts)

	m.logger.Info("recovering PM", "session", session, "crashed_target", crashedTarget, "attempt", attempt, "attempt_id", attemptID)

	if crashedTarget != "" {
		// Give a wedged process a chance to exit before the window goes away.
		if err := m.client.PressCtrlC(crashedTarget); err != nil {
			m.logger.Debug("interrupting crashed PM failed", "target", crashedTarget, "error", err)
		}
		if err := m.client.KillWindow(crashedTarget); err != nil {
			m.logger.Warn("killing crashed PM window failed", "target", crashedTarget, "error", err)
		}
		m.crash.ResetTarget(crashedTarget)
	}

	// Repeated recoveries of a flapping session slow down progressively.
	if delay := m.progressiveDelay(attempt); delay > 0 {
		m.sleep(delay)
	}

	newTarget, err := m.spawnWithRetries(session, attempt)

	st2, loadErr := m.store.Load(session)
	if loadErr != nil {
		st2 = st
	}
	st2.InProgress = nil

	if err != nil {
		fail := m.now()
		st2.LastFailure = &fail
		if saveErr := m.store.Save(st2); saveErr != nil {
			m.logger.Warn("persisting recovery failure failed", "session", session, "error", saveErr)
		}
		m.notify.Queue(notify.Event{
			Type:     notify.EventRecoveryFailed,
			Target:   crashedTarget,
			Session:  session,
			Message:  fmt.Sprintf("PM recovery failed: %v", err),
			Metadata: map[string]string{"attempt_id": attemptID},
		})
		return fmt.Errorf("recovering PM for %s: %w", session, err)
	}

	done := m.now()
	st2.LastRecovery = &done
	st2.LastFailure = nil
	if saveErr := m.store.Save(st2); saveErr != nil {
		m.logger.Warn("persisting recovery success failed", "session", session, "error", saveErr)
	}

	m.logger.Info("PM recovered", "session", session, "target", newTarget)
	m.notify.Queue(notify.Event{
		Type:     notify.EventRecoverySuccess,
		Target:   newTarget,
		Session:  session,
		Message:  fmt.Sprintf("PM restarted at %s, grace period active", newTarget),
		Metadata: map[string]string{"attempt_id": attemptID},
	})
	m.notifyTeam(session, newTarget)
	return nil
}

// spawnWithRetries runs the spawn-and-verify sequence, retrying on a fixed
// schedule before giving up.
func (m *Manager) spawnWithRetries(session string, attempt int) (string, error) {
	delays := m.cfg.RetryDelays()
	var lastErr error
	for try := 0; try <= len(delays); try++ {
		if try > 0 {
			m.sleep(delays[try-1])
		}
		target, err := m.spawnPM(session, attempt)
		if err == nil {
			return target, nil
		}
		lastErr = err
		m.logger.Warn("PM spawn attempt failed", "session", session, "try", try+1, "error", err)
	}
	return "", fmt.Errorf("all spawn attempts exhausted: %w", lastErr)
}

// spawnPM creates the replacement window, briefs it and verifies it came up.
func (m *Manager) spawnPM(session string, attempt int) (string, error) {
	index, err := m.client.NewWindow(session, pmWindowName, m.pmCommand)
	if err != nil {
		return "", fmt.Errorf("creating PM window: %w", err)
	}
	target := tmux.Target(session, index)

	m.sleep(m.initWait(session))

	if err := m.client.SendMessage(target, m.briefing(session, attempt)); err != nil {
		return "", fmt.Errorf("briefing new PM: %w", err)
	}

	// Single verification pass. A pane showing a bare shell prompt means the
	// agent command exited immediately.
	content, err := m.client.CapturePane(target, m.captureLines)
	if err != nil {
		return "", fmt.Errorf("verifying new PM: %w", err)
	}
	if m.crash.CheckTrailingPrompt(content) {
		// Remove the dead window so the retry does not leave it behind.
		if killErr := m.client.KillWindow(target); killErr != nil {
			m.logger.Warn("removing failed PM window", "target", target, "error", killErr)
		}
		return "", fmt.Errorf("new PM at %s exited to a shell prompt", target)
	}
	return target, nil
}

// briefing builds the message typed into a replacement PM: which session it
// owns, who is on the team, and which recovery attempt this is.
func (m *Manager) briefing(session string, attempt int) string {
	var teammates []string
	if agents, err := m.disco.ListSessionAgents(session); err == nil {
		for _, a := range agents {
			if !a.IsPM() {
				teammates = append(teammates, a.Target)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the project manager for session %q. ", session)
	fmt.Fprintf(&b, "Your predecessor crashed and you are its replacement (recovery attempt %d). ", attempt)
	if len(teammates) > 0 {
		fmt.Fprintf(&b, "Active team: %d agent(s) at %s. ", len(teammates), strings.Join(teammates, ", "))
	}
	b.WriteString("Check in with each team window, review current task state, and resume coordination.")
	return b.String()
}

// initWait scales the startup wait with team size: bigger teams mean a more
// loaded host and a slower agent boot.
func (m *Manager) initWait(session string) time.Duration {
	min := time.Duration(m.cfg.InitWaitMinSeconds) * time.Second
	max := time.Duration(m.cfg.InitWaitMaxSeconds) * time.Second
	if max < min {
		max = min
	}

	agents, err := m.disco.ListSessionAgents(session)
	if err != nil {
		return min
	}
	wait := min + time.Duration(len(agents))*time.Second
	if wait > max {
		wait = max
	}
	return wait
}

// progressiveDelay grows with the attempt count inside the window and is
// capped so a flapping session cannot stall the whole cycle.
func (m *Manager) progressiveDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(attempt-1) * 10 * time.Second
	if cap := m.cfg.ProgressiveDelayCap(); d > cap {
		d = cap
	}
	return d
}

// notifyTeam tells the other agents in the session that their PM changed.
func (m *Manager) notifyTeam(session, pmTarget string) {
	agents, err := m.disco.ListSessionAgents(session)
	if err != nil {
		m.logger.Warn("listing team for recovery notice failed", "session", session, "error", err)
		return
	}
	msg := fmt.Sprintf("Your project manager was restarted and is now at %s. Report your current task status to it.", pmTarget)
	for _, agent := range agents {
		if agent.IsPM() || agent.Target == pmTarget {
			continue
		}
		if err := m.client.SendMessage(agent.Target, msg); err != nil {
			m.logger.Warn("team recovery notice failed", "target", agent.Target, "error", err)
		}
	}
}
