package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/util"
)

// SessionState is the per-session recovery record persisted between daemon
// restarts. A crash mid-recovery must not reset the attempt budget, so the
// record is written before any destructive step.
type SessionState struct {
	Session       string      `yaml:"session"`
	Attempts      []time.Time `yaml:"attempts,omitempty"`        // attempt start times, pruned to the rate window
	InProgress    *time.Time  `yaml:"in_progress,omitempty"`     // set while a recovery is running
	LastTarget    string      `yaml:"last_target,omitempty"`     // window the last recovery replaced
	LastAttemptID string      `yaml:"last_attempt_id,omitempty"` // id of the most recent attempt
	LastRecovery  *time.Time  `yaml:"last_recovery,omitempty"`   // last successful recovery, starts the grace period
	LastFailure   *time.Time  `yaml:"last_failure,omitempty"`
}

// Store persists SessionState records as one YAML file per session.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(session string) string {
	return filepath.Join(s.dir, util.SanitizeFilename(session)+".yaml")
}

// Load returns the state for a session, or a zero-valued record when none
// has been written yet.
func (s *Store) Load(session string) (*SessionState, error) {
	data, err := os.ReadFile(s.path(session))
	if os.IsNotExist(err) {
		return &SessionState{Session: session}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read recovery state: %w", err)
	}

	var st SessionState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse recovery state for %s: %w", session, err)
	}
	if st.Session == "" {
		st.Session = session
	}
	return &st, nil
}

// Save writes the record atomically.
func (s *Store) Save(st *SessionState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create recovery dir: %w", err)
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode recovery state: %w", err)
	}
	if err := util.AtomicWriteFile(s.path(st.Session), data, 0o644); err != nil {
		return fmt.Errorf("write recovery state: %w", err)
	}
	return nil
}

// Delete removes a session's record. Missing records are not an error.
func (s *Store) Delete(session string) error {
	err := os.Remove(s.path(session))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete recovery state: %w", err)
	}
	return nil
}

// PruneAttempts drops attempt timestamps older than the window.
func (st *SessionState) PruneAttempts(now time.Time, window time.Duration) {
	kept := st.Attempts[:0]
	for _, t := range st.Attempts {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	st.Attempts = kept
}
