// Package history keeps a sqlite log of agent status transitions. Only
// transitions are recorded, not every cycle, so the table stays small enough
// to query interactively months later.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle       INTEGER NOT NULL,
	target      TEXT    NOT NULL,
	session     TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	prev_status TEXT    NOT NULL,
	detail      TEXT    NOT NULL DEFAULT '',
	created_at  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_target ON transitions(target, id);
CREATE INDEX IF NOT EXISTS idx_transitions_session ON transitions(session, id);
`

// Transition is one recorded status change.
type Transition struct {
	ID         int64
	Cycle      int64
	Target     string
	Session    string
	Status     string
	PrevStatus string
	Detail     string
	CreatedAt  time.Time
}

// Recorder writes and reads the transition log.
type Recorder struct {
	db   *sql.DB
	last map[string]string // target -> last recorded status
	now  func() time.Time
}

// Open opens or creates the log database.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Recorder{db: db, last: make(map[string]string), now: time.Now}, nil
}

// Close releases the database handle.
func (r *Recorder) Close() error { return r.db.Close() }

// Record logs a status observation. Repeats of the last recorded status for
// the target are skipped; reports whether a row was written.
func (r *Recorder) Record(cycle int64, target, session, status, detail string) (bool, error) {
	prev, seen := r.last[target]
	if seen && prev == status {
		return false, nil
	}
	if !seen {
		prev = "unknown"
	}

	_, err := r.db.Exec(
		`INSERT INTO transitions (cycle, target, session, status, prev_status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cycle, target, session, status, prev, detail, r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("recording transition: %w", err)
	}
	r.last[target] = status
	return true, nil
}

// Forget drops the in-memory last status for a target so its next
// observation is always recorded, e.g. after a recovery replaced the window.
func (r *Recorder) Forget(target string) {
	delete(r.last, target)
}

// Query returns the most recent transitions, newest first. session filters
// when non-empty; limit <= 0 defaults to 50.
func (r *Recorder) Query(session string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, cycle, target, session, status, prev_status, detail, created_at
		  FROM transitions`
	args := []any{}
	if session != "" {
		query += ` WHERE session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var created string
		if err := rows.Scan(&tr.ID, &tr.Cycle, &tr.Target, &tr.Session, &tr.Status, &tr.PrevStatus, &tr.Detail, &created); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if ts, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			tr.CreatedAt = ts
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Prune deletes transitions older than the cutoff and returns the number of
// rows removed.
func (r *Recorder) Prune(olderThan time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM transitions WHERE created_at < ?`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}
