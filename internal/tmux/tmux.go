// Package tmux wraps the tmux CLI. The monitor never shells out to tmux
// directly; everything goes through Client so health checking, recovery and
// notification can be exercised against a fake in tests.
package tmux

import (
	"fmt"
	"strings"
)

// Session is one tmux session as reported by list-sessions.
type Session struct {
	Name     string
	Windows  int
	Attached bool
}

// Window is one window inside a session.
type Window struct {
	Index int
	Name  string
	Panes int
}

// Target addresses a window as "session:window".
func Target(session string, window int) string {
	return fmt.Sprintf("%s:%d", session, window)
}

// SplitTarget splits a "session:window" target into its parts. The window
// part is returned as a string because callers sometimes address windows by
// name rather than index.
func SplitTarget(target string) (session, window string) {
	idx := strings.LastIndex(target, ":")
	if idx < 0 {
		return target, ""
	}
	return target[:idx], target[idx+1:]
}

// Client is the surface the monitor consumes. Implementations must be safe
// for use from a single goroutine; the daemon loop is synchronous.
type Client interface {
	// CapturePane returns the last lines of rendered pane text for a target.
	CapturePane(target string, lines int) (string, error)
	// ListSessions enumerates sessions. A missing tmux server yields an
	// empty slice, not an error.
	ListSessions() ([]Session, error)
	// ListWindows enumerates the windows of a session.
	ListWindows(session string) ([]Window, error)
	// HasSession reports whether the named session exists.
	HasSession(name string) bool
	// SendKeys sends a literal key string without submitting it.
	SendKeys(target, keys string) error
	// SendMessage types text into a pane and submits it with Enter.
	SendMessage(target, text string) error
	// PressEnter submits whatever is sitting in the pane's input.
	PressEnter(target string) error
	// PressCtrlC interrupts the foreground process in the pane.
	PressCtrlC(target string) error
	// KillWindow destroys a window.
	KillWindow(target string) error
	// NewWindow creates a named window in a session, running the given
	// command, and returns the new window index.
	NewWindow(session, name, command string) (int, error)
}
