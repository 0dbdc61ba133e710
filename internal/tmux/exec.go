package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// fieldSep separates -F format fields. Window and session names may contain
// colons, so a multi-character separator avoids ambiguity.
const fieldSep = "|#|"

// ShellClient runs tmux commands via the tmux binary on PATH.
type ShellClient struct{}

// NewShellClient returns a Client backed by the local tmux binary.
func NewShellClient() *ShellClient {
	return &ShellClient{}
}

// IsInstalled checks if tmux is available.
func IsInstalled() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// EnsureInstalled returns an error if tmux is not installed.
func EnsureInstalled() error {
	if !IsInstalled() {
		return errors.New("tmux is not installed. Install it with: brew install tmux (macOS) or apt install tmux (Linux)")
	}
	return nil
}

// run executes a tmux command and returns stdout.
func run(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// runSilent executes a tmux command ignoring output.
func runSilent(args ...string) error {
	_, err := run(args...)
	return err
}

// isNoServerErr reports whether err just means no tmux server is up.
func isNoServerErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "no sessions") ||
		strings.Contains(msg, "No such file or directory") ||
		strings.Contains(msg, "error connecting to")
}

func (c *ShellClient) CapturePane(target string, lines int) (string, error) {
	return run("capture-pane", "-t", target, "-p", "-S", fmt.Sprintf("-%d", lines))
}

func (c *ShellClient) ListSessions() ([]Session, error) {
	format := "#{session_name}" + fieldSep + "#{session_windows}" + fieldSep + "#{session_attached}"
	output, err := run("list-sessions", "-F", format)
	if err != nil {
		if isNoServerErr(err) {
			return nil, nil
		}
		return nil, err
	}
	if output == "" {
		return nil, nil
	}

	var sessions []Session
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Split(line, fieldSep)
		if len(parts) < 3 {
			continue
		}
		windows, _ := strconv.Atoi(parts[1])
		sessions = append(sessions, Session{
			Name:     parts[0],
			Windows:  windows,
			Attached: parts[2] == "1",
		})
	}
	return sessions, nil
}

func (c *ShellClient) ListWindows(session string) ([]Window, error) {
	format := "#{window_index}" + fieldSep + "#{window_name}" + fieldSep + "#{window_panes}"
	output, err := run("list-windows", "-t", session, "-F", format)
	if err != nil {
		return nil, err
	}

	var windows []Window
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, fieldSep)
		if len(parts) < 3 {
			continue
		}
		index, _ := strconv.Atoi(parts[0])
		panes, _ := strconv.Atoi(parts[2])
		windows = append(windows, Window{Index: index, Name: parts[1], Panes: panes})
	}
	return windows, nil
}

func (c *ShellClient) HasSession(name string) bool {
	return runSilent("has-session", "-t", name) == nil
}

func (c *ShellClient) SendKeys(target, keys string) error {
	return runSilent("send-keys", "-t", target, "-l", "--", keys)
}

func (c *ShellClient) SendMessage(target, text string) error {
	if err := c.SendKeys(target, text); err != nil {
		return err
	}
	return c.PressEnter(target)
}

func (c *ShellClient) PressEnter(target string) error {
	return runSilent("send-keys", "-t", target, "C-m")
}

func (c *ShellClient) PressCtrlC(target string) error {
	return runSilent("send-keys", "-t", target, "C-c")
}

func (c *ShellClient) KillWindow(target string) error {
	return runSilent("kill-window", "-t", target)
}

// NewWindow creates a window at the lowest unused index. tmux itself always
// appends past the highest index, which leaks gaps when windows die; reusing
// the lowest slot keeps replacement windows where their predecessors were.
func (c *ShellClient) NewWindow(session, name, command string) (int, error) {
	windows, err := c.ListWindows(session)
	if err != nil {
		return 0, err
	}
	used := make(map[int]bool, len(windows))
	for _, w := range windows {
		used[w.Index] = true
	}
	index := 0
	for used[index] {
		index++
	}

	args := []string{"new-window", "-d", "-t", Target(session, index), "-n", name, "-P", "-F", "#{window_index}"}
	if command != "" {
		args = append(args, command)
	}
	output, err := run(args...)
	if err != nil {
		return 0, err
	}
	created, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return 0, fmt.Errorf("parse new window index %q: %w", output, err)
	}
	return created, nil
}
