// Package discovery enumerates monitored agents from the tmux window tree.
// Each cycle takes a fresh immutable snapshot; nothing here caches state.
package discovery

import (
	"strings"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/tmux"
)

// RoleType classifies an agent by its window name.
type RoleType string

const (
	RolePM        RoleType = "pm"
	RoleDeveloper RoleType = "developer"
	RoleQA        RoleType = "qa"
	RoleDevOps    RoleType = "devops"
	RoleReviewer  RoleType = "reviewer"
	RoleUnknown   RoleType = "agent"
)

// AgentInfo describes one monitored agent. Immutable per discovery snapshot.
type AgentInfo struct {
	Target  string   `json:"target"` // "session:window"
	Session string   `json:"session"`
	Window  int      `json:"window"`
	Name    string   `json:"name"` // window name
	Type    RoleType `json:"type"`
}

// IsPM reports whether this agent is the session's project manager.
func (a AgentInfo) IsPM() bool { return a.Type == RolePM }

// Discovery enumerates agents from the multiplexer.
type Discovery struct {
	client        tmux.Client
	pmWindowNames []string
	agentMarkers  []string
}

// New creates a Discovery. pmWindowNames are the window-name substrings that
// identify a PM window (lowercased comparison).
func New(client tmux.Client, pmWindowNames []string) *Discovery {
	return &Discovery{
		client:        client,
		pmWindowNames: pmWindowNames,
		agentMarkers:  []string{"claude", "agent", "pm", "developer", "qa", "devops", "reviewer"},
	}
}

// ListAgents returns every agent window across all sessions.
func (d *Discovery) ListAgents() ([]AgentInfo, error) {
	sessions, err := d.client.ListSessions()
	if err != nil {
		return nil, err
	}

	var agents []AgentInfo
	for _, session := range sessions {
		found, err := d.ListSessionAgents(session.Name)
		if err != nil {
			// One unreadable session must not abort discovery.
			continue
		}
		agents = append(agents, found...)
	}
	return agents, nil
}

// ListSessionAgents returns the agent windows of a single session.
func (d *Discovery) ListSessionAgents(session string) ([]AgentInfo, error) {
	windows, err := d.client.ListWindows(session)
	if err != nil {
		return nil, err
	}

	var agents []AgentInfo
	for _, w := range windows {
		if !d.isAgentWindow(w.Name) {
			continue
		}
		agents = append(agents, AgentInfo{
			Target:  tmux.Target(session, w.Index),
			Session: session,
			Window:  w.Index,
			Name:    w.Name,
			Type:    d.classifyRole(w.Name),
		})
	}
	return agents, nil
}

// FindPMTarget locates the PM window of a session. Returns empty string when
// the session has no PM window.
func (d *Discovery) FindPMTarget(session string) (string, error) {
	windows, err := d.client.ListWindows(session)
	if err != nil {
		return "", err
	}
	for _, w := range windows {
		if d.isPMWindow(w.Name) {
			return tmux.Target(session, w.Index), nil
		}
	}
	return "", nil
}

// FindOrchestrator locates the top-level orchestrator pane, the notification
// recipient of last resort for sessions without a PM. Returns empty string
// when no orchestrator session exists.
func (d *Discovery) FindOrchestrator() (string, error) {
	sessions, err := d.client.ListSessions()
	if err != nil {
		return "", err
	}
	for _, s := range sessions {
		if !strings.Contains(strings.ToLower(s.Name), "orchestrator") {
			continue
		}
		windows, err := d.client.ListWindows(s.Name)
		if err != nil || len(windows) == 0 {
			continue
		}
		for _, w := range windows {
			if strings.Contains(strings.ToLower(w.Name), "orchestrator") {
				return tmux.Target(s.Name, w.Index), nil
			}
		}
		return tmux.Target(s.Name, windows[0].Index), nil
	}
	return "", nil
}

func (d *Discovery) isPMWindow(name string) bool {
	lower := strings.ToLower(name)
	for _, pm := range d.pmWindowNames {
		if strings.Contains(lower, pm) {
			return true
		}
	}
	return false
}

// isAgentWindow filters out plain shell/editor windows: only windows named
// for an agent role are monitored.
func (d *Discovery) isAgentWindow(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range d.agentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (d *Discovery) classifyRole(name string) RoleType {
	lower := strings.ToLower(name)
	switch {
	case d.isPMWindow(lower):
		return RolePM
	case strings.Contains(lower, "devops"):
		return RoleDevOps
	case strings.Contains(lower, "developer") || strings.Contains(lower, "dev"):
		return RoleDeveloper
	case strings.Contains(lower, "qa") || strings.Contains(lower, "test"):
		return RoleQA
	case strings.Contains(lower, "review"):
		return RoleReviewer
	default:
		return RoleUnknown
	}
}
