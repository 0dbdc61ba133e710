package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/daemon"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/discovery"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/tmux"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// useColor decides whether styles render, honoring --no-color and pipes.
func useColor(w io.Writer) bool {
	if noColor {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func render(style lipgloss.Style, s string, color bool) string {
	if !color {
		return s
	}
	return style.Render(s)
}

// statusReport is the --json shape of the status command.
type statusReport struct {
	Daemon daemon.Status         `json:"daemon"`
	Agents []discovery.AgentInfo `json:"agents"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and the discovered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st := daemon.CurrentStatus(cfg)
			agents, err := listAgents(cfg)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statusReport{Daemon: st, Agents: agents})
			}

			out := cmd.OutOrStdout()
			color := useColor(out)
			printDaemonStatus(out, st, color)
			fmt.Fprintln(out)
			printAgentTable(out, agents, color)
			return nil
		},
	}
}

func listAgents(cfg *config.Config) ([]discovery.AgentInfo, error) {
	client := tmux.NewShellClient()
	if !tmux.IsInstalled() {
		return nil, nil
	}
	return discovery.New(client, cfg.Detector.PMWindowNames).ListAgents()
}

func printDaemonStatus(out io.Writer, st daemon.Status, color bool) {
	fmt.Fprintln(out, render(headerStyle, "Monitor Daemon", color))

	if st.Running {
		fmt.Fprintf(out, "  daemon:     %s (pid %d)\n", render(okStyle, "running", color), st.PID)
	} else {
		fmt.Fprintf(out, "  daemon:     %s\n", render(badStyle, "not running", color))
	}

	if st.Supervised {
		fmt.Fprintf(out, "  supervisor: %s (pid %d)\n", render(okStyle, "running", color), st.SupervisorPID)
	} else {
		fmt.Fprintf(out, "  supervisor: %s\n", render(dimStyle, "not running", color))
	}

	switch {
	case !st.HeartbeatOK:
		fmt.Fprintf(out, "  heartbeat:  %s\n", render(dimStyle, "none", color))
	case st.HeartbeatAge > time.Minute:
		fmt.Fprintf(out, "  heartbeat:  %s (%s ago)\n", render(warnStyle, "stale", color), st.HeartbeatAge.Round(time.Second))
	default:
		fmt.Fprintf(out, "  heartbeat:  %s (%s ago)\n", render(okStyle, "fresh", color), st.HeartbeatAge.Round(time.Second))
	}
}

func printAgentTable(out io.Writer, agents []discovery.AgentInfo, color bool) {
	fmt.Fprintln(out, render(headerStyle, fmt.Sprintf("Agents (%d)", len(agents)), color))
	if len(agents) == 0 {
		fmt.Fprintln(out, "  no agent windows found")
		return
	}

	cols := []string{"TARGET", "SESSION", "WINDOW", "ROLE"}
	rows := make([][]string, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, []string{a.Target, a.Session, a.Name, string(a.Type)})
	}

	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var header strings.Builder
	for i, c := range cols {
		header.WriteString("  " + runewidth.FillRight(c, widths[i]))
	}
	fmt.Fprintln(out, render(dimStyle, header.String(), color))

	for _, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			line.WriteString("  " + runewidth.FillRight(cell, widths[i]))
		}
		s := line.String()
		if row[3] == string(discovery.RolePM) {
			s = render(okStyle, s, color)
		}
		fmt.Fprintln(out, s)
	}
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agent windows across tmux sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			agents, err := listAgents(cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(agents)
			}
			printAgentTable(cmd.OutOrStdout(), agents, useColor(cmd.OutOrStdout()))
			return nil
		},
	}
}
