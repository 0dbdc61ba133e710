// Package cli implements the tmux-orc command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
)

var (
	cfgFile    string
	jsonOutput bool
	noColor    bool

	// Build information, set via ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tmux-orc",
		Short: "Health monitor and recovery daemon for tmux-hosted AI agents",
		Long: `tmux-orc watches every agent window across your tmux sessions: it tells
idle agents from working ones, spots crashed workers by their shell prompts,
restarts dead project managers, and sends each PM one consolidated report
per monitoring cycle.

Quick Start:
  tmux-orc start              # launch the monitor daemon in the background
  tmux-orc status             # daemon health plus a live agent table
  tmux-orc history --session myproject
  tmux-orc stop               # graceful shutdown`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultPath()+")")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newStartCmd(),
		newRunCmd(),
		newStopCmd(),
		newSuperviseCmd(),
		newStatusCmd(),
		newAgentsCmd(),
		newHistoryCmd(),
	)
	return root
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// maxLogSize is the point at which the daemon log is rotated on startup.
const maxLogSize = 10 << 20

// daemonLogger writes structured logs to the daemon log file, falling back
// to stderr when the file cannot be opened. An oversized log from previous
// runs is rotated to a single .old generation first.
func daemonLogger(cfg *config.Config) *slog.Logger {
	if err := cfg.EnsureBaseDir(); err == nil {
		rotateLog(cfg.LogPath())
		if f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			return slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func rotateLog(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() < maxLogSize {
		return
	}
	_ = os.Rename(path, path+".old")
}
