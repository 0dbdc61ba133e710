package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/daemon"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/supervisor"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/tmux"
)

var (
	startSupervised bool
	pmCommand       string
	checkInterval   int
)

// applyInterval lets the command line override the configured cycle interval.
func applyInterval(cfg *config.Config) {
	if checkInterval > 0 {
		cfg.Monitor.IntervalSeconds = checkInterval
	}
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the monitor daemon in the background",
		Long: `Starts the monitor as a detached background process and waits for it to
come up. With --supervised the self-healing supervisor is launched instead;
it restarts the monitor whenever it exits or stops heartbeating.`,
		RunE: runStart,
	}
	cmd.Flags().BoolVar(&startSupervised, "supervised", false, "run under the self-healing supervisor")
	cmd.Flags().StringVar(&pmCommand, "pm-command", "claude", "command used to start replacement project managers")
	cmd.Flags().IntVar(&checkInterval, "interval", 0, "check interval in seconds (overrides config)")
	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := tmux.EnsureInstalled(); err != nil {
		return err
	}

	if pid := daemon.NewPIDFile(cfg.PidPath(), cfg.Daemon.ProcessMarkers).Running(); pid != 0 {
		return daemon.ErrAlreadyRunning{PID: pid}
	}
	if startSupervised {
		if pid := supervisor.IsRunning(cfg); pid != 0 {
			return supervisor.ErrAlreadySupervised{PID: pid}
		}
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own binary: %w", err)
	}

	childArgs := []string{"run", "--pm-command", pmCommand}
	if startSupervised {
		childArgs[0] = "supervise"
	}
	if checkInterval > 0 {
		childArgs = append(childArgs, "--interval", fmt.Sprint(checkInterval))
	}
	if cfgFile != "" {
		childArgs = append(childArgs, "--config", cfgFile)
	}

	child := exec.Command(self, childArgs...)
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("launching daemon: %w", err)
	}
	// The detached child owns its own lifetime.
	child.Process.Release()

	pidPath := cfg.PidPath()
	if startSupervised {
		pidPath = cfg.SupervisorPidPath()
	}
	if err := waitForPIDFile(pidPath, 10*time.Second); err != nil {
		return err
	}

	if startSupervised {
		fmt.Fprintf(cmd.OutOrStdout(), "supervisor started (monitor under its care)\n")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "monitor daemon started\n")
	}
	return nil
}

func waitForPIDFile(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not come up within %v (check its log)", timeout)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor loop in the foreground",
		Long: `Runs the monitoring loop in this process until a signal or a graceful stop
marker arrives. This is what "start" launches in the background; run it
directly for debugging or under your own process manager.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyInterval(cfg)
			logger := daemonLogger(cfg)
			d, err := daemon.New(cfg, tmux.NewShellClient(), logger, pmCommand)
			if err != nil {
				return err
			}
			return d.Run(context.Background())
		},
	}
	cmd.Flags().StringVar(&pmCommand, "pm-command", "claude", "command used to start replacement project managers")
	cmd.Flags().IntVar(&checkInterval, "interval", 0, "check interval in seconds (overrides config)")
	return cmd
}

func newSuperviseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the self-healing supervisor in the foreground",
		Long: `Spawns the monitor as a child process and keeps it alive: exits and stale
heartbeats trigger a restart with exponential backoff, and repeated failures
pause restarts until the failure window drains.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locating own binary: %w", err)
			}
			childArgs := []string{"run", "--pm-command", pmCommand}
			if checkInterval > 0 {
				childArgs = append(childArgs, "--interval", fmt.Sprint(checkInterval))
			}
			if cfgFile != "" {
				childArgs = append(childArgs, "--config", cfgFile)
			}
			s := supervisor.New(cfg, daemonLogger(cfg), self, childArgs)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return s.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&pmCommand, "pm-command", "claude", "command used to start replacement project managers")
	cmd.Flags().IntVar(&checkInterval, "interval", 0, "check interval in seconds (overrides config)")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the monitor daemon (and its supervisor)",
		Long: `Stops the running daemon: first a graceful stop marker the run loop picks
up, then SIGTERM, then SIGKILL. A running supervisor is stopped first so it
does not immediately restart the monitor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if pid := supervisor.IsRunning(cfg); pid != 0 {
				if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
					return fmt.Errorf("stopping supervisor (pid %d): %w", pid, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "supervisor stopped (pid %d)\n", pid)
			}

			l := daemon.NewLifecycle(cfg, daemonLogger(cfg))
			stopped, err := l.Stop()
			if err != nil {
				return err
			}
			if !stopped {
				fmt.Fprintln(cmd.OutOrStdout(), "monitor daemon is not running")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "monitor daemon stopped")
			return nil
		},
	}
}
