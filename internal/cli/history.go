package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/history"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/util"
)

var (
	historySession string
	historyLimit   int
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded agent status transitions",
		Long: `Reads the transition log the daemon keeps in sqlite. Each row is one status
change for one agent window, newest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.HistoryPath()); os.IsNotExist(err) {
				return fmt.Errorf("no history recorded yet (daemon has not run, or history is disabled)")
			}

			rec, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer rec.Close()

			rows, err := rec.Query(historySession, historyLimit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			out := cmd.OutOrStdout()
			color := useColor(out)
			if len(rows) == 0 {
				fmt.Fprintln(out, "no transitions recorded")
				return nil
			}
			width := terminalWidth()
			for _, row := range rows {
				when := row.CreatedAt.Local().Format(time.DateTime)
				line := fmt.Sprintf("%s  %s  %s -> %s",
					render(dimStyle, when, color),
					runewidth.FillRight(row.Target, 20),
					row.PrevStatus, row.Status)
				if row.Detail != "" {
					line += "  (" + row.Detail + ")"
				}
				if width > 0 && !color {
					line = util.Truncate(line, width)
				}
				if row.Status == "crashed" || row.Status == "error" {
					line = render(badStyle, line, color)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&historySession, "session", "", "only show transitions from this session")
	cmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum rows to show")
	return cmd
}

// terminalWidth reports the stdout width, or 0 when not a terminal.
func terminalWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 0
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return w
}
