package notify

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"
)

// defaultWrapWidth is used for side-channel bodies when no width is
// configured.
const defaultWrapWidth = 60

// sendSideChannels mirrors a delivered report to the optional desktop and
// log channels. Failures here never affect tmux delivery.
func (n *Notifier) sendSideChannels(session, report string, events []Event) {
	if n.cfg.Desktop {
		if err := sendDesktop("tmux-orc: "+session, n.wrapBody(report)); err != nil {
			n.logger.Debug("desktop notification failed", "error", err)
		}
	}
	if n.cfg.LogPath != "" {
		ids := make([]string, 0, len(events))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		if err := appendLog(n.cfg.LogPath, session, ids, report, n.now()); err != nil {
			n.logger.Warn("notification log append failed", "path", n.cfg.LogPath, "error", err)
		}
	}
}

// wrapBody reflows a single-line pane report for channels where newlines
// are safe, like the desktop notification body.
func (n *Notifier) wrapBody(report string) string {
	width := n.cfg.WrapWidth
	if width <= 0 {
		width = defaultWrapWidth
	}
	return wordwrap.String(report, width)
}

// sendDesktop shows a native desktop notification where a helper exists.
func sendDesktop(title, message string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		return exec.Command("osascript", "-e", script).Run()
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return fmt.Errorf("notify-send not available: %w", err)
		}
		return exec.Command("notify-send", "--app-name=tmux-orc", title, message).Run()
	default:
		return fmt.Errorf("desktop notifications unsupported on %s", runtime.GOOS)
	}
}

// appendLog writes one report line to an append-only log file. Event IDs go
// in the line so a report can be traced back to the events it carried.
func appendLog(path, session string, ids []string, report string, at time.Time) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notification log: %w", err)
	}
	defer f.Close()

	idList := "-"
	if len(ids) > 0 {
		idList = strings.Join(ids, ",")
	}
	line := fmt.Sprintf("%s [%s] %s %s\n", at.Format(time.RFC3339), session, idList, strings.ReplaceAll(report, "\n", " "))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	return nil
}
