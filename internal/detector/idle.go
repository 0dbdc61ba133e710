package detector

import (
	"strings"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
)

// IdleDetector decides whether a series of pane snapshots shows a working
// agent. It is a pure function of content; all per-target bookkeeping lives
// in the health checker.
type IdleDetector struct {
	busyMarkers      []string
	interfaceMarkers []string
	freshMarkers     []string
}

// NewIdleDetector builds a detector from the configured marker tables.
func NewIdleDetector(cfg config.DetectorConfig) *IdleDetector {
	d := &IdleDetector{}
	for _, m := range cfg.BusyMarkers {
		d.busyMarkers = append(d.busyMarkers, strings.ToLower(m))
	}
	for _, m := range cfg.InterfaceMarkers {
		d.interfaceMarkers = append(d.interfaceMarkers, strings.ToLower(m))
	}
	for _, m := range cfg.FreshMarkers {
		d.freshMarkers = append(d.freshMarkers, strings.ToLower(m))
	}
	return d
}

// SnapshotsActive reports whether consecutive snapshots differ by more than
// one character. A single changed character is a cursor blink, not work.
func (d *IdleDetector) SnapshotsActive(snapshots []string) bool {
	for i := 1; i < len(snapshots); i++ {
		if diffChars(snapshots[i-1], snapshots[i]) > 1 {
			return true
		}
	}
	return false
}

// IsBusy reports whether content carries a marker that forces an ACTIVE
// classification even with zero diff: compaction and extended thinking
// render as static text while the agent is anything but idle.
func (d *IdleDetector) IsBusy(content string) bool {
	lower := strings.ToLower(content)
	for _, m := range d.busyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// HasInterface reports whether the worker's interactive interface is
// rendered at all. Absence means the worker process is gone.
func (d *IdleDetector) HasInterface(content string) bool {
	lower := strings.ToLower(content)
	for _, m := range d.interfaceMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// IsFresh reports whether content shows a brand-new, unbriefed worker.
func (d *IdleDetector) IsFresh(content string) bool {
	lower := strings.ToLower(content)
	for _, m := range d.freshMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// HasQueuedMessage reports whether the worker's input box holds typed but
// unsubmitted text. The Claude input row renders as "│ > <text>"; an empty
// prompt renders with nothing after the chevron.
func (d *IdleDetector) HasQueuedMessage(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "│ >") && !strings.HasPrefix(trimmed, "> ") {
			continue
		}
		rest := strings.TrimPrefix(trimmed, "│ >")
		rest = strings.TrimPrefix(rest, "> ")
		rest = strings.Trim(rest, " │")
		if rest != "" {
			return true
		}
	}
	return false
}

// diffChars counts positionwise character differences plus length delta.
func diffChars(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	diff := 0
	for i := 0; i < n; i++ {
		if ra[i] != rb[i] {
			diff++
		}
	}
	diff += len(ra) - n + len(rb) - n
	return diff
}
