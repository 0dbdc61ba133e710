package detector

import (
	"regexp"
	"strings"
	"time"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
	"github.com/EvanSchalton/Tmux-Orchestrator/internal/util"
)

// CrashStatus is the three-valued outcome of crash classification.
type CrashStatus string

const (
	// CrashNone means nothing suggests a crash.
	CrashNone CrashStatus = "none"
	// CrashSuspected means an indicator was seen but the confirmation
	// threshold has not been reached; the caller should keep polling.
	CrashSuspected CrashStatus = "suspected"
	// CrashConfirmed means the agent is gone: either a bare shell prompt
	// ends the pane, or enough indicator observations accumulated.
	CrashConfirmed CrashStatus = "confirmed"
)

// trailingLines is how many trailing non-empty lines are inspected for a
// standalone shell prompt.
const trailingLines = 3

// CrashDetector applies the indicator/ignore tables to scraped pane text and
// keeps a per-target sliding window of indicator observations so a single
// noisy capture cannot trigger recovery.
type CrashDetector struct {
	indicators   []string
	ignoreRes    []*regexp.Regexp
	safeContexts []string
	promptRes    []*regexp.Regexp

	window    time.Duration
	threshold int

	observations map[string][]time.Time
	now          func() time.Time
}

// NewCrashDetector compiles the configured tables. Invalid regexes were
// rejected by config validation; any that still fail to compile are skipped.
func NewCrashDetector(cfg config.DetectorConfig) *CrashDetector {
	d := &CrashDetector{
		window:       cfg.ObservationWindow(),
		threshold:    cfg.ObservationThreshold,
		observations: make(map[string][]time.Time),
		now:          time.Now,
	}
	for _, ind := range cfg.CrashIndicators {
		d.indicators = append(d.indicators, strings.ToLower(ind))
	}
	for _, pattern := range cfg.IgnoreRegexes {
		if re, err := regexp.Compile(pattern); err == nil {
			d.ignoreRes = append(d.ignoreRes, re)
		}
	}
	for _, safe := range cfg.SafeContexts {
		d.safeContexts = append(d.safeContexts, strings.ToLower(safe))
	}
	for _, pattern := range cfg.PromptPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			d.promptRes = append(d.promptRes, re)
		}
	}
	return d
}

// Detect classifies the pane content of one target.
func (d *CrashDetector) Detect(target, content string) CrashStatus {
	// A bare prompt as the very last rendered line is proof on its own:
	// the interactive interface is gone and a shell replaced it.
	if d.CheckTrailingPrompt(content) {
		d.ResetTarget(target)
		return CrashConfirmed
	}

	hit := false
	lower := strings.ToLower(content)
	for _, ind := range d.indicators {
		if !strings.Contains(lower, ind) {
			continue
		}
		if d.ShouldIgnore(ind, content) {
			continue
		}
		hit = true
		break
	}
	if !hit {
		return CrashNone
	}

	if d.observe(target) {
		return CrashConfirmed
	}
	return CrashSuspected
}

// ShouldIgnore reports whether an indicator hit is narrative rather than
// evidence: status-report prose ("3 tests failed") or an indicator quoted in
// a safe context (an agent discussing a killed process, tool-output frames).
func (d *CrashDetector) ShouldIgnore(indicator, content string) bool {
	for _, re := range d.ignoreRes {
		if re.MatchString(content) {
			return true
		}
	}

	lower := strings.ToLower(content)
	idx := strings.Index(lower, strings.ToLower(indicator))
	for idx >= 0 {
		// Examine the line holding the hit, not the whole capture: a
		// box-drawing glyph three lines away says nothing about this hit.
		lineStart := strings.LastIndexByte(lower[:idx], '\n') + 1
		lineEnd := strings.IndexByte(lower[idx:], '\n')
		if lineEnd < 0 {
			lineEnd = len(lower)
		} else {
			lineEnd += idx
		}
		line := lower[lineStart:lineEnd]
		safe := false
		for _, ctx := range d.safeContexts {
			if strings.Contains(line, ctx) {
				safe = true
				break
			}
		}
		if !safe {
			return false
		}
		next := strings.Index(lower[idx+1:], strings.ToLower(indicator))
		if next < 0 {
			break
		}
		idx = idx + 1 + next
	}
	return true
}

// CheckTrailingPrompt inspects only the last few non-empty lines for a
// standalone shell prompt. Crash evidence requires the very last rendered
// line to be a bare prompt; a prompt higher up is historic output.
func (d *CrashDetector) CheckTrailingPrompt(content string) bool {
	lines := util.LastNonEmptyLines(content, trailingLines)
	if len(lines) == 0 {
		return false
	}
	last := strings.TrimRight(lines[len(lines)-1], " \t")
	for _, re := range d.promptRes {
		if re.MatchString(last) || re.MatchString(strings.TrimSpace(last)) {
			return true
		}
	}
	return false
}

// observe records one indicator observation for target and reports whether
// the confirmation threshold is met within the sliding window. On
// confirmation the observation list is cleared so the next episode starts
// counting from zero.
func (d *CrashDetector) observe(target string) bool {
	now := d.now()
	cutoff := now.Add(-d.window)

	kept := d.observations[target][:0]
	for _, t := range d.observations[target] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)

	if len(kept) >= d.threshold {
		delete(d.observations, target)
		return true
	}
	d.observations[target] = kept
	return false
}

// ObservationCount returns the current in-window count for a target.
func (d *CrashDetector) ObservationCount(target string) int {
	cutoff := d.now().Add(-d.window)
	n := 0
	for _, t := range d.observations[target] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// ResetTarget clears accumulated observations, used when an agent recovers
// or is replaced.
func (d *CrashDetector) ResetTarget(target string) {
	delete(d.observations, target)
}
