package config

// Default classification tables for the crash/idle detectors. These are data,
// not code: operators can override any of them in config.toml and the
// detector treats them as opaque inputs. The sets below were tuned against
// real agent transcripts; in particular a bare "$" is NOT an indicator
// because it shows up constantly inside normal conversational and tool
// output and used to cause false crash positives.

// DefaultCrashIndicators are literal substrings that suggest the agent
// process itself has died and a shell took over the pane.
func DefaultCrashIndicators() []string {
	return []string{
		"traceback (most recent call last)",
		"modulenotfounderror",
		"command not found",
		"segmentation fault",
		"core dumped",
		"killed",
		"terminated",
		"panic:",
		"bash-",
		"zsh:",
		"$ claude",
		"no such file or directory",
	}
}

// DefaultIgnoreRegexes match status-report prose where a crash indicator is
// narrative, not evidence: an agent telling its PM that tests failed is
// healthy, not dead.
func DefaultIgnoreRegexes() []string {
	return []string{
		`\d+\s+tests?\s+failed`,
		`(?i)build failed[:\s]`,
		`(?i)deployment.*failed`,
		`(?i)compilation failed`,
		`(?i)\d+\s+(checks?|jobs?|tasks?)\s+failed`,
		`(?i)failed\s+to\s+(fetch|load|parse|compile|connect)`,
		`(?i)(test|lint|ci)\s+run\s+failed`,
	}
}

// DefaultSafeContexts are literal substrings whose presence near an indicator
// marks the hit as discussion rather than a live crash. The box-drawing
// glyphs cover indicators quoted inside agent tool-output frames.
func DefaultSafeContexts() []string {
	return []string{
		"was killed",
		"killed the",
		"killed by",
		"process was terminated",
		"terminated the",
		"terminated successfully",
		"will be killed",
		"previously killed",
		"│",
		"╰",
		"╭",
	}
}

// DefaultPromptPatterns are regexes for a standalone shell prompt line. Only
// the trailing lines of a pane are tested against these; a prompt embedded in
// a sentence never matches because each pattern is anchored to the full line.
// A bare `$` is deliberately absent (see package comment).
func DefaultPromptPatterns() []string {
	return []string{
		`^bash-\d+(\.\d+)?\$\s*$`,
		`^zsh(-\d+(\.\d+)?)?[%#$]\s*$`,
		`^[\w.-]+@[\w.-]+[:\s][^\n]*[$#]\s*$`,
		`^sh-\d+(\.\d+)?\$\s*$`,
		`^\(venv\)\s*\$\s*$`,
		`^➜\s+[\w.-]*\s*$`,
	}
}

// DefaultBusyMarkers force an ACTIVE classification even when the rendered
// content is static: a compacting or thinking agent produces no diff but is
// not idle.
func DefaultBusyMarkers() []string {
	return []string{
		"compacting conversation",
		"esc to interrupt",
		"✻ thinking",
		"thinking…",
	}
}

// DefaultInterfaceMarkers indicate the worker's interactive interface is
// rendered at all. Their total absence means the worker is gone.
func DefaultInterfaceMarkers() []string {
	return []string{
		"╭─",
		"│ >",
		"? for shortcuts",
		"welcome to claude",
		"bypassing permissions",
	}
}

// DefaultFreshMarkers indicate a brand-new worker that has not yet been
// briefed with its role instructions.
func DefaultFreshMarkers() []string {
	return []string{
		"welcome to claude",
		"/help for help",
		"what would you like to do?",
	}
}
