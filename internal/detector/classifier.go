package detector

// Classifier is the crash-classification surface the health checker consumes.
// The table-driven CrashDetector is the only compiled-in implementation, but
// keeping the boundary as an interface lets the tables be swapped for a
// tuned variant without touching the orchestration code.
type Classifier interface {
	// Detect classifies one target's pane content.
	Detect(target, content string) CrashStatus
	// CheckTrailingPrompt reports whether the pane ends in a bare shell
	// prompt.
	CheckTrailingPrompt(content string) bool
	// ResetTarget clears per-target confirmation state.
	ResetTarget(target string)
}

var _ Classifier = (*CrashDetector)(nil)
