package detector

import (
	"testing"
	"time"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
)

func newTestDetector(t *testing.T) (*CrashDetector, *time.Time) {
	t.Helper()
	d := NewCrashDetector(config.Default().Detector)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, &now
}

func TestCrashConfirmationWindow(t *testing.T) {
	d, now := newTestDetector(t)
	content := "Traceback (most recent call last):\n  File \"agent.py\", line 1"

	if got := d.Detect("proj:1", content); got != CrashSuspected {
		t.Fatalf("1st observation = %s, want suspected", got)
	}
	*now = now.Add(5 * time.Second)
	if got := d.Detect("proj:1", content); got != CrashSuspected {
		t.Fatalf("2nd observation = %s, want suspected", got)
	}
	*now = now.Add(5 * time.Second)
	if got := d.Detect("proj:1", content); got != CrashConfirmed {
		t.Fatalf("3rd observation within window = %s, want confirmed", got)
	}

	// Confirmation cleared the window: the next episode starts at one.
	*now = now.Add(time.Second)
	if got := d.Detect("proj:1", content); got != CrashSuspected {
		t.Errorf("post-confirmation observation = %s, want suspected", got)
	}
}

func TestCrashWindowExpiry(t *testing.T) {
	d, now := newTestDetector(t)
	content := "Segmentation fault"

	d.Detect("proj:1", content)
	d.Detect("proj:1", content)

	// Third observation arrives after the 30s window: earlier ones expire.
	*now = now.Add(31 * time.Second)
	if got := d.Detect("proj:1", content); got != CrashSuspected {
		t.Errorf("late observation = %s, want suspected (window reset)", got)
	}
	if got := d.ObservationCount("proj:1"); got != 1 {
		t.Errorf("observation count = %d, want 1", got)
	}
}

func TestCrashFalsePositivePrevention(t *testing.T) {
	d, _ := newTestDetector(t)

	narratives := []string{
		"3 tests failed",
		"Build failed: missing dependency",
		"the process was killed by the OOM killer",
		"deployment to staging failed, retrying",
		"I killed the background watcher as requested",
		"│ npm test: 12 tests failed │",
	}
	for _, content := range narratives {
		if got := d.Detect("proj:1", content); got != CrashNone {
			t.Errorf("Detect(%q) = %s, want none", content, got)
		}
	}
}

func TestTrailingPromptIsImmediateCrash(t *testing.T) {
	d, _ := newTestDetector(t)

	content := "some earlier output\nmore output\nbash-5.1$ "
	if got := d.Detect("proj:1", content); got != CrashConfirmed {
		t.Errorf("trailing bash prompt = %s, want confirmed", got)
	}
}

func TestTrailingPromptNotEmbedded(t *testing.T) {
	d, _ := newTestDetector(t)

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"bare bash prompt", "output\nbash-5.1$ ", true},
		{"bare user@host prompt", "output\nuser@dev-box:~/proj$ ", true},
		{"prompt inside sentence", "run it from bash-5.1$ yourself please", false},
		{"prompt followed by content", "bash-5.1$ echo hi\nhi\nagent interface here", false},
		{"empty content", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.CheckTrailingPrompt(tt.content); got != tt.want {
				t.Errorf("CheckTrailingPrompt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldIgnoreSafeContextPerLine(t *testing.T) {
	d, _ := newTestDetector(t)

	// Indicator appears on a safe line AND on an unsafe line: not ignored.
	content := "the old worker was killed cleanly\nKilled"
	if d.ShouldIgnore("killed", content) {
		t.Error("unsafe second occurrence should not be ignored")
	}

	// Only safe occurrences: ignored.
	content = "the old worker was killed cleanly"
	if !d.ShouldIgnore("killed", content) {
		t.Error("narrative occurrence should be ignored")
	}
}

func TestResetTarget(t *testing.T) {
	d, _ := newTestDetector(t)
	content := "command not found"

	d.Detect("proj:1", content)
	d.Detect("proj:1", content)
	d.ResetTarget("proj:1")

	if got := d.ObservationCount("proj:1"); got != 0 {
		t.Errorf("count after reset = %d, want 0", got)
	}
}

func TestObservationsAreSeparatePerTarget(t *testing.T) {
	d, _ := newTestDetector(t)
	content := "Segmentation fault"

	d.Detect("proj:1", content)
	d.Detect("proj:1", content)
	if got := d.Detect("proj:2", content); got != CrashSuspected {
		t.Errorf("other target = %s, want suspected (independent window)", got)
	}
}
