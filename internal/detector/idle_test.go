package detector

import (
	"testing"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/config"
)

func newIdle(t *testing.T) *IdleDetector {
	t.Helper()
	return NewIdleDetector(config.Default().Detector)
}

func TestSnapshotsActive(t *testing.T) {
	d := newIdle(t)

	tests := []struct {
		name  string
		snaps []string
		want  bool
	}{
		{"identical snapshots", []string{"abc", "abc", "abc", "abc"}, false},
		{"single char flicker", []string{"abc", "abd", "abc", "abd"}, false},
		{"real output growth", []string{"abc", "abc def ghi", "abc def ghi jkl", "abc def ghi jkl mno"}, true},
		{"changes late in cycle", []string{"abc", "abc", "abc", "abcdefgh"}, true},
		{"too few snapshots", []string{"abc"}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.SnapshotsActive(tt.snaps); got != tt.want {
				t.Errorf("SnapshotsActive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBusyOverrides(t *testing.T) {
	d := newIdle(t)

	busy := []string{
		"╭─ Compacting conversation ─╮",
		"✻ Thinking about the test layout",
		"Working (esc to interrupt)",
	}
	for _, content := range busy {
		if !d.IsBusy(content) {
			t.Errorf("IsBusy(%q) = false, want true", content)
		}
	}

	if d.IsBusy("│ > waiting for your input") {
		t.Error("plain prompt should not be busy")
	}
}

func TestHasInterface(t *testing.T) {
	d := newIdle(t)

	withUI := "╭────────────╮\n│ > │\n? for shortcuts"
	if !d.HasInterface(withUI) {
		t.Error("expected interface markers to be detected")
	}

	bare := "some shell output\nbash-5.1$ "
	if d.HasInterface(bare) {
		t.Error("bare shell should have no interface")
	}
}

func TestIsFresh(t *testing.T) {
	d := newIdle(t)

	if !d.IsFresh("Welcome to Claude Code!\n│ > │") {
		t.Error("welcome banner should classify as fresh")
	}
	if d.IsFresh("│ > │\nsome ongoing work transcript") {
		t.Error("briefed agent should not be fresh")
	}
}

func TestHasQueuedMessage(t *testing.T) {
	d := newIdle(t)

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"typed but unsubmitted", "╭──╮\n│ > fix the login bug │", true},
		{"empty prompt", "╭──╮\n│ > │", false},
		{"plain chevron with text", "> deploy the fix", true},
		{"no prompt at all", "transcript text only", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.HasQueuedMessage(tt.content); got != tt.want {
				t.Errorf("HasQueuedMessage = %v, want %v", got, tt.want)
			}
		})
	}
}
