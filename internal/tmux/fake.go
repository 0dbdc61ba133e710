package tmux

import (
	"fmt"
	"sort"
	"sync"
)

// Fake is an in-memory Client for tests. Pane content is set per target;
// every mutation is recorded so tests can assert on the exact tmux calls the
// monitor issued.
type Fake struct {
	mu sync.Mutex

	Sessions map[string][]Window // session name -> windows
	Content  map[string]string   // target -> pane content
	// ContentSeq, when non-empty for a target, is consumed one entry per
	// CapturePane call before falling back to Content.
	ContentSeq map[string][]string

	SentKeys     []KeyEvent
	Killed       []string
	Created      []CreatedWindow
	CaptureErr   map[string]error
	ListErr      error
	NewWindowErr error
}

// KeyEvent records a SendKeys/SendMessage/PressEnter/PressCtrlC call.
type KeyEvent struct {
	Target string
	Keys   string // "C-m" for enter, "C-c" for interrupt, literal otherwise
	Enter  bool   // true when the keys were submitted
}

// CreatedWindow records a NewWindow call.
type CreatedWindow struct {
	Session string
	Name    string
	Command string
	Index   int
}

// NewFake returns an empty fake client.
func NewFake() *Fake {
	return &Fake{
		Sessions:   make(map[string][]Window),
		Content:    make(map[string]string),
		ContentSeq: make(map[string][]string),
		CaptureErr: make(map[string]error),
	}
}

func (f *Fake) CapturePane(target string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.CaptureErr[target]; err != nil {
		return "", err
	}
	if seq := f.ContentSeq[target]; len(seq) > 0 {
		next := seq[0]
		f.ContentSeq[target] = seq[1:]
		return next, nil
	}
	return f.Content[target], nil
}

func (f *Fake) ListSessions() ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	names := make([]string, 0, len(f.Sessions))
	for name := range f.Sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	var sessions []Session
	for _, name := range names {
		sessions = append(sessions, Session{Name: name, Windows: len(f.Sessions[name])})
	}
	return sessions, nil
}

func (f *Fake) ListWindows(session string) ([]Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	windows, ok := f.Sessions[session]
	if !ok {
		return nil, fmt.Errorf("session %q not found", session)
	}
	out := make([]Window, len(windows))
	copy(out, windows)
	return out, nil
}

func (f *Fake) HasSession(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Sessions[name]
	return ok
}

func (f *Fake) SendKeys(target, keys string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SentKeys = append(f.SentKeys, KeyEvent{Target: target, Keys: keys})
	return nil
}

func (f *Fake) SendMessage(target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SentKeys = append(f.SentKeys, KeyEvent{Target: target, Keys: text, Enter: true})
	return nil
}

func (f *Fake) PressEnter(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SentKeys = append(f.SentKeys, KeyEvent{Target: target, Keys: "C-m", Enter: true})
	return nil
}

func (f *Fake) PressCtrlC(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SentKeys = append(f.SentKeys, KeyEvent{Target: target, Keys: "C-c"})
	return nil
}

func (f *Fake) KillWindow(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Killed = append(f.Killed, target)
	session, _ := SplitTarget(target)
	// Best-effort removal from the window list.
	windows := f.Sessions[session]
	for i, w := range windows {
		if Target(session, w.Index) == target {
			f.Sessions[session] = append(windows[:i:i], windows[i+1:]...)
			break
		}
	}
	return nil
}

func (f *Fake) NewWindow(session, name, command string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewWindowErr != nil {
		return 0, f.NewWindowErr
	}
	index := 0
	used := make(map[int]bool)
	for _, w := range f.Sessions[session] {
		used[w.Index] = true
	}
	for used[index] {
		index++
	}
	f.Sessions[session] = append(f.Sessions[session], Window{Index: index, Name: name, Panes: 1})
	f.Created = append(f.Created, CreatedWindow{Session: session, Name: name, Command: command, Index: index})
	return index, nil
}

// Messages returns the submitted (Enter-terminated) sends to a target.
func (f *Fake) Messages(target string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var msgs []string
	for _, ev := range f.SentKeys {
		if ev.Target == target && ev.Enter && ev.Keys != "C-m" {
			msgs = append(msgs, ev.Keys)
		}
	}
	return msgs
}
