package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/EvanSchalton/Tmux-Orchestrator/internal/util"
)

// PIDFile tracks one daemon process. A PID alone is not trusted: the kernel
// recycles PIDs, so the file is only believed when /proc/<pid>/cmdline still
// carries one of the expected markers.
type PIDFile struct {
	path    string
	markers []string
}

func NewPIDFile(path string, markers []string) *PIDFile {
	return &PIDFile{path: path, markers: markers}
}

func (p *PIDFile) Path() string { return p.path }

// Read returns the stored PID. A missing file returns 0 with no error.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s is corrupt: %q", p.path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Running returns the live PID, or 0 when no trustworthy daemon exists.
// Stale files (dead process, recycled PID, corrupt content) are removed so
// the next start does not need manual cleanup.
func (p *PIDFile) Running() int {
	pid, err := p.Read()
	if err != nil {
		os.Remove(p.path)
		return 0
	}
	if pid == 0 {
		return 0
	}
	if !processAlive(pid) || !p.cmdlineMatches(pid) {
		os.Remove(p.path)
		return 0
	}
	return pid
}

// Write records a PID atomically and verifies the file landed. A live
// foreign PID already in the file is never overwritten.
func (p *PIDFile) Write(pid int) error {
	if existing := p.Running(); existing != 0 && existing != pid {
		return ErrAlreadyRunning{PID: existing}
	}
	if err := util.AtomicWriteFile(p.path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	got, err := p.Read()
	if err != nil {
		return fmt.Errorf("verify pid file: %w", err)
	}
	if got != pid {
		return fmt.Errorf("pid file %s holds %d after writing %d", p.path, got, pid)
	}
	return nil
}

// Remove deletes the file. Missing files are not an error.
func (p *PIDFile) Remove() error {
	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// cmdlineMatches reports whether /proc/<pid>/cmdline carries one of the
// markers. On systems without /proc the check degrades to trusting the PID.
func (p *PIDFile) cmdlineMatches(pid int) bool {
	if len(p.markers) == 0 {
		return true
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return true
	}
	cmdline := strings.ReplaceAll(string(data), "\x00", " ")
	for _, marker := range p.markers {
		if strings.Contains(cmdline, marker) {
			return true
		}
	}
	return false
}
