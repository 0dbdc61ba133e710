// Package util provides small shared helpers for file and text handling.
package util

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to path atomically: the content goes to a
// process-unique temporary file in the same directory, is flushed to disk,
// and is then renamed into place. After the rename the file is read back and
// compared so that a torn or misdirected write surfaces as an error instead
// of silent corruption. The PID file, heartbeat file and recovery state all
// cross process boundaries, so every write must be all-or-nothing.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+fmt.Sprintf(".%d.tmp", os.Getpid()))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	// Remove the temp file on any failure path.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}

	// Read-back verification.
	got, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("verify read-back: %w", err)
	}
	if !bytes.Equal(got, data) {
		return fmt.Errorf("verify read-back: content mismatch after rename")
	}
	return nil
}
