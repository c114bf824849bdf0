// ABOUTME: PID file bookkeeping for the master process
// ABOUTME: Absent, unreadable, or invalid files all read as "not running"

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	rpcerrors "github.com/harper/rpcd/internal/errors"
)

type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

func (f *PIDFile) Path() string {
	return f.path
}

// Read returns the recorded pid, or 0 when there is none. A file holding
// anything but a positive integer is removed.
func (f *PIDFile) Read() int {
	//nolint:gosec // pid file path comes from config
	data, err := os.ReadFile(f.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = f.Remove()
		return 0
	}
	return pid
}

// Write records pid, creating the parent directory when needed.
func (f *PIDFile) Write(pid int) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return rpcerrors.NewXDGPathError("pid_file", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := fmt.Fprintf(tmp, "%d\n", pid); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

// Remove deletes the file. A missing file is not an error.
func (f *PIDFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}
