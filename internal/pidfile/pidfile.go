// Package pidfile keeps the agent single-instance per user. Two daemons
// driving one browser profile and one status file would corrupt both.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile is an acquired single-instance lock.
type PIDFile struct {
	path string
	pid  int
}

// New claims the lock at path for the current process. A live PID in an
// existing file means another agent owns the lock; a dead one is a leftover
// from a crash and is swept aside.
func New(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("pidfile: create dir: %w", err)
	}

	if prev, ok := readPID(path); ok {
		if processAlive(prev) {
			return nil, fmt.Errorf("pidfile: another instance is already running (PID %d)", prev)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("pidfile: sweep stale lock: %w", err)
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("pidfile: write: %w", err)
	}
	return &PIDFile{path: path, pid: pid}, nil
}

// Remove releases the lock. The file is only deleted while it still carries
// our PID; a successor that already swept and re-claimed it is left alone.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	if pid, ok := readPID(p.path); ok && pid == p.pid {
		return os.Remove(p.path)
	}
	return nil
}

// GetPIDFilePath returns the lock path for app under the agent cache dir.
func GetPIDFilePath(app string) string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "meetagent", app+".pid")
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// processAlive probes pid with signal 0. EPERM still means alive, just
// owned by someone else.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
