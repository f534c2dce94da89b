package diaglog

import (
	"fmt"
	"os"
)

// rollingWriter appends NDJSON lines to a single file and starts the file
// over when the next line would push it past cap. Truncating in place keeps
// the inode stable, so a `tail -f` on the debug log survives the rollover.
// Callers serialise writes; Logger already holds its own mutex.
type rollingWriter struct {
	f   *os.File
	cap int64
	off int64
}

func newRollingWriter(path string, cap int64) (*rollingWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("diaglog: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("diaglog: stat %s: %w", path, err)
	}
	return &rollingWriter{f: f, cap: cap, off: info.Size()}, nil
}

// Write appends p, rolling the file over first when it would not fit. Every
// line is synced; a crash mid-session is exactly when the log matters.
func (rw *rollingWriter) Write(p []byte) (int, error) {
	if rw.off+int64(len(p)) > rw.cap {
		if err := rw.rollover(); err != nil {
			return 0, err
		}
	}
	n, err := rw.f.Write(p)
	rw.off += int64(n)
	if err != nil {
		return n, err
	}
	_ = rw.f.Sync()
	return n, nil
}

func (rw *rollingWriter) rollover() error {
	if err := rw.f.Truncate(0); err != nil {
		return fmt.Errorf("diaglog: rollover: %w", err)
	}
	if _, err := rw.f.Seek(0, 0); err != nil {
		return fmt.Errorf("diaglog: rollover seek: %w", err)
	}
	rw.off = 0
	return nil
}

func (rw *rollingWriter) close() error {
	_ = rw.f.Sync()
	return rw.f.Close()
}
