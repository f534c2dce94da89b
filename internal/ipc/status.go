// Package ipc exchanges bot state and operator commands through small files
// under ~/.cache/meetagent, so local tooling can observe and steer a running
// bot without holding a connection to it.
package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StatusSnapshot is the bot state published for local tooling.
type StatusSnapshot struct {
	SessionID         string    `json:"session_id"`
	MeetingURL        string    `json:"meeting_url"`
	Status            string    `json:"status"`             // connecting | joined | recording | ended | error
	Recording         bool      `json:"recording"`          // capture in progress
	Participants      []string  `json:"participants"`       // current participant set
	TranscriptEntries int       `json:"transcript_entries"` // entries captured so far
	LastError         string    `json:"last_error"`
	PID               int       `json:"pid"`
	Timestamp         time.Time `json:"timestamp"`
}

// cacheDir returns the meetagent cache directory, creating it if asked.
func cacheDir(create bool) (string, error) {
	dir := filepath.Join(os.Getenv("HOME"), ".cache", "meetagent")
	if create {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// WriteStatus persists the snapshot to ~/.cache/meetagent/status.json using
// an atomic write so readers never see a partial file.
func WriteStatus(status *StatusSnapshot) error {
	dir, err := cacheDir(true)
	if err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(dir, "status.json"), status)
}

// ReadStatus loads the last published snapshot.
func ReadStatus() (*StatusSnapshot, error) {
	dir, err := cacheDir(false)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "status.json"))
	if err != nil {
		return nil, err
	}
	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename.
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}

	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil // prevent defer cleanup

	return os.Rename(tmpPath, path)
}
