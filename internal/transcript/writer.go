// Package transcript writes the finished session transcript to disk in the
// requested formats.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tiroq/meetagent/internal/session"
)

// WriteText writes a plain text transcript with one entry per line as
// "[timestamp] speaker: text". The file is written atomically (temp file +
// rename) to avoid partial writes.
func WriteText(path string, entries []session.TranscriptEntry) error {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Format(time.RFC3339), e.Speaker, e.Text)
	}
	return atomicWrite(path, []byte(b.String()))
}

// WriteJSON writes the transcript as an indented JSON array, matching the
// in-memory entry shape.
func WriteJSON(path string, entries []session.TranscriptEntry) error {
	if entries == nil {
		entries = []session.TranscriptEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}
	return atomicWrite(path, append(data, '\n'))
}

// WriteSRT writes a SubRip (.srt) subtitle file. Entry timestamps are made
// relative to the session start; each cue runs until the next entry or a
// few seconds, whichever is shorter.
func WriteSRT(path string, entries []session.TranscriptEntry, start time.Time) error {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		from := e.Timestamp.Sub(start)
		if from < 0 {
			from = 0
		}
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTimestamp(from), formatSRTTimestamp(cueEnd(entries, i, start)))
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Text)
	}
	return atomicWrite(path, []byte(b.String()))
}

// WriteVTT writes a WebVTT (.vtt) subtitle file with the same cue layout as
// WriteSRT.
func WriteVTT(path string, entries []session.TranscriptEntry, start time.Time) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for i, e := range entries {
		b.WriteByte('\n')
		from := e.Timestamp.Sub(start)
		if from < 0 {
			from = 0
		}
		fmt.Fprintf(&b, "%s --> %s\n", formatVTTTimestamp(from), formatVTTTimestamp(cueEnd(entries, i, start)))
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Text)
	}
	return atomicWrite(path, []byte(b.String()))
}

// WriteAll writes the transcript in every requested format. basePath is the
// file path without extension (e.g. "/recordings/session_x/transcript").
// Supported formats: "txt", "json", "srt", "vtt". If formats is nil or
// empty, defaults to ["txt", "json"]. Returns a combined error listing all
// failures.
func WriteAll(basePath string, entries []session.TranscriptEntry, start time.Time, formats []string) error {
	if len(formats) == 0 {
		formats = []string{"txt", "json"}
	}
	var errs []string
	for _, f := range formats {
		var err error
		switch f {
		case "txt":
			err = WriteText(basePath+".txt", entries)
		case "json":
			err = WriteJSON(basePath+".json", entries)
		case "srt":
			err = WriteSRT(basePath+".srt", entries, start)
		case "vtt":
			err = WriteVTT(basePath+".vtt", entries, start)
		default:
			errs = append(errs, fmt.Sprintf("unknown format %q", f))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("transcript write errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// maxCueLength caps how long a single subtitle stays on screen.
const maxCueLength = 5 * time.Second

// cueEnd returns the relative end time for entry i: the next entry's start,
// capped at maxCueLength past this entry's start.
func cueEnd(entries []session.TranscriptEntry, i int, start time.Time) time.Duration {
	from := entries[i].Timestamp.Sub(start)
	if from < 0 {
		from = 0
	}
	end := from + maxCueLength
	if i+1 < len(entries) {
		next := entries[i+1].Timestamp.Sub(start)
		if next > from && next < end {
			end = next
		}
	}
	return end
}

// formatSRTTimestamp formats a duration as HH:MM:SS,mmm (SRT subtitle format).
func formatSRTTimestamp(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// formatVTTTimestamp formats a duration as HH:MM:SS.mmm (WebVTT format).
func formatVTTTimestamp(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// atomicWrite writes data to path atomically using a temp file + rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing transcript: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing transcript: %w", err)
	}
	tmpFile = nil // prevent defer cleanup

	if err := os.Rename(tmpPath, path); err != nil {
		// Clean up temp file on rename failure.
		os.Remove(tmpPath)
		return fmt.Errorf("renaming transcript: %w", err)
	}
	return nil
}
