// Package transcribe defines the contract shared by the transcription
// variants (batch speech-to-text and live caption scraping) and the helpers
// for exporting and summarising transcript entries.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tiroq/meetagent/internal/session"
)

// PlaceholderSpeaker is used when speaker attribution is unavailable.
const PlaceholderSpeaker = "Participant"

// Controller is the surface both transcription variants implement.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	IsActive() bool
	Entries() []session.TranscriptEntry
	Stats() Stats
	ExportText() string
	ExportJSON() (string, error)
}

// Stats summarises a transcript.
type Stats struct {
	TotalEntries         int      `json:"total_entries"`
	UniqueSpeakers       int      `json:"unique_speakers"`
	Speakers             []string `json:"speakers"`
	TotalWords           int      `json:"total_words"`
	AverageWordsPerEntry int      `json:"average_words_per_entry"`
}

// Sink routes accepted entries into the session record and fans them out to
// the facade's typed callbacks. Both variants write through a Sink so the
// empty-text invariant is enforced in exactly one place (the record).
type Sink struct {
	record  *session.Record
	onEntry func(session.TranscriptEntry)
	onError func(error)
}

// NewSink creates a sink over the session record. Both callbacks are
// optional.
func NewSink(record *session.Record, onEntry func(session.TranscriptEntry), onError func(error)) *Sink {
	return &Sink{record: record, onEntry: onEntry, onError: onError}
}

// Append stores the entry and reports whether it survived filtering.
func (s *Sink) Append(e session.TranscriptEntry) bool {
	if !s.record.AppendTranscript(e) {
		return false
	}
	if s.onEntry != nil {
		s.onEntry(e)
	}
	return true
}

// ReportError forwards a non-fatal transcription error to the facade.
func (s *Sink) ReportError(err error) {
	if s.onError != nil && err != nil {
		s.onError(err)
	}
}

// Record returns the underlying session record.
func (s *Sink) Record() *session.Record { return s.record }

// ComputeStats summarises the given entries.
func ComputeStats(entries []session.TranscriptEntry) Stats {
	seen := make(map[string]bool)
	speakers := make([]string, 0)
	words := 0
	for _, e := range entries {
		if !seen[e.Speaker] {
			seen[e.Speaker] = true
			speakers = append(speakers, e.Speaker)
		}
		words += len(strings.Fields(e.Text))
	}
	avg := 0
	if len(entries) > 0 {
		avg = words / len(entries)
	}
	return Stats{
		TotalEntries:         len(entries),
		UniqueSpeakers:       len(speakers),
		Speakers:             speakers,
		TotalWords:           words,
		AverageWordsPerEntry: avg,
	}
}

// ExportText renders entries one per line as "[timestamp] speaker: text".
func ExportText(entries []session.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Speaker, e.Text)
	}
	return b.String()
}

// ExportJSON renders entries as an indented JSON array. The output parses
// back into a list equal in length and field values.
func ExportJSON(entries []session.TranscriptEntry) (string, error) {
	if entries == nil {
		entries = []session.TranscriptEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("transcribe: export json: %w", err)
	}
	return string(data), nil
}
