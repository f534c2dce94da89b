package transcribe

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tiroq/meetagent/internal/session"
)

func entry(speaker, text string) session.TranscriptEntry {
	return session.TranscriptEntry{
		Timestamp:  time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC),
		Speaker:    speaker,
		Text:       text,
		Confidence: 0.9,
	}
}

func TestSink_AppendFiltersThroughRecord(t *testing.T) {
	rec := session.NewRecord("https://meet.google.com/abc-defg-hij")
	var got []session.TranscriptEntry
	s := NewSink(rec, func(e session.TranscriptEntry) { got = append(got, e) }, nil)

	if !s.Append(entry("Ana", "hello")) {
		t.Fatal("valid entry rejected")
	}
	if s.Append(entry("Ana", "   ")) {
		t.Error("whitespace-only entry accepted")
	}
	if len(got) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(got))
	}
	if got[0].Text != "hello" {
		t.Errorf("callback entry text = %q", got[0].Text)
	}
	if n := len(rec.Transcript()); n != 1 {
		t.Errorf("record holds %d entries, want 1", n)
	}
}

func TestSink_RejectsAfterSessionEnds(t *testing.T) {
	rec := session.NewRecord("https://meet.google.com/abc-defg-hij")
	s := NewSink(rec, nil, nil)

	if err := rec.SetStatus(session.StatusJoined); err != nil {
		t.Fatal(err)
	}
	if err := rec.SetStatus(session.StatusEnded); err != nil {
		t.Fatal(err)
	}
	if s.Append(entry("Ana", "too late")) {
		t.Error("entry accepted into an ended session")
	}
}

func TestSink_NilCallbacksAreSafe(t *testing.T) {
	rec := session.NewRecord("https://meet.google.com/abc-defg-hij")
	s := NewSink(rec, nil, nil)
	s.Append(entry("Ana", "hello"))
	s.ReportError(errors.New("scrape failed"))
	s.ReportError(nil)
}

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name    string
		entries []session.TranscriptEntry
		want    Stats
	}{
		{
			name:    "empty",
			entries: nil,
			want:    Stats{Speakers: []string{}},
		},
		{
			name: "repeat speakers and word counts",
			entries: []session.TranscriptEntry{
				entry("Ana", "one two three"),
				entry("Bo", "four five"),
				entry("Ana", "six"),
			},
			want: Stats{
				TotalEntries:         3,
				UniqueSpeakers:       2,
				Speakers:             []string{"Ana", "Bo"},
				TotalWords:           6,
				AverageWordsPerEntry: 2,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStats(tt.entries)
			if got.TotalEntries != tt.want.TotalEntries ||
				got.UniqueSpeakers != tt.want.UniqueSpeakers ||
				got.TotalWords != tt.want.TotalWords ||
				got.AverageWordsPerEntry != tt.want.AverageWordsPerEntry {
				t.Errorf("ComputeStats = %+v, want %+v", got, tt.want)
			}
			if len(got.Speakers) != len(tt.want.Speakers) {
				t.Fatalf("speakers = %v, want %v", got.Speakers, tt.want.Speakers)
			}
			for i, s := range tt.want.Speakers {
				if got.Speakers[i] != s {
					t.Errorf("speakers[%d] = %q, want %q (first-seen order)", i, got.Speakers[i], s)
				}
			}
		})
	}
}

func TestExportJSON_EmptyIsArray(t *testing.T) {
	out, err := ExportJSON(nil)
	if err != nil {
		t.Fatal(err)
	}
	var parsed []session.TranscriptEntry
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed == nil || len(parsed) != 0 {
		t.Errorf("empty export should parse as [], got %v", parsed)
	}
}
