package session

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewRecord_Defaults(t *testing.T) {
	r := NewRecord("https://meet.google.com/abc-defg-hij")

	if r.Status() != StatusConnecting {
		t.Errorf("expected status connecting, got %s", r.Status())
	}
	if r.URL() != "https://meet.google.com/abc-defg-hij" {
		t.Errorf("unexpected url: %s", r.URL())
	}
	if !strings.HasPrefix(r.ID(), "session_") {
		t.Errorf("expected session_ id prefix, got %s", r.ID())
	}
	if !r.EndTime().IsZero() {
		t.Error("expected zero end time on a fresh record")
	}
}

func TestNewRecord_UniqueIDs(t *testing.T) {
	a := NewRecord("https://meet.google.com/a")
	b := NewRecord("https://meet.google.com/a")
	if a.ID() == b.ID() {
		t.Fatalf("expected unique ids, both %s", a.ID())
	}
}

func TestSetStatus_FollowsLifecycleGraph(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		ok   bool
	}{
		{"happy path", []Status{StatusJoined, StatusRecording, StatusEnded}, true},
		{"join then end without recording", []Status{StatusJoined, StatusEnded}, true},
		{"error from connecting", []Status{StatusError}, true},
		{"error from joined", []Status{StatusJoined, StatusError}, true},
		{"skip joined", []Status{StatusRecording}, false},
		{"error from recording", []Status{StatusJoined, StatusRecording, StatusError}, false},
		{"out of ended", []Status{StatusJoined, StatusEnded, StatusJoined}, false},
		{"out of error", []Status{StatusError, StatusConnecting}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecord("https://meet.google.com/x")
			var err error
			for _, next := range tt.path {
				if err = r.SetStatus(next); err != nil {
					break
				}
			}
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected transition rejection on path %v", tt.path)
			}
		})
	}
}

func TestSetStatus_TerminalSetsEndTime(t *testing.T) {
	r := NewRecord("https://meet.google.com/x")
	if err := r.SetStatus(StatusError); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.EndTime().IsZero() {
		t.Error("expected end time to be set on terminal transition")
	}
}

func TestEnd_Idempotent(t *testing.T) {
	r := NewRecord("https://meet.google.com/x")
	_ = r.SetStatus(StatusJoined)

	r.End(StatusEnded)
	first := r.EndTime()

	r.End(StatusError) // second terminal request must not change anything
	if r.Status() != StatusEnded {
		t.Errorf("expected status to stay ended, got %s", r.Status())
	}
	if !r.EndTime().Equal(first) {
		t.Error("expected end time to be frozen")
	}
}

func TestEnd_StaysOnLifecycleGraph(t *testing.T) {
	tests := []struct {
		name  string
		setup []Status
		final Status
		want  Status
	}{
		{"ended from joined", []Status{StatusJoined}, StatusEnded, StatusEnded},
		{"ended from recording", []Status{StatusJoined, StatusRecording}, StatusEnded, StatusEnded},
		{"error from joined", []Status{StatusJoined}, StatusError, StatusError},
		// A stop racing a still-connecting start: ended is not an edge
		// from connecting, so the record lands on error instead.
		{"ended from connecting lands on error", nil, StatusEnded, StatusError},
		// A component error mid-recording: recording's only terminal
		// successor is ended.
		{"error from recording lands on ended", []Status{StatusJoined, StatusRecording}, StatusError, StatusEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecord("https://meet.google.com/x")
			for _, s := range tt.setup {
				if err := r.SetStatus(s); err != nil {
					t.Fatalf("setup %s: %v", s, err)
				}
			}
			r.End(tt.final)
			if r.Status() != tt.want {
				t.Errorf("status = %s, want %s", r.Status(), tt.want)
			}
			if r.EndTime().IsZero() {
				t.Error("end time not set")
			}
		})
	}
}

func TestEnd_NonTerminalRequestIgnored(t *testing.T) {
	r := NewRecord("https://meet.google.com/x")
	r.End(StatusJoined)
	if r.Status() != StatusConnecting {
		t.Errorf("status = %s, want connecting untouched", r.Status())
	}
	if !r.EndTime().IsZero() {
		t.Error("end time must stay zero")
	}
}

func TestSetParticipants_SetSemantics(t *testing.T) {
	r := NewRecord("https://meet.google.com/x")

	if changed := r.SetParticipants([]string{"Ana", "Ana", "Bo"}); !changed {
		t.Fatal("expected first probe to report a change")
	}
	got := r.Participants()
	if len(got) != 2 || got[0] != "Ana" || got[1] != "Bo" {
		t.Fatalf("expected [Ana Bo], got %v", got)
	}

	// Same set, different raw order and duplication: no change.
	if changed := r.SetParticipants([]string{"Bo", "Ana", "Bo"}); changed {
		t.Error("expected identical set to report no change")
	}

	if changed := r.SetParticipants([]string{"Ana", "Bo", "Cy"}); !changed {
		t.Fatal("expected grown set to report a change")
	}
	if got := r.Participants(); len(got) != 3 {
		t.Fatalf("expected 3 participants, got %v", got)
	}
}

func TestSetParticipants_FrozenWhenTerminal(t *testing.T) {
	r := NewRecord("https://meet.google.com/x")
	_ = r.SetParticipants([]string{"Ana"})
	r.End(StatusEnded)

	if changed := r.SetParticipants([]string{"Ana", "Bo"}); changed {
		t.Error("expected no participant change after session end")
	}
	if got := r.Participants(); len(got) != 1 {
		t.Errorf("expected frozen participant list, got %v", got)
	}
}

func TestAppendTranscript_RejectsEmptyText(t *testing.T) {
	r := NewRecord("https://meet.google.com/x")

	for _, text := range []string{"", "   ", "\n\t"} {
		if ok := r.AppendTranscript(TranscriptEntry{Timestamp: time.Now(), Speaker: "A", Text: text}); ok {
			t.Errorf("expected empty text %q to be rejected", text)
		}
	}
	if len(r.Transcript()) != 0 {
		t.Fatal("expected no stored entries")
	}

	if ok := r.AppendTranscript(TranscriptEntry{Timestamp: time.Now(), Speaker: "A", Text: "hello"}); !ok {
		t.Fatal("expected valid entry to be stored")
	}
}

func TestAppendTranscript_FrozenWhenTerminal(t *testing.T) {
	r := NewRecord("https://meet.google.com/x")
	r.End(StatusEnded)

	if ok := r.AppendTranscript(TranscriptEntry{Timestamp: time.Now(), Speaker: "A", Text: "late"}); ok {
		t.Error("expected append after end to be rejected")
	}
}

func TestSnapshot_RoundTripsAsJSON(t *testing.T) {
	r := NewRecord("https://meet.google.com/x")
	_ = r.SetStatus(StatusJoined)
	_ = r.SetParticipants([]string{"Ana", "Bo"})
	r.AppendTranscript(TranscriptEntry{Timestamp: time.Now(), Speaker: "Ana", Text: "hi", Confidence: 0.8})

	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	var parsed Snapshot
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if parsed.ID != r.ID() || parsed.Status != StatusJoined {
		t.Errorf("snapshot mismatch: %+v", parsed)
	}
	if len(parsed.Transcript) != 1 || parsed.Transcript[0].Text != "hi" {
		t.Errorf("transcript mismatch: %+v", parsed.Transcript)
	}
	if parsed.EndTime != nil {
		t.Error("expected nil end_time while active")
	}
}
