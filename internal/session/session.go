// Package session holds the shared mutable record of one bot run: status,
// participants, transcript and timestamps. Exactly one Record exists per run;
// the bot facade owns it and hands references to the controllers, each of
// which mutates only its designated fields.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusJoined     Status = "joined"
	StatusRecording  Status = "recording"
	StatusEnded      Status = "ended"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusError
}

// validNext enumerates the permitted status transitions.
var validNext = map[Status][]Status{
	StatusConnecting: {StatusJoined, StatusError},
	StatusJoined:     {StatusRecording, StatusEnded, StatusError},
	StatusRecording:  {StatusEnded},
	StatusEnded:      {},
	StatusError:      {},
}

// TranscriptEntry is one timestamped, speaker-attributed fragment of the
// session transcript. Speaker falls back to a generic placeholder when
// attribution is unavailable. Text is never empty in a stored entry.
type TranscriptEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Record is the session record. All methods are safe for concurrent use;
// the controllers run on independent timers.
type Record struct {
	mu           sync.Mutex
	id           string
	url          string
	startTime    time.Time
	endTime      time.Time
	status       Status
	participants []string
	transcript   []TranscriptEntry
}

// NewRecord creates a session record in the connecting state with a
// time+random derived identity unique per run.
func NewRecord(url string) *Record {
	now := time.Now()
	return &Record{
		id:        fmt.Sprintf("session_%s_%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8]),
		url:       url,
		startTime: now,
		status:    StatusConnecting,
	}
}

// ID returns the session identity.
func (r *Record) ID() string { return r.id }

// URL returns the source meeting URL.
func (r *Record) URL() string { return r.url }

// StartTime returns when the record was created.
func (r *Record) StartTime() time.Time { return r.startTime }

// EndTime returns when the session ended, or the zero time while active.
func (r *Record) EndTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endTime
}

// Status returns the current lifecycle status.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus transitions the session to next. Transitions out of a terminal
// state, and transitions not on the lifecycle graph, are rejected.
func (r *Record) SetStatus(next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == next {
		return nil
	}
	if !transitionAllowed(r.status, next) {
		return fmt.Errorf("session: invalid transition %s -> %s", r.status, next)
	}
	r.status = next
	if next.IsTerminal() {
		r.endTime = time.Now()
	}
	return nil
}

// End drives the session to a terminal status and freezes the record.
// Ending an already-terminal session is a no-op. When final is not on the
// lifecycle graph from the current status (a stop racing a still-connecting
// start, a component error mid-recording), the terminal status that IS
// reachable is recorded instead, so the stored history never leaves the
// graph.
func (r *Record) End(final Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !final.IsTerminal() || r.status.IsTerminal() {
		return
	}
	if !transitionAllowed(r.status, final) {
		for _, next := range validNext[r.status] {
			if next.IsTerminal() {
				final = next
				break
			}
		}
	}
	r.status = final
	r.endTime = time.Now()
}

// transitionAllowed reports whether from -> to is an edge of the lifecycle
// graph. Every non-terminal status has at least one terminal successor, so
// End always has somewhere legal to land.
func transitionAllowed(from, to Status) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Participants returns a copy of the current participant set.
func (r *Record) Participants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.participants))
	copy(out, r.participants)
	return out
}

// SetParticipants replaces the participant list with the deduplicated names
// and reports whether the resulting set differs from the previous one.
// Raw probe output may contain duplicates; the stored list never does.
// Frozen once the session is terminal.
func (r *Record) SetParticipants(names []string) bool {
	deduped := dedupe(names)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() {
		return false
	}
	if sameSet(r.participants, deduped) {
		return false
	}
	r.participants = deduped
	return true
}

// AppendTranscript appends one transcript entry and reports whether it was
// stored. Empty or whitespace-only text is rejected; noise filtering happens
// before construction, this is the last-line invariant check. Append-only
// while active, frozen once terminal.
func (r *Record) AppendTranscript(e TranscriptEntry) bool {
	if strings.TrimSpace(e.Text) == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() {
		return false
	}
	r.transcript = append(r.transcript, e)
	return true
}

// Transcript returns a copy of the transcript in insertion order.
func (r *Record) Transcript() []TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TranscriptEntry, len(r.transcript))
	copy(out, r.transcript)
	return out
}

// Snapshot is a plain-JSON view of the record, in the shape handed to the
// persistence layer.
type Snapshot struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	Status       Status            `json:"status"`
	Participants []string          `json:"participants"`
	Transcript   []TranscriptEntry `json:"transcription"`
}

// Snapshot returns a point-in-time copy of the whole record.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		ID:           r.id,
		URL:          r.url,
		StartTime:    r.startTime,
		Status:       r.status,
		Participants: append([]string(nil), r.participants...),
		Transcript:   append([]TranscriptEntry(nil), r.transcript...),
	}
	if !r.endTime.IsZero() {
		t := r.endTime
		snap.EndTime = &t
	}
	return snap
}

// Duration returns the session length so far, or the final length once ended.
func (r *Record) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.endTime.IsZero() {
		return r.endTime.Sub(r.startTime)
	}
	return time.Since(r.startTime)
}

// dedupe removes duplicate names, preserving first-seen order and dropping
// empty strings.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// sameSet compares two deduplicated slices as sets; order is irrelevant.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, n := range a {
		set[n] = true
	}
	for _, n := range b {
		if !set[n] {
			return false
		}
	}
	return true
}
