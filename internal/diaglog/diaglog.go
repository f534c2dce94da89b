// Package diaglog provides structured NDJSON diagnostic logging for the
// meeting agent. Activated by MEETAGENT_DEBUG=true. When the env var is
// absent, all Log calls are no-ops and no file is created.
package diaglog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentBrowser       = "browser-manager"
	ComponentJoin          = "join-controller"
	ComponentMonitor       = "monitor-loop"
	ComponentRecording     = "recording"
	ComponentWhisper       = "whisper-transcriber"
	ComponentCaption       = "caption-scraper"
	ComponentControlServer = "control-server"
	ComponentAgentCore     = "meetagent-core"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventBrowserLaunch       = "browser_launch"
	EventBrowserClose        = "browser_close"
	EventJoinStep            = "join_step"
	EventJoinRetry           = "join_retry"
	EventAdmissionConfirmed  = "admission_confirmed"
	EventJoinFailed          = "join_failed"
	EventParticipantsChanged = "participants_changed"
	EventLivenessLost        = "liveness_lost"
	EventProbeError          = "probe_error"
	EventRecordingStart      = "recording_start"
	EventRecordingStop       = "recording_stop"
	EventRecordingFallback   = "recording_fallback"
	EventTranscribeRequest   = "transcribe_request"
	EventTranscribeRetry     = "transcribe_retry"
	EventTranscribeDone      = "transcribe_done"
	EventTranscribeFailed    = "transcribe_failed"
	EventCaptionTick         = "caption_tick"
	EventWSSend              = "ws_send"
	EventWSRecv              = "ws_recv"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`              // RFC3339Nano
	Component string                 `json:"component"`       // see Component* constants
	Event     string                 `json:"event"`           // see Event* constants
	Level     string                 `json:"level,omitempty"` // "warn"/"error"; empty means info
	SessionID string                 `json:"session_id,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"` // redacted before write
}

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values to a rolling NDJSON file. When debug mode is
// disabled every Log call is a no-op.
type Logger struct {
	rw      *rollingWriter
	mu      sync.Mutex
	enabled bool
}

// maxLogBytes caps the debug log; one meeting's worth of events fits with
// room to spare, and a forgotten MEETAGENT_DEBUG can't fill the disk.
const maxLogBytes = 10 * 1024 * 1024

// New opens (or creates) the NDJSON log file at path. If debug mode is
// disabled, path is ignored and a no-op logger is returned.
func New(path string) (*Logger, error) {
	if !IsDebugEnabled() {
		return &Logger{enabled: false}, nil
	}
	rw, err := newRollingWriter(path, maxLogBytes)
	if err != nil {
		return nil, err
	}
	return &Logger{rw: rw, enabled: true}, nil
}

// Log serialises entry to JSON, appends a newline, and writes to the rolling
// file. Sensitive payload fields are redacted before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload).(map[string]interface{})
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.rw.Write(data)
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.close()
}

// IsDebugEnabled reports whether MEETAGENT_DEBUG is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv("MEETAGENT_DEBUG") == "true"
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
