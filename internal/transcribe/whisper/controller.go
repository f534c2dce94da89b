package whisper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tiroq/meetagent/internal/diaglog"
	"github.com/tiroq/meetagent/internal/session"
	"github.com/tiroq/meetagent/internal/transcribe"
)

// BatchConfig configures the batch controller.
type BatchConfig struct {
	// KeepAudio preserves the source file after a successful transcription.
	// The default is to delete it once its text is in the transcript.
	// Failed files are always kept for manual retry.
	KeepAudio bool
}

// Batch is the recording-driven transcription controller. It stays idle
// until a completed recording is handed to Process; there is no polling.
type Batch struct {
	client *Client
	sink   *transcribe.Sink
	cfg    BatchConfig

	mu     sync.Mutex
	active bool

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewBatch creates a batch controller writing into sink.
func NewBatch(client *Client, sink *transcribe.Sink, cfg BatchConfig) *Batch {
	return &Batch{client: client, sink: sink, cfg: cfg}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (b *Batch) SetLogger(l *diaglog.Logger) {
	b.loggerMu.Lock()
	b.logger = l
	b.loggerMu.Unlock()
	b.client.SetLogger(l)
}

func (b *Batch) log(entry diaglog.LogEntry) {
	b.loggerMu.RLock()
	l := b.logger
	b.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "whisper-transcriber"
	}
	l.Log(entry)
}

// Start arms the controller. Starting twice is a no-op.
func (b *Batch) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
	return nil
}

// Stop disarms the controller. Recordings handed in afterwards are ignored.
func (b *Batch) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
}

// IsActive reports whether the controller accepts recordings.
func (b *Batch) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Process transcribes a completed recording. An empty path means the
// recording produced no retrievable audio; that is not an error, there is
// simply nothing to transcribe. On success the recognised text lands in the
// transcript as a single entry and the audio file is deleted unless the
// config opts out. On failure the file is kept and the error is both
// reported to the sink and returned.
func (b *Batch) Process(audioPath string) error {
	if !b.IsActive() {
		return nil
	}
	if audioPath == "" {
		return nil
	}

	b.log(diaglog.LogEntry{
		Event:   "transcribe_request",
		Payload: map[string]interface{}{"file": filepath.Base(audioPath)},
	})

	text, err := b.client.Transcribe(audioPath)
	if err != nil {
		b.log(diaglog.LogEntry{
			Event:   "transcribe_failed",
			Level:   "error",
			Payload: map[string]interface{}{"file": filepath.Base(audioPath), "error": err.Error()},
		})
		b.sink.ReportError(err)
		return err
	}

	entry := session.TranscriptEntry{
		Timestamp:  time.Now(),
		Speaker:    transcribe.PlaceholderSpeaker,
		Text:       text,
		Confidence: 0.95,
	}
	if !b.sink.Append(entry) {
		// Blank recognition result or a session already closed out.
		b.log(diaglog.LogEntry{
			Event:   "transcribe_done",
			Payload: map[string]interface{}{"file": filepath.Base(audioPath), "accepted": false},
		})
	} else {
		b.log(diaglog.LogEntry{
			Event:   "transcribe_done",
			Payload: map[string]interface{}{"file": filepath.Base(audioPath), "chars": len(text)},
		})
	}

	if !b.cfg.KeepAudio {
		if err := os.Remove(audioPath); err != nil {
			return fmt.Errorf("remove transcribed audio: %w", err)
		}
	}
	return nil
}

// Entries returns a copy of the transcript so far.
func (b *Batch) Entries() []session.TranscriptEntry {
	return b.sink.Record().Transcript()
}

// Stats summarises the transcript so far.
func (b *Batch) Stats() transcribe.Stats {
	return transcribe.ComputeStats(b.Entries())
}

// ExportText renders the transcript as plain text.
func (b *Batch) ExportText() string {
	return transcribe.ExportText(b.Entries())
}

// ExportJSON renders the transcript as an indented JSON array.
func (b *Batch) ExportJSON() (string, error) {
	return transcribe.ExportJSON(b.Entries())
}
