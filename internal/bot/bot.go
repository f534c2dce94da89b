// Package bot is the facade over one unattended meeting session. It owns
// the session record and the component lifecycles: browser up, join flow,
// watch loop, capture, transcription, ordered teardown. Callers talk to the
// Bot; the components talk to the page.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tiroq/meetagent/internal/browser"
	"github.com/tiroq/meetagent/internal/diaglog"
	"github.com/tiroq/meetagent/internal/fileutil"
	"github.com/tiroq/meetagent/internal/join"
	"github.com/tiroq/meetagent/internal/locator"
	"github.com/tiroq/meetagent/internal/meet"
	"github.com/tiroq/meetagent/internal/monitor"
	"github.com/tiroq/meetagent/internal/platform"
	"github.com/tiroq/meetagent/internal/record"
	"github.com/tiroq/meetagent/internal/session"
	"github.com/tiroq/meetagent/internal/transcribe"
	"github.com/tiroq/meetagent/internal/transcribe/caption"
	"github.com/tiroq/meetagent/internal/transcribe/whisper"
	"github.com/tiroq/meetagent/internal/transcript"
)

// Version is stamped into recording metadata; overridden at build time.
var Version = "dev"

// Transcription mode names accepted in Config.Transcription.
const (
	TranscriptionWhisper  = "whisper"
	TranscriptionCaptions = "captions"
	TranscriptionOff      = "off"
)

// Callbacks receive session events. All fields are optional; they fire from
// bot-owned goroutines and must not block.
type Callbacks struct {
	OnStatusChange  func(session.Status)
	OnParticipants  func([]string)
	OnTranscription func(session.TranscriptEntry)
	OnError         func(error)
}

// Config configures one bot run.
type Config struct {
	MeetingURL    string
	BotName       string
	Headless      bool
	BrowserBin    string
	DisableMic    bool
	DisableCamera bool

	EnableAudio bool
	EnableVideo bool
	AutoRecord  bool

	RecordingsDir     string
	ConfigDir         string // selector rule overrides
	TranscriptFormats []string

	Transcription string // whisper | captions | off
	Whisper       whisper.Config
	KeepAudio     bool // keep audio after successful batch transcription; default deletes

	CaptionInterval time.Duration
	Join            join.Config
	Monitor         monitor.Config
}

// Component seams. Production wiring fills these with the rod-backed
// implementations; tests inject fakes.
type browserSession interface {
	Start(ctx context.Context) error
	Close() error
}

type joinFlow interface {
	Join(ctx context.Context, url string) error
}

type watcher interface {
	Start(ctx context.Context)
	Stop()
}

type capturer interface {
	Start() error
	Stop() (record.Result, error)
	IsRecording() bool
}

// recordingConsumer is the optional transcriber capability of taking a
// finished audio file (the batch variant).
type recordingConsumer interface {
	Process(audioPath string) error
}

type components struct {
	browser        browserSession
	joiner         joinFlow
	newMonitor     func(rec *session.Record, cb monitor.Callbacks) watcher
	newRecorder    func(dir string) capturer
	newTranscriber func(sink *transcribe.Sink) transcribe.Controller
}

// Bot drives one meeting session end to end.
type Bot struct {
	cfg    Config
	cb     Callbacks
	comps  components
	logger *diaglog.Logger

	mu         sync.Mutex
	rec        *session.Record
	sessionDir string
	mon        watcher
	recorder   capturer
	trans      transcribe.Controller
	cancel     context.CancelFunc
	started    bool
	stopped    bool
}

// New creates a fully wired bot. The browser is not launched until Start.
func New(cfg Config, cb Callbacks) (*Bot, error) {
	rules, err := locator.Load(cfg.ConfigDir)
	if err != nil {
		return nil, err
	}

	mgr := browser.New(browser.Config{
		Headless: cfg.Headless,
		Bin:      cfg.BrowserBin,
	})
	driver := meet.NewDriver(mgr, rules)

	joinCfg := cfg.Join
	joinCfg.BotName = cfg.BotName
	joinCfg.DisableMic = cfg.DisableMic
	joinCfg.DisableCamera = cfg.DisableCamera

	comps := components{
		browser: mgr,
		joiner:  join.New(driver, joinCfg),
		newMonitor: func(rec *session.Record, mcb monitor.Callbacks) watcher {
			return monitor.New(driver, rec, cfg.Monitor, mcb)
		},
		newRecorder: func(dir string) capturer {
			return record.New(driver, dir, record.Config{
				EnableAudio: cfg.EnableAudio,
				EnableVideo: cfg.EnableVideo,
			})
		},
		newTranscriber: func(sink *transcribe.Sink) transcribe.Controller {
			switch cfg.Transcription {
			case TranscriptionCaptions:
				return caption.NewScraper(driver, sink, caption.Config{Interval: cfg.CaptionInterval})
			case TranscriptionWhisper:
				client := whisper.NewClient(cfg.Whisper)
				return whisper.NewBatch(client, sink, whisper.BatchConfig{KeepAudio: cfg.KeepAudio})
			default:
				return &noopTranscriber{sink: sink}
			}
		},
	}

	return newWithComponents(cfg, cb, comps), nil
}

// newWithComponents is the injection seam used by New and by tests.
func newWithComponents(cfg Config, cb Callbacks, comps components) *Bot {
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = "recordings"
	}
	return &Bot{cfg: cfg, cb: cb, comps: comps}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (b *Bot) SetLogger(l *diaglog.Logger) { b.logger = l }

func (b *Bot) log(entry diaglog.LogEntry) {
	if b.logger == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "meetagent-core"
	}
	b.logger.Log(entry)
}

// Start validates the meeting URL, brings the browser up, runs the join
// flow and launches the watch loop plus the configured transcription
// variant. Unsupported platforms are rejected before any resource is
// allocated. A failure mid-flight tears the browser down and leaves the
// session in the error state.
func (b *Bot) Start(ctx context.Context) error {
	if _, err := platform.Validate(b.cfg.MeetingURL); err != nil {
		return err
	}

	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("bot: already started")
	}
	b.started = true

	rec := session.NewRecord(b.cfg.MeetingURL)
	b.rec = rec

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	b.emitStatus(session.StatusConnecting)

	dir, err := fileutil.EnsureSessionDir(b.cfg.RecordingsDir, rec.ID())
	if err != nil {
		return b.fail(err)
	}
	b.mu.Lock()
	b.sessionDir = dir
	b.mu.Unlock()

	if err := b.comps.browser.Start(runCtx); err != nil {
		return b.fail(err)
	}

	if err := b.comps.joiner.Join(runCtx, b.cfg.MeetingURL); err != nil {
		return b.fail(err)
	}

	if err := rec.SetStatus(session.StatusJoined); err != nil {
		return b.fail(err)
	}
	b.emitStatus(session.StatusJoined)

	mon := b.comps.newMonitor(rec, monitor.Callbacks{
		OnParticipants: func(names []string) {
			if b.cb.OnParticipants != nil {
				b.cb.OnParticipants(names)
			}
		},
		OnEnded: func() {
			// The meeting is over; run the normal teardown off the
			// monitor goroutine.
			go func() { _ = b.Stop() }()
		},
		OnError: b.reportError,
	})
	mon.Start(runCtx)

	sink := transcribe.NewSink(rec, func(e session.TranscriptEntry) {
		if b.cb.OnTranscription != nil {
			b.cb.OnTranscription(e)
		}
	}, b.reportError)
	trans := b.comps.newTranscriber(sink)
	if err := trans.Start(runCtx); err != nil {
		b.reportError(err)
	}

	b.mu.Lock()
	b.mon = mon
	b.trans = trans
	b.mu.Unlock()

	if b.cfg.AutoRecord {
		if err := b.StartRecording(); err != nil {
			b.reportError(err)
		}
	}

	return nil
}

// fail ends the session in the error state and tears the browser down.
func (b *Bot) fail(err error) error {
	b.mu.Lock()
	rec := b.rec
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()

	if rec != nil {
		rec.End(session.StatusError)
		b.emitStatus(session.StatusError)
	}
	b.reportError(err)
	if cancel != nil {
		cancel()
	}
	_ = b.comps.browser.Close()
	b.log(diaglog.LogEntry{Event: "join_failed", Level: "error", Payload: map[string]interface{}{"error": err.Error()}})
	return err
}

// Stop runs the ordered teardown: watch loop first, then the capture flush
// (handing finished audio to the batch transcriber), then transcription,
// then the record is closed and persisted, and the browser goes down last.
// Stop is idempotent; the monitor's end-of-meeting signal and an operator
// stop may race freely.
func (b *Bot) Stop() error {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	rec := b.rec
	mon := b.mon
	recorder := b.recorder
	trans := b.trans
	cancel := b.cancel
	dir := b.sessionDir
	b.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}

	if recorder != nil && recorder.IsRecording() {
		res, err := recorder.Stop()
		if err != nil {
			b.reportError(err)
		} else {
			b.finishRecording(res, trans)
		}
	}

	if trans != nil {
		trans.Stop()
	}

	rec.End(session.StatusEnded)
	b.emitStatus(rec.Status())

	if dir != "" {
		base := filepath.Join(dir, "transcript")
		if err := transcript.WriteAll(base, rec.Transcript(), rec.StartTime(), b.cfg.TranscriptFormats); err != nil {
			b.reportError(err)
		}
		if err := b.writeSnapshot(dir, rec); err != nil {
			b.reportError(err)
		}
	}

	if cancel != nil {
		cancel()
	}
	return b.comps.browser.Close()
}

// finishRecording hands a completed capture to the batch transcriber (when
// one is configured) and writes the artifact's metadata sidecar.
func (b *Bot) finishRecording(res record.Result, trans transcribe.Controller) {
	var transcribed bool
	var transErr error
	if consumer, ok := trans.(recordingConsumer); ok && res.Success && res.AudioPath != "" {
		transErr = consumer.Process(res.AudioPath)
		if transErr != nil {
			b.reportError(transErr)
		} else {
			transcribed = true
		}
	}

	if res.AudioPath == "" && res.VideoPath == "" {
		return
	}
	path := res.AudioPath
	if path == "" {
		path = res.VideoPath
	}
	rec := b.record()
	meta := &fileutil.RecordingMetadata{
		Version:    Version,
		SessionID:  rec.ID(),
		MeetingURL: rec.URL(),
		Platform:   string(platform.PlatformGoogleMeet),
		StartedAt:  rec.StartTime(),
		StoppedAt:  time.Now(),
		DurationMs: res.Duration.Milliseconds(),
		AudioFile:  res.AudioPath,
		VideoFile:  res.VideoPath,
		Success:    res.Success,
	}
	if b.cfg.Transcription == TranscriptionWhisper {
		meta.Transcription = &fileutil.TranscriptionMeta{
			Backend:  TranscriptionWhisper,
			Model:    b.cfg.Whisper.Model,
			Language: b.cfg.Whisper.Language,
			Success:  transcribed,
		}
		if transcribed {
			meta.Transcription.TranscribedAt = time.Now()
		} else if transErr != nil {
			meta.Transcription.Error = transErr.Error()
		}
	}
	if err := fileutil.WriteMetadata(path, meta); err != nil {
		b.reportError(err)
	}
}

// writeSnapshot persists the final session record alongside the artifacts.
func (b *Bot) writeSnapshot(dir string, rec *session.Record) error {
	data, err := json.MarshalIndent(rec.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "session.json"), append(data, '\n'), 0644)
}

// StartRecording arms the capture. The session moves to the recording
// state; starting while already recording is a no-op.
func (b *Bot) StartRecording() error {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return fmt.Errorf("bot: not running")
	}
	if b.recorder == nil {
		b.recorder = b.comps.newRecorder(b.sessionDir)
	}
	recorder := b.recorder
	rec := b.rec
	b.mu.Unlock()

	if recorder.IsRecording() {
		return nil
	}
	if err := recorder.Start(); err != nil {
		return err
	}
	if err := rec.SetStatus(session.StatusRecording); err == nil {
		b.emitStatus(session.StatusRecording)
	}
	return nil
}

// StopRecording flushes the capture and hands the audio to the batch
// transcriber. The session status is not rewound; the lifecycle only moves
// forward.
func (b *Bot) StopRecording() (record.Result, error) {
	b.mu.Lock()
	recorder := b.recorder
	trans := b.trans
	b.mu.Unlock()

	if recorder == nil {
		return record.Result{}, nil
	}
	res, err := recorder.Stop()
	if err != nil {
		return res, err
	}
	if res.AudioPath != "" || res.VideoPath != "" {
		b.finishRecording(res, trans)
	}
	return res, nil
}

// ToggleRecording flips the capture state and reports whether the bot is
// recording afterwards.
func (b *Bot) ToggleRecording() (bool, error) {
	if b.IsRecording() {
		_, err := b.StopRecording()
		return false, err
	}
	if err := b.StartRecording(); err != nil {
		return false, err
	}
	return true, nil
}

// IsRecording reports whether a capture is in progress.
func (b *Bot) IsRecording() bool {
	b.mu.Lock()
	recorder := b.recorder
	b.mu.Unlock()
	return recorder != nil && recorder.IsRecording()
}

// record returns the session record, which exists from Start onwards.
func (b *Bot) record() *session.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec
}

// Status returns the session lifecycle status.
func (b *Bot) Status() session.Status {
	rec := b.record()
	if rec == nil {
		return ""
	}
	return rec.Status()
}

// Session returns a point-in-time copy of the whole session record.
func (b *Bot) Session() session.Snapshot {
	rec := b.record()
	if rec == nil {
		return session.Snapshot{}
	}
	return rec.Snapshot()
}

// Participants returns the current participant set.
func (b *Bot) Participants() []string {
	rec := b.record()
	if rec == nil {
		return nil
	}
	return rec.Participants()
}

// Transcriptions returns the transcript so far.
func (b *Bot) Transcriptions() []session.TranscriptEntry {
	rec := b.record()
	if rec == nil {
		return nil
	}
	return rec.Transcript()
}

// TranscriptionStats summarises the transcript so far.
func (b *Bot) TranscriptionStats() transcribe.Stats {
	return transcribe.ComputeStats(b.Transcriptions())
}

// ExportTranscriptionText renders the transcript as plain text.
func (b *Bot) ExportTranscriptionText() string {
	return transcribe.ExportText(b.Transcriptions())
}

// ExportTranscriptionJSON renders the transcript as an indented JSON array.
func (b *Bot) ExportTranscriptionJSON() (string, error) {
	return transcribe.ExportJSON(b.Transcriptions())
}

// SessionDir returns the per-session artifact directory, once allocated.
func (b *Bot) SessionDir() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionDir
}

func (b *Bot) emitStatus(s session.Status) {
	b.log(diaglog.LogEntry{Event: "status_change", Payload: map[string]interface{}{"status": string(s)}})
	if b.cb.OnStatusChange != nil {
		b.cb.OnStatusChange(s)
	}
}

func (b *Bot) reportError(err error) {
	if err == nil {
		return
	}
	b.log(diaglog.LogEntry{Event: "component_error", Level: "error", Payload: map[string]interface{}{"error": err.Error()}})
	if b.cb.OnError != nil {
		b.cb.OnError(err)
	}
}

// noopTranscriber satisfies the transcription seam when transcription is
// off; exports still read whatever landed in the record.
type noopTranscriber struct {
	sink *transcribe.Sink
}

func (n *noopTranscriber) Start(ctx context.Context) error { return nil }
func (n *noopTranscriber) Stop()                           {}
func (n *noopTranscriber) IsActive() bool                  { return false }

func (n *noopTranscriber) Entries() []session.TranscriptEntry {
	return n.sink.Record().Transcript()
}

func (n *noopTranscriber) Stats() transcribe.Stats {
	return transcribe.ComputeStats(n.Entries())
}

func (n *noopTranscriber) ExportText() string {
	return transcribe.ExportText(n.Entries())
}

func (n *noopTranscriber) ExportJSON() (string, error) {
	return transcribe.ExportJSON(n.Entries())
}
