// Package caption implements the live transcription variant: the platform's
// own caption region is polled on an interval and new caption strings are
// filtered, attributed and appended to the session transcript as they appear.
package caption

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/meetagent/internal/diaglog"
	"github.com/tiroq/meetagent/internal/session"
	"github.com/tiroq/meetagent/internal/transcribe"
)

// Source reads caption strings out of the live meeting page.
type Source interface {
	// EnableCaptions turns the platform's caption feature on. Failure is
	// tolerated; captions may already be enabled or appear later.
	EnableCaptions() error

	// CaptionTexts returns every caption string currently rendered, in
	// document order. The list only grows between calls while the caption
	// region is stable.
	CaptionTexts() ([]string, error)
}

// Config configures the caption scraper.
type Config struct {
	Interval  time.Duration // default 2s
	MinLength int           // captions shorter than this are noise; default 3
}

// iconLabels are UI glyph names that leak into scraped text and are never
// speech.
var iconLabels = map[string]bool{
	"arrow_downward":      true,
	"keyboard_arrow_down": true,
	"keyboard_arrow_up":   true,
	"expand_more":         true,
	"expand_less":         true,
	"more_vert":           true,
	"mic":                 true,
	"mic_off":             true,
	"videocam":            true,
	"videocam_off":        true,
	"close":               true,
	"Jump to bottom":      true,
}

// defaultConfidence is assigned to scraped captions; the platform reports
// none of its own.
const defaultConfidence = 0.8

// Scraper polls a Source and feeds new captions into the transcript.
type Scraper struct {
	src  Source
	sink *transcribe.Sink
	cfg  Config

	mu        sync.Mutex
	active    bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastIndex int

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewScraper creates a caption scraper over src, writing into sink.
func NewScraper(src Source, sink *transcribe.Sink, cfg Config) *Scraper {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = 3
	}
	return &Scraper{src: src, sink: sink, cfg: cfg}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (s *Scraper) SetLogger(l *diaglog.Logger) {
	s.loggerMu.Lock()
	s.logger = l
	s.loggerMu.Unlock()
}

func (s *Scraper) log(entry diaglog.LogEntry) {
	s.loggerMu.RLock()
	l := s.logger
	s.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "caption-scraper"
	}
	l.Log(entry)
}

// Start enables captions on the platform and begins polling. Starting an
// already-running scraper is a no-op. A failed caption toggle does not
// prevent polling: the region is probed anyway and absence is tolerated.
func (s *Scraper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}

	if err := s.src.EnableCaptions(); err != nil {
		s.log(diaglog.LogEntry{
			Event:   "caption_tick",
			Level:   "warn",
			Payload: map[string]interface{}{"enable_error": err.Error()},
		})
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.active = true
	s.lastIndex = 0

	go s.poll(pollCtx)
	return nil
}

// Stop halts polling and waits for the in-flight tick to finish. Idempotent.
func (s *Scraper) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// IsActive reports whether the scraper is polling.
func (s *Scraper) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scraper) poll(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick reads the caption region once and appends whatever is new since the
// last cursor position. Read errors are non-fatal; an ended meeting is the
// monitor's call, not ours.
func (s *Scraper) tick() {
	texts, err := s.src.CaptionTexts()
	if err != nil {
		s.log(diaglog.LogEntry{
			Event:   "caption_tick",
			Level:   "warn",
			Payload: map[string]interface{}{"error": err.Error()},
		})
		return
	}

	s.mu.Lock()
	start := s.lastIndex
	if start > len(texts) {
		// Caption region was re-rendered from scratch; restart the cursor
		// rather than skipping what is there now.
		start = 0
	}
	s.lastIndex = len(texts)
	s.mu.Unlock()

	now := time.Now()
	accepted := 0
	for _, raw := range texts[start:] {
		speaker, text, ok := s.extract(raw)
		if !ok {
			continue
		}
		if s.sink.Append(session.TranscriptEntry{
			Timestamp:  now,
			Speaker:    speaker,
			Text:       text,
			Confidence: defaultConfidence,
		}) {
			accepted++
		}
	}

	if accepted > 0 {
		s.log(diaglog.LogEntry{
			Event:   "caption_tick",
			Payload: map[string]interface{}{"new": len(texts) - start, "accepted": accepted},
		})
	}
}

// extract filters noise out of one scraped string and splits off the speaker
// prefix. Returns ok=false for strings that are not speech.
func (s *Scraper) extract(raw string) (speaker, text string, ok bool) {
	cleaned := strings.TrimSpace(raw)
	if len(cleaned) < s.cfg.MinLength {
		return "", "", false
	}
	if iconLabels[cleaned] {
		return "", "", false
	}
	if s.isParticipantName(cleaned) {
		return "", "", false
	}

	speaker = transcribe.PlaceholderSpeaker
	text = cleaned
	if idx := strings.Index(cleaned, ": "); idx > 0 && idx <= 60 {
		name := strings.TrimSpace(cleaned[:idx])
		rest := strings.TrimSpace(cleaned[idx+2:])
		if name != "" && rest != "" {
			speaker = name
			text = rest
		}
	}
	if len(text) < s.cfg.MinLength {
		return "", "", false
	}
	return speaker, text, true
}

// isParticipantName reports whether the string is just a roster name
// rendered next to the caption rather than speech.
func (s *Scraper) isParticipantName(text string) bool {
	for _, name := range s.sink.Record().Participants() {
		if strings.EqualFold(text, name) {
			return true
		}
	}
	return false
}

// Entries returns a copy of the transcript so far.
func (s *Scraper) Entries() []session.TranscriptEntry {
	return s.sink.Record().Transcript()
}

// Stats summarises the transcript so far.
func (s *Scraper) Stats() transcribe.Stats {
	return transcribe.ComputeStats(s.Entries())
}

// ExportText renders the transcript as plain text.
func (s *Scraper) ExportText() string {
	return transcribe.ExportText(s.Entries())
}

// ExportJSON renders the transcript as an indented JSON array.
func (s *Scraper) ExportJSON() (string, error) {
	return transcribe.ExportJSON(s.Entries())
}
