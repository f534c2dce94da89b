// Package record drives in-page media capture. Audio is recorded by a
// MediaRecorder living inside the meeting page; on stop the captured bytes
// travel back base64-encoded and are decoded to a file in the session
// directory. Video has no in-page capture path, so a placeholder artifact
// marks where it would land.
package record

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/meetagent/internal/diaglog"
)

// Bridge is the page-side capture surface. Implementations inject the
// recorder into the live page and pull the result back out.
type Bridge interface {
	// StartCapture arms a MediaRecorder in the page. When the microphone
	// stream is unavailable the implementation may substitute a silent
	// generated stream so the session still produces an artifact.
	StartCapture() error

	// StopCapture stops the recorder and returns the captured audio as a
	// base64 payload, with or without a data-URL prefix.
	StopCapture() (string, error)
}

// Config configures the recording controller.
type Config struct {
	EnableAudio bool
	EnableVideo bool
}

// Result describes one completed (or failed) recording.
type Result struct {
	AudioPath string
	VideoPath string
	Duration  time.Duration
	Success   bool
}

// placeholderAudio is written when capture retrieval fails, so the session
// directory always shows what was attempted.
var placeholderAudio = []byte("placeholder: audio capture unavailable\n")

// placeholderVideo marks the video slot; there is no in-page video capture.
var placeholderVideo = []byte("placeholder: video capture not implemented\n")

// Controller owns the idle/recording state for one session.
type Controller struct {
	bridge Bridge
	dir    string
	cfg    Config

	mu        sync.Mutex
	recording bool
	startTime time.Time

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// New creates a recording controller writing artifacts into dir.
func New(bridge Bridge, dir string, cfg Config) *Controller {
	return &Controller{bridge: bridge, dir: dir, cfg: cfg}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Controller) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Controller) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "recording"
	}
	l.Log(entry)
}

// IsRecording reports whether a capture is in progress.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Duration returns the elapsed capture time, or zero when idle.
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return 0
	}
	return time.Since(c.startTime)
}

// Start arms the page-side recorder. Starting while already recording is a
// no-op. A bridge failure leaves the controller idle.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		return nil
	}

	if c.cfg.EnableAudio {
		if err := c.bridge.StartCapture(); err != nil {
			return fmt.Errorf("start capture: %w", err)
		}
	}

	c.recording = true
	c.startTime = time.Now()
	c.log(diaglog.LogEntry{Event: "recording_start"})
	return nil
}

// Stop finishes the capture and writes the artifacts. Stopping while idle
// returns a zero, unsuccessful Result and no error; there is nothing to
// tear down. Failure to retrieve the captured audio is absorbed: a
// placeholder artifact is written and the Result reports Success false.
// The returned error is reserved for local filesystem failures.
func (c *Controller) Stop() (Result, error) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return Result{Duration: 0, Success: false}, nil
	}
	c.recording = false
	duration := time.Since(c.startTime)
	c.mu.Unlock()

	res := Result{Duration: duration, Success: true}
	now := time.Now().Unix()

	if c.cfg.EnableVideo {
		videoPath := filepath.Join(c.dir, fmt.Sprintf("video_%d.mp4", now))
		if err := os.WriteFile(videoPath, placeholderVideo, 0644); err != nil {
			return Result{Duration: duration, Success: false}, fmt.Errorf("write video placeholder: %w", err)
		}
		res.VideoPath = videoPath
	}

	if c.cfg.EnableAudio {
		audioPath := filepath.Join(c.dir, fmt.Sprintf("audio_%d.webm", now))
		payload, err := c.bridge.StopCapture()
		if err == nil {
			var data []byte
			data, err = decodePayload(payload)
			if err == nil {
				err = os.WriteFile(audioPath, data, 0644)
			}
		}
		if err != nil {
			c.log(diaglog.LogEntry{
				Event:   "recording_fallback",
				Level:   "warn",
				Payload: map[string]interface{}{"error": err.Error()},
			})
			if werr := os.WriteFile(audioPath, placeholderAudio, 0644); werr != nil {
				return Result{Duration: duration, Success: false}, fmt.Errorf("write audio placeholder: %w", werr)
			}
			res.Success = false
		}
		res.AudioPath = audioPath
	}

	c.log(diaglog.LogEntry{
		Event: "recording_stop",
		Payload: map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"success":     res.Success,
		},
	})
	return res, nil
}

// decodePayload decodes the base64 capture payload, tolerating a data-URL
// prefix ("data:audio/webm;base64,...") left on by the page side.
func decodePayload(payload string) ([]byte, error) {
	if idx := strings.Index(payload, ","); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}
	if strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("empty capture payload")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode capture payload: %w", err)
	}
	return data, nil
}
