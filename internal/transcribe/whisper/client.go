// Package whisper implements the batch transcription variant: completed
// recordings are sent to an OpenAI-compatible Whisper HTTP endpoint and the
// returned text is appended to the session transcript.
package whisper

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tiroq/meetagent/internal/diaglog"
)

// Config configures the Whisper API client.
type Config struct {
	BaseURL        string  // default https://api.openai.com
	APIKey         string  // sent as Bearer
	Model          string  // default "whisper-1"
	Language       string  // optional ISO-639-1 hint
	Prompt         string  // optional decoding prompt
	Temperature    float64 // 0 disables sampling variance
	TimeoutSeconds int     // default 120
	Retries        int     // default 3
}

// Client posts audio files to the transcription endpoint.
type Client struct {
	cfg         Config
	client      *http.Client
	backoffBase time.Duration // default time.Second; tests override to 1ms

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewClient creates a Whisper API client with defaults filled in.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Client{
		cfg:         cfg,
		backoffBase: time.Second,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "whisper-transcriber"
	}
	l.Log(entry)
}

// Model returns the model name requests are issued with.
func (c *Client) Model() string { return c.cfg.Model }

// Language returns the configured language hint.
func (c *Client) Language() string { return c.cfg.Language }

// APIError is a non-retryable rejection from the transcription endpoint.
// The response body is preserved verbatim so callers can see the service's
// own explanation.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whisper api http %d: %s", e.StatusCode, e.Body)
}

// transcribeResponse mirrors the json response_format of the API.
type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe sends the audio file to the API and returns the recognised
// text. Retries on transient errors (5xx, network) with exponential backoff.
func (c *Client) Transcribe(audioPath string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.log(diaglog.LogEntry{
				Event:   "transcribe_retry",
				Payload: map[string]interface{}{"attempt": attempt, "backoff_ms": backoff.Milliseconds()},
			})
			time.Sleep(backoff)
		}

		text, err := c.doTranscribe(audioPath)
		if err == nil {
			return text, nil
		}

		if !isRetryable(err) {
			return "", fmt.Errorf("transcribe %s: %w", filepath.Base(audioPath), err)
		}
		lastErr = err
	}

	return "", fmt.Errorf("transcribe %s: all %d retries exhausted: %w", filepath.Base(audioPath), c.cfg.Retries, lastErr)
}

// doTranscribe performs a single multipart POST to the transcription endpoint.
func (c *Client) doTranscribe(audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()

		part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
		if err != nil {
			errCh <- fmt.Errorf("create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			errCh <- fmt.Errorf("copy audio data: %w", err)
			return
		}
		_ = writer.WriteField("model", c.cfg.Model)
		if c.cfg.Language != "" {
			_ = writer.WriteField("language", c.cfg.Language)
		}
		if c.cfg.Prompt != "" {
			_ = writer.WriteField("prompt", c.cfg.Prompt)
		}
		_ = writer.WriteField("temperature", strconv.FormatFloat(c.cfg.Temperature, 'f', -1, 64))
		_ = writer.WriteField("response_format", "json")

		errCh <- writer.Close()
	}()

	url := c.cfg.BaseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequest(http.MethodPost, url, pr)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return "", fmt.Errorf("multipart write: %w", writeErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return "", &retryableError{err: &APIError{StatusCode: resp.StatusCode, Body: string(body)}}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return parsed.Text, nil
}

// retryableError wraps errors that should trigger a retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*retryableError)
	return ok
}

// backoff returns exponential backoff duration: base * 2^(attempt-1) + jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.backoffBase
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}
