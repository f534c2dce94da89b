// Package browser owns the headless Chrome session: launch, hardening
// against automation detection, media permission grants and ordered
// teardown. Everything that touches the live page goes through Do, which
// refuses work once the session is closed.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/tiroq/meetagent/internal/diaglog"
)

// ErrClosed is returned by Do after Close. Timer-driven callers treat it as
// the session being over, not as a fault.
var ErrClosed = errors.New("browser: session closed")

// Config configures the browser session.
type Config struct {
	Headless  bool
	Bin       string        // optional explicit Chrome binary
	UserAgent string        // default: realistic desktop Chrome
	SlowMo    time.Duration // per-action delay, for debugging
	GrantFor  string        // origin granted mic/camera; default Meet
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// stealthJS runs before any page script and hides the usual automation
// tells: the webdriver flag, an empty plugin list, missing languages.
const stealthJS = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
	if (window.chrome && window.chrome.runtime) {
		delete window.chrome.runtime.onConnect;
	}
}`

// Manager is the lifecycle owner of one Chrome instance and its single
// meeting page.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	cleanup func()
	closed  bool

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// New creates a manager; the browser launches on Start.
func New(cfg Config) *Manager {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.GrantFor == "" {
		cfg.GrantFor = "https://meet.google.com"
	}
	return &Manager{cfg: cfg}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (m *Manager) SetLogger(l *diaglog.Logger) {
	m.loggerMu.Lock()
	m.logger = l
	m.loggerMu.Unlock()
}

func (m *Manager) log(entry diaglog.LogEntry) {
	m.loggerMu.RLock()
	l := m.logger
	m.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "browser-manager"
	}
	l.Log(entry)
}

// Start launches Chrome, opens the meeting page and applies the stealth and
// permission setup. A manager can be started once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.browser != nil {
		return nil
	}

	l := launcher.New().
		Headless(m.cfg.Headless).
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled").
		Set("use-fake-ui-for-media-stream").
		Set("use-fake-device-for-media-stream").
		Set("disable-dev-shm-usage").
		Set("disable-background-timer-throttling").
		Set("disable-renderer-backgrounding").
		Set("disable-default-apps").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-sync").
		Set("disable-component-update")
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}
	m.cleanup = l.Cleanup

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if m.cfg.SlowMo > 0 {
		browser = browser.SlowMotion(m.cfg.SlowMo)
	}
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	if err := (proto.BrowserGrantPermissions{
		Permissions: []proto.BrowserPermissionType{
			proto.BrowserPermissionTypeAudioCapture,
			proto.BrowserPermissionTypeVideoCapture,
		},
		Origin: m.cfg.GrantFor,
	}).Call(browser); err != nil {
		_ = browser.Close()
		return fmt.Errorf("grant media permissions: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("open page: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: m.cfg.UserAgent,
	}); err != nil {
		_ = browser.Close()
		return fmt.Errorf("set user agent: %w", err)
	}
	if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
		_ = browser.Close()
		return fmt.Errorf("install stealth script: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1280,
		Height:            720,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = browser.Close()
		return fmt.Errorf("set viewport: %w", err)
	}

	m.browser = browser
	m.page = page
	m.log(diaglog.LogEntry{
		Event:   "browser_launch",
		Payload: map[string]interface{}{"headless": m.cfg.Headless},
	})
	return nil
}

// Do runs fn against the live page. After Close every call returns
// ErrClosed; the probes running on timers rely on that to wind down
// instead of blowing up against a dead page.
func (m *Manager) Do(fn func(page *rod.Page) error) error {
	m.mu.Lock()
	if m.closed || m.page == nil {
		m.mu.Unlock()
		return ErrClosed
	}
	page := m.page
	m.mu.Unlock()

	return fn(page)
}

// Closed reports whether the session has been torn down.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close tears the session down: page first, then the browser process, then
// the launcher's temp profile. Idempotent; teardown errors are collected
// but never block the remaining steps.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	page := m.page
	browser := m.browser
	cleanup := m.cleanup
	m.page = nil
	m.browser = nil
	m.cleanup = nil
	m.mu.Unlock()

	var errs []error
	if page != nil {
		if err := page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if browser != nil {
		if err := browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if cleanup != nil {
		cleanup()
	}

	m.log(diaglog.LogEntry{Event: "browser_close"})
	return errors.Join(errs...)
}
