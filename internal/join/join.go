// Package join drives the pre-meeting flow: navigate to the lobby, mute
// the devices, identify the bot and request entry, then wait out host
// admission. Every UI interaction goes through a selector cascade so a
// relabelled control degrades to the next candidate instead of failing.
package join

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tiroq/meetagent/internal/diaglog"
	"github.com/tiroq/meetagent/internal/locator"
)

// ErrAdmissionTimeout is returned when the host never lets the bot in
// before the admission budget runs out.
var ErrAdmissionTimeout = errors.New("join: admission not confirmed")

// Driver is the page-operation surface the join flow needs.
type Driver interface {
	// Navigate loads the meeting URL and waits for the page to settle.
	Navigate(url string) error

	// ClickFirst clicks the first visible candidate for the control,
	// reporting whether anything was clicked. Candidates are tried in
	// cascade order within the timeout.
	ClickFirst(control locator.Control, timeout time.Duration) (bool, error)

	// FillFirst types value into the first visible candidate for the
	// control, reporting whether a field was filled.
	FillFirst(control locator.Control, value string, timeout time.Duration) (bool, error)

	// Visible reports whether any candidate for the control is currently
	// visible, without waiting.
	Visible(control locator.Control) (bool, error)

	// PressEnter sends a bare Enter key to the page. Used as the join
	// fallback when no clickable button was found.
	PressEnter() error

	// URL returns the page's current location.
	URL() (string, error)
}

// Config configures the join flow.
type Config struct {
	BotName       string        // display name in the lobby; default "MeetAgent"
	DisableMic    bool          // mute before joining
	DisableCamera bool          // camera off before joining

	StepDelay        time.Duration // pause between UI steps; default 1s
	NameTimeout      time.Duration // lobby render budget; default 120s
	JoinTimeout      time.Duration // join button budget; default 60s
	AdmissionTimeout time.Duration // host admission budget; default 5m
	AdmissionPoll    time.Duration // admission check interval; default 1s
}

func (c *Config) fillDefaults() {
	if c.BotName == "" {
		c.BotName = "MeetAgent"
	}
	if c.StepDelay <= 0 {
		c.StepDelay = time.Second
	}
	if c.NameTimeout <= 0 {
		c.NameTimeout = 2 * time.Minute
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = time.Minute
	}
	if c.AdmissionTimeout <= 0 {
		c.AdmissionTimeout = 5 * time.Minute
	}
	if c.AdmissionPoll <= 0 {
		c.AdmissionPoll = time.Second
	}
}

// Controller runs the join flow once per session.
type Controller struct {
	driver Driver
	cfg    Config

	logger *diaglog.Logger
}

// New creates a join controller.
func New(driver Driver, cfg Config) *Controller {
	cfg.fillDefaults()
	return &Controller{driver: driver, cfg: cfg}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Controller) SetLogger(l *diaglog.Logger) { c.logger = l }

func (c *Controller) log(entry diaglog.LogEntry) {
	if c.logger == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "join-controller"
	}
	c.logger.Log(entry)
}

func (c *Controller) step(name string, detail map[string]interface{}) {
	entry := diaglog.LogEntry{Event: "join_step", Payload: map[string]interface{}{"step": name}}
	for k, v := range detail {
		entry.Payload[k] = v
	}
	c.log(entry)
}

// Join runs the whole flow: navigate, settle, configure devices, set the
// name, request entry, wait for admission. The first five steps fail only
// on a dead page; a missing optional control is tolerated and logged. The
// admission wait is the one step with a hard budget.
func (c *Controller) Join(ctx context.Context, meetingURL string) error {
	// Step 1: load the lobby. A reported navigation failure is logged but
	// not fatal; Meet often partially renders the lobby anyway and the
	// later steps tell us whether the page is actually usable.
	c.step("navigate", map[string]interface{}{"url": meetingURL})
	if err := c.driver.Navigate(meetingURL); err != nil {
		c.log(diaglog.LogEntry{Event: "join_retry", Level: "warn", Payload: map[string]interface{}{"step": "navigate", "error": err.Error()}})
	}

	// Step 2: let the lobby render before poking at it.
	if err := sleepCtx(ctx, c.cfg.StepDelay); err != nil {
		return err
	}

	// Step 3: devices off. Both toggles are best effort; an already-muted
	// lobby simply has no visible toggle.
	if c.cfg.DisableMic {
		c.step("mute_mic", nil)
		if clicked, err := c.driver.ClickFirst(locator.ControlMicToggle, c.cfg.StepDelay); err == nil && !clicked {
			c.log(diaglog.LogEntry{Event: "join_retry", Payload: map[string]interface{}{"control": string(locator.ControlMicToggle), "skipped": true}})
		}
	}
	if c.cfg.DisableCamera {
		c.step("camera_off", nil)
		if clicked, err := c.driver.ClickFirst(locator.ControlCameraToggle, c.cfg.StepDelay); err == nil && !clicked {
			c.log(diaglog.LogEntry{Event: "join_retry", Payload: map[string]interface{}{"control": string(locator.ControlCameraToggle), "skipped": true}})
		}
	}

	// Step 4: identify the bot. A signed-in profile shows no name field.
	c.step("fill_name", map[string]interface{}{"name": c.cfg.BotName})
	if filled, err := c.driver.FillFirst(locator.ControlNameField, c.cfg.BotName, c.cfg.NameTimeout); err != nil {
		return fmt.Errorf("join: fill name: %w", err)
	} else if !filled {
		c.log(diaglog.LogEntry{Event: "join_retry", Payload: map[string]interface{}{"control": string(locator.ControlNameField), "skipped": true}})
	}

	// Step 5: request entry. When every candidate fails, the lobby usually
	// still has the name field focused and Enter submits it.
	c.step("click_join", nil)
	clicked, err := c.driver.ClickFirst(locator.ControlJoinButton, c.cfg.JoinTimeout)
	if err != nil {
		return fmt.Errorf("join: click join: %w", err)
	}
	if !clicked {
		c.log(diaglog.LogEntry{Event: "join_retry", Payload: map[string]interface{}{"fallback": "enter_key"}})
		if err := c.driver.PressEnter(); err != nil {
			return fmt.Errorf("join: enter fallback: %w", err)
		}
	}

	// Step 6: wait for the host.
	c.step("wait_admission", map[string]interface{}{"budget_ms": c.cfg.AdmissionTimeout.Milliseconds()})
	if err := c.waitForAdmission(ctx); err != nil {
		c.log(diaglog.LogEntry{Event: "join_failed", Level: "error", Payload: map[string]interface{}{"error": err.Error()}})
		return err
	}

	c.log(diaglog.LogEntry{Event: "admission_confirmed"})
	return nil
}

// waitForAdmission polls for the in-meeting leave control. Only its
// appearance proves the host let the bot in; the lobby shows no such
// control. Poll errors count as "not yet", not as failure.
func (c *Controller) waitForAdmission(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.AdmissionTimeout)
	for time.Now().Before(deadline) {
		visible, err := c.driver.Visible(locator.ControlLeaveButton)
		if err == nil && visible {
			return nil
		}
		if err != nil {
			c.log(diaglog.LogEntry{Event: "join_retry", Level: "warn", Payload: map[string]interface{}{"error": err.Error()}})
		}
		if err := sleepCtx(ctx, c.cfg.AdmissionPoll); err != nil {
			return err
		}
	}

	url, _ := c.driver.URL()
	return fmt.Errorf("%w after %s (url: %s)", ErrAdmissionTimeout, c.cfg.AdmissionTimeout, url)
}

// sleepCtx sleeps for d or returns early with the context's error.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
