// Package meet is the rod-backed Google Meet driver. It implements the
// page-operation surfaces the controllers are written against (join.Driver,
// monitor.Prober, record.Bridge, caption.Source) by resolving logical
// controls through the locator cascades on the live page.
package meet

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/tiroq/meetagent/internal/browser"
	"github.com/tiroq/meetagent/internal/locator"
)

// navigateTimeout bounds the initial page load.
const navigateTimeout = 30 * time.Second

// cascadePoll is how often the cascade is retried within a ClickFirst or
// FillFirst budget.
const cascadePoll = 250 * time.Millisecond

// Driver resolves logical controls against the live Meet page.
type Driver struct {
	mgr   *browser.Manager
	rules *locator.RuleSet
}

// NewDriver creates a driver over the browser session using the given
// cascade rules.
func NewDriver(mgr *browser.Manager, rules *locator.RuleSet) *Driver {
	return &Driver{mgr: mgr, rules: rules}
}

// ── join.Driver ──────────────────────────────────────────────────────────────

// Navigate loads the meeting URL and waits for the load event.
func (d *Driver) Navigate(url string) error {
	return d.mgr.Do(func(page *rod.Page) error {
		p := page.Timeout(navigateTimeout)
		if err := p.Navigate(url); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if err := p.WaitLoad(); err != nil {
			return fmt.Errorf("wait load: %w", err)
		}
		return nil
	})
}

// ClickFirst clicks the first visible cascade candidate for the control,
// retrying until the timeout. Returns false when nothing matched in time.
func (d *Driver) ClickFirst(control locator.Control, timeout time.Duration) (bool, error) {
	var clicked bool
	err := d.retry(timeout, func(page *rod.Page) (bool, error) {
		el, ok, err := d.findVisible(page, control)
		if err != nil || !ok {
			return false, err
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			// The element went stale between find and click; next poll
			// re-resolves the cascade.
			return false, nil
		}
		clicked = true
		return true, nil
	})
	return clicked, err
}

// FillFirst types value into the first visible cascade candidate for the
// control. Returns false when no field appeared in time.
func (d *Driver) FillFirst(control locator.Control, value string, timeout time.Duration) (bool, error) {
	var filled bool
	err := d.retry(timeout, func(page *rod.Page) (bool, error) {
		el, ok, err := d.findVisible(page, control)
		if err != nil || !ok {
			return false, err
		}
		if err := el.SelectAllText(); err != nil {
			return false, nil
		}
		if err := el.Input(value); err != nil {
			return false, nil
		}
		filled = true
		return true, nil
	})
	return filled, err
}

// Visible reports whether any cascade candidate for the control is visible
// right now.
func (d *Driver) Visible(control locator.Control) (bool, error) {
	var visible bool
	err := d.mgr.Do(func(page *rod.Page) error {
		_, ok, err := d.findVisible(page, control)
		visible = ok
		return err
	})
	return visible, err
}

// PressEnter sends a bare Enter key to the page.
func (d *Driver) PressEnter() error {
	return d.mgr.Do(func(page *rod.Page) error {
		return page.Keyboard.Press(input.Enter)
	})
}

// URL returns the page's current location.
func (d *Driver) URL() (string, error) {
	var url string
	err := d.mgr.Do(func(page *rod.Page) error {
		info, err := page.Info()
		if err != nil {
			return err
		}
		url = info.URL
		return nil
	})
	return url, err
}

// ── monitor.Prober ───────────────────────────────────────────────────────────

// Participants collects the visible participant names. The raw list may
// contain duplicates; deduplication is the session record's job.
func (d *Driver) Participants() ([]string, error) {
	var names []string
	err := d.mgr.Do(func(page *rod.Page) error {
		for _, sel := range d.rules.Cascade(locator.ControlParticipantName) {
			texts, err := elementTexts(page, sel.CSS)
			if err != nil {
				continue
			}
			names = append(names, texts...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// MeetingActive reports whether the meeting is still running. The order of
// evidence: a foreign URL means the session drifted away, a visible leave
// control proves liveness, an ended indicator proves the opposite, and an
// inconclusive page counts as active so a rendering hiccup cannot end the
// session.
func (d *Driver) MeetingActive() (bool, error) {
	active := true
	err := d.mgr.Do(func(page *rod.Page) error {
		info, err := page.Info()
		if err != nil {
			return err
		}
		if !strings.Contains(info.URL, "meet.google.com") {
			active = false
			return nil
		}
		if _, ok, _ := d.findVisible(page, locator.ControlLeaveButton); ok {
			active = true
			return nil
		}
		if _, ok, _ := d.findVisible(page, locator.ControlEndedIndicator); ok {
			active = false
			return nil
		}
		active = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return active, nil
}

// ── record.Bridge ────────────────────────────────────────────────────────────

// startCaptureJS arms a MediaRecorder over the microphone stream. When
// getUserMedia is refused, a silent oscillator-backed stream stands in so
// the session still yields an artifact.
const startCaptureJS = `() => {
	const arm = (stream) => {
		const recorder = new MediaRecorder(stream, {
			mimeType: 'audio/webm;codecs=opus',
			audioBitsPerSecond: 128000
		});
		const chunks = [];
		recorder.ondataavailable = (e) => { if (e.data.size > 0) chunks.push(e.data); };
		recorder.onstop = () => {
			const blob = new Blob(chunks, { type: 'audio/webm' });
			const reader = new FileReader();
			reader.onloadend = () => { window.__captureData = reader.result; };
			reader.readAsDataURL(blob);
		};
		window.__recorder = recorder;
		window.__captureStream = stream;
		recorder.start(1000);
		return true;
	};
	return navigator.mediaDevices.getUserMedia({
		audio: { echoCancellation: false, noiseSuppression: false, sampleRate: 44100 }
	}).then(arm).catch(() => {
		const ctx = new AudioContext();
		const osc = ctx.createOscillator();
		const dest = ctx.createMediaStreamDestination();
		osc.frequency.setValueAtTime(440, ctx.currentTime);
		osc.connect(dest);
		osc.start();
		setTimeout(() => osc.stop(), 100);
		return arm(dest.stream);
	});
}`

// stopCaptureJS stops the recorder, waits for the blob to flush and
// resolves the captured audio as a bare base64 string.
const stopCaptureJS = `() => {
	return new Promise((resolve, reject) => {
		const recorder = window.__recorder;
		const stream = window.__captureStream;
		if (!recorder) {
			reject(new Error('no active recorder'));
			return;
		}
		recorder.onstop = () => {
			setTimeout(() => {
				const data = window.__captureData;
				window.__recorder = null;
				window.__captureData = null;
				if (data) {
					resolve(data.split(',')[1]);
				} else {
					reject(new Error('no captured audio data'));
				}
			}, 1000);
		};
		recorder.stop();
		if (stream) {
			stream.getTracks().forEach((t) => t.stop());
			window.__captureStream = null;
		}
	});
}`

// StartCapture arms the in-page recorder.
func (d *Driver) StartCapture() error {
	return d.mgr.Do(func(page *rod.Page) error {
		if _, err := page.Eval(startCaptureJS); err != nil {
			return fmt.Errorf("arm recorder: %w", err)
		}
		return nil
	})
}

// StopCapture stops the in-page recorder and returns the base64 payload.
func (d *Driver) StopCapture() (string, error) {
	var payload string
	err := d.mgr.Do(func(page *rod.Page) error {
		res, err := page.Eval(stopCaptureJS)
		if err != nil {
			return fmt.Errorf("retrieve capture: %w", err)
		}
		payload = res.Value.Str()
		return nil
	})
	return payload, err
}

// ── caption.Source ───────────────────────────────────────────────────────────

// EnableCaptions clicks the platform's caption toggle.
func (d *Driver) EnableCaptions() error {
	clicked, err := d.ClickFirst(locator.ControlCaptionToggle, 3*time.Second)
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("meet: caption toggle not found")
	}
	return nil
}

// CaptionTexts returns the caption strings currently rendered, in document
// order. The first cascade candidate that yields anything wins.
func (d *Driver) CaptionTexts() ([]string, error) {
	var texts []string
	err := d.mgr.Do(func(page *rod.Page) error {
		for _, sel := range d.rules.Cascade(locator.ControlCaptionText) {
			found, err := elementTexts(page, sel.CSS)
			if err != nil || len(found) == 0 {
				continue
			}
			texts = found
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return texts, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

// retry runs try against the page every cascadePoll until it reports done
// or the budget expires. A closed browser aborts immediately.
func (d *Driver) retry(timeout time.Duration, try func(page *rod.Page) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		var done bool
		err := d.mgr.Do(func(page *rod.Page) error {
			var err error
			done, err = try(page)
			return err
		})
		if err != nil {
			return err
		}
		if done || !time.Now().Before(deadline) {
			return nil
		}
		time.Sleep(cascadePoll)
	}
}

// findVisible resolves the control's cascade to the first visible element.
func (d *Driver) findVisible(page *rod.Page, control locator.Control) (*rod.Element, bool, error) {
	for _, sel := range d.rules.Cascade(control) {
		elements, err := page.Elements(sel.CSS)
		if err != nil {
			continue
		}
		var pattern *regexp.Regexp
		if sel.Text != "" {
			pattern, err = regexp.Compile(sel.Text)
			if err != nil {
				continue
			}
		}
		for _, el := range elements {
			visible, err := el.Visible()
			if err != nil || !visible {
				continue
			}
			if pattern != nil {
				text, err := el.Text()
				if err != nil || !pattern.MatchString(text) {
					continue
				}
			}
			return el, true, nil
		}
	}
	return nil, false, nil
}

// elementTexts evaluates the selector in-page and returns the non-empty
// trimmed text of every match.
func elementTexts(page *rod.Page, css string) ([]string, error) {
	res, err := page.Eval(`(sel) => Array.from(document.querySelectorAll(sel))
		.map((el) => (el.textContent || '').trim())
		.filter((t) => t.length > 0)`, css)
	if err != nil {
		return nil, err
	}
	return stringList(res.Value.Arr()), nil
}

// stringList flattens an evaluated JSON array into Go strings.
func stringList(arr []gson.JSON) []string {
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s := v.Str(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
