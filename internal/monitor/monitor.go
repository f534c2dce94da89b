// Package monitor runs the in-meeting watch loop: a participant probe and a
// liveness probe on independent timers. Probe failures are tolerated; only a
// positive ended signal, or a torn-down browser, ends the watch.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tiroq/meetagent/internal/browser"
	"github.com/tiroq/meetagent/internal/diaglog"
	"github.com/tiroq/meetagent/internal/session"
)

// Prober reads meeting state out of the live page.
type Prober interface {
	// Participants returns the currently visible participant names. The
	// raw list may contain duplicates.
	Participants() ([]string, error)

	// MeetingActive reports whether the meeting is still running. A probe
	// that cannot tell should err on the side of active.
	MeetingActive() (bool, error)
}

// Config configures the watch intervals.
type Config struct {
	ParticipantInterval time.Duration // default 30s
	LivenessInterval    time.Duration // default 30s
}

// Callbacks receive monitor findings. All fields are optional and are
// invoked from the monitor goroutine.
type Callbacks struct {
	// OnParticipants fires once per distinct participant set, with the
	// deduplicated list.
	OnParticipants func([]string)

	// OnEnded fires at most once, when the meeting is positively over.
	OnEnded func()

	// OnError receives non-terminal probe failures.
	OnError func(err error)
}

// Monitor owns the two probe timers for one session.
type Monitor struct {
	prober Prober
	rec    *session.Record
	cfg    Config
	cb     Callbacks

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}

	endedOnce sync.Once

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// New creates a monitor over prober, recording findings into rec.
func New(prober Prober, rec *session.Record, cfg Config, cb Callbacks) *Monitor {
	if cfg.ParticipantInterval <= 0 {
		cfg.ParticipantInterval = 30 * time.Second
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = 30 * time.Second
	}
	return &Monitor{prober: prober, rec: rec, cfg: cfg, cb: cb}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (m *Monitor) SetLogger(l *diaglog.Logger) {
	m.loggerMu.Lock()
	m.logger = l
	m.loggerMu.Unlock()
}

func (m *Monitor) log(entry diaglog.LogEntry) {
	m.loggerMu.RLock()
	l := m.logger
	m.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "monitor-loop"
	}
	l.Log(entry)
}

// Start launches both probe timers. Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.active = true

	go m.watch(watchCtx)
}

// Stop halts both timers and waits for the watch goroutine. Idempotent; a
// monitor that already ended itself stops cleanly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.active = false
	m.mu.Unlock()

	cancel()
	<-done
}

// IsActive reports whether the watch loop is running.
func (m *Monitor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Monitor) watch(ctx context.Context) {
	defer close(m.done)

	participantTicker := time.NewTicker(m.cfg.ParticipantInterval)
	defer participantTicker.Stop()
	livenessTicker := time.NewTicker(m.cfg.LivenessInterval)
	defer livenessTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-participantTicker.C:
			m.checkParticipants()
		case <-livenessTicker.C:
			if m.checkLiveness() {
				m.mu.Lock()
				m.active = false
				m.mu.Unlock()
				return
			}
		}
	}
}

// checkParticipants probes the roster and notifies on change. Errors are
// non-terminal; the next tick tries again.
func (m *Monitor) checkParticipants() {
	names, err := m.prober.Participants()
	if err != nil {
		if errors.Is(err, browser.ErrClosed) {
			return
		}
		m.probeError(err)
		return
	}
	if m.rec.SetParticipants(names) {
		current := m.rec.Participants()
		m.log(diaglog.LogEntry{
			Event:   "participants_changed",
			Payload: map[string]interface{}{"count": len(current)},
		})
		if m.cb.OnParticipants != nil {
			m.cb.OnParticipants(current)
		}
	}
}

// checkLiveness probes the meeting state and reports whether the watch
// should end. A closed browser is as final as an ended meeting.
func (m *Monitor) checkLiveness() bool {
	active, err := m.prober.MeetingActive()
	if err != nil {
		if errors.Is(err, browser.ErrClosed) {
			m.ended()
			return true
		}
		// Assume still active: a flaky probe must not end the session.
		m.probeError(err)
		return false
	}
	if active {
		return false
	}
	m.ended()
	return true
}

func (m *Monitor) ended() {
	m.endedOnce.Do(func() {
		m.log(diaglog.LogEntry{Event: "liveness_lost"})
		if m.cb.OnEnded != nil {
			m.cb.OnEnded()
		}
	})
}

func (m *Monitor) probeError(err error) {
	m.log(diaglog.LogEntry{
		Event:   "probe_error",
		Level:   "warn",
		Payload: map[string]interface{}{"error": err.Error()},
	})
	if m.cb.OnError != nil {
		m.cb.OnError(err)
	}
}
