package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/meetagent/internal/browser"
	"github.com/tiroq/meetagent/internal/session"
)

type fakeProber struct {
	mu           sync.Mutex
	participants []string
	partErr      error
	active       bool
	activeErr    error
}

func (f *fakeProber) Participants() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.partErr != nil {
		return nil, f.partErr
	}
	out := make([]string, len(f.participants))
	copy(out, f.participants)
	return out, nil
}

func (f *fakeProber) MeetingActive() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.activeErr
}

func (f *fakeProber) set(participants []string, partErr error, active bool, activeErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants = participants
	f.partErr = partErr
	f.active = active
	f.activeErr = activeErr
}

func fastConfig() Config {
	return Config{
		ParticipantInterval: 5 * time.Millisecond,
		LivenessInterval:    5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestMonitor_NotifiesOncePerDistinctParticipantSet(t *testing.T) {
	prober := &fakeProber{participants: []string{"Ana", "Ana", "Bo"}, active: true}
	rec := session.NewRecord("https://meet.google.com/abc-defg-hij")

	var mu sync.Mutex
	var notifications [][]string
	m := New(prober, rec, fastConfig(), Callbacks{
		OnParticipants: func(names []string) {
			mu.Lock()
			notifications = append(notifications, names)
			mu.Unlock()
		},
	})

	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notifications) == 1
	})

	// Identical roster on later ticks: no further notifications.
	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	if len(notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifications))
	}
	first := notifications[0]
	mu.Unlock()

	if len(first) != 2 || first[0] != "Ana" || first[1] != "Bo" {
		t.Errorf("notified set = %v, want deduplicated [Ana Bo]", first)
	}

	// Roster change: exactly one more notification.
	prober.set([]string{"Ana"}, nil, true, nil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notifications) == 2
	})
}

func TestMonitor_ProbeErrorsAreNonTerminal(t *testing.T) {
	prober := &fakeProber{
		partErr:   errors.New("roster probe failed"),
		active:    true,
		activeErr: errors.New("liveness probe failed"),
	}
	rec := session.NewRecord("https://meet.google.com/abc-defg-hij")

	var mu sync.Mutex
	var probeErrs int
	endedCalled := false
	m := New(prober, rec, fastConfig(), Callbacks{
		OnEnded: func() {
			mu.Lock()
			endedCalled = true
			mu.Unlock()
		},
		OnError: func(err error) {
			mu.Lock()
			probeErrs++
			mu.Unlock()
		},
	})

	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return probeErrs >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if endedCalled {
		t.Error("probe errors must not end the session")
	}
	if !m.IsActive() {
		t.Error("monitor stopped on a non-terminal probe error")
	}
}

func TestMonitor_EndedSignalFiresOnceAndStopsWatch(t *testing.T) {
	prober := &fakeProber{active: false}
	rec := session.NewRecord("https://meet.google.com/abc-defg-hij")

	var mu sync.Mutex
	endedCalls := 0
	m := New(prober, rec, fastConfig(), Callbacks{
		OnEnded: func() {
			mu.Lock()
			endedCalls++
			mu.Unlock()
		},
	})

	m.Start(context.Background())

	waitFor(t, func() bool { return !m.IsActive() })
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	if endedCalls != 1 {
		t.Errorf("OnEnded fired %d times, want 1", endedCalls)
	}
	mu.Unlock()

	// Stop after self-termination must not hang or panic.
	m.Stop()
}

func TestMonitor_ClosedBrowserIsTerminal(t *testing.T) {
	prober := &fakeProber{activeErr: browser.ErrClosed, active: true}
	rec := session.NewRecord("https://meet.google.com/abc-defg-hij")

	var mu sync.Mutex
	ended := false
	m := New(prober, rec, fastConfig(), Callbacks{
		OnEnded: func() {
			mu.Lock()
			ended = true
			mu.Unlock()
		},
		OnError: func(err error) {
			t.Errorf("closed browser must not surface as probe error: %v", err)
		},
	})

	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ended
	})
}

func TestMonitor_StopCancelsBothTimers(t *testing.T) {
	prober := &fakeProber{participants: []string{"Ana"}, active: true}
	rec := session.NewRecord("https://meet.google.com/abc-defg-hij")

	m := New(prober, rec, fastConfig(), Callbacks{})
	m.Start(context.Background())

	waitFor(t, func() bool { return len(rec.Participants()) == 1 })

	m.Stop()
	if m.IsActive() {
		t.Fatal("active after Stop")
	}

	// No further probes land after Stop.
	prober.set([]string{"Ana", "Bo"}, nil, true, nil)
	time.Sleep(30 * time.Millisecond)
	if got := rec.Participants(); len(got) != 1 {
		t.Errorf("participants = %v, probe ran after Stop", got)
	}

	m.Stop() // idempotent
}

func TestMonitor_StartTwiceIsNoOp(t *testing.T) {
	prober := &fakeProber{active: true}
	rec := session.NewRecord("https://meet.google.com/abc-defg-hij")
	m := New(prober, rec, fastConfig(), Callbacks{})

	m.Start(context.Background())
	m.Start(context.Background())
	m.Stop()
}
