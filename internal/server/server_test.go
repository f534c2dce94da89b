package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/meetagent/internal/record"
	"github.com/tiroq/meetagent/internal/session"
	"github.com/tiroq/meetagent/internal/transcribe"
)

type fakeController struct {
	status       session.Status
	recording    bool
	startErr     error
	participants []string
	entries      []session.TranscriptEntry
	stopCalls    int
}

func (f *fakeController) Status() session.Status    { return f.status }
func (f *fakeController) Session() session.Snapshot { return session.Snapshot{Status: f.status} }
func (f *fakeController) Participants() []string    { return f.participants }
func (f *fakeController) Transcriptions() []session.TranscriptEntry {
	return f.entries
}
func (f *fakeController) TranscriptionStats() transcribe.Stats {
	return transcribe.ComputeStats(f.entries)
}
func (f *fakeController) ExportTranscriptionText() string {
	return transcribe.ExportText(f.entries)
}

func (f *fakeController) StartRecording() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.recording = true
	return nil
}

func (f *fakeController) StopRecording() (record.Result, error) {
	f.recording = false
	return record.Result{Success: true, Duration: time.Second}, nil
}

func (f *fakeController) ToggleRecording() (bool, error) {
	if f.recording {
		_, err := f.StopRecording()
		return false, err
	}
	return true, f.StartRecording()
}

func (f *fakeController) IsRecording() bool { return f.recording }
func (f *fakeController) Stop() error {
	f.stopCalls++
	f.status = session.StatusEnded
	return nil
}

func newTestServer(t *testing.T, ctrl *fakeController) (*Server, *httptest.Server) {
	t.Helper()
	s := New("127.0.0.1:0", ctrl, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func postJSON(t *testing.T, url string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestStatusEndpoint(t *testing.T) {
	ctrl := &fakeController{status: session.StatusJoined}
	_, ts := newTestServer(t, ctrl)

	var got map[string]interface{}
	getJSON(t, ts.URL+"/api/status", &got)
	if got["status"] != "joined" || got["recording"] != false {
		t.Errorf("got %v", got)
	}
}

func TestParticipantsEndpoint(t *testing.T) {
	ctrl := &fakeController{participants: []string{"Ana", "Bo"}}
	_, ts := newTestServer(t, ctrl)

	var got struct {
		Participants []string `json:"participants"`
		Count        int      `json:"count"`
	}
	getJSON(t, ts.URL+"/api/participants", &got)
	if got.Count != 2 || len(got.Participants) != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestParticipantsEndpoint_EmptyIsArray(t *testing.T) {
	_, ts := newTestServer(t, &fakeController{})

	resp, err := http.Get(ts.URL + "/api/participants")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["participants"]) != "[]" {
		t.Errorf("participants = %s, want []", raw["participants"])
	}
}

func TestTranscriptEndpoints(t *testing.T) {
	ctrl := &fakeController{entries: []session.TranscriptEntry{
		{Timestamp: time.Now(), Speaker: "Ana", Text: "hello there everyone"},
	}}
	_, ts := newTestServer(t, ctrl)

	var got struct {
		Entries []session.TranscriptEntry `json:"entries"`
		Stats   transcribe.Stats          `json:"stats"`
	}
	getJSON(t, ts.URL+"/api/transcript", &got)
	if len(got.Entries) != 1 || got.Stats.TotalWords != 3 {
		t.Errorf("got %+v", got)
	}

	resp, err := http.Get(ts.URL + "/api/transcript.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sb strings.Builder
	buf := make([]byte, 1024)
	for {
		n, readErr := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if readErr != nil {
			break
		}
	}
	if !strings.Contains(sb.String(), "Ana: hello there everyone") {
		t.Errorf("text export = %q", sb.String())
	}
}

func TestRecordingControls(t *testing.T) {
	ctrl := &fakeController{}
	_, ts := newTestServer(t, ctrl)

	resp, body := postJSON(t, ts.URL+"/api/recording/start")
	if resp.StatusCode != http.StatusOK || body["recording"] != true {
		t.Fatalf("start: %d %v", resp.StatusCode, body)
	}
	if !ctrl.recording {
		t.Error("controller not recording")
	}

	resp, body = postJSON(t, ts.URL+"/api/recording/stop")
	if resp.StatusCode != http.StatusOK || body["recording"] != false {
		t.Fatalf("stop: %d %v", resp.StatusCode, body)
	}

	resp, body = postJSON(t, ts.URL+"/api/recording/toggle")
	if resp.StatusCode != http.StatusOK || body["recording"] != true {
		t.Fatalf("toggle: %d %v", resp.StatusCode, body)
	}
}

func TestRecordingStart_ConflictOnError(t *testing.T) {
	ctrl := &fakeController{startErr: errors.New("not running")}
	_, ts := newTestServer(t, ctrl)

	resp, body := postJSON(t, ts.URL+"/api/recording/start")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if body["error"] != "not running" {
		t.Errorf("body = %v", body)
	}
}

func TestControls_RejectGet(t *testing.T) {
	_, ts := newTestServer(t, &fakeController{})

	for _, path := range []string{"/api/recording/start", "/api/recording/stop", "/api/recording/toggle", "/api/leave"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, resp.StatusCode)
		}
	}
}

func TestLeaveEndpoint(t *testing.T) {
	ctrl := &fakeController{status: session.StatusJoined}
	_, ts := newTestServer(t, ctrl)

	resp, body := postJSON(t, ts.URL+"/api/leave")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ctrl.stopCalls != 1 {
		t.Errorf("stop calls = %d", ctrl.stopCalls)
	}
	if body["status"] != "ended" {
		t.Errorf("body = %v", body)
	}
}

func TestWebSocketFeed(t *testing.T) {
	s, ts := newTestServer(t, &fakeController{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a beat to register the subscriber.
	waitForSubscribers(t, s, 1)

	s.Publish("status", map[string]string{"status": "recording"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "status" {
		t.Errorf("event type = %q", ev.Type)
	}
	payload, ok := ev.Payload.(map[string]interface{})
	if !ok || payload["status"] != "recording" {
		t.Errorf("payload = %v", ev.Payload)
	}
}

func TestWebSocketFeed_MultipleSubscribers(t *testing.T) {
	s, ts := newTestServer(t, &fakeController{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conns := make([]*websocket.Conn, 2)
	for i := range conns {
		c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		conns[i] = c
	}
	waitForSubscribers(t, s, 2)

	s.Publish("participants", []string{"Ana"})

	for i, c := range conns {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev Event
		if err := c.ReadJSON(&ev); err != nil {
			t.Fatalf("subscriber %d: %v", i, err)
		}
		if ev.Type != "participants" {
			t.Errorf("subscriber %d type = %q", i, ev.Type)
		}
	}
}

func TestPublish_AfterShutdownIsNoOp(t *testing.T) {
	s, _ := newTestServer(t, &fakeController{})
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Publish("status", nil) // must not panic
}

func waitForSubscribers(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.clients)
		s.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscribers never reached %d", n)
}
