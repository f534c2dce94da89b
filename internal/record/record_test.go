package record

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeBridge struct {
	startErr   error
	stopErr    error
	payload    string
	startCalls int
	stopCalls  int
}

func (f *fakeBridge) StartCapture() error {
	f.startCalls++
	return f.startErr
}

func (f *fakeBridge) StopCapture() (string, error) {
	f.stopCalls++
	return f.payload, f.stopErr
}

func audioConfig() Config { return Config{EnableAudio: true} }

func TestController_CaptureRoundTrip(t *testing.T) {
	raw := []byte("opus-frames-here")
	bridge := &fakeBridge{payload: base64.StdEncoding.EncodeToString(raw)}
	dir := t.TempDir()
	c := New(bridge, dir, Config{EnableAudio: true, EnableVideo: true})

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsRecording() {
		t.Fatal("not recording after Start")
	}
	if c.Duration() <= 0 {
		t.Error("duration should advance while recording")
	}

	res, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !res.Success {
		t.Error("expected successful result")
	}
	if c.IsRecording() {
		t.Error("still recording after Stop")
	}

	data, err := os.ReadFile(res.AudioPath)
	if err != nil {
		t.Fatalf("read audio artifact: %v", err)
	}
	if string(data) != string(raw) {
		t.Errorf("audio bytes = %q, want %q", data, raw)
	}
	if filepath.Dir(res.AudioPath) != dir {
		t.Errorf("audio artifact outside session dir: %s", res.AudioPath)
	}
	if !strings.HasSuffix(res.AudioPath, ".webm") {
		t.Errorf("audio artifact name: %s", res.AudioPath)
	}

	if res.VideoPath == "" {
		t.Fatal("expected a video placeholder artifact")
	}
	if _, err := os.Stat(res.VideoPath); err != nil {
		t.Errorf("video placeholder missing: %v", err)
	}
}

func TestController_DataURLPayload(t *testing.T) {
	raw := []byte{0x1a, 0x45, 0xdf, 0xa3}
	bridge := &fakeBridge{
		payload: "data:audio/webm;base64," + base64.StdEncoding.EncodeToString(raw),
	}
	c := New(bridge, t.TempDir(), audioConfig())

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	res, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	data, err := os.ReadFile(res.AudioPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(raw) {
		t.Errorf("decoded bytes = %v, want %v", data, raw)
	}
}

func TestController_StopWithoutStart(t *testing.T) {
	bridge := &fakeBridge{}
	c := New(bridge, t.TempDir(), audioConfig())

	res, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop on idle controller must not error: %v", err)
	}
	if res.Success {
		t.Error("idle stop must not report success")
	}
	if res.Duration != 0 {
		t.Errorf("idle stop duration = %v, want 0", res.Duration)
	}
	if bridge.stopCalls != 0 {
		t.Error("idle stop must not touch the page")
	}
}

func TestController_StartIsIdempotent(t *testing.T) {
	bridge := &fakeBridge{payload: base64.StdEncoding.EncodeToString([]byte("x"))}
	c := New(bridge, t.TempDir(), audioConfig())

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("second Start must be a no-op: %v", err)
	}
	if bridge.startCalls != 1 {
		t.Errorf("StartCapture called %d times, want 1", bridge.startCalls)
	}
}

func TestController_StartFailureStaysIdle(t *testing.T) {
	bridge := &fakeBridge{startErr: errors.New("page gone")}
	c := New(bridge, t.TempDir(), audioConfig())

	if err := c.Start(); err == nil {
		t.Fatal("expected Start to fail")
	}
	if c.IsRecording() {
		t.Error("controller must stay idle after a failed Start")
	}
}

func TestController_RetrievalFailureWritesPlaceholder(t *testing.T) {
	bridge := &fakeBridge{stopErr: errors.New("recorder lost")}
	c := New(bridge, t.TempDir(), audioConfig())

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	res, err := c.Stop()
	if err != nil {
		t.Fatalf("retrieval failure must be absorbed: %v", err)
	}
	if res.Success {
		t.Error("expected Success=false on retrieval failure")
	}
	if res.Duration <= 0 {
		t.Error("duration should reflect the attempted capture")
	}
	data, err := os.ReadFile(res.AudioPath)
	if err != nil {
		t.Fatalf("placeholder artifact missing: %v", err)
	}
	if !strings.Contains(string(data), "placeholder") {
		t.Errorf("unexpected placeholder content: %q", data)
	}
}

func TestController_BadBase64WritesPlaceholder(t *testing.T) {
	bridge := &fakeBridge{payload: "!!!not-base64!!!"}
	c := New(bridge, t.TempDir(), audioConfig())

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	res, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if res.Success {
		t.Error("expected Success=false for undecodable payload")
	}
	if _, err := os.Stat(res.AudioPath); err != nil {
		t.Errorf("placeholder artifact missing: %v", err)
	}
}

func TestDecodePayload(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("abc"))
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"plain", enc, "abc", false},
		{"data url", "data:audio/webm;base64," + enc, "abc", false},
		{"empty", "", "", true},
		{"empty data url", "data:audio/webm;base64,", "", true},
		{"garbage", "%%%", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodePayload: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
