// Package server exposes a local HTTP control surface over a running bot:
// JSON queries for session state and transcript, recording controls, and a
// WebSocket feed that streams session events as they happen.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/meetagent/internal/diaglog"
	"github.com/tiroq/meetagent/internal/record"
	"github.com/tiroq/meetagent/internal/session"
	"github.com/tiroq/meetagent/internal/transcribe"
)

// Controller is the bot surface the server drives.
type Controller interface {
	Status() session.Status
	Session() session.Snapshot
	Participants() []string
	Transcriptions() []session.TranscriptEntry
	TranscriptionStats() transcribe.Stats
	ExportTranscriptionText() string
	StartRecording() error
	StopRecording() (record.Result, error)
	ToggleRecording() (bool, error)
	IsRecording() bool
	Stop() error
}

// Event is one entry on the WebSocket feed.
type Event struct {
	Type      string      `json:"type"` // status | participants | transcription | error
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Server is the HTTP control surface. Zero value is not usable; use New.
type Server struct {
	ctrl   Controller
	logger *diaglog.Logger

	httpSrv  *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool
	closed  bool
}

// client is one WebSocket subscriber. Events are fanned out through a
// buffered channel; a subscriber that stops draining is dropped rather than
// allowed to stall the feed.
type client struct {
	conn *websocket.Conn
	send chan Event
}

// New creates a server for the given listen address.
func New(addr string, ctrl Controller, logger *diaglog.Logger) *Server {
	s := &Server{
		ctrl:    ctrl,
		logger:  logger,
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			// Local control surface; the feed is same-host tooling.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the route table; split out so tests can serve it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/participants", s.handleParticipants)
	mux.HandleFunc("/api/transcript", s.handleTranscript)
	mux.HandleFunc("/api/transcript.txt", s.handleTranscriptText)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/toggle", s.handleRecordingToggle)
	mux.HandleFunc("/api/leave", s.handleLeave)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins serving. It returns once the listener is bound; serving
// continues until Shutdown. ctx cancellation triggers a shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpSrv.Addr, err)
	}
	s.log(diaglog.LogEntry{Event: "server_started", Payload: map[string]interface{}{"addr": ln.Addr().String()}})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log(diaglog.LogEntry{Event: "server_error", Level: "error", Payload: map[string]interface{}{"error": err.Error()}})
		}
	}()
	return nil
}

// Shutdown stops serving and closes every WebSocket subscriber.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()
	return s.httpSrv.Shutdown(ctx)
}

// Publish fans an event out to every WebSocket subscriber. Safe to call from
// any goroutine; bot callbacks feed straight into it.
func (s *Server) Publish(eventType string, payload interface{}) {
	ev := Event{Type: eventType, Timestamp: time.Now(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
			// Subscriber stopped draining; cut it loose.
			close(c.send)
			delete(s.clients, c)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan Event, 64)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = true
	s.mu.Unlock()

	// Drain (and discard) client frames so pings and closes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(c)
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		for ev := range c.send {
			if err := conn.WriteJSON(ev); err != nil {
				s.drop(c)
				return
			}
		}
	}()
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		close(c.send)
		delete(s.clients, c)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    s.ctrl.Status(),
		"recording": s.ctrl.IsRecording(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.Session())
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	names := s.ctrl.Participants()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, map[string]interface{}{"participants": names, "count": len(names)})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	entries := s.ctrl.Transcriptions()
	if entries == nil {
		entries = []session.TranscriptEntry{}
	}
	writeJSON(w, map[string]interface{}{
		"entries": entries,
		"stats":   s.ctrl.TranscriptionStats(),
	})
}

func (s *Server) handleTranscriptText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.ctrl.ExportTranscriptionText())
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.ctrl.StartRecording(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, map[string]interface{}{"recording": true})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	res, err := s.ctrl.StopRecording()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"recording": false, "result": res})
}

func (s *Server) handleRecordingToggle(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	on, err := s.ctrl.ToggleRecording()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, map[string]interface{}{"recording": on})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.ctrl.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"status": s.ctrl.Status()})
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) log(entry diaglog.LogEntry) {
	if s.logger == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "control-server"
	}
	s.logger.Log(entry)
}
