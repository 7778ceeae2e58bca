// Package statuswatch publishes control-session lifecycle events to any
// websocket client connected to a loopback-only monitor endpoint, so a
// station can watch session state from a separate process (a dashboard,
// a second terminal) without parsing the CLI's own log output.
package statuswatch

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rsba1/internal/logging"
	"rsba1/internal/session"
)

// wireEvent is the JSON shape published to subscribers. It mirrors
// session.Event but with a stable, lowercase wire vocabulary independent
// of the Go-side enum representation.
type wireEvent struct {
	Kind       string `json:"kind"`
	State      string `json:"state,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Uptime     int64  `json:"uptime_seconds,omitempty"`
	LatencyMS  int64  `json:"latency_ms,omitempty"`
	Err        string `json:"error,omitempty"`
}

func toWire(e session.Event) wireEvent {
	w := wireEvent{State: e.State.String(), DeviceName: e.DeviceName, Detail: e.Detail}
	switch e.Kind {
	case session.EventStateChanged:
		w.Kind = "state_changed"
	case session.EventStatusTick:
		w.Kind = "status_tick"
		w.Uptime = e.Uptime
		w.LatencyMS = e.LatencyMS
	case session.EventError:
		w.Kind = "error"
		if e.Err != nil {
			w.Err = e.Err.Error()
		}
	}
	return w
}

// Server fans out lifecycle events from a session.Control to websocket
// subscribers. It keeps no event history; a subscriber only sees events
// published after it connects.
type Server struct {
	bindAddr string
	log      *logging.Logger

	upgrader websocket.Upgrader
	http     *http.Server

	mu          sync.Mutex
	subscribers map[*websocket.Conn]chan wireEvent
}

// New constructs a Server bound to addr (expected to be a loopback
// address; the caller is responsible for not exposing this beyond
// localhost).
func New(bindAddr string, log *logging.Logger) *Server {
	return &Server{
		bindAddr:    bindAddr,
		log:         log,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		subscribers: make(map[*websocket.Conn]chan wireEvent),
	}
}

// Start begins serving websocket connections until ctx is cancelled. It
// blocks until the HTTP server stops. The caller drives the event feed by
// calling Publish — Start does not consume a channel itself, so a single
// upstream session.Event consumer (the CLI's own logger, say) can forward
// to Publish without racing another reader for the same channel.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleWebSocket)
	s.http = &http.Server{Addr: s.bindAddr, Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Publish fans one event out to every connected subscriber, dropping it
// for any subscriber whose buffer is full rather than blocking the caller.
func (s *Server) Publish(e session.Event) {
	w := toWire(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- w:
		default:
			s.log.Warn("status subscriber too slow, dropping event", nil)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("status websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}

	ch := make(chan wireEvent, 16)
	s.mu.Lock()
	s.subscribers[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for e := range ch {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Close stops accepting new subscribers and closes existing ones.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.subscribers {
		close(ch)
		conn.Close()
		delete(s.subscribers, conn)
	}
	if s.http != nil {
		return s.http.Close()
	}
	return nil
}
