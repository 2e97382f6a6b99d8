// Package server provides the HTTP API of the sidecar host: backend status,
// a health check, an exit request, and live backend output over a websocket
// or server-sent events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/mbrock/sidecar/internal/dirs"
	"github.com/mbrock/sidecar/internal/eventlog"
	"github.com/mbrock/sidecar/internal/supervisor"
)

// StatusSource reports the supervised backend's state.
type StatusSource interface {
	Status() supervisor.Status
}

// Server is the HTTP API server.
type Server struct {
	status StatusSource
	hub    *Hub
	exits  chan<- supervisor.ExitRequest
	log    zerolog.Logger
	mux    *http.ServeMux
	server *http.Server
}

// New creates a server reporting status, streaming entries from hub and
// delivering POST /shutdown on exits.
func New(status StatusSource, hub *Hub, exits chan<- supervisor.ExitRequest, log zerolog.Logger) *Server {
	s := &Server{
		status: status,
		hub:    hub,
		exits:  exits,
		log:    log.With().Str("component", "http").Logger(),
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /shutdown", s.handleShutdown)
	s.mux.HandleFunc("GET /output", s.handleOutput)
	s.mux.Handle("GET /lines", websocket.Handler(s.handleLines))
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve starts the server on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Listen returns a listener for addr: "systemd" takes the single socket
// passed by systemd socket activation, "unix:<path>" listens on a unix
// socket (removing a stale one), "unix" alone uses sidecar.sock in the
// runtime directory, anything else is a TCP address.
func Listen(addr string) (net.Listener, error) {
	switch {
	case addr == "systemd":
		listeners, err := activation.Listeners()
		if err != nil {
			return nil, fmt.Errorf("socket activation: %w", err)
		}
		if len(listeners) != 1 || listeners[0] == nil {
			return nil, fmt.Errorf("socket activation: expected 1 socket, got %d", len(listeners))
		}
		return listeners[0], nil
	case addr == "unix" || strings.HasPrefix(addr, "unix:"):
		path := strings.TrimPrefix(strings.TrimPrefix(addr, "unix"), ":")
		if path == "" {
			var err error
			if path, err = dirs.SocketFile(); err != nil {
				return nil, fmt.Errorf("runtime dir: %w", err)
			}
		}
		os.Remove(path) // clean up stale socket
		return net.Listen("unix", path)
	default:
		return net.Listen("tcp", addr)
	}
}

// Handlers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

// handleHealth answers 200 while the backend runs (or was detached) and 503
// otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	code := http.StatusServiceUnavailable
	if st.Running || st.State == "detached" {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]string{"state": st.State})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "http"
	}
	select {
	case s.exits <- supervisor.ExitRequest{Reason: reason}:
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// Line is the JSON form of a hub entry sent to clients.
type Line struct {
	Time     time.Time         `json:"time"`
	Text     string            `json:"text"`
	Stream   string            `json:"stream,omitempty"`
	FD       int               `json:"fd,omitempty"`
	Event    string            `json:"event,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// NewLine converts a hub entry.
func NewLine(rec eventlog.Record) Line {
	l := Line{
		Time:     rec.Timestamp,
		Text:     rec.Message,
		Stream:   rec.Fields[eventlog.FieldStream],
		Event:    rec.Fields[eventlog.FieldEvent],
		Instance: rec.Fields[eventlog.FieldInstance],
	}
	if fd, err := strconv.Atoi(rec.Fields[eventlog.FieldFD]); err == nil {
		l.FD = fd
	}
	if l.Event != "" {
		l.Fields = rec.Fields
	}
	return l
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	backlog, ch := s.hub.Subscribe(r.Context())
	send := func(rec eventlog.Record) {
		data, _ := json.Marshal(NewLine(rec))
		if rec.Fields[eventlog.FieldEvent] != "" {
			fmt.Fprintf(w, "event: %s\n", rec.Fields[eventlog.FieldEvent])
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	for _, rec := range backlog {
		send(rec)
	}
	flusher.Flush()

	for rec := range ch {
		send(rec)
		flusher.Flush()
	}
}

func (s *Server) handleLines(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(ws.Request().Context())
	defer cancel()

	// The client sends nothing; a failed read means it went away.
	go func() {
		var discard string
		for websocket.Message.Receive(ws, &discard) == nil {
		}
		cancel()
	}()

	backlog, ch := s.hub.Subscribe(ctx)
	for _, rec := range backlog {
		if err := websocket.JSON.Send(ws, NewLine(rec)); err != nil {
			return
		}
	}
	for rec := range ch {
		if err := websocket.JSON.Send(ws, NewLine(rec)); err != nil {
			s.log.Debug().Err(err).Msg("Websocket client gone")
			return
		}
	}
}
