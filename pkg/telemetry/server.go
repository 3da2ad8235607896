package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// Server serves /status.json and the /events websocket stream.
type Server struct {
	log        *slog.Logger
	tracker    *Tracker
	hub        *Hub
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

func NewServer(addr string, tracker *Tracker, hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:     log,
		tracker: tracker,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status.json", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(s.tracker.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "error", err)
		return
	}
	c := newClient(s.hub, conn, r.RemoteAddr)

	// Initial snapshot goes out before any broadcast frame.
	if msg, err := json.Marshal(envelope{Type: "status", Data: s.tracker.Snapshot()}); err == nil {
		c.send <- msg
	}
	if !s.hub.join(c) {
		_ = conn.Close()
		return
	}

	// Pumps are not tied to the request context, which ends when this
	// handler returns.
	go c.writePump()
	go c.readPump()
}
