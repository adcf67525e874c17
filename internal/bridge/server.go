// Package bridge connects map pages to the marker controllers over a
// websocket. Each connection is a Session owning a mirror of the page map.
package bridge

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	ws "github.com/gorilla/websocket"

	"github.com/OCAP2/mapview/internal/dispatcher"
	"github.com/OCAP2/mapview/internal/placement"
	"github.com/OCAP2/mapview/internal/viewport"
	"github.com/OCAP2/mapview/pkg/streaming"
)

var (
	// ErrUnknownPage is returned for a page parameter other than map or new-location.
	ErrUnknownPage = errors.New("unknown page")

	// ErrClosed is returned for connections arriving after Close.
	ErrClosed = errors.New("bridge closed")
)

// Config holds per-page defaults.
type Config struct {
	Map             View
	NewLocation     View
	RequeryDistance float64
	Fields          placement.Fields
	// CheckOrigin overrides the same-origin check of the upgrader.
	CheckOrigin func(r *http.Request) bool
}

// Server upgrades page requests to websocket sessions.
type Server struct {
	cfg         Config
	source      viewport.ItemSource
	logger      *slog.Logger
	eventLogger dispatcher.Logger
	upgrader    ws.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a bridge serving items from source. eventLogger traces
// dispatched page events and defaults to logger.
func NewServer(cfg Config, source viewport.ItemSource, logger *slog.Logger, eventLogger dispatcher.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if eventLogger == nil {
		eventLogger = logger
	}
	return &Server{
		cfg:         cfg,
		source:      source,
		logger:      logger,
		eventLogger: eventLogger,
		upgrader:    ws.Upgrader{CheckOrigin: cfg.CheckOrigin},
		sessions:    make(map[string]*Session),
	}
}

// ServeHTTP upgrades the request and serves the session until it ends.
// The page query parameter selects "map" or "new-location".
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	if page == "" {
		page = streaming.PageMap
	}
	if page != streaming.PageMap && page != streaming.PageNewLocation {
		http.Error(w, ErrUnknownPage.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess, err := newSession(s, newConnection(c, s.logger), page)
	if err != nil {
		s.logger.Error("Failed to start session", "page", page, "error", err)
		_ = c.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.close()
		return
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	sess.run()

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

// Sessions returns the number of connected pages.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close disconnects every page and waits for the sessions to end.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*connection, 0, len(s.sessions))
	for _, sess := range s.sessions {
		conns = append(conns, sess.conn)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.close()
	}
	s.wg.Wait()
	return nil
}
