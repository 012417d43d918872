package collabserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Config configures a collaboration server.
type Config struct {
	ListenAddr string
	// DBPath is the sqlite file holding documents, comments and links.
	DBPath string
	// AuthToken, when non-empty, is required as a bearer token on the REST
	// surface. The websocket endpoint stays open; room-level access control
	// is the admin surface's job.
	AuthToken string
	// AdminToken guards the admin endpoints. Empty disables them.
	AdminToken string
}

// Server is the HTTP server carrying the websocket relay and the REST API.
type Server struct {
	config Config
	store  *Store
	hub    *Hub
	http   *http.Server
}

// NewServer creates a server with its store opened and routes installed.
func NewServer(cfg Config) (*Server, error) {
	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config: cfg,
		store:  store,
		hub:    NewHub(store),
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}
