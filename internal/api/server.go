package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hikarum/hashwatch/internal/status"
)

// Server exposes the latest status snapshot over a read-only HTTP API
type Server struct {
	logger *zap.Logger
	config Config
	router *mux.Router
	server *http.Server
	store  *status.Store
}

// Config defines API server configuration
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Response represents API response format
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Time    time.Time   `json:"time"`
}

// NewServer creates a new status API server
func NewServer(logger *zap.Logger, config Config, store *status.Store) *Server {
	s := &Server{
		logger: logger,
		config: config,
		store:  store,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	v1.HandleFunc("/miners", s.handleMiners).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Start begins serving and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Status API disabled")
		return nil
	}

	s.server = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("Starting status API", zap.String("listen_addr", s.config.ListenAddr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Status API error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.store.Latest()
	if !ok {
		s.sendError(w, http.StatusServiceUnavailable, "no snapshot recorded yet")
		return
	}
	s.sendJSON(w, snap)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.store.Latest()
	if !ok || snap.Report == nil {
		s.sendError(w, http.StatusServiceUnavailable, "no profitability report available")
		return
	}
	s.sendJSON(w, snap.Report)
}

func (s *Server) handleMiners(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.store.Latest()
	if !ok {
		s.sendError(w, http.StatusServiceUnavailable, "no snapshot recorded yet")
		return
	}
	s.sendJSON(w, snap.Miners)
}

func (s *Server) sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
		Time:    time.Now().UTC(),
	})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
		Time:    time.Now().UTC(),
	})
}
