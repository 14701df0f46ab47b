package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nullposters/ciabot/internal/chat"
	"github.com/nullposters/ciabot/internal/settings"
)

// SettingsSource provides the current settings snapshot.
type SettingsSource interface {
	Snapshot() settings.Settings
}

// ServerConfig holds tunable parameters for the status server.
type ServerConfig struct {
	ListenAddr        string // address to listen on, e.g. ":9090"
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:        ":9090",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Server serves /health, /metrics and /recent.
type Server struct {
	config     ServerConfig
	settings   SettingsSource
	activity   *chat.ActivityLog
	version    string
	logger     *log.Logger
	httpServer *http.Server
	startedAt  time.Time
	now        func() time.Time
}

// NewServer creates a status server. activity may be nil, in which case
// /recent always returns an empty object.
func NewServer(config ServerConfig, src SettingsSource, activity *chat.ActivityLog, version string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Server{
		config:    config,
		settings:  src,
		activity:  activity,
		version:   version,
		logger:    logger.WithPrefix("status"),
		startedAt: time.Now(),
		now:       time.Now,
	}

	if src != nil {
		TrackTimeout(src)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/recent", s.handleRecent)
	mux.Handle("/metrics", Handler())

	s.httpServer = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info("status server listening", "addr", s.config.ListenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: http server error: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting up to ShutdownTimeout for in-flight
// requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleHealth responds with the bot's health as JSON: uptime, version and
// whether an admin timeout is active.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	resp := struct {
		Status            string `json:"status"`
		Version           string `json:"version,omitempty"`
		Uptime            string `json:"uptime"`
		TimedOut          bool   `json:"timed_out"`
		TimeoutExpiration int64  `json:"timeout_expiration,omitempty"`
	}{
		Status:  "ok",
		Version: s.version,
		Uptime:  now.Sub(s.startedAt).Round(time.Second).String(),
	}
	if s.settings != nil {
		st := s.settings.Snapshot()
		resp.TimedOut = st.TimedOut(now)
		if resp.TimedOut {
			resp.TimeoutExpiration = st.TimeoutExpiration
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleRecent lists recent redactions, optionally for one channel given by
// the "channel" query parameter.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	var body any = map[string][]chat.Redaction{}
	if s.activity != nil {
		if ch := r.URL.Query().Get("channel"); ch != "" {
			body = s.activity.Get(ch)
		} else {
			body = s.activity.Snapshot()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
