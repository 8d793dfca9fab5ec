// Package web serves the agent dashboard API, its websocket stream and the
// Prometheus endpoint.
package web

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"supportdesk/internal/auth"
	"supportdesk/internal/config"
	"supportdesk/internal/desk"
	"supportdesk/internal/domain"
	"supportdesk/internal/metrics"
)

const (
	maxBodySize     = 1 << 20 // 1MB
	shutdownTimeout = 5 * time.Second
)

// Server is the HTTP front of the desk.
type Server struct {
	host        string
	port        int
	version     string
	metricsPath string
	desk        *desk.Desk
	store       domain.ConversationStore
	auth        *auth.Authenticator
	metrics     *metrics.Metrics
	logger      *slog.Logger
	hub         *Hub
	server      *http.Server

	// Config reference for the settings API (protected by cfgMu)
	cfg     *config.Config
	cfgPath string
	cfgMu   sync.RWMutex

	authEnabled  bool
	authUser     string
	authPassHash string
}

// ServerConfig wires a Server to the rest of the application.
type ServerConfig struct {
	Host          string
	Port          int
	Version       string
	Desk          *desk.Desk
	Store         domain.ConversationStore
	Authenticator *auth.Authenticator
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Config        *config.Config
	ConfigPath    string
}

// NewServer creates a Server. Basic auth and the metrics endpoint follow the
// web and metrics sections of cfg.Config when it is set.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		host:    cfg.Host,
		port:    cfg.Port,
		version: cfg.Version,
		desk:    cfg.Desk,
		store:   cfg.Store,
		auth:    cfg.Authenticator,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		cfg:     cfg.Config,
		cfgPath: cfg.ConfigPath,
	}
	if cfg.Metrics != nil {
		s.metricsPath = "/metrics"
	}
	if c := cfg.Config; c != nil {
		if c.Web.Auth.Enabled {
			s.authEnabled = true
			s.authUser = c.Web.Auth.Username
			s.authPassHash = c.Web.Auth.PasswordHash
		}
		if !c.Metrics.Enabled {
			s.metricsPath = ""
		} else if c.Metrics.Endpoint != "" && cfg.Metrics != nil {
			s.metricsPath = c.Metrics.Endpoint
		}
	}
	s.hub = NewHub(cfg.Desk, cfg.Metrics, cfg.Logger)
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus) // public endpoint
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	s.route(mux, "GET /api/conversations", s.handleListConversations)
	s.route(mux, "GET /api/conversations/{id}", s.handleGetConversation)
	s.route(mux, "GET /api/conversations/{id}/timeline", s.handleTimeline)
	s.route(mux, "POST /api/conversations/{id}/messages", s.handleSend)
	s.route(mux, "PUT /api/conversations/{id}/typing", s.handleSetTyping)
	s.route(mux, "POST /api/conversations/{id}/typing/toggle", s.handleToggleTyping)
	s.route(mux, "POST /api/conversations/{id}/takeover", s.handleTakeOver)
	s.route(mux, "POST /api/conversations/{id}/urgent", s.handleUrgent)
	s.route(mux, "POST /api/conversations/{id}/tags", s.handleAddTag)
	s.route(mux, "DELETE /api/conversations/{id}/tags/{tag}", s.handleRemoveTag)
	s.route(mux, "PUT /api/conversations/{id}/status", s.handleSetStatus)
	s.route(mux, "PUT /api/conversations/{id}/notes", s.handleSetNotes)
	s.route(mux, "PUT /api/conversations/{id}/suggestion", s.handleEditSuggestion)
	s.route(mux, "POST /api/conversations/{id}/suggestion/{action}", s.handleSuggestionAction)
	s.route(mux, "DELETE /api/conversations/{id}/view", s.handleCloseView)

	// Settings API (always behind auth when enabled)
	s.route(mux, "GET /api/config", s.handleGetConfig)
	s.route(mux, "PUT /api/config", s.handleUpdateConfig)
	s.route(mux, "POST /api/config/save", s.handleSaveConfig)

	mux.HandleFunc("GET /ws", s.requireAuth(s.hub.ServeHTTP))
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}
	return mux
}

// route registers an authenticated handler and records its latency under
// the route pattern.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, s.requireAuth(s.instrument(pattern, h)))
}

func (s *Server) instrument(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: rw, code: http.StatusOK}
		next(sw, r)
		s.metrics.ObserveHTTP(pattern, sw.code, time.Since(start))
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, fmt.Sprint(s.port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("dashboard API started", "addr", "http://"+addr, "auth", s.authEnabled, "metrics", s.metricsPath)

	go func() {
		<-ctx.Done()
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// requireAuth wraps a handler with HTTP Basic Auth when auth is enabled.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.authEnabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !s.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="Support Desk"`)
			writeError(rw, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(rw, r)
	}
}

// checkCredentials verifies username and password against the stored SHA-256 hex hash.
func (s *Server) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.authUser)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.authPassHash)) == 1
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"time":      time.Now().Format(time.RFC3339),
		"openViews": len(s.desk.Views()),
		"wsClients": s.hub.Len(),
	})
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, code int, msg string) {
	writeJSON(rw, code, map[string]string{"error": msg})
}

// writeErr maps domain errors onto status codes.
func (s *Server) writeErr(rw http.ResponseWriter, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(rw, http.StatusBadRequest, map[string]any{"error": "invalid login form", "fields": verr.Fields})
	case errors.Is(err, domain.ErrNotFound):
		writeError(rw, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnknownTag),
		errors.Is(err, domain.ErrInvalidValue),
		errors.Is(err, desk.ErrEmptySuggestion):
		writeError(rw, http.StatusBadRequest, err.Error())
	case errors.Is(err, desk.ErrNoSuggestion):
		writeError(rw, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(rw, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(rw, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, desk.ErrClosed):
		writeError(rw, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(rw, http.StatusRequestTimeout, err.Error())
	default:
		s.logger.Error("request failed", "err", err)
		writeError(rw, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// clientKey identifies a caller for login throttling.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
