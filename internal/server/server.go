// Package server exposes the analysis state and the request gate to views
// over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"analyzehub/internal/gate"
	"analyzehub/internal/logger"
	"analyzehub/internal/state"
	"analyzehub/internal/statsdb"
	"analyzehub/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	shutdownTimeout     = 10 * time.Second
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxRequestBodySize  = 64 * 1024
)

// Gate is the part of the request gate the server drives.
type Gate interface {
	Submit(target string) error
	RemoveRecent(target string) error
	Recent() []string
	CooldownRemaining() int
}

// HistoryReader lists finished analyses.
type HistoryReader interface {
	ListRecentAnalysisStats(ctx context.Context, limit int) ([]statsdb.AnalysisStat, error)
}

// Options configures a Server. Gate and State are required.
type Options struct {
	Port           int
	Gate           Gate
	State          *state.Hub
	History        HistoryReader
	WSHub          *websocket.Hub
	AllowedOrigins []string
	// APIKey, if set, is required on every /api route.
	APIKey string
}

// Server is the view-facing HTTP server.
type Server struct {
	port           int
	gate           Gate
	state          *state.Hub
	history        HistoryReader
	wsHub          *websocket.Hub
	allowedOrigins []string
	apiKey         string
}

// New creates a server. A WebSocket hub seeded with the current state is
// created when none is given.
func New(opts Options) (*Server, error) {
	if opts.Gate == nil {
		return nil, errors.New("server: nil gate")
	}
	if opts.State == nil {
		return nil, errors.New("server: nil state hub")
	}
	s := &Server{
		port:           opts.Port,
		gate:           opts.Gate,
		state:          opts.State,
		history:        opts.History,
		wsHub:          opts.WSHub,
		allowedOrigins: opts.AllowedOrigins,
		apiKey:         opts.APIKey,
	}
	if s.wsHub == nil {
		s.wsHub = websocket.NewHub(func() *websocket.Message {
			return websocket.NewStateMessage(s.state.Read())
		})
	}
	if len(s.allowedOrigins) == 0 {
		s.allowedOrigins = []string{"*"}
	}
	return s, nil
}

// WSHub returns the WebSocket hub
func (s *Server) WSHub() *websocket.Hub {
	return s.wsHub
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	mux.Get("/health", s.handleHealth)
	mux.Get("/ws", s.wsHub.HandleWebSocket)

	mux.Route("/api", func(rt chi.Router) {
		rt.Use(requireKey(s.apiKey))
		rt.Get("/state", s.wrap(s.handleState))
		rt.Post("/analyze", s.wrap(s.handleAnalyze))
		rt.Get("/recent", s.wrap(s.handleRecent))
		rt.Delete("/recent/{target}", s.wrap(s.handleRemoveRecent))
		rt.Get("/history", s.wrap(s.handleHistory))
	})
	return mux
}

// Run listens on the configured port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, relaying every state change to the
// WebSocket clients.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.wsHub.Run()
	defer s.wsHub.Stop()

	states, unsubscribe := s.state.Subscribe()
	defer unsubscribe()
	go s.wsHub.RelayStates(ctx, states)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("view server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown view server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps gate errors to status codes.
func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		var reqErr *requestError
		switch {
		case errors.As(err, &reqErr):
			writeError(w, http.StatusBadRequest, reqErr.Error())
		case errors.Is(err, gate.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, gate.ErrInFlight):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, gate.ErrCoolingDown):
			w.Header().Set("Retry-After", strconv.Itoa(s.gate.CooldownRemaining()))
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, gate.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			logger.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"port":      s.port,
		"wsClients": s.wsHub.ClientCount(),
	})
}

// GET /api/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, s.state.Read())
	return nil
}

type analyzeBody struct {
	Username string `json:"username"`
}

// POST /api/analyze
// Body: {"username": "<target>"}
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) error {
	var body analyzeBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(&body); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	if err := s.gate.Submit(body.Username); err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"target": strings.TrimSpace(body.Username),
	})
	return nil
}

// GET /api/recent
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, s.gate.Recent())
	return nil
}

// DELETE /api/recent/{target}
func (s *Server) handleRemoveRecent(w http.ResponseWriter, r *http.Request) error {
	target, err := url.PathUnescape(chi.URLParam(r, "target"))
	if err != nil {
		return badRequest("invalid target: %v", err)
	}
	if strings.TrimSpace(target) == "" {
		return gate.ErrInvalidTarget
	}
	if err := s.gate.RemoveRecent(target); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s.gate.Recent())
	return nil
}

// GET /api/history?limit=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) error {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest("limit must be a positive integer")
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	if s.history == nil {
		writeJSON(w, http.StatusOK, []statsdb.AnalysisStat{})
		return nil
	}
	stats, err := s.history.ListRecentAnalysisStats(r.Context(), limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stats)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
