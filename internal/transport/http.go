// Package transport provides HTTP API handlers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/stringstore/internal/controller"
	"github.com/gateway-fm/stringstore/internal/storage"
	"github.com/gateway-fm/stringstore/pkg/types"
)

// Input validation constants
const (
	maxBodyBytes  = 64 << 10 // Maximum request body size
	maxValueBytes = 32 << 10 // Maximum message length accepted for a write
)

// validateWriteRequest validates the write request parameters. Blank values
// are accepted; the controller treats them as a no-op.
func validateWriteRequest(req *types.WriteValueRequest) error {
	if len(req.Value) > maxValueBytes {
		return fmt.Errorf("value exceeds maximum of %d bytes", maxValueBytes)
	}
	return nil
}

// StringStoreAPI defines the interface for the controller that handlers need.
type StringStoreAPI interface {
	State() types.State
	Connect(ctx context.Context) types.State
	Disconnect() types.State
	ReadValue(ctx context.Context) (types.State, error)
	WriteValue(ctx context.Context, candidate string) (types.State, error)
	Subscribe() (<-chan types.State, func())
}

var _ StringStoreAPI = (*controller.Controller)(nil)

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
	CheckContract(ctx context.Context) error
}

// Server handles HTTP requests for the stringstore service.
type Server struct {
	api       StringStoreAPI
	history   storage.Storage
	health    HealthChecker
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	// CORS configuration
	corsAllowedOrigins []string // Parsed list of allowed origins
	corsAllowAll       bool     // True if "*" or empty (allow all origins)
}

// ServerOption configures optional Server collaborators.
type ServerOption func(*Server)

// WithHistory exposes write attempt history under /v1/history.
func WithHistory(history storage.Storage) ServerOption {
	return func(s *Server) { s.history = history }
}

// WithClientGauge reports the number of WebSocket clients.
func WithClientGauge(gauge ClientGauge) ServerOption {
	return func(s *Server) { s.wsServer.gauge = gauge }
}

// NewServer creates a new HTTP server.
func NewServer(api StringStoreAPI, health HealthChecker, logger *slog.Logger, corsAllowedOrigins string, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		api:       api,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  NewWebSocketServer(api, logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	// State streaming starts after options so the gauge is in place.
	s.wsServer.Start()

	// Parse CORS allowed origins
	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Close stops state streaming and disconnects WebSocket clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Versioned API endpoints (v1)
	mux.HandleFunc("/v1/state", s.corsMiddleware(s.handleState))
	mux.HandleFunc("/v1/connect", s.corsMiddleware(s.handleConnect))
	mux.HandleFunc("/v1/disconnect", s.corsMiddleware(s.handleDisconnect))
	mux.HandleFunc("/v1/read", s.corsMiddleware(s.handleRead))
	mux.HandleFunc("/v1/write", s.corsMiddleware(s.handleWrite))
	mux.HandleFunc("/v1/history", s.corsMiddleware(s.handleHistory))
	mux.HandleFunc("/v1/history/", s.corsMiddleware(s.handleHistoryDetail))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Prometheus metrics (unversioned - standard path)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// handleState returns the current state snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.api.State())
}

// handleConnect requests wallet addresses and opens a session. Failures are
// reported in the returned state, not as HTTP errors.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.api.Connect(r.Context()))
}

// handleDisconnect clears the session.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.api.Disconnect())
}

// handleRead reads the stored message.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := s.api.ReadValue(r.Context())
	if errors.Is(err, controller.ErrBusy) {
		s.writeJSONError(w, err.Error(), http.StatusConflict)
		return
	}

	s.writeJSON(w, http.StatusOK, state)
}

// handleWrite runs a full write and responds once it has settled.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.WriteValueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := validateWriteRequest(&req); err != nil {
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	state, err := s.api.WriteValue(r.Context(), req.Value)
	if errors.Is(err, controller.ErrBusy) {
		s.writeJSONError(w, err.Error(), http.StatusConflict)
		return
	}

	s.writeJSON(w, http.StatusOK, state)
}

// handleHistory returns write attempts with optional pagination.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	limit := 50 // default
	offset := 0

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	if s.history == nil {
		s.writeJSON(w, http.StatusOK, &storage.PaginatedWriteAttempts{
			Attempts: []storage.WriteAttempt{},
			Limit:    limit,
			Offset:   offset,
		})
		return
	}

	result, err := s.history.ListAttempts(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleHistoryDetail handles GET /v1/history/{id}.
func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/history/"), "/")
	if id == "" {
		s.writeJSONError(w, "Missing attempt ID", http.StatusBadRequest)
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "Write attempt not found", http.StatusNotFound)
		return
	}

	attempt, err := s.history.GetAttempt(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeJSONError(w, "Write attempt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeJSONError(w, "Failed to get write attempt: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, attempt)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok", "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// readinessTimeout bounds each readiness probe.
const readinessTimeout = 2 * time.Second

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		for _, probe := range []struct {
			name  string
			check func(context.Context) error
		}{
			{"rpc", s.health.CheckRPC},
			{"contract", s.health.CheckContract},
		} {
			check := s.runCheck(r.Context(), probe.name, probe.check)
			if check.Status != "ok" {
				allHealthy = false
			}
			checks = append(checks, check)
		}
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	})
}

func (s *Server) runCheck(ctx context.Context, name string, fn func(context.Context) error) ReadinessCheck {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	check := ReadinessCheck{
		Name:      name,
		Status:    "ok",
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = "failed"
		check.Error = err.Error()
	}
	return check
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, types.ErrorResponse{Error: message})
}
