// Package api implements the HTTP command API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/noxassist/nox/internal/buildinfo"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Responder handles one user turn. *agent.Agent satisfies it.
type Responder interface {
	HandleTurn(ctx context.Context, sessionID, text string) string
}

// MemoryStats reports long-term memory counters. *memory.Store
// satisfies it.
type MemoryStats interface {
	Stats() map[string]any
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP command API server.
type Server struct {
	listen string
	agent  Responder
	memory MemoryStats
	llm    Pinger
	logger *slog.Logger
	server *http.Server
}

// NewServer creates an API server listening on listen (host:port).
// memory and llm are optional; their endpoints report unavailable when
// nil.
func NewServer(listen string, agent Responder, logger *slog.Logger) *Server {
	return &Server{
		listen: listen,
		agent:  agent,
		logger: logger,
	}
}

// SetMemory configures the memory store for the stats endpoint.
func (s *Server) SetMemory(m MemoryStats) { s.memory = m }

// SetLLM configures the model client for the health endpoint.
func (s *Server) SetLLM(p Pinger) { s.llm = p }

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/command", s.handleCommand)
	// Unversioned aliases kept for clients of the pre-1.0 API.
	mux.HandleFunc("POST /command", s.handleCommand)
	mux.HandleFunc("GET /stats", s.handleMemoryStats)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/memory/stats", s.handleMemoryStats)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // turns can run many tool calls
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// CommandRequest is the body of POST /v1/command. UserID scopes the
// conversation; requests without one get a fresh session.
type CommandRequest struct {
	UserID string `json:"user_id,omitempty"`
	Text   string `json:"text"`
}

// CommandResponse is the reply to POST /v1/command.
type CommandResponse struct {
	Response string `json:"response"`
	UserID   string `json:"user_id"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	userID := req.UserID
	if userID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "generate session id")
			return
		}
		userID = id.String()
	}

	response := s.agent.HandleTurn(r.Context(), "api:"+userID, req.Text)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, CommandResponse{Response: response, UserID: userID}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Nox",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.llm != nil {
		if err := s.llm.Ping(r.Context()); err != nil {
			s.logger.Warn("health check: model unreachable", "error", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"status": status}, s.logger)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.memory.Stats(), s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
