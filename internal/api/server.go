// Package api serves a read-only HTTP view of a running model: status,
// agent detail, statistics and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/talgya/iris/internal/agents"
	"github.com/talgya/iris/internal/engine"
	"github.com/talgya/iris/internal/metrics"
	"github.com/talgya/iris/internal/persistence"
)

// Server exposes a model over HTTP. Eng, Metrics and DB are optional.
type Server struct {
	Model   *engine.Model
	Eng     *engine.Engine
	Metrics *metrics.Registry
	DB      *persistence.DB
	Addr    string

	// Per-client limit on agent detail requests.
	AgentLimit  int
	LimitWindow time.Duration

	srv     *http.Server
	limiter *RateLimiter
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	limit, window := s.AgentLimit, s.LimitWindow
	if limit <= 0 {
		limit = 600
	}
	if window <= 0 {
		window = time.Minute
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(limit, window)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/agent/{id}", RateLimitMiddleware(s.limiter, s.handleAgent))
	mux.HandleFunc("GET /api/v1/statistics", s.handleStatistics)
	mux.HandleFunc("GET /api/v1/statistics/history", s.handleStatisticsHistory)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
	return s.instrument(mux)
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the listener and the limiter's cleanup loop.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// instrument counts responses by route and status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		s.Metrics.RecordHTTPRequest(path, strconv.Itoa(rec.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m := s.Model
	powerful := 0
	for i := range m.Agents {
		if m.Agents[i].Powerful() {
			powerful++
		}
	}
	status := map[string]any{
		"name":     "iris",
		"run":      m.RunID.String(),
		"seed":     m.Seed,
		"time":     m.CurrentTime(),
		"agents":   len(m.Agents),
		"powerful": powerful,
		"families": m.Graph.Families,
		"edges":    m.Graph.Edges,
		"last":     m.LastStep(),
	}
	if s.Eng != nil {
		status["running"] = s.Eng.Running()
		status["max_steps"] = s.Eng.MaxSteps
	}
	writeJSON(w, status)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	if id >= uint64(len(s.Model.Agents)) {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, s.Model.Agents[agents.AgentID(id)].Export())
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Model.Summary())
}

func (s *Server) handleStatisticsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, []any{})
		return
	}
	rows, err := s.DB.Statistics(s.Model.RunID.String())
	if err != nil {
		slog.Error("statistics history query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
