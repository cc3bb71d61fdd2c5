// Package server exposes the engine over HTTP: request submission, template
// introspection, and a liveness probe. The metrics listener runs separately
// in main so operational traffic never shares a port with tenant traffic.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contentive/orchestrator/internal/engine"
	"github.com/contentive/orchestrator/internal/models"
	"github.com/contentive/orchestrator/internal/templates"
)

const maxBodyBytes = 1 << 20

// Server handles the public API.
type Server struct {
	engine    *engine.Engine
	registry  *templates.Registry
	logger    *zap.Logger
	authToken string
}

// New constructs a Server. An empty authToken disables bearer auth.
func New(eng *engine.Engine, registry *templates.Registry, authToken string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: eng, registry: registry, logger: logger, authToken: authToken}
}

// RegisterRoutes attaches all handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/generate", s.handleGenerate)
	mux.HandleFunc("/v1/templates", s.handleTemplates)
	mux.HandleFunc("/healthz", s.handleHealth)
}

// ListenAndServe runs the server until ctx is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req models.TaskRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if _, mErr := models.ParseTaskType(string(req.TaskType)); mErr != nil {
		writeJSON(w, http.StatusBadRequest, &models.TaskResponse{Status: "error", Error: mErr.Info()})
		return
	}

	resp := s.engine.Execute(r.Context(), &req)
	writeJSON(w, statusFor(resp), resp)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	type entry struct {
		TaskType    string `json:"task_type"`
		Version     string `json:"version"`
		ContentHash string `json:"content_hash"`
	}
	summaries := s.registry.List()
	entries := make([]entry, 0, len(summaries))
	for _, sum := range summaries {
		entries = append(entries, entry{
			TaskType:    string(sum.TaskType),
			Version:     sum.Version,
			ContentHash: sum.ContentHash,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"templates": len(s.registry.List()),
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

// statusFor maps the engine's error taxonomy onto HTTP status codes.
func statusFor(resp *models.TaskResponse) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case models.KindUnknownTaskType:
		return http.StatusBadRequest
	case models.KindIncompleteContext, models.KindContentPolicyViolation:
		return http.StatusUnprocessableEntity
	case models.KindBudgetExceeded:
		return http.StatusTooManyRequests
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
