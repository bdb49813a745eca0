package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tcynic/resonant-pipeline/internal/core/config"
	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/admission"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/health"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/metrics"
)

// TokenValidator authorizes ingress requests.
type TokenValidator interface {
	Validate(token string) bool
}

type staticToken string

func (s staticToken) Validate(token string) bool { return token == string(s) }

// Server exposes the ingress HTTP API plus health and metrics endpoints.
type Server struct {
	svc    *Service
	auth   TokenValidator // nil disables auth
	server *http.Server
}

// NewServer creates the ingress server.
func NewServer(svc *Service, cfg config.ServerConfig) *Server {
	mux := http.NewServeMux()
	s := &Server{
		svc: svc,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		},
	}
	if cfg.APIKey != "" {
		s.auth = staticToken(cfg.APIKey)
	}

	mux.HandleFunc("POST /v1/analysis", s.authed(s.handleSubmit))
	mux.HandleFunc("GET /v1/analysis/{id}", s.authed(s.handleStatus))
	mux.HandleFunc("GET /v1/deadletter", s.authed(s.handleDeadLetterList))
	mux.HandleFunc("POST /v1/deadletter/recover", s.authed(s.handleDeadLetterRecover))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth != nil {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !s.auth.Validate(token) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
		}
		next(w, r)
	}
}

// =============================================================================
// Submission
// =============================================================================

type submitRequest struct {
	EntryID  string `json:"entry_id"`
	OwnerID  string `json:"owner_id"`
	Priority string `json:"priority"`
}

type submitResponse struct {
	Accepted          bool    `json:"accepted"`
	TaskID            string  `json:"task_id,omitempty"`
	QueuePosition     int     `json:"queue_position,omitempty"`
	EstimatedWaitSecs float64 `json:"estimated_wait_seconds,omitempty"`
	RetryAfterSecs    float64 `json:"retry_after_seconds,omitempty"`
	BackpressureLevel string  `json:"backpressure_level,omitempty"`
	Error             string  `json:"error,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "malformed request body"})
		return
	}
	if req.EntryID == "" || req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "entry_id and owner_id are required"})
		return
	}

	priority := domain.Priority(req.Priority)
	if req.Priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.Valid() {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: fmt.Sprintf("unknown priority %q", req.Priority)})
		return
	}

	if !s.svc.budget.CanAnalyze(req.OwnerID) {
		metrics.TasksSubmitted.WithLabelValues(string(priority), "rejected").Inc()
		writeJSON(w, http.StatusTooManyRequests, submitResponse{
			Accepted:       false,
			Error:          "analysis quota exceeded",
			RetryAfterSecs: s.svc.budget.ThrottleDelay(req.OwnerID).Seconds(),
		})
		return
	}

	decision, err := s.svc.capacity.CheckCapacity(r.Context(), priority)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "capacity check failed"})
		return
	}
	if !decision.Allowed && decision.OverflowStrategy == admission.OverflowUpgradePriority &&
		priority != domain.PriorityUrgent {
		// Escape hatch for work that outranks the congestion tier: retry the
		// check one tier up.
		priority = domain.PriorityUrgent
		decision, err = s.svc.capacity.CheckCapacity(r.Context(), priority)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "capacity check failed"})
			return
		}
	}
	if !decision.Allowed {
		metrics.TasksSubmitted.WithLabelValues(string(priority), "rejected").Inc()
		writeJSON(w, http.StatusTooManyRequests, submitResponse{
			Accepted:          false,
			Error:             decision.Reason,
			RetryAfterSecs:    decision.RetryAfter.Seconds(),
			BackpressureLevel: string(decision.BackpressureLevel),
		})
		return
	}

	task := &domain.AnalysisTask{
		ID:       uuid.NewString(),
		EntryID:  req.EntryID,
		OwnerID:  req.OwnerID,
		Priority: priority,
		Status:   domain.TaskStatusQueued,
		QueuedAt: time.Now().UTC(),
	}
	if err := s.svc.tasks.Create(r.Context(), task); err != nil {
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "failed to create task"})
		return
	}
	s.svc.dispatcher.Enqueue(task.ID, task.Priority, task.QueuedAt)

	metrics.TasksSubmitted.WithLabelValues(string(priority), "accepted").Inc()
	writeJSON(w, http.StatusAccepted, submitResponse{
		Accepted:          true,
		TaskID:            task.ID,
		QueuePosition:     s.svc.dispatcher.Position(task.ID),
		EstimatedWaitSecs: decision.EstimatedWait.Seconds(),
		BackpressureLevel: string(decision.BackpressureLevel),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.tasks.Get(r.Context(), r.PathValue("id"))
	if err == storage.ErrNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load task"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// =============================================================================
// Dead letter operations
// =============================================================================

func (s *Server) handleDeadLetterList(w http.ResponseWriter, r *http.Request) {
	filter := storage.DeadLetterFilter{
		OwnerID:  r.URL.Query().Get("owner_id"),
		Category: domain.EscalationCategory(r.URL.Query().Get("category")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	items, err := s.svc.dlq.List(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list dead letter tasks"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": items, "count": len(items)})
}

type recoverRequest struct {
	TaskIDs     []string `json:"task_ids"`
	NewPriority string   `json:"new_priority"`
}

func (s *Server) handleDeadLetterRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if len(req.TaskIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task_ids is required"})
		return
	}

	results := s.svc.dlq.Recover(r.Context(), req.TaskIDs, domain.Priority(req.NewPriority))
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// =============================================================================
// Health
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.svc.monitor.CheckHealth(r.Context())

	status := http.StatusOK
	if report.SystemStatus == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.monitor.CheckHealth(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
