package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/promptflow/internal/condition"
	"github.com/soochol/promptflow/internal/engine"
	"github.com/soochol/promptflow/internal/metrics"
	"github.com/soochol/promptflow/internal/model"
	"github.com/soochol/promptflow/internal/promptflow"
	"github.com/soochol/promptflow/internal/repository"
	"github.com/soochol/promptflow/internal/resilience"
	"github.com/soochol/promptflow/internal/services"
)

// CacheClearer drops cached model responses. *model.Client implements it.
type CacheClearer interface {
	ClearCache(ctx context.Context) error
}

type Server struct {
	workflowSvc *services.WorkflowService
	promptSvc   *services.PromptService
	evaluator   *condition.Evaluator
	cache       CacheClearer
	resilience  *resilience.Context
	events      *engine.EventBus
	metrics     *metrics.Collector
	corsOrigins []string
}

func NewServer(workflowSvc *services.WorkflowService) *Server {
	return &Server{
		workflowSvc: workflowSvc,
		evaluator:   condition.NewEvaluator(),
		corsOrigins: []string{"*"},
	}
}

// SetCache enables DELETE /api/cache.
func (s *Server) SetCache(cache CacheClearer) {
	s.cache = cache
}

// SetPromptService enables the /api/prompts tools.
func (s *Server) SetPromptService(svc *services.PromptService) {
	s.promptSvc = svc
}

// SetResilience enables GET /api/resilience and its breaker reset.
func (s *Server) SetResilience(rc *resilience.Context) {
	s.resilience = rc
}

// SetEvents enables streaming run progress. bus must be the one the
// executor publishes to.
func (s *Server) SetEvents(bus *engine.EventBus) {
	s.events = bus
}

// SetMetrics instruments every request and serves /metrics.
func (s *Server) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

// SetCORSOrigins replaces the allowed origins. Empty keeps the default "*".
func (s *Server) SetCORSOrigins(origins []string) {
	if len(origins) > 0 {
		s.corsOrigins = origins
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.createWorkflow)
			r.Get("/", s.listWorkflows)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getWorkflow)
				r.Put("/", s.updateWorkflow)
				r.Delete("/", s.deleteWorkflow)
				r.Post("/run", s.runWorkflow)
				r.Get("/executions", s.listExecutions)
				r.Get("/diagram", s.diagram)
				r.Get("/analysis", s.analysis)
				r.Get("/export", s.exportWorkflow)
			})
		})
		r.Route("/conditions", func(r chi.Router) {
			r.Get("/templates", s.conditionTemplates)
			r.Post("/evaluate", s.evaluateCondition)
		})
		r.Post("/parse", s.parseResponse)
		if s.promptSvc != nil {
			r.Route("/prompts", func(r chi.Router) {
				r.Get("/params", s.promptParams)
				r.Post("/enhance", s.enhancePrompt)
				r.Post("/infer", s.inferPrompt)
				r.Post("/analyze", s.analyzeOutput)
			})
		}
		r.Get("/health", s.health)
		r.Delete("/cache", s.clearCache)
		r.Get("/resilience", s.resilienceStatus)
		r.Post("/resilience/reset", s.resetBreaker)
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, promptflow.ErrInvalidWorkflow), errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrContentBlocked):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrRateLimited), errors.Is(err, model.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	case errors.Is(err, services.ErrResponseTooShort), errors.Is(err, services.ErrNoPrompt),
		errors.Is(err, services.ErrAnalysisFailed), errors.Is(err, model.ErrEmptyResponse):
		status = http.StatusBadGateway
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	http.Error(w, err.Error(), status)
}
