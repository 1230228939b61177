package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/corpus-qa/internal/config"
	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
	"github.com/kirillkom/corpus-qa/internal/observability/metrics"
)

const maxRequestBody = 1 << 20

// HealthCheck is one dependency checked by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Router struct {
	cfg       config.Config
	retriever ports.PassageRetriever
	answerer  ports.QuestionAnswerer
	models    ports.ModelCatalog
	metrics   *metrics.HTTPServerMetrics
	checks    []HealthCheck
}

func NewRouter(
	cfg config.Config,
	retriever ports.PassageRetriever,
	answerer ports.QuestionAnswerer,
	models ports.ModelCatalog,
	httpMetrics *metrics.HTTPServerMetrics,
	checks ...HealthCheck,
) *Router {
	return &Router{
		cfg:       cfg,
		retriever: retriever,
		answerer:  answerer,
		models:    models,
		metrics:   httpMetrics,
		checks:    checks,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/retrieve", rt.retrieve)
	mux.HandleFunc("POST /v1/ask", rt.ask)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = rateLimitMiddleware(mux, rt.cfg.HTTPRateLimitRPS, rt.cfg.HTTPRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failing := map[string]string{}
	for _, check := range rt.checks {
		if err := check.Check(ctx); err != nil {
			failing[check.Name] = err.Error()
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type retrieveRequest struct {
	Query             string                    `json:"query"`
	History           []domain.ConversationTurn `json:"history"`
	Filter            *domain.Filter            `json:"filter"`
	DisableAutoFilter bool                      `json:"disable_auto_filter"`
	Model             string                    `json:"model"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := rt.retriever.Retrieve(r.Context(), domain.RetrievalRequest{
		Query:             req.Query,
		History:           req.History,
		ManualFilter:      req.Filter,
		DisableAutoFilter: req.DisableAutoFilter,
		Model:             rt.resolveModel(req.Model),
	})
	if err != nil {
		rt.writeDomainError(w, r, "retrieve", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	if rt.answerer == nil {
		writeError(w, http.StatusNotImplemented, "answering is not configured")
		return
	}
	var req domain.AskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := rt.answerer.Ask(r.Context(), req)
	if err != nil {
		rt.writeDomainError(w, r, "ask", err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) resolveModel(name string) domain.ModelDescriptor {
	if rt.models == nil {
		return domain.ModelDescriptor{Name: name}
	}
	return rt.models.Resolve(name)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// client went away; nothing useful to write
		return
	}
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		slog.Error("http_handler_failed",
			"request_id", domain.RequestIDFromContext(r.Context()),
			"operation", op,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
