package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/corpus-qa/internal/config"
	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/observability/metrics"
)

type retrieverFake struct {
	result    *domain.RetrievalResult
	err       error
	got       domain.RetrievalRequest
	requestID string
}

func (f *retrieverFake) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	f.got = req
	f.requestID = domain.RequestIDFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type answererFake struct {
	answer *domain.Answer
	err    error
}

func (f *answererFake) Ask(_ context.Context, req domain.AskRequest) (*domain.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.answer
	out.SessionID = req.SessionID
	return &out, nil
}

type catalogFake struct{}

func (catalogFake) Resolve(name string) domain.ModelDescriptor {
	window := 32_000
	return domain.ModelDescriptor{Name: name, ContextWindow: &window}
}

func (catalogFake) DefaultModel() string { return "llama3.1:8b" }

func newTestRouter(retriever *retrieverFake, answerer *answererFake, cfg config.Config) http.Handler {
	return NewRouter(cfg, retriever, answerer, catalogFake{}, metrics.NewHTTPServerMetrics("api")).Handler()
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestRetrieveReturnsPassagesAndPropagatesRequestID(t *testing.T) {
	retriever := &retrieverFake{result: &domain.RetrievalResult{
		Query:      "graph networks",
		FilterMode: domain.FilterModeManual,
		Passages: []domain.Passage{{
			Rank:           1,
			FusedCandidate: domain.FusedCandidate{Chunk: domain.Chunk{ChunkID: "c1", DocumentID: "d1"}},
		}},
	}}
	handler := newTestRouter(retriever, nil, config.Config{})

	body, _ := json.Marshal(map[string]any{
		"query":  "graph networks",
		"filter": map[string]any{"year_min": 2020},
		"model":  "qwen2.5:7b",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader(body))
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if res.Header().Get(requestIDHeader) != "req-42" || retriever.requestID != "req-42" {
		t.Fatalf("request id not propagated: header=%q ctx=%q", res.Header().Get(requestIDHeader), retriever.requestID)
	}
	if retriever.got.ManualFilter == nil || retriever.got.ManualFilter.YearMin != 2020 {
		t.Fatalf("manual filter not forwarded: %+v", retriever.got.ManualFilter)
	}
	if window, ok := retriever.got.Model.KnownContextWindow(); !ok || window != 32_000 {
		t.Fatalf("model not resolved through catalog: %+v", retriever.got.Model)
	}

	var decoded domain.RetrievalResult
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Passages) != 1 || decoded.Passages[0].Chunk.ChunkID != "c1" {
		t.Fatalf("unexpected passages %+v", decoded.Passages)
	}
}

func TestRetrieveMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid input", err: domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("bad")), want: http.StatusBadRequest},
		{name: "no passages", err: domain.WrapError(domain.ErrNoPassages, "retrieve", errors.New("q")), want: http.StatusNotFound},
		{name: "temporary retrieval failure", err: domain.WrapError(domain.ErrRetrievalFailure, "retrieve", domain.WrapError(domain.ErrTemporary, "qdrant", errors.New("503"))), want: http.StatusServiceUnavailable},
		{name: "retrieval failure", err: domain.WrapError(domain.ErrRetrievalFailure, "retrieve", errors.New("boom")), want: http.StatusBadGateway},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(&retrieverFake{err: tc.err}, nil, config.Config{})
			res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "q"})
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestRetrieveRejectsBadInput(t *testing.T) {
	handler := newTestRouter(&retrieverFake{}, nil, config.Config{})

	if res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "  "}); res.Code != http.StatusBadRequest {
		t.Fatalf("blank query expected 400, got %d", res.Code)
	}
	if res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "q", "unknown": 1}); res.Code != http.StatusBadRequest {
		t.Fatalf("unknown field expected 400, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/retrieve", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET expected 405, got %d", res.Code)
	}
}

func TestAskReturnsAnswer(t *testing.T) {
	answerer := &answererFake{answer: &domain.Answer{Text: "Transformers were introduced in 2017 [1].", TurnType: domain.TurnInitial}}
	handler := newTestRouter(&retrieverFake{}, answerer, config.Config{})

	res := postJSON(t, handler, "/v1/ask", map[string]any{"session_id": "s1", "question": "who introduced transformers?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var answer domain.Answer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if answer.SessionID != "s1" || answer.TurnType != domain.TurnInitial {
		t.Fatalf("unexpected answer %+v", answer)
	}
}

func TestAskNotConfigured(t *testing.T) {
	handler := NewRouter(config.Config{}, &retrieverFake{}, nil, nil, nil).Handler()
	res := postJSON(t, handler, "/v1/ask", map[string]any{"question": "q"})
	if res.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", res.Code)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	handler := newTestRouter(
		&retrieverFake{result: &domain.RetrievalResult{}},
		nil,
		config.Config{HTTPRateLimitRPS: 1, HTTPRateLimitBurst: 1},
	)

	if res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "q"}); res.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res.Code)
	}
	res := postJSON(t, handler, "/v1/retrieve", map[string]any{"query": "q"})
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}

	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("healthz must bypass the limiter, got %d", health.Code)
	}
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	handler := NewRouter(config.Config{}, &retrieverFake{}, nil, nil, nil,
		HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "qdrant", Check: func(context.Context) error { return errors.New("connection refused") }},
	).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	var body struct {
		Failing map[string]string `json:"failing"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Failing["qdrant"]; !ok || len(body.Failing) != 1 {
		t.Fatalf("unexpected failing set %v", body.Failing)
	}
}

func TestMetricsEndpointServesExposition(t *testing.T) {
	handler := newTestRouter(&retrieverFake{}, nil, config.Config{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}
