package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

func TestCrossEncoderRestoresInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Query string   `json:"query"`
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Query != "q" || len(payload.Texts) != 3 {
			t.Errorf("unexpected payload %+v", payload)
		}
		_, _ = w.Write([]byte(`[{"index":2,"score":0.9},{"index":0,"score":0.5},{"index":1,"score":0.1}]`))
	}))
	defer server.Close()

	scores, err := NewCrossEncoder(server.URL, "", 0, nil).Score(context.Background(), "q", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	want := []float64{0.5, 0.1, 0.9}
	for i := range want {
		if scores[i] != want[i] {
			t.Fatalf("scores = %v, want %v", scores, want)
		}
	}
}

func TestCrossEncoderRejectsShortResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":0,"score":0.5}]`))
	}))
	defer server.Close()

	if _, err := NewCrossEncoder(server.URL, "", 0, nil).Score(context.Background(), "q", []string{"a", "b"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCrossEncoderServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewCrossEncoder(server.URL, "", 0, nil).Score(context.Background(), "q", []string{"a"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestOverlapScorerPrefersMatchingPassages(t *testing.T) {
	scores, err := NewOverlapScorer().Score(context.Background(), "graph neural networks", []string{
		"A survey of cooking recipes.",
		"Graph neural networks generalise convolutions.",
		"Neural networks for images.",
	})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if !(scores[1] > scores[2] && scores[2] > scores[0]) {
		t.Fatalf("unexpected ordering %v", scores)
	}
	if scores[0] != 0 {
		t.Fatalf("unrelated passage should score 0, got %v", scores[0])
	}
}

func TestOverlapScorerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewOverlapScorer().Score(ctx, "q", []string{"q"}); err == nil {
		t.Fatalf("expected context error")
	}
}
