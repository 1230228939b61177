package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/infrastructure/resilience"
)

func TestSearchDenseSendsNamedVectorAndNativeFilter(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/chunks/points/search" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[
			{"id":"5c56c793-69f3-4fbf-87e6-c4bf54c28c26","score":0.91,"payload":{"chunk_id":"c1"}},
			{"id":7,"score":0.5,"payload":{}}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks", Options{DenseVector: "dense"}, nil)
	hits, err := client.SearchDense(context.Background(), []float32{0.1, 0.2}, 10, domain.NativeFilter{
		YearMax:   2020,
		ItemTypes: []string{"journalArticle"},
	})
	if err != nil {
		t.Fatalf("SearchDense() error = %v", err)
	}
	if len(hits) != 2 || hits[0].ChunkID != "c1" || hits[1].ChunkID != "7" {
		t.Fatalf("unexpected hits %+v", hits)
	}

	vector, _ := captured["vector"].(map[string]any)
	if vector["name"] != "dense" {
		t.Fatalf("expected named dense vector, got %v", captured["vector"])
	}
	filter, _ := captured["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("expected two native conditions, got %v", filter)
	}
	yearRange := must[0].(map[string]any)["range"].(map[string]any)
	if yearRange["lte"] != float64(2020) || yearRange["gte"] != float64(1) {
		t.Fatalf("expected year range 1..2020, got %v", yearRange)
	}
}

func TestSearchLexicalUsesSparseVector(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":[{"id":1,"score":3.2,"payload":{"chunk_id":"c9"}}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks", Options{}, nil)
	hits, err := client.SearchLexical(context.Background(), "Vaswani attention", 5, domain.NativeFilter{})
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "c9" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	vector, _ := captured["vector"].(map[string]any)
	if vector["name"] != "text-sparse" {
		t.Fatalf("expected default sparse vector name, got %v", vector["name"])
	}
	sparse, _ := vector["vector"].(map[string]any)
	if indices, _ := sparse["indices"].([]any); len(indices) != 2 {
		t.Fatalf("expected two sparse terms, got %v", sparse)
	}
	if _, ok := captured["filter"]; ok {
		t.Fatalf("empty native filter must not be sent")
	}
}

func TestSearchLexicalSkipsEmptyQuery(t *testing.T) {
	client := New("http://127.0.0.1:1", "chunks", Options{}, nil)
	hits, err := client.SearchLexical(context.Background(), "?!", 5, domain.NativeFilter{})
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected empty result without a request, got %v %v", hits, err)
	}
}

func TestGetChunksParsesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/chunks/points/scroll" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"points":[{"payload":{
			"chunk_id":"c1","document_id":"d1","text":"hello","page_number":4,
			"title":"Paper","authors":["Ada Lovelace"],"year":2021,
			"tags":["ml"],"collections":["thesis"],"item_type":"journalArticle"
		}}]}}`))
	}))
	defer server.Close()

	chunks, err := New(server.URL, "chunks", Options{}, nil).GetChunks(context.Background(), []string{"c1", "gone"})
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	c := chunks["c1"]
	if c.DocumentID != "d1" || c.PageNumber == nil || *c.PageNumber != 4 || c.Metadata.Year != 2021 {
		t.Fatalf("unexpected chunk %+v", c)
	}
	if len(c.Metadata.Authors) != 1 || c.Metadata.Tags[0] != "ml" || c.Metadata.ItemType != "journalArticle" {
		t.Fatalf("unexpected metadata %+v", c.Metadata)
	}
}

func TestSearchRetriesTemporaryStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	client := New(server.URL, "chunks", Options{}, executor)
	if _, err := client.SearchDense(context.Background(), []float32{1}, 3, domain.NativeFilter{}); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestSearchErrorIncludesResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection missing", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New(server.URL, "chunks", Options{}, nil).SearchDense(context.Background(), []float32{1}, 3, domain.NativeFilter{})
	if err == nil || !strings.Contains(err.Error(), "collection missing") {
		t.Fatalf("expected error to include body, got %v", err)
	}
	if errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("404 must not be temporary")
	}
}

func TestBuildFilter(t *testing.T) {
	if buildFilter(domain.NativeFilter{}) != nil {
		t.Fatalf("expected nil filter for empty native filter")
	}
	f := buildFilter(domain.NativeFilter{YearMin: 2020})
	must := f["must"].([]map[string]any)
	r := must[0]["range"].(map[string]any)
	if r["gte"] != 2020 {
		t.Fatalf("unexpected range %v", r)
	}
	if _, ok := r["lte"]; ok {
		t.Fatalf("unexpected upper bound %v", r)
	}
}
