package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	for _, key := range []string{
		"RAG_CANDIDATE_MULTIPLIER", "RAG_FUSION_RRF_K", "RAG_RERANK_TOP_N",
		"RAG_CONCENTRATION_RATIO", "RAG_RERANK_TIMEOUT", "NATS_URL", "RAG_LEXICAL_BACKEND",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.RAGCandidateMultiplier != 4 {
		t.Fatalf("expected candidate multiplier 4, got %d", cfg.RAGCandidateMultiplier)
	}
	if cfg.RAGFusionRRFK != 60 {
		t.Fatalf("expected fusion rrf k 60, got %d", cfg.RAGFusionRRFK)
	}
	if cfg.RAGRerankTopN != 50 {
		t.Fatalf("expected rerank top n 50, got %d", cfg.RAGRerankTopN)
	}
	if cfg.RAGConcentrationRatio != 0.6 {
		t.Fatalf("expected concentration ratio 0.6, got %v", cfg.RAGConcentrationRatio)
	}
	if cfg.RAGRerankTimeout != 15*time.Second {
		t.Fatalf("expected rerank timeout 15s, got %v", cfg.RAGRerankTimeout)
	}
	if cfg.NATSURL != "" {
		t.Fatalf("expected event stream disabled by default, got %q", cfg.NATSURL)
	}
	if cfg.RAGLexicalBackend != "qdrant" {
		t.Fatalf("expected qdrant lexical backend, got %q", cfg.RAGLexicalBackend)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("RAG_FUSION_RRF_K", "75")
	t.Setenv("RAG_CONCENTRATION_RATIO", "0.75")
	t.Setenv("RAG_RERANK_TIMEOUT", "3s")
	t.Setenv("RAG_LEXICAL_BACKEND", "Postgres")
	t.Setenv("RAG_RERANK_BATCH_SIZE", "not-a-number")

	cfg := Load()
	if cfg.RAGFusionRRFK != 75 {
		t.Fatalf("expected fusion rrf k 75, got %d", cfg.RAGFusionRRFK)
	}
	if cfg.RAGConcentrationRatio != 0.75 {
		t.Fatalf("expected ratio 0.75, got %v", cfg.RAGConcentrationRatio)
	}
	if cfg.RAGRerankTimeout != 3*time.Second {
		t.Fatalf("expected 3s, got %v", cfg.RAGRerankTimeout)
	}
	if cfg.RAGLexicalBackend != "postgres" {
		t.Fatalf("expected lowercased backend, got %q", cfg.RAGLexicalBackend)
	}
	if cfg.RAGRerankBatchSize != 16 {
		t.Fatalf("expected fallback batch size 16 for invalid value, got %d", cfg.RAGRerankBatchSize)
	}
}

const catalogYAML = `
default_model: llama3.1:8b
models:
  - name: llama3.1:8b
    provider: ollama
    context_window: 131072
  - name: qwen2.5:7b
    provider: ollama
budget_tiers:
  - max_context_window: 32000
    multiplier: 1
  - max_context_window: 0
    multiplier: 2.5
`

func TestLoadModelCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadModelCatalog(path)
	if err != nil {
		t.Fatalf("LoadModelCatalog() error = %v", err)
	}
	if catalog.DefaultModel() != "llama3.1:8b" {
		t.Fatalf("unexpected default %q", catalog.DefaultModel())
	}
	llama := catalog.Resolve("LLAMA3.1:8b")
	if window, ok := llama.KnownContextWindow(); !ok || window != 131072 {
		t.Fatalf("expected 131072 window, got %v %v", window, ok)
	}
	if _, ok := catalog.Resolve("qwen2.5:7b").KnownContextWindow(); ok {
		t.Fatalf("qwen has no declared window")
	}
	unknown := catalog.Resolve("mystery")
	if unknown.Name != "mystery" || unknown.ContextWindow != nil {
		t.Fatalf("unexpected descriptor for unlisted model: %+v", unknown)
	}
	if catalog.Resolve("").Name != "llama3.1:8b" {
		t.Fatalf("empty name should resolve to default")
	}
	if len(catalog.BudgetTiers) != 2 || catalog.BudgetTiers[1].Multiplier != 2.5 {
		t.Fatalf("unexpected tiers %+v", catalog.BudgetTiers)
	}
}

func TestParseModelCatalogRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unnamed model":      "models:\n  - provider: ollama\n",
		"negative window":    "models:\n  - name: m\n    context_window: -1\n",
		"zero multiplier":    "budget_tiers:\n  - max_context_window: 100\n    multiplier: 0\n",
		"malformed document": "models: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseModelCatalog([]byte(raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDefaultModelCatalog(t *testing.T) {
	catalog := DefaultModelCatalog("llama3.1:8b")
	model := catalog.Resolve("")
	if model.Name != "llama3.1:8b" {
		t.Fatalf("unexpected default model %+v", model)
	}
	if _, ok := model.KnownContextWindow(); ok {
		t.Fatalf("default catalog has no declared window")
	}
}
