package usecase

import (
	"testing"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

func TestPlanFilterSplitsNativeAndClientPredicates(t *testing.T) {
	plan := planFilter(domain.Filter{
		YearMin:   2020,
		ItemTypes: []string{"book"},
		Tags:      []string{"ML"},
	})
	if plan.Native.YearMin != 2020 || len(plan.Native.ItemTypes) != 1 {
		t.Fatalf("unexpected native filter %+v", plan.Native)
	}
	if !plan.Client {
		t.Fatalf("expected client-side predicates")
	}
	if got := plan.fetchLimit(10, 3); got != 30 {
		t.Fatalf("expected overfetch 30, got %d", got)
	}

	nativeOnly := planFilter(domain.Filter{YearMax: 2019})
	if nativeOnly.Client {
		t.Fatalf("year-only filter must not need client filtering")
	}
	if got := nativeOnly.fetchLimit(10, 3); got != 10 {
		t.Fatalf("expected no overfetch, got %d", got)
	}
	if !(FilterPlan{}).Empty() {
		t.Fatalf("zero plan must be empty")
	}
}

func TestApplyClientFilterRenumbersRanks(t *testing.T) {
	candidates := rankedCandidates(domain.SourceLexical, "a", "b", "c", "d")
	candidates[0].Chunk.Metadata.Tags = []string{"ml"}
	candidates[2].Chunk.Metadata.Tags = []string{"ML", "nlp"}
	candidates[3].Chunk.Metadata.Tags = []string{"ml"}

	plan := planFilter(domain.Filter{Tags: []string{"ml"}})
	out := applyClientFilter(candidates, plan, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 candidates after limit, got %d", len(out))
	}
	if out[0].Chunk.ChunkID != "a" || out[1].Chunk.ChunkID != "c" {
		t.Fatalf("unexpected candidates %s,%s", out[0].Chunk.ChunkID, out[1].Chunk.ChunkID)
	}
	if out[1].Rank != 2 {
		t.Fatalf("expected rank renumbered to 2, got %d", out[1].Rank)
	}
	if candidates[2].Rank != 3 {
		t.Fatalf("input candidates must not be modified")
	}
}

func TestApplyClientFilterWithoutPredicatesOnlyLimits(t *testing.T) {
	out := applyClientFilter(rankedCandidates(domain.SourceDense, "a", "b", "c"), FilterPlan{}, 2)
	if len(out) != 2 || out[1].Chunk.ChunkID != "b" {
		t.Fatalf("unexpected output %+v", out)
	}
}
