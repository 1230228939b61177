package usecase

import (
	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

// FilterPlan splits a filter into the part pushed into the external indexes and the
// part evaluated here after hydration.
type FilterPlan struct {
	Filter domain.Filter
	Native domain.NativeFilter
	Client bool
}

func planFilter(f domain.Filter) FilterPlan {
	f = f.Normalize()
	return FilterPlan{
		Filter: f,
		Native: f.Native(),
		Client: f.HasClientPredicates(),
	}
}

func (p FilterPlan) Empty() bool {
	return p.Native.IsEmpty() && !p.Client
}

// fetchLimit widens K when client-side predicates will discard part of the hits.
func (p FilterPlan) fetchLimit(k, overfetch int) int {
	if !p.Client || overfetch <= 1 {
		return k
	}
	return k * overfetch
}

// applyClientFilter drops candidates failing the client-side predicates and re-numbers
// ranks so RRF sees positions within the filtered list.
func applyClientFilter(candidates []domain.Candidate, plan FilterPlan, limit int) []domain.Candidate {
	out := make([]domain.Candidate, 0, min(len(candidates), max(limit, 0)))
	for _, c := range candidates {
		if limit > 0 && len(out) >= limit {
			break
		}
		if plan.Client && !plan.Filter.MatchesClient(c.Chunk.Metadata) {
			continue
		}
		c.Rank = len(out) + 1
		out = append(out, c)
	}
	return out
}
