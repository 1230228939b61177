package rerank

import (
	"context"
	"strings"
	"unicode"
)

// OverlapScorer is the local scorer used when no cross-encoder is configured: the share of
// query terms present in the passage, with a small bonus for the query appearing verbatim.
type OverlapScorer struct{}

func NewOverlapScorer() *OverlapScorer {
	return &OverlapScorer{}
}

func (OverlapScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTokens := toTokenSet(query)
	phrase := strings.ToLower(strings.TrimSpace(query))

	scores := make([]float64, len(texts))
	for i, text := range texts {
		score := 0.9 * tokenOverlap(queryTokens, toTokenSet(text))
		if phrase != "" && strings.Contains(strings.ToLower(text), phrase) {
			score += 0.1
		}
		scores[i] = score
	}
	return scores, nil
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, token := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[token] = struct{}{}
	}
	return out
}
