package usecase

import (
	"sort"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

const defaultRRFK = 60

// fuseCandidatesRRF merges the dense and lexical lists with Reciprocal Rank Fusion.
// Candidate.Rank is 1-based, so a chunk contributes 1/(k+rank) per list it appears in.
func fuseCandidatesRRF(dense, lexical []domain.Candidate, rrfK int) []domain.FusedCandidate {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	acc := make(map[string]*domain.FusedCandidate, len(dense)+len(lexical))
	order := make([]string, 0, len(dense)+len(lexical))
	addList := func(candidates []domain.Candidate) {
		for _, c := range candidates {
			key := c.Chunk.ChunkID
			fc, ok := acc[key]
			if !ok {
				fc = &domain.FusedCandidate{Chunk: c.Chunk}
				acc[key] = fc
				order = append(order, key)
			}
			switch c.Source {
			case domain.SourceDense:
				if fc.DenseRank != 0 {
					continue
				}
				fc.DenseRank = c.Rank
				fc.DenseScore = c.Score
			case domain.SourceLexical:
				if fc.LexicalRank != 0 {
					continue
				}
				fc.LexicalRank = c.Rank
				fc.LexicalScore = c.Score
			default:
				continue
			}
			fc.FusedScore += 1.0 / float64(rrfK+c.Rank)
		}
	}

	addList(dense)
	addList(lexical)

	out := make([]domain.FusedCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, *acc[key])
	}
	sortFused(out)
	return out
}

func sortFused(out []domain.FusedCandidate) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if bi, bj := out[i].InBothLists(), out[j].InBothLists(); bi != bj {
			return bi
		}
		if out[i].DenseScore != out[j].DenseScore {
			return out[i].DenseScore > out[j].DenseScore
		}
		return out[i].Chunk.ChunkID < out[j].Chunk.ChunkID
	})
}

func trimCandidates(candidates []domain.FusedCandidate, limit int) []domain.FusedCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}
