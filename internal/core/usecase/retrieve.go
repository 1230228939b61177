package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
)

type RetrieverOptions struct {
	// ClientFilterOverfetch multiplies K when client-side predicates are present.
	ClientFilterOverfetch int
	Timeout               time.Duration
}

// CandidateSet is the output of one hybrid retrieval: two independently ranked lists.
type CandidateSet struct {
	Dense   []domain.Candidate
	Lexical []domain.Candidate
}

func (s CandidateSet) Empty() bool {
	return len(s.Dense) == 0 && len(s.Lexical) == 0
}

// HybridRetriever runs dense and lexical search concurrently and hydrates the hits.
type HybridRetriever struct {
	embedder ports.Embedder
	dense    ports.DenseIndex
	lexical  ports.LexicalIndex
	chunks   ports.ChunkStore
	opts     RetrieverOptions
}

func NewHybridRetriever(
	embedder ports.Embedder,
	dense ports.DenseIndex,
	lexical ports.LexicalIndex,
	chunks ports.ChunkStore,
	opts RetrieverOptions,
) *HybridRetriever {
	if opts.ClientFilterOverfetch <= 0 {
		opts.ClientFilterOverfetch = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &HybridRetriever{
		embedder: embedder,
		dense:    dense,
		lexical:  lexical,
		chunks:   chunks,
		opts:     opts,
	}
}

// Retrieve returns up to k candidates per path. Any path failure is a retrieval failure.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, plan FilterPlan, k int) (CandidateSet, error) {
	if k <= 0 {
		return CandidateSet{}, domain.WrapError(domain.ErrInvalidInput, "hybrid retrieve", fmt.Errorf("k must be positive"))
	}
	fetch := plan.fetchLimit(k, r.opts.ClientFilterOverfetch)

	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var denseHits, lexicalHits []domain.ScoredID
	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		vector, err := r.embedder.EmbedQuery(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		hits, err := r.dense.SearchDense(gctx, vector, fetch, plan.Native)
		if err != nil {
			return fmt.Errorf("dense search: %w", err)
		}
		denseHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.lexical.SearchLexical(gctx, query, fetch, plan.Native)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexicalHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return CandidateSet{}, ctxErr
		}
		return CandidateSet{}, domain.WrapError(domain.ErrRetrievalFailure, "hybrid retrieve", err)
	}

	chunks, err := r.chunks.GetChunks(callCtx, unionIDs(denseHits, lexicalHits))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return CandidateSet{}, ctxErr
		}
		return CandidateSet{}, domain.WrapError(domain.ErrRetrievalFailure, "hydrate chunks", err)
	}

	dense := hydrate(denseHits, chunks, domain.SourceDense)
	lexical := hydrate(lexicalHits, chunks, domain.SourceLexical)
	if missing := len(denseHits) + len(lexicalHits) - len(dense) - len(lexical); missing > 0 {
		slog.Warn("retrieval_missing_chunks", "query", query, "missing", missing)
	}

	return CandidateSet{
		Dense:   applyClientFilter(dense, plan, k),
		Lexical: applyClientFilter(lexical, plan, k),
	}, nil
}

func unionIDs(lists ...[]domain.ScoredID) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, hit := range list {
			if _, ok := seen[hit.ChunkID]; ok {
				continue
			}
			seen[hit.ChunkID] = struct{}{}
			out = append(out, hit.ChunkID)
		}
	}
	return out
}

// hydrate resolves hits in order, skipping chunks that no longer exist and duplicate ids.
func hydrate(hits []domain.ScoredID, chunks map[string]domain.Chunk, source domain.RetrievalSource) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		chunk, ok := chunks[hit.ChunkID]
		if !ok {
			continue
		}
		if _, dup := seen[hit.ChunkID]; dup {
			continue
		}
		seen[hit.ChunkID] = struct{}{}
		out = append(out, domain.Candidate{
			Chunk:  chunk,
			Source: source,
			Rank:   len(out) + 1,
			Score:  hit.Score,
		})
	}
	return out
}
