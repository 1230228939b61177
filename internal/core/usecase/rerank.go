package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
)

type RerankOptions struct {
	TopN        int
	BatchSize   int
	Parallelism int
	Timeout     time.Duration
}

func (o RerankOptions) normalize() RerankOptions {
	if o.TopN <= 0 {
		o.TopN = 50
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 2
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	return o
}

// Reranker reorders the fused head with an external pairwise scorer.
type Reranker struct {
	scorer ports.RelevanceScorer
	opts   RerankOptions
}

func NewReranker(scorer ports.RelevanceScorer, opts RerankOptions) *Reranker {
	return &Reranker{scorer: scorer, opts: opts.normalize()}
}

// Rerank returns the reranked list. A non-nil failure means the scorer failed and the
// fused order was kept; a non-nil error means the caller's context ended.
func (r *Reranker) Rerank(
	ctx context.Context,
	query string,
	fused []domain.FusedCandidate,
) (out []domain.FusedCandidate, failure error, err error) {
	if r == nil || r.scorer == nil || len(fused) == 0 {
		return fused, nil, nil
	}

	head := append([]domain.FusedCandidate(nil), trimCandidates(fused, r.opts.TopN)...)
	topN := len(head)

	scores, scoreErr := r.scoreHead(ctx, query, head)
	if scoreErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return fused, scoreErr, nil
	}

	for i := range head {
		s := scores[i]
		if math.IsNaN(s) {
			s = math.Inf(-1)
		}
		head[i].RerankScore = s
		head[i].Reranked = true
	}

	// stable sort keeps fused order between equal scores
	sort.SliceStable(head, func(i, j int) bool {
		return head[i].RerankScore > head[j].RerankScore
	})

	if topN == len(fused) {
		return head, nil, nil
	}
	out = make([]domain.FusedCandidate, 0, len(fused))
	out = append(out, head...)
	out = append(out, fused[topN:]...)
	return out, nil, nil
}

func (r *Reranker) scoreHead(ctx context.Context, query string, head []domain.FusedCandidate) ([]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	scores := make([]float64, len(head))
	g, gctx := errgroup.WithContext(callCtx)
	g.SetLimit(r.opts.Parallelism)

	for start := 0; start < len(head); start += r.opts.BatchSize {
		end := start + r.opts.BatchSize
		if end > len(head) {
			end = len(head)
		}
		texts := make([]string, 0, end-start)
		for _, c := range head[start:end] {
			texts = append(texts, c.Chunk.Text)
		}

		offset := start
		g.Go(func() error {
			batch, err := r.scorer.Score(gctx, query, texts)
			if err != nil {
				return fmt.Errorf("score batch at %d: %w", offset, err)
			}
			if len(batch) != len(texts) {
				return errRerankLengthMismatch
			}
			copy(scores[offset:], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

var errRerankLengthMismatch = errors.New("relevance scorer returned mismatched result length")
