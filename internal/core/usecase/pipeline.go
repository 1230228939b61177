package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
)

const (
	stageRewrite  = "rewrite"
	stageFilter   = "filter"
	stageRetrieve = "retrieve"
	stageRerank   = "rerank"
	stageSelect   = "select"
	stageTotal    = "total"
)

type PipelineOptions struct {
	// CandidateMultiplier sizes K per retrieval path relative to the largest final budget.
	CandidateMultiplier int
	RRFK                int
}

// RetrievalService runs one request through rewrite, filter, hybrid retrieval, fusion,
// rerank and diversity selection. It holds no per-request state.
type RetrievalService struct {
	rewriter  *QueryRewriter
	extractor *FilterExtractor
	retriever *HybridRetriever
	reranker  *Reranker
	selector  *DiversitySelector
	budgets   *BudgetManager
	events    ports.RetrievalEventPublisher
	observer  ports.RetrievalObserver
	opts      PipelineOptions
}

func NewRetrievalService(
	rewriter *QueryRewriter,
	extractor *FilterExtractor,
	retriever *HybridRetriever,
	reranker *Reranker,
	selector *DiversitySelector,
	budgets *BudgetManager,
	events ports.RetrievalEventPublisher,
	observer ports.RetrievalObserver,
	opts PipelineOptions,
) *RetrievalService {
	if opts.CandidateMultiplier <= 0 {
		opts.CandidateMultiplier = 4
	}
	if opts.RRFK <= 0 {
		opts.RRFK = defaultRRFK
	}
	if rewriter == nil {
		rewriter = NewQueryRewriter(nil, 0)
	}
	if extractor == nil {
		extractor = NewFilterExtractor(nil, 0)
	}
	if selector == nil {
		selector = NewDiversitySelector(DefaultSelectionOptions())
	}
	if budgets == nil {
		budgets = NewBudgetManager(nil)
	}
	return &RetrievalService{
		rewriter:  rewriter,
		extractor: extractor,
		retriever: retriever,
		reranker:  reranker,
		selector:  selector,
		budgets:   budgets,
		events:    events,
		observer:  observer,
		opts:      opts,
	}
}

// Retrieve returns a non-empty ranked passage list or an error. Degraded paths are reported
// in RetrievalResult.Fallbacks; only retrieval failures and cancellation are errors.
func (s *RetrievalService) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	original := strings.TrimSpace(req.Query)
	if original == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required"))
	}
	started := time.Now()

	result := &domain.RetrievalResult{OriginalQuery: original}
	report := fallbackReporter{service: s, ctx: ctx, result: result}

	stage := time.Now()
	rewrite := s.rewriter.Rewrite(ctx, original, req.History)
	s.observeStage(stageRewrite, stage)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := rewrite.Query
	result.Query = query
	if rewrite.Failed {
		result.Fallbacks.RewriteFailed = true
		report.fire("rewrite_failed", nil)
	}

	stage = time.Now()
	filter, filterMode, err := s.resolveFilter(ctx, query, req)
	s.observeStage(stageFilter, stage)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		result.Fallbacks.ExtractionFailed = true
		report.fire("extraction_failed", err)
	}
	result.Filter = filter
	result.FilterMode = filterMode

	k := s.candidateK(req.Model)
	plan := FilterPlan{}
	if filterMode != domain.FilterModeNone {
		plan = planFilter(filter)
	}

	stage = time.Now()
	set, err := s.retriever.Retrieve(ctx, query, plan, k)
	if err != nil {
		s.observeStage(stageRetrieve, stage)
		return nil, s.retrievalError(ctx, query, filter, filterMode, err)
	}
	if set.Empty() && filterMode == domain.FilterModeAuto {
		set, err = s.retriever.Retrieve(ctx, query, FilterPlan{}, k)
		if err != nil {
			s.observeStage(stageRetrieve, stage)
			return nil, s.retrievalError(ctx, query, filter, filterMode, err)
		}
		report.fire("filter_relaxed", nil)
		result.FilterMode = domain.FilterModeNone
		result.Fallbacks.FilterRelaxed = true
	}
	s.observeStage(stageRetrieve, stage)

	fused := fuseCandidatesRRF(set.Dense, set.Lexical, s.opts.RRFK)

	stage = time.Now()
	ranked, failure, err := s.reranker.Rerank(ctx, query, fused)
	s.observeStage(stageRerank, stage)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		result.Fallbacks.RerankFailed = true
		report.fire("rerank_failed", failure)
	}

	stage = time.Now()
	mode := s.selector.Mode(result.FilterMode != domain.FilterModeNone, ranked)
	budget := s.budgets.Scale(s.selector.BaseBudget(mode), req.Model)
	passages, underflow := s.selector.Select(ranked, budget)
	s.observeStage(stageSelect, stage)
	result.Budget = budget
	report.mode = string(mode)

	if len(passages) == 0 {
		slog.Warn("retrieval_no_passages",
			"request_id", domain.RequestIDFromContext(ctx),
			"query", query,
			"filter", filter.String(),
			"filter_mode", string(result.FilterMode),
			"mode", string(mode),
		)
		return nil, domain.WrapError(domain.ErrNoPassages, "retrieve", fmt.Errorf("query %q", query))
	}
	if underflow {
		result.Fallbacks.BudgetUnderflow = true
		report.fire("budget_underflow", nil)
	}

	result.Passages = passages
	s.observeStage(stageTotal, started)
	if s.observer != nil {
		s.observer.ObserveSelection(mode, result.FilterMode, len(passages))
	}
	return result, nil
}

// resolveFilter picks exactly one filter mode. A manual filter is used verbatim and skips
// extraction; the returned error is an extraction failure and the filter is then empty.
func (s *RetrievalService) resolveFilter(
	ctx context.Context,
	query string,
	req domain.RetrievalRequest,
) (domain.Filter, domain.FilterMode, error) {
	if req.ManualFilter != nil {
		manual := req.ManualFilter.Normalize()
		if manual.IsEmpty() {
			return domain.Filter{}, domain.FilterModeNone, nil
		}
		return manual, domain.FilterModeManual, nil
	}
	if req.DisableAutoFilter {
		return domain.Filter{}, domain.FilterModeNone, nil
	}

	extraction, err := s.extractor.Extract(ctx, query)
	if err != nil {
		return domain.Filter{}, domain.FilterModeNone, err
	}
	if !extraction.Found {
		return domain.Filter{}, domain.FilterModeNone, nil
	}
	return extraction.Filter, domain.FilterModeAuto, nil
}

// candidateK is the per-path K: the multiplier times the largest budget this model allows.
func (s *RetrievalService) candidateK(model domain.ModelDescriptor) int {
	focused := s.selector.BaseBudget(domain.SelectionFocused).MaxTotal
	broad := s.selector.BaseBudget(domain.SelectionBroad).MaxTotal
	largest := float64(max(focused, broad)) * s.budgets.Multiplier(model)
	return s.opts.CandidateMultiplier * int(math.Ceil(largest))
}

func (s *RetrievalService) retrievalError(
	ctx context.Context,
	query string,
	filter domain.Filter,
	filterMode domain.FilterMode,
	err error,
) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	slog.Error("retrieval_failed",
		"request_id", domain.RequestIDFromContext(ctx),
		"query", query,
		"filter", filter.String(),
		"filter_mode", string(filterMode),
		"error", err,
	)
	if s.observer != nil {
		s.observer.ObserveFallback("retrieval_failed")
	}
	if !domain.IsKind(err, domain.ErrRetrievalFailure) {
		err = domain.WrapError(domain.ErrRetrievalFailure, "retrieve", err)
	}
	return err
}

func (s *RetrievalService) observeStage(stage string, since time.Time) {
	if s.observer != nil {
		s.observer.ObserveStage(stage, time.Since(since))
	}
}

// fallbackReporter logs, counts and publishes one degraded path of a request.
type fallbackReporter struct {
	service *RetrievalService
	ctx     context.Context
	result  *domain.RetrievalResult
	mode    string
}

func (r fallbackReporter) fire(name string, cause error) {
	event := domain.RetrievalEvent{
		RequestID:  domain.RequestIDFromContext(r.ctx),
		Fallback:   name,
		Query:      r.result.Query,
		Filter:     r.result.Filter.String(),
		FilterMode: r.result.FilterMode,
		Mode:       r.mode,
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	slog.Warn("retrieval_fallback",
		"request_id", event.RequestID,
		"fallback", name,
		"query", event.Query,
		"filter", event.Filter,
		"filter_mode", string(event.FilterMode),
		"mode", r.mode,
		"error", event.Error,
	)
	if r.service.observer != nil {
		r.service.observer.ObserveFallback(name)
	}
	if r.service.events != nil {
		if err := r.service.events.PublishRetrievalEvent(r.ctx, event); err != nil {
			slog.Warn("retrieval_event_publish_failed", "fallback", name, "error", err)
		}
	}
}
