package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/corpus-qa/internal/config"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
	"github.com/kirillkom/corpus-qa/internal/core/usecase"
	natsevents "github.com/kirillkom/corpus-qa/internal/infrastructure/events/nats"
	"github.com/kirillkom/corpus-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/corpus-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/corpus-qa/internal/infrastructure/rerank"
	"github.com/kirillkom/corpus-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/corpus-qa/internal/infrastructure/tokencount"
	"github.com/kirillkom/corpus-qa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/corpus-qa/internal/observability/metrics"
)

// Ping checks one dependency for the health endpoints.
type Ping struct {
	Name  string
	Check func(ctx context.Context) error
}

type App struct {
	Config config.Config

	Retriever *usecase.RetrievalService
	Answerer  *usecase.AskService
	Models    *config.ModelCatalog
	Metrics   *metrics.HTTPServerMetrics
	Pings     []Ping

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg))

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaUtilityModel, cfg.OllamaEmbedModel, executor)
	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{
		DenseVector:  cfg.QdrantDenseVector,
		SparseVector: cfg.QdrantSparseVector,
	}, executor)

	var lexical ports.LexicalIndex
	var chunks ports.ChunkStore
	switch cfg.RAGLexicalBackend {
	case "qdrant":
		lexical, chunks = vectorDB, vectorDB
	case "postgres":
		repo := postgres.NewChunkRepository(db)
		lexical, chunks = repo, repo
	default:
		_ = db.Close()
		return nil, fmt.Errorf("unknown lexical backend %q", cfg.RAGLexicalBackend)
	}

	scorer, err := newScorer(cfg, executor)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	counter, err := tokencount.New(cfg.TokenizerEncoding)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var events ports.RetrievalEventPublisher
	var publisher *natsevents.Publisher
	if cfg.NATSURL != "" {
		publisher, err = natsevents.NewPublisher(cfg.NATSURL, cfg.NATSSubject, natsevents.Options{ResilienceExecutor: executor})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		events = publisher
	} else {
		slog.Info("retrieval_events_disabled")
	}

	appMetrics := metrics.NewHTTPServerMetrics(service)

	retriever := usecase.NewRetrievalService(
		usecase.NewQueryRewriter(ollama.NewRewriter(ollamaClient), cfg.RAGRewriteTimeout),
		usecase.NewFilterExtractor(ollama.NewFilterModel(ollamaClient), cfg.RAGFilterTimeout),
		usecase.NewHybridRetriever(ollama.NewEmbedder(ollamaClient), vectorDB, lexical, chunks, usecase.RetrieverOptions{
			ClientFilterOverfetch: cfg.RAGClientFilterOverfetch,
			Timeout:               cfg.RAGRetrievalTimeout,
		}),
		usecase.NewReranker(scorer, usecase.RerankOptions{
			TopN:        cfg.RAGRerankTopN,
			BatchSize:   cfg.RAGRerankBatchSize,
			Parallelism: cfg.RAGRerankParallelism,
			Timeout:     cfg.RAGRerankTimeout,
		}),
		usecase.NewDiversitySelector(usecase.SelectionOptions{
			FocusedPerDocument:  cfg.RAGFocusedPerDocument,
			FocusedTotal:        cfg.RAGFocusedTotal,
			BroadPerDocument:    cfg.RAGBroadPerDocument,
			BroadTotal:          cfg.RAGBroadTotal,
			ConcentrationWindow: cfg.RAGConcentrationWindow,
			ConcentrationRatio:  cfg.RAGConcentrationRatio,
		}),
		usecase.NewBudgetManager(budgetTiers(catalog)),
		events,
		appMetrics,
		usecase.PipelineOptions{
			CandidateMultiplier: cfg.RAGCandidateMultiplier,
			RRFK:                cfg.RAGFusionRRFK,
		},
	)

	answerer := usecase.NewAskService(
		retriever,
		usecase.NewConversationStateManager(counter, usecase.ConversationOptions{
			ResponseReserve: cfg.ConversationResponseReserve,
		}),
		ollama.NewGenerator(ollamaClient),
		postgres.NewSessionRepository(db),
		catalog,
	).WithObserver(appMetrics)

	return &App{
		Config:    cfg,
		Retriever: retriever,
		Answerer:  answerer,
		Models:    catalog,
		Metrics:   appMetrics,
		Pings: []Ping{
			{Name: "postgres", Check: pingDB(db)},
			{Name: "qdrant", Check: vectorDB.Ping},
		},
		closeFn: func() {
			if publisher != nil {
				publisher.Close()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func loadCatalog(cfg config.Config) (*config.ModelCatalog, error) {
	if cfg.ModelCatalogPath == "" {
		return config.DefaultModelCatalog(cfg.OllamaUtilityModel), nil
	}
	catalog, err := config.LoadModelCatalog(cfg.ModelCatalogPath)
	if err != nil {
		return nil, err
	}
	return catalog, nil
}

func budgetTiers(catalog *config.ModelCatalog) []usecase.BudgetTier {
	if len(catalog.BudgetTiers) == 0 {
		return nil
	}
	out := make([]usecase.BudgetTier, 0, len(catalog.BudgetTiers))
	for _, t := range catalog.BudgetTiers {
		out = append(out, usecase.BudgetTier{MaxContextWindow: t.MaxContextWindow, Multiplier: t.Multiplier})
	}
	return out
}

// resilienceConfig gives every external call its own attempt timeout: retrieval-path calls
// share the retrieval budget, utility-model calls use the rewrite and filter budgets.
func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.Breaker.Enabled = cfg.ResilienceBreakerEnabled
	out.Retry.MaxAttempts = cfg.ResilienceRetryAttempts
	out.AttemptTimeout = cfg.ResilienceAttemptTimeout
	out.Timeouts = map[string]time.Duration{
		ollama.OperationEmbed:         cfg.RAGRetrievalTimeout,
		ollama.OperationExtractFilter: cfg.RAGFilterTimeout,
		ollama.OperationRewrite:       cfg.RAGRewriteTimeout,
		ollama.OperationChat:          cfg.OllamaChatTimeout,
		qdrant.OperationSearchDense:   cfg.RAGRetrievalTimeout,
		qdrant.OperationSearchLexical: cfg.RAGRetrievalTimeout,
		qdrant.OperationGetChunks:     cfg.RAGRetrievalTimeout,
		rerank.OperationRerank:        cfg.RAGRerankTimeout,
		natsevents.OperationPublish:   cfg.NATSPublishTimeout,
	}
	return out
}

func newScorer(cfg config.Config, executor *resilience.Executor) (ports.RelevanceScorer, error) {
	switch cfg.RAGReranker {
	case "crossencoder":
		return rerank.NewCrossEncoder(cfg.RAGRerankerURL, cfg.RAGRerankerModel, cfg.RAGRerankTimeout, executor), nil
	case "overlap":
		return rerank.NewOverlapScorer(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reranker %q", cfg.RAGReranker)
	}
}

func pingDB(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
