package ports

import (
	"context"
	"time"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

// Embedder builds query vectors for dense search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DenseIndex is the nearest-neighbour service. Results are ordered by descending similarity.
type DenseIndex interface {
	SearchDense(ctx context.Context, queryVector []float32, limit int, filter domain.NativeFilter) ([]domain.ScoredID, error)
}

// LexicalIndex is the keyword scorer. Results are ordered by descending relevance.
type LexicalIndex interface {
	SearchLexical(ctx context.Context, queryText string, limit int, filter domain.NativeFilter) ([]domain.ScoredID, error)
}

// ChunkStore resolves chunk ids. Unknown ids are omitted from the result.
type ChunkStore interface {
	GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error)
}

// FilterExtractionModel turns free text into a filter. It must return domain.NoFilter
// for ambiguous or malformed model output instead of an error.
type FilterExtractionModel interface {
	ExtractFilter(ctx context.Context, queryText string) (domain.FilterExtraction, error)
}

// QueryRewriteModel rewrites a follow-up into a standalone question.
type QueryRewriteModel interface {
	RewriteQuery(ctx context.Context, query string, recent []domain.ConversationTurn) (string, error)
}

// RelevanceScorer scores (query, passage) pairs. Output has the same length and order as texts.
type RelevanceScorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// TokenCounter estimates prompt size for the generative model.
type TokenCounter interface {
	CountTokens(text string) int
}

// AnswerGenerator produces the user-facing answer from a conversation plan.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, model string, plan domain.ConversationPlan) (string, error)
}

// SessionStore persists conversation turns. Sessions are append-only.
type SessionStore interface {
	ListTurns(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error)
	AppendTurns(ctx context.Context, sessionID string, turns ...domain.ConversationTurn) error
}

// ModelCatalog resolves the active generative model descriptor by name.
type ModelCatalog interface {
	Resolve(name string) domain.ModelDescriptor
	DefaultModel() string
}

// RetrievalEventPublisher reports degraded requests.
type RetrievalEventPublisher interface {
	PublishRetrievalEvent(ctx context.Context, event domain.RetrievalEvent) error
}

// RetrievalObserver records pipeline measurements. Implementations must be safe for concurrent use.
type RetrievalObserver interface {
	ObserveStage(stage string, elapsed time.Duration)
	ObserveFallback(fallback string)
	ObserveSelection(mode domain.SelectionMode, filterMode domain.FilterMode, passages int)
}

// ConversationObserver records prompt planning for answered turns.
type ConversationObserver interface {
	ObservePlan(model string, plan domain.ConversationPlan)
}
