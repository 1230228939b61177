package ports

import (
	"context"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

// PassageRetriever is the inbound contract for the retrieval-and-ranking core.
type PassageRetriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

// QuestionAnswerer is the inbound contract for conversational answering.
type QuestionAnswerer interface {
	Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error)
}
