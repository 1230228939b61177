package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
)

// AskService answers a question inside a session: retrieve, plan the prompt, generate,
// then append the exchange to the session.
type AskService struct {
	retriever    ports.PassageRetriever
	conversation *ConversationStateManager
	generator    ports.AnswerGenerator
	sessions     ports.SessionStore
	models       ports.ModelCatalog
	observer     ports.ConversationObserver
	now          func() time.Time
}

func NewAskService(
	retriever ports.PassageRetriever,
	conversation *ConversationStateManager,
	generator ports.AnswerGenerator,
	sessions ports.SessionStore,
	models ports.ModelCatalog,
) *AskService {
	if conversation == nil {
		conversation = NewConversationStateManager(nil, ConversationOptions{})
	}
	return &AskService{
		retriever:    retriever,
		conversation: conversation,
		generator:    generator,
		sessions:     sessions,
		models:       models,
		now:          time.Now,
	}
}

// WithObserver attaches prompt-planning metrics.
func (s *AskService) WithObserver(observer ports.ConversationObserver) *AskService {
	s.observer = observer
	return s
}

func (s *AskService) Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("question is required"))
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	modelName := strings.TrimSpace(req.Model)
	if modelName == "" && s.models != nil {
		modelName = s.models.DefaultModel()
	}
	model := domain.ModelDescriptor{Name: modelName}
	if s.models != nil {
		model = s.models.Resolve(modelName)
	}

	var history []domain.ConversationTurn
	if s.sessions != nil {
		turns, err := s.sessions.ListTurns(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sessionID, err)
		}
		history = turns
	}

	result, err := s.retriever.Retrieve(ctx, domain.RetrievalRequest{
		Query:             question,
		History:           history,
		ManualFilter:      req.ManualFilter,
		DisableAutoFilter: req.DisableAutoFilter,
		Model:             model,
	})
	if err != nil {
		return nil, err
	}

	plan := s.conversation.Plan(question, history, result.Passages, model)
	if s.observer != nil {
		s.observer.ObservePlan(model.Name, plan)
	}
	if plan.DroppedTurns > 0 || plan.DroppedPassages > 0 {
		slog.Info("conversation_trimmed",
			"session_id", sessionID,
			"model", model.Name,
			"dropped_turns", plan.DroppedTurns,
			"dropped_passages", plan.DroppedPassages,
			"estimated_tokens", plan.EstimatedTokens,
		)
	}

	text, err := s.generator.GenerateAnswer(ctx, model.Name, plan)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	if s.sessions != nil {
		now := s.now().UTC()
		userTurn := domain.ConversationTurn{
			ID:               uuid.NewString(),
			SessionID:        sessionID,
			Role:             domain.RoleUser,
			Content:          plan.UserMessage,
			Question:         question,
			EvidenceEmbedded: plan.EmbedEvidence,
			Timestamp:        now,
		}
		assistantTurn := domain.ConversationTurn{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      domain.RoleAssistant,
			Content:   text,
			Timestamp: now,
		}
		if err := s.sessions.AppendTurns(ctx, sessionID, userTurn, assistantTurn); err != nil {
			return nil, fmt.Errorf("append session %s: %w", sessionID, err)
		}
	}

	answer := &domain.Answer{
		SessionID: sessionID,
		Text:      text,
		Query:     result.Query,
		TurnType:  plan.TurnType,
		Citations: []domain.Passage{},
		Fallbacks: result.Fallbacks,
	}
	if plan.EmbedEvidence {
		answer.Citations = plan.Evidence
	} else {
		answer.Retrieved = result.Passages
	}
	return answer, nil
}
