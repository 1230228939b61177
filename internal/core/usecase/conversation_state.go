package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
)

type ConversationOptions struct {
	// DefaultContextWindow is used when the model does not declare one.
	DefaultContextWindow int
	// ResponseReserve is kept free for the generated answer.
	ResponseReserve int
	// MessageOverhead approximates role markers and separators per message.
	MessageOverhead int
	// PromptOverhead covers the system prompt.
	PromptOverhead int
}

func (o ConversationOptions) normalize() ConversationOptions {
	if o.DefaultContextWindow <= 0 {
		o.DefaultContextWindow = 8192
	}
	if o.ResponseReserve <= 0 {
		o.ResponseReserve = 1024
	}
	if o.MessageOverhead <= 0 {
		o.MessageOverhead = 4
	}
	if o.PromptOverhead <= 0 {
		o.PromptOverhead = 256
	}
	return o
}

// ConversationStateManager decides what a single turn sends to the generative model.
type ConversationStateManager struct {
	counter ports.TokenCounter
	opts    ConversationOptions
}

func NewConversationStateManager(counter ports.TokenCounter, opts ConversationOptions) *ConversationStateManager {
	if counter == nil {
		counter = approxTokenCounter{}
	}
	return &ConversationStateManager{counter: counter, opts: opts.normalize()}
}

// Plan trims history oldest-first until the prompt fits the model window. The most recent
// user/assistant exchange is always kept; when that minimum still overflows, evidence is
// dropped from the lowest rank up, keeping at least one passage.
func (m *ConversationStateManager) Plan(
	question string,
	turns []domain.ConversationTurn,
	evidence []domain.Passage,
	model domain.ModelDescriptor,
) domain.ConversationPlan {
	window, ok := model.KnownContextWindow()
	if !ok {
		window = m.opts.DefaultContextWindow
	}
	available := window - m.opts.ResponseReserve - m.opts.PromptOverhead
	if available < 0 {
		available = 0
	}

	plan := domain.ConversationPlan{
		TurnType: domain.TurnFollowUp,
		Question: question,
	}
	history := append([]domain.ConversationTurn(nil), turns...)
	if len(history) == 0 {
		plan.TurnType = domain.TurnInitial
	}

	kept := append([]domain.Passage(nil), evidence...)
	embed := plan.TurnType == domain.TurnInitial || !carriesEvidence(history)
	minKeep := minimumExchange(history)

	historyCost := 0
	for _, turn := range history {
		historyCost += m.turnCost(turn.Content)
	}

	for {
		total := historyCost + m.turnCost(question)
		if embed {
			total = historyCost + m.turnCost(composeUserMessage(question, kept))
		}
		if total <= available {
			plan.EstimatedTokens = total
			break
		}
		if len(history) > minKeep {
			historyCost -= m.turnCost(history[0].Content)
			history = history[1:]
			plan.DroppedTurns++
			if !embed && !carriesEvidence(history) {
				embed = true
			}
			continue
		}
		if embed && len(kept) > 1 {
			kept = kept[:len(kept)-1]
			plan.DroppedPassages++
			continue
		}
		plan.EstimatedTokens = total
		break
	}

	plan.History = history
	plan.EmbedEvidence = embed && len(kept) > 0
	if plan.EmbedEvidence {
		plan.Evidence = kept
		plan.UserMessage = composeUserMessage(question, kept)
	} else {
		plan.DroppedPassages = 0
		plan.UserMessage = question
	}
	return plan
}

func (m *ConversationStateManager) turnCost(content string) int {
	return m.counter.CountTokens(content) + m.opts.MessageOverhead
}

func carriesEvidence(turns []domain.ConversationTurn) bool {
	for _, turn := range turns {
		if turn.EvidenceEmbedded {
			return true
		}
	}
	return false
}

// minimumExchange returns how many trailing turns form the latest user/assistant exchange.
func minimumExchange(turns []domain.ConversationTurn) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleUser {
			return len(turns) - i
		}
	}
	return min(len(turns), 2)
}

// composeUserMessage renders the question with numbered evidence so answers can cite [n].
func composeUserMessage(question string, evidence []domain.Passage) string {
	if len(evidence) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("Sources:\n")
	for _, p := range evidence {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", p.Rank, sourceLabel(p.Chunk), strings.TrimSpace(p.Chunk.Text))
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

func sourceLabel(c domain.Chunk) string {
	label := c.Metadata.Title
	if label == "" {
		label = c.DocumentID
	}
	if c.Metadata.Year > 0 {
		label = fmt.Sprintf("%s (%d)", label, c.Metadata.Year)
	}
	if c.PageNumber != nil {
		label = fmt.Sprintf("%s, p. %d", label, *c.PageNumber)
	}
	return label
}

// approxTokenCounter is used when no tokenizer is wired: roughly four bytes per token.
type approxTokenCounter struct{}

func (approxTokenCounter) CountTokens(text string) int {
	return (len(text) + 3) / 4
}
