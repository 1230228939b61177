package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationTurn is one entry of an append-only session.
type ConversationTurn struct {
	ID               string    `json:"id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	Role             Role      `json:"role"`
	Content          string    `json:"content"`
	Question         string    `json:"question,omitempty"`
	EvidenceEmbedded bool      `json:"evidence_embedded"`
	Timestamp        time.Time `json:"timestamp"`
}

// Utterance is what the speaker said, without evidence embedded into Content.
func (t ConversationTurn) Utterance() string {
	if t.Question != "" {
		return t.Question
	}
	return t.Content
}

type TurnType string

const (
	TurnInitial  TurnType = "initial"
	TurnFollowUp TurnType = "follow_up"
)

// ConversationPlan is what gets sent to the generative model for one turn.
type ConversationPlan struct {
	TurnType        TurnType           `json:"turn_type"`
	History         []ConversationTurn `json:"history"`
	Question        string             `json:"question"`
	UserMessage     string             `json:"user_message"`
	EmbedEvidence   bool               `json:"embed_evidence"`
	Evidence        []Passage          `json:"evidence,omitempty"`
	DroppedTurns    int                `json:"dropped_turns"`
	DroppedPassages int                `json:"dropped_passages"`
	EstimatedTokens int                `json:"estimated_tokens"`
}
