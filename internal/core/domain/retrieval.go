package domain

type RetrievalRequest struct {
	Query             string             `json:"query"`
	History           []ConversationTurn `json:"history,omitempty"`
	ManualFilter      *Filter            `json:"filter,omitempty"`
	DisableAutoFilter bool               `json:"disable_auto_filter,omitempty"`
	Model             ModelDescriptor    `json:"model"`
}

// Fallbacks records which degraded paths fired while serving a request.
type Fallbacks struct {
	RewriteFailed    bool `json:"rewrite_failed"`
	ExtractionFailed bool `json:"extraction_failed"`
	FilterRelaxed    bool `json:"filter_relaxed"`
	RerankFailed     bool `json:"rerank_failed"`
	BudgetUnderflow  bool `json:"budget_underflow"`
}

func (f Fallbacks) Any() bool {
	return f.RewriteFailed || f.ExtractionFailed || f.FilterRelaxed || f.RerankFailed || f.BudgetUnderflow
}

// Names lists fired fallbacks in a fixed order.
func (f Fallbacks) Names() []string {
	out := make([]string, 0, 5)
	if f.RewriteFailed {
		out = append(out, "rewrite_failed")
	}
	if f.ExtractionFailed {
		out = append(out, "extraction_failed")
	}
	if f.FilterRelaxed {
		out = append(out, "filter_relaxed")
	}
	if f.RerankFailed {
		out = append(out, "rerank_failed")
	}
	if f.BudgetUnderflow {
		out = append(out, "budget_underflow")
	}
	return out
}

// Passage is a selected chunk with its final 1-based position.
type Passage struct {
	Rank int `json:"rank"`
	FusedCandidate
}

type RetrievalResult struct {
	Passages      []Passage       `json:"passages"`
	Query         string          `json:"query"`
	OriginalQuery string          `json:"original_query"`
	Filter        Filter          `json:"filter"`
	FilterMode    FilterMode      `json:"filter_mode"`
	Budget        SelectionBudget `json:"budget"`
	Fallbacks     Fallbacks       `json:"fallbacks"`
}

// RetrievalEvent is emitted whenever a request degrades, with enough context to reproduce it.
type RetrievalEvent struct {
	RequestID  string     `json:"request_id,omitempty"`
	Fallback   string     `json:"fallback"`
	Query      string     `json:"query"`
	Filter     string     `json:"filter"`
	FilterMode FilterMode `json:"filter_mode"`
	Mode       string     `json:"mode,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type AskRequest struct {
	SessionID         string  `json:"session_id"`
	Question          string  `json:"question"`
	ManualFilter      *Filter `json:"filter,omitempty"`
	DisableAutoFilter bool    `json:"disable_auto_filter,omitempty"`
	Model             string  `json:"model,omitempty"`
}

// Answer cites only passages sent to the model on this turn. Retrieved holds fresh
// passages of a follow-up that answered from evidence already in the history.
type Answer struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Query     string    `json:"query"`
	TurnType  TurnType  `json:"turn_type"`
	Citations []Passage `json:"citations"`
	Retrieved []Passage `json:"retrieved,omitempty"`
	Fallbacks Fallbacks `json:"fallbacks"`
}
