package domain

type SelectionMode string

const (
	SelectionFocused SelectionMode = "focused"
	SelectionBroad   SelectionMode = "broad"
)

// SelectionBudget caps the final passage set. Derived per request, never persisted.
type SelectionBudget struct {
	MaxTotal       int           `json:"max_total"`
	MaxPerDocument int           `json:"max_per_document"`
	Mode           SelectionMode `json:"mode"`
}

// ModelDescriptor describes the active generative model. ContextWindow is nil when unknown.
type ModelDescriptor struct {
	Name          string `json:"name" yaml:"name"`
	Provider      string `json:"provider,omitempty" yaml:"provider"`
	ContextWindow *int   `json:"context_window,omitempty" yaml:"context_window"`
}

func (m ModelDescriptor) KnownContextWindow() (int, bool) {
	if m.ContextWindow == nil || *m.ContextWindow <= 0 {
		return 0, false
	}
	return *m.ContextWindow, true
}
