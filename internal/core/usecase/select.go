package usecase

import (
	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

type SelectionOptions struct {
	FocusedPerDocument int
	FocusedTotal       int
	BroadPerDocument   int
	BroadTotal         int

	// ConcentrationWindow candidates are inspected when choosing the mode; if one document
	// holds at least ConcentrationRatio of them the request is treated as focused.
	ConcentrationWindow int
	ConcentrationRatio  float64
}

func DefaultSelectionOptions() SelectionOptions {
	return SelectionOptions{
		FocusedPerDocument:  8,
		FocusedTotal:        10,
		BroadPerDocument:    3,
		BroadTotal:          6,
		ConcentrationWindow: 10,
		ConcentrationRatio:  0.6,
	}
}

func (o SelectionOptions) normalize() SelectionOptions {
	def := DefaultSelectionOptions()
	if o.FocusedPerDocument <= 0 {
		o.FocusedPerDocument = def.FocusedPerDocument
	}
	if o.FocusedTotal <= 0 {
		o.FocusedTotal = def.FocusedTotal
	}
	if o.BroadPerDocument <= 0 {
		o.BroadPerDocument = def.BroadPerDocument
	}
	if o.BroadTotal <= 0 {
		o.BroadTotal = def.BroadTotal
	}
	if o.ConcentrationWindow <= 0 {
		o.ConcentrationWindow = def.ConcentrationWindow
	}
	if o.ConcentrationRatio <= 0 || o.ConcentrationRatio > 1 {
		o.ConcentrationRatio = def.ConcentrationRatio
	}
	return o
}

// DiversitySelector picks the final passage set under per-document and total caps.
type DiversitySelector struct {
	opts SelectionOptions
}

func NewDiversitySelector(opts SelectionOptions) *DiversitySelector {
	return &DiversitySelector{opts: opts.normalize()}
}

func (s *DiversitySelector) Mode(filterApplied bool, ranked []domain.FusedCandidate) domain.SelectionMode {
	if filterApplied {
		return domain.SelectionFocused
	}
	if isConcentrated(ranked, s.opts.ConcentrationWindow, s.opts.ConcentrationRatio) {
		return domain.SelectionFocused
	}
	return domain.SelectionBroad
}

// BaseBudget is the unscaled budget for a mode.
func (s *DiversitySelector) BaseBudget(mode domain.SelectionMode) domain.SelectionBudget {
	if mode == domain.SelectionFocused {
		return domain.SelectionBudget{
			MaxTotal:       s.opts.FocusedTotal,
			MaxPerDocument: s.opts.FocusedPerDocument,
			Mode:           domain.SelectionFocused,
		}
	}
	return domain.SelectionBudget{
		MaxTotal:       s.opts.BroadTotal,
		MaxPerDocument: s.opts.BroadPerDocument,
		Mode:           domain.SelectionBroad,
	}
}

// Select walks ranked in order and admits a chunk only while both caps allow it.
// The second return value reports a smaller-than-budget result.
func (s *DiversitySelector) Select(ranked []domain.FusedCandidate, budget domain.SelectionBudget) ([]domain.Passage, bool) {
	if budget.MaxTotal <= 0 || budget.MaxPerDocument <= 0 {
		return nil, len(ranked) > 0
	}

	perDoc := make(map[string]int)
	selected := make([]domain.Passage, 0, min(budget.MaxTotal, len(ranked)))
	for _, c := range ranked {
		if len(selected) >= budget.MaxTotal {
			break
		}
		if perDoc[c.Chunk.DocumentID] >= budget.MaxPerDocument {
			continue
		}
		perDoc[c.Chunk.DocumentID]++
		selected = append(selected, domain.Passage{
			Rank:           len(selected) + 1,
			FusedCandidate: c,
		})
	}
	return selected, len(selected) < budget.MaxTotal
}

func isConcentrated(ranked []domain.FusedCandidate, window int, ratio float64) bool {
	if len(ranked) == 0 {
		return false
	}
	if window > len(ranked) {
		window = len(ranked)
	}
	counts := make(map[string]int)
	top := 0
	for _, c := range ranked[:window] {
		counts[c.Chunk.DocumentID]++
		if counts[c.Chunk.DocumentID] > top {
			top = counts[c.Chunk.DocumentID]
		}
	}
	if len(counts) == 1 {
		return true
	}
	return float64(top)/float64(window) >= ratio
}
