package usecase

import (
	"math"
	"sort"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

// BudgetTier scales the base selection budget for models whose context window is at most
// MaxContextWindow tokens. A zero MaxContextWindow matches any window.
type BudgetTier struct {
	MaxContextWindow int     `yaml:"max_context_window"`
	Multiplier       float64 `yaml:"multiplier"`
}

func DefaultBudgetTiers() []BudgetTier {
	return []BudgetTier{
		{MaxContextWindow: 16_000, Multiplier: 1.0},
		{MaxContextWindow: 64_000, Multiplier: 2.0},
		{MaxContextWindow: 200_000, Multiplier: 3.0},
		{MaxContextWindow: 1_000_000, Multiplier: 4.0},
		{MaxContextWindow: 0, Multiplier: 5.0},
	}
}

// BudgetManager maps the active model's context window to a scaling tier.
type BudgetManager struct {
	tiers []BudgetTier
}

func NewBudgetManager(tiers []BudgetTier) *BudgetManager {
	if len(tiers) == 0 {
		tiers = DefaultBudgetTiers()
	}
	sorted := make([]BudgetTier, 0, len(tiers))
	for _, t := range tiers {
		if t.Multiplier <= 0 {
			continue
		}
		sorted = append(sorted, t)
	}
	if len(sorted) == 0 {
		sorted = DefaultBudgetTiers()
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].MaxContextWindow, sorted[j].MaxContextWindow
		if a == 0 || b == 0 {
			return b == 0 && a != 0
		}
		return a < b
	})
	return &BudgetManager{tiers: sorted}
}

// Multiplier returns the tier for the model. Unknown windows get the most conservative tier.
func (m *BudgetManager) Multiplier(model domain.ModelDescriptor) float64 {
	window, ok := model.KnownContextWindow()
	if !ok {
		return m.MinMultiplier()
	}
	for _, t := range m.tiers {
		if t.MaxContextWindow == 0 || window <= t.MaxContextWindow {
			return t.Multiplier
		}
	}
	return m.tiers[len(m.tiers)-1].Multiplier
}

func (m *BudgetManager) MinMultiplier() float64 {
	low := m.tiers[0].Multiplier
	for _, t := range m.tiers[1:] {
		if t.Multiplier < low {
			low = t.Multiplier
		}
	}
	return low
}

func (m *BudgetManager) MaxMultiplier() float64 {
	top := m.tiers[0].Multiplier
	for _, t := range m.tiers[1:] {
		if t.Multiplier > top {
			top = t.Multiplier
		}
	}
	return top
}

// Scale applies the model tier to the base budget's total; the per-document cap is unchanged.
func (m *BudgetManager) Scale(base domain.SelectionBudget, model domain.ModelDescriptor) domain.SelectionBudget {
	out := base
	out.MaxTotal = int(math.Round(float64(base.MaxTotal) * m.Multiplier(model)))
	if out.MaxTotal < 1 {
		out.MaxTotal = 1
	}
	return out
}
