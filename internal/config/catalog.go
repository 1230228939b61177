package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

// ModelCatalog lists the generative models a request may name and the budget tiers
// derived from their context windows.
type ModelCatalog struct {
	Default     string                   `yaml:"default_model"`
	Models      []domain.ModelDescriptor `yaml:"models"`
	BudgetTiers []BudgetTier             `yaml:"budget_tiers"`

	byName map[string]domain.ModelDescriptor
}

type BudgetTier struct {
	// MaxContextWindow of 0 is the catch-all tier.
	MaxContextWindow int     `yaml:"max_context_window"`
	Multiplier       float64 `yaml:"multiplier"`
}

// DefaultModelCatalog is used when MODEL_CATALOG_PATH is unset: only the utility model,
// with an unknown context window.
func DefaultModelCatalog(defaultModel string) *ModelCatalog {
	c := &ModelCatalog{
		Default: defaultModel,
		Models:  []domain.ModelDescriptor{{Name: defaultModel, Provider: "ollama"}},
	}
	c.index()
	return c
}

func LoadModelCatalog(path string) (*ModelCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	return ParseModelCatalog(raw)
}

func ParseModelCatalog(raw []byte) (*ModelCatalog, error) {
	var c ModelCatalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	for i, m := range c.Models {
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("model catalog: entry %d has no name", i)
		}
		if m.ContextWindow != nil && *m.ContextWindow < 0 {
			return nil, fmt.Errorf("model catalog: %s has negative context_window", m.Name)
		}
	}
	for i, t := range c.BudgetTiers {
		if t.Multiplier <= 0 {
			return nil, fmt.Errorf("model catalog: budget tier %d needs a positive multiplier", i)
		}
	}
	if c.Default == "" && len(c.Models) > 0 {
		c.Default = c.Models[0].Name
	}
	c.index()
	return &c, nil
}

func (c *ModelCatalog) index() {
	c.byName = make(map[string]domain.ModelDescriptor, len(c.Models))
	for _, m := range c.Models {
		c.byName[strings.ToLower(m.Name)] = m
	}
}

// Resolve returns the descriptor for name; unlisted models have an unknown context window.
func (c *ModelCatalog) Resolve(name string) domain.ModelDescriptor {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.Default
	}
	if m, ok := c.byName[strings.ToLower(name)]; ok {
		return m
	}
	return domain.ModelDescriptor{Name: name}
}

func (c *ModelCatalog) DefaultModel() string {
	return c.Default
}
