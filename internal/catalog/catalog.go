// Package catalog holds the analysis modes and demo scenarios offered to clients.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cexll/ci-agent/internal/intel"
)

//go:embed catalog.yaml
var builtin []byte

// Mode describes one analysis mode
type Mode struct {
	ID              string   `yaml:"id" json:"-"`
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description" json:"description"`
	Features        []string `yaml:"features" json:"features"`
	TypicalDuration string   `yaml:"typical_duration" json:"typical_duration"`
}

// Scenario is a suggested competitor to try
type Scenario struct {
	ID               int      `yaml:"id" json:"id"`
	Name             string   `yaml:"name" json:"name"`
	Website          string   `yaml:"website" json:"website"`
	Description      string   `yaml:"description" json:"description"`
	RecommendedMode  string   `yaml:"recommended_mode" json:"recommended_mode"`
	Reason           string   `yaml:"reason" json:"reason"`
	IndustryKeywords []string `yaml:"industry_keywords" json:"industry_keywords,omitempty"`
}

// Catalog is the parsed document
type Catalog struct {
	DefaultMode      string     `yaml:"default_mode"`
	Modes            []Mode     `yaml:"modes"`
	ScenarioFeatures []string   `yaml:"scenario_features"`
	Scenarios        []Scenario `yaml:"scenarios"`
}

var (
	loadOnce sync.Once
	loaded   *Catalog
	loadErr  error
)

// Default returns the embedded catalog
func Default() (*Catalog, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Parse(builtin)
	})
	return loaded, loadErr
}

// Parse decodes and checks a catalog document
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Modes) == 0 {
		return fmt.Errorf("catalog: no modes defined")
	}
	for _, m := range c.Modes {
		if _, err := intel.ParseMode(m.ID); err != nil {
			return fmt.Errorf("catalog mode %q: %w", m.ID, err)
		}
	}
	if _, ok := c.ModesByID()[c.DefaultMode]; !ok {
		return fmt.Errorf("catalog: default mode %q is not defined", c.DefaultMode)
	}
	for _, s := range c.Scenarios {
		if s.Name == "" {
			return fmt.Errorf("catalog scenario %d: name is required", s.ID)
		}
		if _, err := intel.ParseMode(s.RecommendedMode); err != nil {
			return fmt.Errorf("catalog scenario %q: %w", s.Name, err)
		}
	}
	return nil
}

// ModesByID indexes the modes by id, the shape /analysis-modes returns
func (c *Catalog) ModesByID() map[string]Mode {
	out := make(map[string]Mode, len(c.Modes))
	for _, m := range c.Modes {
		out[m.ID] = m
	}
	return out
}

// Scenario returns the scenario with the given name, ignoring case
func (c *Catalog) Scenario(name string) (Scenario, bool) {
	for _, s := range c.Scenarios {
		if strings.EqualFold(s.Name, strings.TrimSpace(name)) {
			return s, true
		}
	}
	return Scenario{}, false
}
