package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoint classes. Each class carries its own budget so expensive
// generation calls get tighter limits than reads or applies.
const (
	ClassChat            = "chat"
	ClassDecompose       = "decompose"
	ClassEnrich          = "enrich"
	ClassResearch        = "research"
	ClassDoWork          = "do-work"
	ClassSimilarTasks    = "similar-tasks"
	ClassApplyEnrichment = "apply-enrichment"
	ClassInsights        = "insights"
	ClassBriefing        = "briefing"
	ClassGitHubImport    = "github-import"
)

// Budget is the fixed-window allowance for one endpoint class.
type Budget struct {
	Window time.Duration
	Max    int
}

// Policy maps endpoint classes to budgets.
type Policy map[string]Budget

// fallback applies to classes the policy does not name.
var fallbackBudget = Budget{Window: time.Minute, Max: 10}

// DefaultPolicy returns the built-in per-class budgets.
func DefaultPolicy() Policy {
	return Policy{
		ClassChat:            {Window: time.Minute, Max: 20},
		ClassDecompose:       {Window: time.Minute, Max: 10},
		ClassEnrich:          {Window: time.Minute, Max: 10},
		ClassResearch:        {Window: time.Minute, Max: 10},
		ClassDoWork:          {Window: time.Minute, Max: 5},
		ClassSimilarTasks:    {Window: time.Minute, Max: 15},
		ClassApplyEnrichment: {Window: time.Minute, Max: 20},
		ClassInsights:        {Window: time.Minute, Max: 30},
		ClassBriefing:        {Window: time.Minute, Max: 10},
		ClassGitHubImport:    {Window: time.Minute, Max: 5},
	}
}

// Budget looks up the budget for a class, falling back to a conservative
// default for unknown classes.
func (p Policy) Budget(class string) Budget {
	if b, ok := p[class]; ok {
		return b
	}
	return fallbackBudget
}

type policyEntry struct {
	WindowSeconds int `yaml:"window_seconds"`
	Max           int `yaml:"max"`
}

// LoadPolicy reads per-class overrides from a YAML file and merges them
// over the defaults. Classes absent from the file keep their built-in
// budgets.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: read %s: %w", path, err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy parses YAML policy overrides from bytes (useful for testing).
func ParsePolicy(data []byte) (Policy, error) {
	var entries map[string]policyEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("ratelimit: parse policy: %w", err)
	}

	policy := DefaultPolicy()
	for class, e := range entries {
		if e.WindowSeconds <= 0 || e.Max <= 0 {
			return nil, fmt.Errorf("ratelimit: invalid budget for class %q", class)
		}
		policy[class] = Budget{
			Window: time.Duration(e.WindowSeconds) * time.Second,
			Max:    e.Max,
		}
	}
	return policy, nil
}
