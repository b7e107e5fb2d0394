// Package suggest produces completion text from trailing editor context. The
// default generator is a suffix-matched rule table, optionally loaded from a
// YAML file; a model-backed generator satisfies the same contract.
package suggest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Generator turns trailing context text into a suggestion. An empty string
// means nothing to suggest.
type Generator interface {
	Generate(ctx context.Context, contextText string) (string, error)
}

// Rule maps a context suffix to its completion text. First match wins.
type Rule struct {
	Suffix     string `yaml:"suffix"`
	Completion string `yaml:"completion"`
}

// RuleGenerator is the heuristic default generator.
type RuleGenerator struct {
	rules []Rule
}

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		{Suffix: "public void ", Completion: "myMethod() {\n    // TODO: Implement\n}"},
		{Suffix: "for (", Completion: "int i = 0; i < list.size(); i++) {\n    \n}"},
		{Suffix: "if (", Completion: "condition) {\n    \n}"},
		{Suffix: "try {", Completion: "\n    // Code that might throw an exception\n} catch (Exception e) {\n    // Handle exception\n}"},
	}
}

// NewRuleGenerator creates a generator from a rule table; nil rules means
// the built-in defaults.
func NewRuleGenerator(rules []Rule) *RuleGenerator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RuleGenerator{rules: rules}
}

// LoadRules reads a rule table from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	for i, rule := range rules {
		if rule.Suffix == "" {
			return nil, fmt.Errorf("rule %d has an empty suffix", i)
		}
	}
	return rules, nil
}

// Generate returns the completion of the first rule whose suffix matches the
// trailing context, or "".
func (g *RuleGenerator) Generate(_ context.Context, contextText string) (string, error) {
	for _, rule := range g.rules {
		if strings.HasSuffix(contextText, rule.Suffix) {
			return rule.Completion, nil
		}
	}
	return "", nil
}
