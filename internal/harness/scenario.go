package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a list of citizens run
// against one rule set, each with the pass it must (or must not) get.
type Scenario struct {
	// Name uniquely identifies this scenario. It prefixes session IDs.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules optionally names the rules directory. Relative paths are
	// resolved against the scenario file location by LoadScenario.
	Rules string `yaml:"rules,omitempty"`

	// InputType and TargetType override the default fact types.
	InputType  string `yaml:"input_type,omitempty"`
	TargetType string `yaml:"target_type,omitempty"`

	// MaxSteps overrides the rule firing quota when positive.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Cases are run in order, each in its own session.
	Cases []Case `yaml:"cases"`
}

// Case is one citizen and its expected determination.
type Case struct {
	Name string `yaml:"name"`

	// Citizen holds the attributes of the input fact.
	Citizen map[string]any `yaml:"citizen"`

	Expect Expect `yaml:"expect"`

	// Assertions validate the firings and working memory of the case.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Expect specifies the expected outcome. Exactly one of Pass, None and
// Error is set.
type Expect struct {
	// Pass is the expected result type name.
	Pass string `yaml:"pass,omitempty"`

	// Result contains expected result attribute values.
	// This is a subset match - only specified attributes are validated.
	Result map[string]any `yaml:"result,omitempty"`

	// Matches is the expected number of qualifying facts when positive.
	Matches int `yaml:"matches,omitempty"`

	// None expects no bus pass.
	None bool `yaml:"none,omitempty"`

	// Error is the expected error kind: input, non_termination or evaluation.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the firings or working memory of a case.
type Assertion struct {
	// Type specifies the assertion type:
	// - "fired": rule fired at least once
	// - "not_fired": rule never fired
	// - "fired_count": rule fired exactly Count times
	// - "fired_order": Rules first fired in the listed order
	// - "fact_count": working memory held exactly Count facts
	Type string `yaml:"type"`

	// Rule is the rule ID (used by fired, not_fired, fired_count).
	Rule string `yaml:"rule,omitempty"`

	// Rules is the expected firing order (used by fired_order).
	Rules []string `yaml:"rules,omitempty"`

	// Count is the expected count (used by fired_count, fact_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFired      = "fired"
	AssertNotFired   = "not_fired"
	AssertFiredCount = "fired_count"
	AssertFiredOrder = "fired_order"
	AssertFactCount  = "fact_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Rules != "" && !filepath.IsAbs(scenario.Rules) {
		scenario.Rules = filepath.Join(filepath.Dir(path), scenario.Rules)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	if s.Rules != "" {
		if _, err := os.Stat(s.Rules); os.IsNotExist(err) {
			return fmt.Errorf("rules directory not found: %s", s.Rules)
		}
	}

	if len(s.Cases) == 0 {
		return fmt.Errorf("cases list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		if c.Name == "" {
			return fmt.Errorf("cases[%d]: name is required", i)
		}
		if names[c.Name] {
			return fmt.Errorf("cases[%d]: duplicate case name %q", i, c.Name)
		}
		names[c.Name] = true

		if c.Citizen == nil {
			return fmt.Errorf("cases[%d]: citizen is required", i)
		}
		if err := validateExpect(i, c.Expect); err != nil {
			return err
		}
		for j := range c.Assertions {
			if err := validateAssertion(i, j, &c.Assertions[j]); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateExpect checks that exactly one outcome is expected.
func validateExpect(index int, e Expect) error {
	set := 0
	if e.Pass != "" {
		set++
	}
	if e.None {
		set++
	}
	if e.Error != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("cases[%d].expect: exactly one of pass, none or error is required", index)
	}

	if e.Pass == "" && (e.Result != nil || e.Matches != 0) {
		return fmt.Errorf("cases[%d].expect: result and matches require pass", index)
	}
	if e.Matches < 0 {
		return fmt.Errorf("cases[%d].expect: matches must be non-negative", index)
	}

	switch e.Error {
	case "", ErrorInput, ErrorNonTermination, ErrorEvaluation:
	default:
		return fmt.Errorf("cases[%d].expect: unknown error kind %q", index, e.Error)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(caseIndex, index int, a *Assertion) error {
	prefix := fmt.Sprintf("cases[%d].assertions[%d]", caseIndex, index)
	if a.Type == "" {
		return fmt.Errorf("%s: type is required", prefix)
	}

	switch a.Type {
	case AssertFired, AssertNotFired:
		if a.Rule == "" {
			return fmt.Errorf("%s: rule is required for %s", prefix, a.Type)
		}
	case AssertFiredCount:
		if a.Rule == "" {
			return fmt.Errorf("%s: rule is required for fired_count", prefix)
		}
		if a.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative for fired_count", prefix)
		}
	case AssertFiredOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("%s: rules list is required for fired_order", prefix)
		}
	case AssertFactCount:
		if a.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative for fact_count", prefix)
		}
	default:
		return fmt.Errorf("%s: unknown assertion type %q", prefix, a.Type)
	}

	return nil
}
