package harness

import (
	"fmt"
	"strings"

	"github.com/sctrcd/buspass/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the firings of the case to help debug the failure.
type AssertionError struct {
	Type     string            // Assertion type for categorization
	Expected string            // Human-readable expected outcome
	Actual   string            // Human-readable actual outcome
	Firings  []ir.FiringRecord // Firings of the case for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFirings:\n")
	if len(e.Firings) == 0 {
		fmt.Fprintf(&buf, "  (none)\n")
	}
	for _, f := range e.Firings {
		fmt.Fprintf(&buf, "  [%d] %s %d -> %d\n", f.Step, f.RuleID, f.MatchedSeq, f.InsertedSeq)
	}

	return buf.String()
}

// countFirings returns how many times rule fired.
func countFirings(firings []ir.FiringRecord, rule string) int {
	n := 0
	for _, f := range firings {
		if f.RuleID == rule {
			n++
		}
	}
	return n
}

// assertFired checks that the rule fired at least once.
func assertFired(cr CaseResult, a Assertion) error {
	if countFirings(cr.Firings, a.Rule) > 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFired,
		Expected: fmt.Sprintf("rule %s fired", a.Rule),
		Actual:   "rule never fired",
		Firings:  cr.Firings,
	}
}

// assertNotFired checks that the rule never fired.
func assertNotFired(cr CaseResult, a Assertion) error {
	n := countFirings(cr.Firings, a.Rule)
	if n == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertNotFired,
		Expected: fmt.Sprintf("rule %s never fired", a.Rule),
		Actual:   fmt.Sprintf("fired %d time(s)", n),
		Firings:  cr.Firings,
	}
}

// assertFiredCount checks that the rule fired exactly Count times.
func assertFiredCount(cr CaseResult, a Assertion) error {
	n := countFirings(cr.Firings, a.Rule)
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFiredCount,
		Expected: fmt.Sprintf("%d firing(s) of %s", a.Count, a.Rule),
		Actual:   fmt.Sprintf("%d firing(s)", n),
		Firings:  cr.Firings,
	}
}

// assertFiredOrder checks that rules first fired in the listed order.
// Rules don't need to be consecutive (intervening firings are allowed).
func assertFiredOrder(cr CaseResult, a Assertion) error {
	// First position of each rule, 1-indexed so 0 means "never fired"
	positions := make(map[string]int)
	for i, rule := range cr.firedRules() {
		if positions[rule] == 0 {
			positions[rule] = i + 1
		}
	}

	for _, rule := range a.Rules {
		if positions[rule] == 0 {
			return &AssertionError{
				Type:     AssertFiredOrder,
				Expected: fmt.Sprintf("all rules fired: %v", a.Rules),
				Actual:   fmt.Sprintf("rule never fired: %s", rule),
				Firings:  cr.Firings,
			}
		}
	}

	for i := 1; i < len(a.Rules); i++ {
		prev, curr := a.Rules[i-1], a.Rules[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertFiredOrder,
				Expected: fmt.Sprintf("rules in order: %v", a.Rules),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Firings: cr.Firings,
			}
		}
	}

	return nil
}

// assertFactCount checks the number of facts in working memory.
func assertFactCount(cr CaseResult, a Assertion) error {
	if cr.FactCount == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFactCount,
		Expected: fmt.Sprintf("%d fact(s) in working memory", a.Count),
		Actual:   fmt.Sprintf("%d fact(s)", cr.FactCount),
		Firings:  cr.Firings,
	}
}

// EvaluateAssertions evaluates all assertions against one case result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(cr CaseResult, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFired:
			err = assertFired(cr, assertion)
		case AssertNotFired:
			err = assertNotFired(cr, assertion)
		case AssertFiredCount:
			err = assertFiredCount(cr, assertion)
		case AssertFiredOrder:
			err = assertFiredOrder(cr, assertion)
		case AssertFactCount:
			err = assertFactCount(cr, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
