package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/sctrcd/buspass/internal/ir"
)

// Snapshot renders the working-memory dump, firings and outcome of every
// case. The output is deterministic for a given scenario and rule set and
// is what golden files hold.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", scenarioName)

	for _, cr := range result.Cases {
		fmt.Fprintf(&buf, "\n--- case: %s\n", cr.Name)
		buf.WriteString(cr.Dump)

		switch cr.Outcome {
		case ir.OutcomeFailed:
			// A runaway rule set may fire thousands of times; the count is enough.
			fmt.Fprintf(&buf, "firings: %d\n", len(cr.Firings))
			fmt.Fprintf(&buf, "outcome: failed (%s)\n", cr.Error)
			continue
		case ir.OutcomeIssued:
			writeFirings(&buf, cr.Firings)
			attrs, err := ir.MarshalCanonical(cr.Result)
			if err != nil {
				return nil, fmt.Errorf("case %q: %w", cr.Name, err)
			}
			fmt.Fprintf(&buf, "outcome: issued %s%s\n", cr.ResultType, attrs)
		default:
			writeFirings(&buf, cr.Firings)
			fmt.Fprintf(&buf, "outcome: %s\n", cr.Outcome)
		}
	}

	return []byte(buf.String()), nil
}

func writeFirings(buf *strings.Builder, firings []ir.FiringRecord) {
	fmt.Fprintf(buf, "firings: %d\n", len(firings))
	for _, f := range firings {
		fmt.Fprintf(buf, "  %d\t%s %d -> %d\n", f.Step, f.RuleID, f.MatchedSeq, f.InsertedSeq)
	}
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check expectations as well.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, rs ir.RuleSet) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, rs)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the snapshot of an existing result against a
// golden file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
