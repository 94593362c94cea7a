package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/go-cmp/cmp"

	"github.com/sctrcd/buspass/internal/engine"
	"github.com/sctrcd/buspass/internal/ir"
	"github.com/sctrcd/buspass/internal/session"
	"github.com/sctrcd/buspass/internal/store"
	"github.com/sctrcd/buspass/internal/testutil"
)

// Option configures a harness run.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger passed to the engine and sessions.
// Default: logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// recorder forwards records to the audit log and remembers the last one.
type recorder struct {
	store *store.Store
	last  *ir.DeterminationRecord
}

func (r *recorder) WriteDetermination(ctx context.Context, rec ir.DeterminationRecord) error {
	r.last = &rec
	return r.store.WriteDetermination(ctx, rec)
}

// Run executes every case of the scenario against rs and returns the result.
//
// Each scenario runs against a fresh in-memory audit log. Cases run in
// order through the same path as the determine command: a fresh session
// per case, disposed before the next case starts.
//
// An error is returned when the scenario cannot run at all (for example
// the rule set does not compile). Failed expectations are reported in
// Result.Errors.
func Run(ctx context.Context, scenario *Scenario, rs ir.RuleSet, opts ...Option) (*Result, error) {
	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	engOpts := []engine.Option{engine.WithLogger(cfg.logger)}
	if scenario.MaxSteps > 0 {
		engOpts = append(engOpts, engine.WithMaxSteps(scenario.MaxSteps))
	}
	eng, err := engine.New(rs, engOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	rec := &recorder{store: st}
	var dump bytes.Buffer
	detOpts := []session.Option{
		session.WithLogger(cfg.logger),
		session.WithRecorder(rec),
		session.WithFactDump(&dump),
		session.WithIDGenerator(testutil.NewSequentialIDs(scenario.Name)),
	}
	if scenario.InputType != "" {
		detOpts = append(detOpts, session.WithInputType(scenario.InputType))
	}
	if scenario.TargetType != "" {
		detOpts = append(detOpts, session.WithTargetType(scenario.TargetType))
	}
	d, err := session.FromEngine(eng, detOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create determiner: %w", err)
	}

	result := NewResult()
	for _, c := range scenario.Cases {
		rec.last = nil
		dump.Reset()

		cr, err := runCase(ctx, d, st, rec, c)
		if err != nil {
			return nil, fmt.Errorf("case %q: %w", c.Name, err)
		}
		cr.Dump = dump.String()
		result.Cases = append(result.Cases, cr)

		for _, msg := range checkExpect(c.Expect, cr) {
			result.AddError(fmt.Sprintf("case %q: %s", c.Name, msg))
		}
		for _, msg := range EvaluateAssertions(cr, c.Assertions) {
			result.AddError(fmt.Sprintf("case %q: %s", c.Name, msg))
		}
	}

	return result, nil
}

// runCase runs one determination and reads its audit record back.
func runCase(ctx context.Context, d *session.Determiner, st *store.Store, rec *recorder, c Case) (CaseResult, error) {
	cr := CaseResult{Name: c.Name}

	attrs, err := ir.ObjectFromNative(c.Citizen)
	if err != nil {
		cr.Outcome = ir.OutcomeFailed
		cr.Error = ErrorInput
		cr.Message = err.Error()
		return cr, nil
	}

	_, detErr := d.Determine(ctx, attrs)
	if detErr != nil {
		cr.Outcome = ir.OutcomeFailed
		cr.Error = errorKind(detErr)
		cr.Message = detErr.Error()
	}

	// Invalid input never reaches a session and is not recorded.
	if rec.last == nil {
		if detErr == nil {
			return cr, errors.New("determination was not recorded")
		}
		return cr, nil
	}

	stored, err := st.ReadDetermination(ctx, rec.last.SessionID)
	if err != nil {
		return cr, fmt.Errorf("read audit record %s: %w", rec.last.SessionID, err)
	}
	cr.Session = stored.SessionID
	cr.Outcome = stored.Outcome
	cr.ResultType = stored.ResultType
	cr.Result = stored.Result
	cr.MatchCount = stored.MatchCount
	cr.FactCount = stored.FactCount
	cr.Firings = stored.Firings
	return cr, nil
}

// errorKind classifies a determination error.
func errorKind(err error) string {
	switch {
	case session.IsInputError(err):
		return ErrorInput
	case engine.IsNonTermination(err):
		return ErrorNonTermination
	default:
		return ErrorEvaluation
	}
}

// checkExpect compares a case result against its expect clause.
func checkExpect(exp Expect, cr CaseResult) []string {
	var errs []string

	switch {
	case exp.Error != "":
		if cr.Outcome != ir.OutcomeFailed {
			errs = append(errs, fmt.Sprintf("expected %s error, got %s", exp.Error, describe(cr)))
		} else if cr.Error != exp.Error {
			errs = append(errs, fmt.Sprintf("expected %s error, got %s error: %s", exp.Error, cr.Error, cr.Message))
		}

	case exp.None:
		if cr.Outcome != ir.OutcomeNoResult {
			errs = append(errs, fmt.Sprintf("expected no bus pass, got %s", describe(cr)))
		}

	default:
		if cr.Outcome != ir.OutcomeIssued || cr.ResultType != exp.Pass {
			errs = append(errs, fmt.Sprintf("expected %s, got %s", exp.Pass, describe(cr)))
			break
		}
		if exp.Matches > 0 && cr.MatchCount != exp.Matches {
			errs = append(errs, fmt.Sprintf("expected %d qualifying fact(s), got %d", exp.Matches, cr.MatchCount))
		}
		if len(exp.Result) > 0 {
			diff, err := diffSubset(exp.Result, cr.Result)
			if err != nil {
				errs = append(errs, fmt.Sprintf("invalid expected result: %v", err))
			} else if diff != "" {
				errs = append(errs, fmt.Sprintf("result mismatch (-want +got):\n%s", diff))
			}
		}
	}

	return errs
}

// diffSubset diffs the expected attributes against the same keys of got.
// Extra keys in got are ignored.
func diffSubset(want map[string]any, got ir.IRObject) (string, error) {
	wantIR, err := ir.ObjectFromNative(want)
	if err != nil {
		return "", err
	}
	sub := make(ir.IRObject, len(wantIR))
	for k := range wantIR {
		if v, ok := got[k]; ok {
			sub[k] = v
		}
	}
	return cmp.Diff(wantIR, sub), nil
}

// describe renders an outcome for failure messages.
func describe(cr CaseResult) string {
	switch cr.Outcome {
	case ir.OutcomeIssued:
		return cr.ResultType
	case ir.OutcomeNoResult:
		return "no bus pass"
	default:
		return fmt.Sprintf("%s error: %s", cr.Error, cr.Message)
	}
}
