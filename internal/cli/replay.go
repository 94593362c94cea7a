package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/sctrcd/buspass/internal/engine"
	"github.com/sctrcd/buspass/internal/extract"
	"github.com/sctrcd/buspass/internal/ir"
	"github.com/sctrcd/buspass/internal/session"
	"github.com/sctrcd/buspass/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database   string
	MaxSteps   int
	TargetType string
}

// ReplayInputResult holds the replay result for one recorded input.
type ReplayInputResult struct {
	Session        string `json:"session"`
	InputType      string `json:"input_type"`
	Input          string `json:"input"`
	RecordedResult string `json:"recorded"`
	ReplayedResult string `json:"replayed"`
	Drift          bool   `json:"drift"`
	Diff           string `json:"diff,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Inputs           []ReplayInputResult `json:"inputs"`
	TotalInputs      int                 `json:"total_inputs"`
	RuleSetHash      string              `json:"ruleset_hash"`
	RuleSetChanged   int                 `json:"ruleset_changed"` // inputs recorded under a different rule set
	AllDeterministic bool                `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <rules-dir>",
		Short: "Re-run recorded inputs and report outcome drift",
		Long: `Re-run the latest recorded determination of every distinct input
against the given rules and compare the outcomes.

With unchanged rules every outcome must match: determinations are
idempotent. After a rule change, drift shows which citizens are affected.
Replayed determinations are not written to the audit log.

Exit codes:
  0 - No drift
  1 - At least one outcome differs
  2 - Command error (database not found, rules invalid, etc.)

Examples:
  buspass replay ./rules --db audit.db
  buspass replay ./rules --db audit.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit log (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", engine.DefaultMaxSteps, "rule firings allowed per determination")
	cmd.Flags().StringVar(&opts.TargetType, "target-type", session.DefaultTargetType, "fact type of the result")

	return cmd
}

func runReplay(opts *ReplayOptions, rulesDir string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "audit log not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	rs, err := LoadRuleSet(rulesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}
	eng, err := engine.New(rs, engine.WithMaxSteps(opts.MaxSteps), engine.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build engine", err)
	}

	records, err := st.ReplayInputs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read recorded inputs", err)
	}

	r := &replayer{engine: eng, targetType: opts.TargetType, logger: logger, determiners: map[string]*session.Determiner{}}
	result := ReplayResult{
		Inputs:           make([]ReplayInputResult, 0, len(records)),
		TotalInputs:      len(records),
		AllDeterministic: true,
	}
	result.RuleSetHash, _ = ir.RuleSetHash(rs)

	for _, rec := range records {
		if rec.RuleSetHash != result.RuleSetHash {
			result.RuleSetChanged++
		}
		input, err := r.replay(ctx, rec)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", rec.SessionID), err)
		}
		result.Inputs = append(result.Inputs, input)
		if input.Drift {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd.OutOrStdout(), result, opts.Verbose)
}

// replayer re-runs recorded inputs, one Determiner per input type.
type replayer struct {
	engine      *engine.Engine
	targetType  string
	logger      *slog.Logger
	determiners map[string]*session.Determiner
}

func (r *replayer) determiner(inputType string) (*session.Determiner, error) {
	if d, ok := r.determiners[inputType]; ok {
		return d, nil
	}
	d, err := session.FromEngine(r.engine,
		session.WithInputType(inputType),
		session.WithTargetType(r.targetType),
		session.WithLogger(r.logger),
	)
	if err != nil {
		return nil, err
	}
	r.determiners[inputType] = d
	return d, nil
}

// replay determines rec's input again and compares the outcome. A
// determination that fails now is drift, not a replay error.
func (r *replayer) replay(ctx context.Context, rec ir.DeterminationRecord) (ReplayInputResult, error) {
	out := ReplayInputResult{
		Session:        rec.SessionID,
		InputType:      rec.InputType,
		Input:          formatArgs(nativeMap(rec.Input)),
		RecordedResult: recordedOutcome(rec),
	}

	d, err := r.determiner(rec.InputType)
	if err != nil {
		out.ReplayedResult = "failed: " + err.Error()
		out.Drift = out.ReplayedResult != out.RecordedResult
		return out, nil
	}

	det, err := d.Determine(ctx, rec.Input)
	replayed := ir.DeterminationRecord{Outcome: ir.OutcomeNoResult}
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		replayed.Outcome = ir.OutcomeFailed
		replayed.Error = err.Error()
	case det.Found():
		replayed = replayedRecord(det)
	}
	out.ReplayedResult = recordedOutcome(replayed)

	// Failure messages carry session IDs; failed is compared by outcome only.
	if rec.Outcome == ir.OutcomeFailed && replayed.Outcome == ir.OutcomeFailed {
		return out, nil
	}
	if diff := cmp.Diff(outcomeOf(rec), outcomeOf(replayed)); diff != "" {
		out.Drift = true
		out.Diff = diff
	}
	return out, nil
}

func replayedRecord(det extract.Determination) ir.DeterminationRecord {
	return ir.DeterminationRecord{
		Outcome:    ir.OutcomeIssued,
		ResultType: det.Fact().Type().Name(),
		Result:     det.Fact().Attrs(),
	}
}

// comparableOutcome is the part of a determination replay compares.
type comparableOutcome struct {
	Outcome    string
	ResultType string
	Result     map[string]any
}

func outcomeOf(rec ir.DeterminationRecord) comparableOutcome {
	return comparableOutcome{
		Outcome:    rec.Outcome,
		ResultType: rec.ResultType,
		Result:     nativeMap(rec.Result),
	}
}

func recordedOutcome(rec ir.DeterminationRecord) string {
	switch rec.Outcome {
	case ir.OutcomeIssued:
		return rec.ResultType + " " + formatArgs(nativeMap(rec.Result))
	case ir.OutcomeFailed:
		return "failed"
	default:
		return "no result"
	}
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllDeterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DRIFT",
			Message: "replayed outcomes differ from recorded outcomes",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllDeterministic {
		// Drift = exit code 1
		return NewExitError(ExitFailure, "outcome drift detected")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(w io.Writer, result ReplayResult, verbose bool) error {
	fmt.Fprintf(w, "Replay Summary: %d input(s)\n", result.TotalInputs)
	if result.RuleSetChanged > 0 {
		fmt.Fprintf(w, "  %d input(s) were recorded under a different rule set\n", result.RuleSetChanged)
	}
	fmt.Fprintln(w)

	for _, in := range result.Inputs {
		if !in.Drift && !verbose {
			continue
		}
		status := "✓"
		if in.Drift {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s %s\n", status, in.InputType, in.Input)
		fmt.Fprintf(w, "  recorded: %s\n", in.RecordedResult)
		fmt.Fprintf(w, "  replayed: %s\n", in.ReplayedResult)
		if in.Drift && verbose {
			fmt.Fprintf(w, "  diff (-recorded +replayed):\n%s", in.Diff)
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ No outcome drift")
		return nil
	}

	fmt.Fprintln(w, "✗ Outcome drift detected")
	// Drift = exit code 1
	return NewExitError(ExitFailure, "outcome drift detected")
}
