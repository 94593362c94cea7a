package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sctrcd/buspass/internal/engine"
	"github.com/sctrcd/buspass/internal/extract"
	"github.com/sctrcd/buspass/internal/ir"
	"github.com/sctrcd/buspass/internal/metrics"
	"github.com/sctrcd/buspass/internal/session"
	"github.com/sctrcd/buspass/internal/store"
)

var _ session.Recorder = (*store.Store)(nil)

// EngineFlags are the flags shared by every command that runs determinations.
type EngineFlags struct {
	Database   string
	MaxSteps   int
	Timeout    time.Duration
	InputType  string
	TargetType string

	// IDs overrides the session ID generator (for testing).
	// If nil, defaults to session.UUIDv7Generator.
	IDs session.IDGenerator
}

func (f *EngineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Database, "db", "", "record determinations in this SQLite audit log")
	cmd.Flags().IntVar(&f.MaxSteps, "max-steps", engine.DefaultMaxSteps, "rule firings allowed per determination")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "bound rule evaluation of each determination (0 = none)")
	cmd.Flags().StringVar(&f.InputType, "input-type", session.DefaultInputType, "fact type of the citizen input")
	cmd.Flags().StringVar(&f.TargetType, "target-type", session.DefaultTargetType, "fact type of the result")
}

// DetermineOptions holds flags for the determine command.
type DetermineOptions struct {
	*RootOptions
	EngineFlags
	Citizen   string
	DumpFacts bool
}

// DeterminationOutput is the JSON payload of one determination.
type DeterminationOutput struct {
	Session    string            `json:"session,omitempty"`
	Outcome    string            `json:"outcome"`
	ResultType string            `json:"result_type,omitempty"`
	Result     ir.IRObject       `json:"result,omitempty"`
	MatchCount int               `json:"match_count,omitempty"`
	Firings    []ir.FiringRecord `json:"firings,omitempty"`
}

// NewDetermineCommand creates the determine command.
func NewDetermineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DetermineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "determine <rules-dir>",
		Short: "Determine the bus pass for one citizen",
		Long: `Determine which bus pass a citizen is eligible for.

The citizen is read from a YAML or JSON file holding the attributes of
the input fact. Finding no bus pass is a normal outcome (exit 0).

Example:
  buspass determine ./rules --citizen alice.yaml
  buspass determine ./rules --citizen alice.json --dump-facts --db audit.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetermine(opts, args[0], cmd)
		},
	}

	opts.EngineFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Citizen, "citizen", "", "citizen attributes file (YAML or JSON, required)")
	cmd.Flags().BoolVar(&opts.DumpFacts, "dump-facts", false, "print working memory after evaluation")
	_ = cmd.MarkFlagRequired("citizen")

	return cmd
}

func runDetermine(opts *DetermineOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	citizen, err := readCitizen(opts.Citizen)
	if err != nil {
		_ = formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read citizen", err)
	}

	var extra []session.Option
	if opts.DumpFacts {
		// Keep JSON on stdout parseable.
		extra = append(extra, session.WithFactDump(formatter.GetErrWriter()))
	}
	rt, err := newRunner(&opts.EngineFlags, rulesDir, logger, extra...)
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer rt.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	det, err := rt.determiner.Determine(ctx, citizen)
	rec := rt.capture.last()
	if err != nil {
		return determinationError(formatter, err)
	}
	return outputDetermination(formatter, det, rec)
}

// runner is a Determiner built from a rules directory, plus the audit log
// it records to when --db is set.
type runner struct {
	determiner *session.Determiner
	store      *store.Store
	capture    *captureRecorder
	logger     *slog.Logger
}

// newRunner loads the rules, builds the engine and opens the audit log.
func newRunner(flags *EngineFlags, rulesDir string, logger *slog.Logger, extra ...session.Option) (*runner, error) {
	rs, err := LoadRuleSet(rulesDir)
	if err != nil {
		return nil, err
	}
	logger.Debug("rules loaded", "dir", rulesDir, "types", len(rs.Types), "rules", len(rs.Rules))

	eng, err := engine.New(rs, engine.WithMaxSteps(flags.MaxSteps), engine.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	rt := &runner{logger: logger, capture: &captureRecorder{}}
	if flags.Database != "" {
		st, err := store.Open(flags.Database)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeDatabase, Message: fmt.Sprintf("opening audit log: %v", err)}
		}
		rt.store = st
		rt.capture.next = st
	}

	opts := []session.Option{
		session.WithInputType(flags.InputType),
		session.WithTargetType(flags.TargetType),
		session.WithLogger(logger),
		session.WithTimeout(flags.Timeout),
		session.WithRecorder(rt.capture),
	}
	if flags.IDs != nil {
		opts = append(opts, session.WithIDGenerator(flags.IDs))
	}
	opts = append(opts, extra...)

	rt.determiner, err = session.FromEngine(eng, opts...)
	if err != nil {
		rt.Close()
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	return rt, nil
}

// Close closes the audit log, if one is open.
func (rt *runner) Close() {
	if rt.store == nil {
		return
	}
	if err := rt.store.Close(); err != nil {
		rt.logger.Error("error closing audit log", "error", err)
	}
}

// captureRecorder keeps the most recent determination record and forwards
// every record to next, if set.
type captureRecorder struct {
	mu     sync.Mutex
	record ir.DeterminationRecord
	next   session.Recorder
}

func (c *captureRecorder) WriteDetermination(ctx context.Context, rec ir.DeterminationRecord) error {
	c.mu.Lock()
	c.record = rec
	c.mu.Unlock()
	if c.next == nil {
		return nil
	}
	return c.next.WriteDetermination(ctx, rec)
}

func (c *captureRecorder) last() ir.DeterminationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

// signalContext returns the command context, cancelled on SIGINT/SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// readCitizen reads one citizen's attributes from a YAML or JSON file.
// JSON is accepted because it is valid YAML.
func readCitizen(path string) (ir.IRObject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading citizen file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing citizen file %s: %w", path, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("citizen file %s is empty", path)
	}
	obj, err := ir.ObjectFromNative(raw)
	if err != nil {
		return nil, fmt.Errorf("citizen file %s: %w", path, err)
	}
	return obj, nil
}

// loadFailure reports a failure to build the runner.
func loadFailure(formatter *OutputFormatter, err error) error {
	code, message := parseCompileError(err)
	var cfgErr *engine.ConfigError
	if errors.As(err, &cfgErr) {
		code = configErrorToValidation(err).Code
	}
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, "failed to load rules", err)
}

// determinationError reports a failed determination. Invalid input is a
// command error; evaluation failures are determination failures.
func determinationError(formatter *OutputFormatter, err error) error {
	switch {
	case session.IsInputError(err):
		_ = formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid citizen", err)
	case engine.IsNonTermination(err):
		_ = formatter.Error(ErrCodeNonTermination, err.Error(), nil)
		return WrapExitError(ExitFailure, "rule evaluation did not terminate", err)
	default:
		_ = formatter.Error(ErrCodeEvaluation, err.Error(), nil)
		return WrapExitError(ExitFailure, "determination failed", err)
	}
}

// outputDetermination writes a determination in the configured format.
func outputDetermination(formatter *OutputFormatter, det extract.Determination, rec ir.DeterminationRecord) error {
	out := determinationOutput(det)
	out.Session = rec.SessionID
	out.Firings = rec.Firings

	if formatter.Format == "json" {
		return formatter.Success(out)
	}

	writeDeterminationText(formatter.Writer, out)
	if formatter.Verbose && len(out.Firings) > 0 {
		fmt.Fprintln(formatter.Writer, "Firings:")
		for _, f := range out.Firings {
			fmt.Fprintf(formatter.Writer, "  %d. %s (fact #%d → #%d)\n", f.Step, f.RuleID, f.MatchedSeq, f.InsertedSeq)
		}
	}
	return nil
}

func determinationOutput(det extract.Determination) DeterminationOutput {
	if det.None() {
		return DeterminationOutput{Outcome: ir.OutcomeNoResult}
	}
	return DeterminationOutput{
		Outcome:    ir.OutcomeIssued,
		ResultType: det.Fact().Type().Name(),
		Result:     det.Fact().Attrs(),
		MatchCount: det.MatchCount(),
	}
}

func writeDeterminationText(w io.Writer, out DeterminationOutput) {
	if out.Outcome == ir.OutcomeNoResult {
		fmt.Fprintln(w, "✗ No bus pass")
		return
	}
	attrs, err := ir.MarshalCanonical(out.Result)
	if err != nil {
		attrs = []byte("{}")
	}
	fmt.Fprintf(w, "✓ %s %s\n", out.ResultType, attrs)
	if out.MatchCount > 1 {
		fmt.Fprintf(w, "  (%d other result(s) discarded)\n", out.MatchCount-1)
	}
}
