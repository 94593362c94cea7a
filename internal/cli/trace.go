package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sctrcd/buspass/internal/ir"
	"github.com/sctrcd/buspass/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Outcome  string // optional - filter to one outcome
	Session  string // optional - show a single determination
	Limit    int
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Determinations []ir.DeterminationRecord `json:"determinations"`
	Stats          TraceStats               `json:"stats"`
}

// TraceStats holds summary statistics for the whole audit log.
type TraceStats struct {
	Total    int            `json:"total"`
	Outcomes map[string]int `json:"outcomes"`
	LastSeq  int64          `json:"last_seq"`
}

var validOutcomes = []string{ir.OutcomeIssued, ir.OutcomeNoResult, ir.OutcomeFailed}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List recorded determinations",
		Long: `List determinations recorded in the audit log.

Each entry shows the input, the outcome and the selected bus pass. With
--verbose the rule firings that derived it are shown too.

Examples:
  buspass trace --db audit.db
  buspass trace --db audit.db --outcome failed
  buspass trace --db audit.db --session 0191e5d2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit log (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "filter by outcome (issued|no_result|failed)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "show a single determination")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum determinations to list (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Outcome != "" && !contains(validOutcomes, opts.Outcome) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid outcome %q: must be one of %v", opts.Outcome, validOutcomes))
	}

	// Opening would create an empty log; a typo in --db should fail instead.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "audit log not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var records []ir.DeterminationRecord
	if opts.Session != "" {
		rec, err := st.ReadDetermination(ctx, opts.Session)
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("no determination for session %s", opts.Session))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read determination", err)
		}
		records = []ir.DeterminationRecord{rec}
	} else {
		records, err = st.ListDeterminations(ctx, store.Filter{Outcome: opts.Outcome, Limit: opts.Limit})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list determinations", err)
		}
	}

	stats, err := traceStats(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit statistics", err)
	}

	result := TraceResult{Determinations: records, Stats: stats}
	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

func traceStats(ctx context.Context, st *store.Store) (TraceStats, error) {
	counts, err := st.CountByOutcome(ctx)
	if err != nil {
		return TraceStats{}, err
	}
	last, err := st.GetLastSeq(ctx)
	if err != nil {
		return TraceStats{}, err
	}
	stats := TraceStats{Outcomes: counts, LastSeq: last}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintln(w, "=== Determinations ===")
	if len(result.Determinations) == 0 {
		fmt.Fprintln(w, "  (no determinations)")
	}
	for _, rec := range result.Determinations {
		formatDetermination(w, rec, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total:     %d\n", result.Stats.Total)
	fmt.Fprintf(w, "  Issued:    %d\n", result.Stats.Outcomes[ir.OutcomeIssued])
	fmt.Fprintf(w, "  No result: %d\n", result.Stats.Outcomes[ir.OutcomeNoResult])
	fmt.Fprintf(w, "  Failed:    %d\n", result.Stats.Outcomes[ir.OutcomeFailed])

	return nil
}

// formatDetermination formats a single determination for text output.
func formatDetermination(w io.Writer, rec ir.DeterminationRecord, verbose bool) {
	fmt.Fprintf(w, "  [%d] %s %s %s → ", rec.Seq, truncateID(rec.SessionID), rec.InputType, formatArgs(nativeMap(rec.Input)))
	switch rec.Outcome {
	case ir.OutcomeIssued:
		fmt.Fprintf(w, "%s %s\n", rec.ResultType, formatArgs(nativeMap(rec.Result)))
	case ir.OutcomeFailed:
		fmt.Fprintf(w, "FAILED: %s\n", rec.Error)
	default:
		fmt.Fprintln(w, "no result")
	}

	if !verbose {
		return
	}
	fmt.Fprintf(w, "       Session: %s\n", rec.SessionID)
	fmt.Fprintf(w, "       Rules:   %s (engine %s)\n", truncateID(rec.RuleSetHash), rec.EngineVersion)
	for _, f := range rec.Firings {
		fmt.Fprintf(w, "       %d. %s (fact #%d → #%d)\n", f.Step, f.RuleID, f.MatchedSeq, f.InsertedSeq)
	}
}

// nativeMap converts attributes to plain Go values for display.
func nativeMap(obj ir.IRObject) map[string]any {
	if obj == nil {
		return nil
	}
	return ir.Native(obj).(map[string]any)
}

// formatArgs formats a map of attributes for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
