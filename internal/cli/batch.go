package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sctrcd/buspass/internal/ir"
	"github.com/sctrcd/buspass/internal/metrics"
	"github.com/sctrcd/buspass/internal/session"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	EngineFlags
	Concurrency int
	Metrics     bool
}

// BatchItem is one citizen's outcome in batch output.
type BatchItem struct {
	Index int `json:"index"`
	DeterminationOutput
	Error string `json:"error,omitempty"`
}

// BatchSummary is the JSON payload of the batch command.
type BatchSummary struct {
	Total    int            `json:"total"`
	Outcomes map[string]int `json:"outcomes"`
	Items    []BatchItem    `json:"items"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch <rules-dir> <citizens-file>",
		Short: "Determine bus passes for many citizens",
		Long: `Determine bus passes for a list of citizens concurrently.

The citizens file is a YAML or JSON list of attribute maps. Each citizen
gets its own inference session; one failure does not affect the others.
Results are printed in input order.

Example:
  buspass batch ./rules citizens.yaml --concurrency 8 --db audit.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], args[1], cmd)
		},
	}

	opts.EngineFlags.register(cmd)
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "determinations in flight")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics to stderr when done")

	return cmd
}

func runBatch(opts *BatchOptions, rulesDir, citizensFile string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	citizens, err := readCitizens(citizensFile)
	if err != nil {
		_ = formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read citizens", err)
	}

	var (
		extra []session.Option
		reg   *prometheus.Registry
	)
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		extra = append(extra, session.WithMetrics(metrics.New(reg)))
	}

	rt, err := newRunner(&opts.EngineFlags, rulesDir, logger, extra...)
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer rt.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	results, batchErr := rt.determiner.DetermineAll(ctx, citizens, opts.Concurrency)
	if batchErr != nil && results == nil {
		_ = formatter.Error(ErrCodeGeneric, batchErr.Error(), nil)
		return WrapExitError(ExitCommandError, "batch failed", batchErr)
	}

	summary := summarizeBatch(results)
	if reg != nil {
		if err := writeMetrics(formatter.GetErrWriter(), reg); err != nil {
			logger.Warn("failed to write metrics", "error", err)
		}
	}

	if err := outputBatch(formatter, summary); err != nil {
		return err
	}
	if batchErr != nil {
		return WrapExitError(ExitFailure, "batch interrupted", batchErr)
	}
	if failed := summary.Outcomes[ir.OutcomeFailed]; failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d determination(s) failed", failed, summary.Total))
	}
	return nil
}

func summarizeBatch(results []session.BatchResult) BatchSummary {
	summary := BatchSummary{
		Total:    len(results),
		Outcomes: make(map[string]int),
		Items:    make([]BatchItem, 0, len(results)),
	}
	for i, r := range results {
		item := BatchItem{Index: i}
		if r.Err != nil {
			item.Outcome = ir.OutcomeFailed
			item.Error = r.Err.Error()
		} else {
			item.DeterminationOutput = determinationOutput(r.Determination)
		}
		summary.Outcomes[item.Outcome]++
		summary.Items = append(summary.Items, item)
	}
	return summary
}

func outputBatch(formatter *OutputFormatter, summary BatchSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(summary)
	}

	for _, item := range summary.Items {
		fmt.Fprintf(formatter.Writer, "[%d] ", item.Index)
		if item.Error != "" {
			fmt.Fprintf(formatter.Writer, "✗ failed: %s\n", item.Error)
			continue
		}
		writeDeterminationText(formatter.Writer, item.DeterminationOutput)
	}
	fmt.Fprintf(formatter.Writer, "\n%d citizen(s): %d issued, %d no result, %d failed\n",
		summary.Total,
		summary.Outcomes[ir.OutcomeIssued],
		summary.Outcomes[ir.OutcomeNoResult],
		summary.Outcomes[ir.OutcomeFailed])
	return nil
}

// readCitizens reads a YAML or JSON list of citizen attribute maps.
func readCitizens(path string) ([]ir.IRObject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading citizens file: %w", err)
	}
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing citizens file %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("citizens file %s has no citizens", path)
	}

	citizens := make([]ir.IRObject, len(raw))
	for i, m := range raw {
		obj, err := ir.ObjectFromNative(m)
		if err != nil {
			return nil, fmt.Errorf("citizen %d: %w", i, err)
		}
		citizens[i] = obj
	}
	return citizens, nil
}

// writeMetrics writes every gathered metric family in the Prometheus
// text exposition format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
