package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/sctrcd/buspass/internal/harness"
	"github.com/sctrcd/buspass/internal/ir"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Cases  int      `json:"cases"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <rules-dir> <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run conformance scenarios against a rule set.

Each scenario file lists citizens and the bus pass each must (or must not)
be issued. Every case runs in its own inference session. When a golden
file exists next to the scenario (golden/<name>.golden), the working
memory dumps must match it as well.

A scenario may name its own rules directory; otherwise <rules-dir> is used.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  buspass test ./rules ./scenarios
  buspass test ./rules ./scenarios --filter "senior-*"
  buspass test ./rules ./scenarios --update
  buspass test ./rules ./scenarios --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

// testRun carries what every scenario of one test command shares.
type testRun struct {
	opts     *TestOptions
	cmd      *cobra.Command
	rulesDir string
	logger   *slog.Logger
	ruleSets map[string]ir.RuleSet
}

func runTests(opts *TestOptions, rulesDir, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(rulesDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("rules directory not found: %s", rulesDir))
	}
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{
				Scenarios: []ScenarioResult{},
				Total:     0,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	run := &testRun{
		opts:     opts,
		cmd:      cmd,
		rulesDir: rulesDir,
		logger:   newLogger(opts.RootOptions, cmd.ErrOrStderr()),
		ruleSets: make(map[string]ir.RuleSet),
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}

	for _, scenarioFile := range scenarioFiles {
		scenResult := run.scenario(scenarioFile)
		result.Scenarios = append(result.Scenarios, scenResult)

		if scenResult.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}

	return outputTestText(cmd, result)
}

// findScenarioFiles finds all YAML scenario files in a directory.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			base := filepath.Base(path)
			name := strings.TrimSuffix(base, ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// ruleSet loads and caches the rule set of a directory.
func (r *testRun) ruleSet(dir string) (ir.RuleSet, error) {
	if rs, ok := r.ruleSets[dir]; ok {
		return rs, nil
	}
	rs, err := LoadRuleSet(dir)
	if err != nil {
		return ir.RuleSet{}, err
	}
	r.ruleSets[dir] = rs
	return rs, nil
}

// fail reports a scenario failure in text mode and returns its result.
func (r *testRun) fail(name string, cases int, errs ...string) ScenarioResult {
	if r.opts.Format != "json" {
		w := r.cmd.OutOrStdout()
		fmt.Fprintf(w, "✗ %s\n", name)
		for _, e := range errs {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(e, "\n", "\n  "))
		}
	}
	return ScenarioResult{Name: name, Pass: false, Cases: cases, Errors: errs}
}

// pass reports a passing scenario in text mode and returns its result.
func (r *testRun) pass(name string, cases int, note string) ScenarioResult {
	if r.opts.Format != "json" {
		fmt.Fprintf(r.cmd.OutOrStdout(), "✓ %s%s\n", name, note)
	}
	return ScenarioResult{Name: name, Pass: true, Cases: cases}
}

// scenario executes a single scenario file and returns the result.
func (r *testRun) scenario(scenarioFile string) ScenarioResult {
	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return r.fail(filepath.Base(scenarioFile), 0, fmt.Sprintf("Load error: %v", err))
	}

	rulesDir := r.rulesDir
	if scenario.Rules != "" {
		rulesDir = scenario.Rules
	}
	rs, err := r.ruleSet(rulesDir)
	if err != nil {
		return r.fail(scenario.Name, len(scenario.Cases), fmt.Sprintf("Rules error: %v", err))
	}

	// Expected failures (non-termination cases) log at error level; only
	// show engine logs when asked.
	var runOpts []harness.Option
	if r.opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(r.logger))
	}
	result, err := harness.Run(r.cmd.Context(), scenario, rs, runOpts...)
	if err != nil {
		return r.fail(scenario.Name, len(scenario.Cases), fmt.Sprintf("Execution error: %v", err))
	}
	cases := len(result.Cases)

	snapshot, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return r.fail(scenario.Name, cases, fmt.Sprintf("Snapshot error: %v", err))
	}

	goldenPath := goldenFilePath(scenarioFile)
	if r.opts.Update {
		if err := writeGoldenFile(goldenPath, snapshot); err != nil {
			return r.fail(scenario.Name, cases, fmt.Sprintf("Golden update error: %v", err))
		}
		if !result.Pass {
			return r.fail(scenario.Name, cases, result.Errors...)
		}
		return r.pass(scenario.Name, cases, " (golden updated)")
	}

	errs := result.Errors
	golden, err := os.ReadFile(goldenPath)
	switch {
	case os.IsNotExist(err):
		// No golden file - expectations and assertions only
	case err != nil:
		errs = append(errs, fmt.Sprintf("Golden comparison error: %v", err))
	case !bytes.Equal(golden, snapshot):
		msg := "Golden file mismatch (run with --update to regenerate)"
		if r.opts.Verbose {
			diff := cmp.Diff(strings.Split(string(golden), "\n"), strings.Split(string(snapshot), "\n"))
			msg += " (-golden +current):\n" + diff
		}
		errs = append(errs, msg)
	}

	if len(errs) > 0 {
		return r.fail(scenario.Name, cases, errs...)
	}
	return r.pass(scenario.Name, cases, "")
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// writeGoldenFile writes a scenario snapshot as its golden file.
func writeGoldenFile(goldenPath string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, snapshot, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}

	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
