package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/sctrcd/buspass/internal/compiler"
	"github.com/sctrcd/buspass/internal/engine"
	"github.com/sctrcd/buspass/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Validate rules without writing IR",
		Long: `Validate CUE fact types and eligibility rules.

Performs syntax checking, schema validation, cross-reference checks and
CEL type checking of every condition. Rule cycles are reported as
warnings: the step quota stops them at runtime.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadRules(rulesDir, LoadModeCollectAll)

	// Directory not found, no files, etc.
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, rulesDir)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    getLineFromCuePos(loadErr.Pos),
			})
		}
	}
	validationErrors = append(validationErrors, validateRuleSet(loadResult.RuleSet, formatter)...)

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}

	return outputValidateSuccess(formatter, compiler.AnalyzeCycles(loadResult.RuleSet))
}

// validateRuleSet runs schema validation and, when that passes, builds an
// engine so CEL conditions and templates are checked against the types.
func validateRuleSet(rs ir.RuleSet, formatter *OutputFormatter) []compiler.ValidationError {
	for _, t := range rs.Types {
		formatter.VerboseLog("Validating fact type: %s", t.Name)
	}
	for _, r := range rs.Rules {
		formatter.VerboseLog("Validating rule: %s", r.ID)
	}

	if errs := compiler.Validate(&rs); len(errs) > 0 {
		return errs
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := engine.New(rs, engine.WithLogger(quiet)); err != nil {
		return []compiler.ValidationError{configErrorToValidation(err)}
	}
	return nil
}

// configErrorToValidation converts an engine construction error.
func configErrorToValidation(err error) compiler.ValidationError {
	var cfgErr *engine.ConfigError
	if !errors.As(err, &cfgErr) {
		return compiler.ValidationError{Field: "rules", Message: err.Error(), Code: ErrCodeGeneric}
	}

	field := cfgErr.Field
	if cfgErr.RuleID != "" {
		field = "rule." + cfgErr.RuleID + "." + cfgErr.Field
	}
	code := ErrCodeGeneric
	switch {
	case cfgErr.Field == "when.condition":
		code = compiler.ErrInvalidCondition
	case strings.HasPrefix(cfgErr.Field, "then.attrs."):
		code = compiler.ErrInvalidTemplate
	case cfgErr.Field == "id":
		code = compiler.ErrDuplicateName
	}
	return compiler.ValidationError{Field: field, Message: cfgErr.Message, Code: code}
}

// getLineFromCuePos extracts line number from a token.Pos.
func getLineFromCuePos(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results with any
// cycle warnings.
func outputValidateSuccess(formatter *OutputFormatter, warnings []compiler.CycleWarning) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Warnings: warnings})
	}

	fmt.Fprintln(formatter.Writer, "✓ All rules valid")
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", w.Level, w.Message)
	}
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Missing or unreadable rules are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		result := ValidationResult{
			Valid:  false,
			Errors: errs,
		}

		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
