package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sctrcd/buspass/internal/compiler"
	"github.com/sctrcd/buspass/internal/engine"
)

// validateJSON runs validate in JSON mode and decodes the response.
func validateJSON(t *testing.T, dir string) (ValidationResult, CLIResponse, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	runErr := cmd.Execute()

	var resp struct {
		CLIResponse
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	return resp.Data, resp.CLIResponse, runErr
}

func TestValidateValidRules(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{testRulesDir})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ All rules valid")
	assert.NotContains(t, buf.String(), "warning")
}

func TestValidateValidRulesJSON(t *testing.T) {
	result, resp, err := validateJSON(t, testRulesDir)
	require.NoError(t, err)

	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "rules directory not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), ErrCodeNoFiles)
}

func TestValidateInvalidCondition(t *testing.T) {
	dir := writeRulesDir(t, map[string]string{
		"rules.cue": `package rules

rule: "half-written": {
	when: {type: "Person", condition: "fact.age >"}
	then: {insert: "AdultBusPass", attrs: category: "adult"}
}
`,
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, compiler.ErrInvalidCondition)
	assert.Contains(t, output, "rule.half-written.when.condition")
}

func TestValidateUnknownTypesJSON(t *testing.T) {
	dir := writeRulesDir(t, map[string]string{
		"rules.cue": `package rules

rule: "misspelled": {
	when: type: "Persn"
	then: {insert: "Ticket", attrs: category: "adult"}
}
`,
	})

	result, resp, err := validateJSON(t, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Equal(t, "error", resp.Status)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, compiler.ErrUnknownWhenType, result.Errors[0].Code)
	assert.Equal(t, compiler.ErrInvalidThen, result.Errors[1].Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrUnknownWhenType, resp.Error.Code)
}

func TestValidateFloatRejection(t *testing.T) {
	dir := writeRulesDir(t, map[string]string{
		"float.cue": "package rules\n\nfact: Ratio: fields: value: float\n",
	})

	result, _, err := validateJSON(t, dir)
	require.Error(t, err)

	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "load", result.Errors[0].Field)
	assert.Equal(t, compiler.ErrInvalidFieldType, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "float")
	assert.Positive(t, result.Errors[0].Line)
}

func TestValidateCycleWarning(t *testing.T) {
	dir := writeRulesDir(t, map[string]string{
		"rules.cue": `package rules

rule: "echo": {
	when: type: "IsChild"
	then: insert: "IsChild"
}
`,
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.NoError(t, err, "cycles are stopped at runtime and only warned about")
	assert.Contains(t, buf.String(), "✓ All rules valid")
	assert.Contains(t, buf.String(), "warning: Self-triggering rule detected: echo -> echo")
}

func TestValidateVerboseOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Verbose: true}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{testRulesDir})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, errBuf.String(), "Validating fact type: FreedomPass")
	assert.Contains(t, errBuf.String(), "Validating rule: classify-child")
}

func TestValidateTemplateErrors(t *testing.T) {
	tests := []struct {
		name      string
		dir       map[string]string
		wantCode  string
		wantField string
	}{
		{
			name: "bad template",
			dir: map[string]string{"rules.cue": `package rules

rule: "copy": {
	when: type: "Person"
	then: {insert: "IsAdult", attrs: age: "${fact.age"}
}
`},
			wantCode:  compiler.ErrInvalidTemplate,
			wantField: "then.attrs.age",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _, err := validateJSON(t, writeRulesDir(t, tt.dir))
			require.Error(t, err)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, tt.wantCode, result.Errors[0].Code)
			assert.Contains(t, result.Errors[0].Field, tt.wantField)
		})
	}
}

func TestConfigErrorToValidation(t *testing.T) {
	tests := []struct {
		err       error
		wantCode  string
		wantField string
	}{
		{&engine.ConfigError{RuleID: "r", Field: "when.condition", Message: "syntax"}, compiler.ErrInvalidCondition, "rule.r.when.condition"},
		{&engine.ConfigError{RuleID: "r", Field: "then.attrs.age", Message: "bad"}, compiler.ErrInvalidTemplate, "rule.r.then.attrs.age"},
		{&engine.ConfigError{RuleID: "r", Field: "id", Message: "duplicate rule ID"}, compiler.ErrDuplicateName, "rule.r.id"},
		{&engine.ConfigError{Field: "types", Message: "cycle"}, ErrCodeGeneric, "types"},
		{assert.AnError, ErrCodeGeneric, "rules"},
	}

	for _, tt := range tests {
		t.Run(tt.wantField, func(t *testing.T) {
			v := configErrorToValidation(tt.err)
			assert.Equal(t, tt.wantCode, v.Code)
			assert.Equal(t, tt.wantField, v.Field)
		})
	}
}
