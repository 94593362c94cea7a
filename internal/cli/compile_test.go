package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sctrcd/buspass/internal/compiler"
)

func TestCompileValidRules(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{testRulesDir})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Compiled 9 fact type(s), 7 rule(s)")
	assert.Contains(t, output, "  FreedomPass extends SeniorPass")
	assert.Contains(t, output, "  classify-senior: Person → IsSenior")
	assert.Contains(t, output, "Rule set hash: ")
}

func TestCompileValidRulesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{testRulesDir})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Data.RuleSetHash)
	assert.Equal(t, "1", resp.Data.IRVersion)
	assert.Len(t, resp.Data.Types, 9)
	assert.Len(t, resp.Data.Rules, 7)
}

func TestCompileHashIsStable(t *testing.T) {
	hash := func() string {
		buf := &bytes.Buffer{}
		cmd := NewCompileCommand(&RootOptions{Format: "json"})
		cmd.SetOut(buf)
		cmd.SetArgs([]string{testRulesDir})
		require.NoError(t, cmd.Execute())

		var resp struct {
			Data CompilationResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		return resp.Data.RuleSetHash
	}

	assert.Equal(t, hash(), hash())
}

func TestCompileOutputToFile(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "output.json")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{testRulesDir, "-o", outputFile})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Wrote canonical IR to "+outputFile)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Types, 9)
	assert.Len(t, result.Rules, 7)
	assert.NotEmpty(t, result.RuleSetHash)
}

func TestCompileNonExistentDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/path"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), ErrCodeNotFound)
	assert.Contains(t, buf.String(), "rules directory not found")
}

func TestCompileEmptyDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), ErrCodeNoFiles)
	assert.Contains(t, buf.String(), "no CUE files found")
}

func TestCompileInvalidCUE(t *testing.T) {
	dir := writeRulesDir(t, map[string]string{
		"broken.cue": "package rules\n\nrule: \"oops\": {\n",
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [")
}

func TestCompileUnknownParentJSON(t *testing.T) {
	dir := writeRulesDir(t, map[string]string{
		"orphan.cue": "package rules\n\nfact: Orphan: extends: \"Ticket\"\n",
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrUnknownParent, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Ticket")
}

func TestCompileSingleRule(t *testing.T) {
	dir := writeRulesDir(t, map[string]string{
		"rules.cue": `package rules

rule: "everyone-adult": {
	when: type: "Person"
	then: {insert: "AdultBusPass", attrs: category: "adult"}
}
`,
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Compiled 9 fact type(s), 1 rule(s)")
	assert.Contains(t, buf.String(), "everyone-adult: Person → AdultBusPass")
}

func TestCompileVerboseOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Verbose: true}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{testRulesDir})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, errBuf.String(), "Found 2 CUE file(s)")
	assert.Contains(t, errBuf.String(), "Compiling fact type: Person")
	assert.Contains(t, errBuf.String(), "Compiling rule: issue-freedom-pass")
	assert.NotContains(t, buf.String(), "Compiling")
}

func TestCompileFloatRejection(t *testing.T) {
	dir := writeRulesDir(t, map[string]string{
		"float.cue": "package rules\n\nfact: Ratio: fields: value: float\n",
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ Compilation failed")
	assert.Contains(t, buf.String(), "float")
	assert.Contains(t, buf.String(), "forbidden")
}

func TestFindCUEFiles(t *testing.T) {
	tmpDir := t.TempDir()

	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.cue"), []byte("package test"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "notcue.txt"), []byte("not a cue file"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "nested.cue"), []byte("package test"), 0644))

	files, err := FindCUEFiles(tmpDir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field    string
		expected string
	}{
		{"extends", compiler.ErrUnknownParent},
		{"type", compiler.ErrInvalidFieldType},
		{"when", compiler.ErrMissingClause},
		{"when.type", compiler.ErrUnknownWhenType},
		{"when.condition", compiler.ErrInvalidCondition},
		{"absent", compiler.ErrUnknownAbsent},
		{"then", compiler.ErrInvalidThen},
		{"then.insert", compiler.ErrInvalidThen},
		{"then.attrs.age", compiler.ErrInvalidTemplate},
		{"salience", ErrCodeGeneric},
		{"unknown", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapFieldToErrorCode(tt.field))
		})
	}
}

func TestLoadRuleSet(t *testing.T) {
	rs, err := LoadRuleSet(testRulesDir)
	require.NoError(t, err)
	assert.Len(t, rs.Types, 9)
	assert.Len(t, rs.Rules, 7)

	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}
