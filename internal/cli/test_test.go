package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioDir copies the named testdata scenarios into a fresh directory.
func scenarioDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(testScenariosDir, name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}
	return dir
}

func writeScenarioFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg")
}

func TestTestCommandNonExistentRulesDir(t *testing.T) {
	_, _, err := execute(t, "test", filepath.Join(t.TempDir(), "rules"), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "rules directory not found")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, _, err := execute(t, "test", testRulesDir, filepath.Join(t.TempDir(), "scenarios"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, _, err := execute(t, "test", testRulesDir, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", testRulesDir, t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandPasses(t *testing.T) {
	out, _, err := execute(t, "test", testRulesDir, testScenariosDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ age_bands\n")
	assert.Contains(t, out, "✓ visitors\n")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandPassesJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", testRulesDir, testScenariosDir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "age_bands", resp.Data.Scenarios[0].Name)
	assert.Equal(t, 5, resp.Data.Scenarios[0].Cases)
}

func TestTestCommandFilter(t *testing.T) {
	out, _, err := execute(t, "test", testRulesDir, testScenariosDir, "--filter", "visit*")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ visitors")
	assert.NotContains(t, out, "age_bands")
	assert.Contains(t, out, "1 total")
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := scenarioDir(t, "age_bands.yaml")

	out, _, err := execute(t, "test", testRulesDir, dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ age_bands (golden updated)")

	got, err := os.ReadFile(filepath.Join(dir, "golden", "age_bands.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(testScenariosDir, "golden", "age_bands.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	// The regenerated golden file now passes.
	_, _, err = execute(t, "test", testRulesDir, dir)
	require.NoError(t, err)
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := scenarioDir(t, "age_bands.yaml")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	writeScenarioFile(t, filepath.Join(dir, "golden"), "age_bands.golden", "scenario: age_bands\n")

	out, _, err := execute(t, "-v", "test", testRulesDir, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✗ age_bands")
	assert.Contains(t, out, "Golden file mismatch (run with --update to regenerate)")
	assert.Contains(t, out, "(-golden +current)")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandFailingExpectation(t *testing.T) {
	dir := t.TempDir()
	writeScenarioFile(t, dir, "wrong.yaml", `
name: wrong
description: "An adult does not get a senior pass"
cases:
  - name: adult
    citizen: { age: 30, residency: local }
    expect:
      pass: SeniorPass
`)

	out, _, err := execute(t, "test", testRulesDir, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, `case "adult": expected SeniorPass, got AdultBusPass`)
}

func TestTestCommandFailingExpectationJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenarioFile(t, dir, "wrong.yaml", `
name: wrong
description: "A visitor is issued nothing"
cases:
  - name: visitor
    citizen: { age: 70, residency: visitor }
    expect:
      pass: SeniorPass
`)

	out, _, err := execute(t, "--format", "json", "test", testRulesDir, dir)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	require.Len(t, resp.Data.Scenarios[0].Errors, 1)
	assert.Contains(t, resp.Data.Scenarios[0].Errors[0], "expected SeniorPass, got no bus pass")
}

func TestTestCommandScenarioRules(t *testing.T) {
	dir := t.TempDir()
	runaway := filepath.Join(dir, "runaway")
	require.NoError(t, os.Mkdir(runaway, 0755))
	writeScenarioFile(t, runaway, "rules.cue", runawayRules)
	types, err := os.ReadFile(filepath.Join(testRulesDir, "types.cue"))
	require.NoError(t, err)
	writeScenarioFile(t, runaway, "types.cue", string(types))

	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.Mkdir(scenarios, 0755))
	writeScenarioFile(t, scenarios, "runaway.yaml", `
name: runaway
description: "Rules that never reach fixpoint fail the determination"
rules: ../runaway
max_steps: 5
cases:
  - name: clone
    citizen: { age: 30, residency: local }
    expect:
      error: non_termination
    assertions:
      - type: fired_count
        rule: clone-person
        count: 5
`)

	out, _, err := execute(t, "test", testRulesDir, scenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ runaway")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenarioFile(t, dir, "broken.yaml", "name: broken\ncases: [\n")

	out, _, err := execute(t, "test", testRulesDir, dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "Load error")
}

func TestTestCommandRulesError(t *testing.T) {
	rules := writeRulesDir(t, map[string]string{
		"orphan.cue": "package rules\n\nfact: Orphan: extends: \"Ticket\"\n",
	})

	out, _, err := execute(t, "test", rules, scenarioDir(t, "visitors.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, "✗ visitors")
	assert.Contains(t, out, "Rules error")
}

func TestTestHelpText(t *testing.T) {
	out, _, err := execute(t, "test", "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "conformance")
	assert.Contains(t, out, "--update")
	assert.Contains(t, out, "--filter")
	assert.Contains(t, out, "rules-dir")
	assert.Contains(t, out, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "senior-local.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "senior-visitor.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "child.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "senior-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	for _, f := range files {
		assert.True(t, strings.HasPrefix(filepath.Base(f), "senior-"), "unexpected file %s", f)
	}

	_, err = findScenarioFiles(tmpDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"/path/to/scenario.yaml", "/path/to/golden/scenario.golden"},
		{"/path/to/scenario.yml", "/path/to/golden/scenario.golden"},
		{"scenarios/test.yaml", "scenarios/golden/test.golden"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, goldenFilePath(tc.input))
	}
}
