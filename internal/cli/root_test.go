package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testRulesDir     = filepath.Join("testdata", "rules")
	testCitizensDir  = filepath.Join("testdata", "citizens")
	testScenariosDir = filepath.Join("testdata", "scenarios")
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// writeRulesDir writes a CUE package into a fresh directory. types.cue
// from testdata is included unless files overrides it.
func writeRulesDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	if _, ok := files["types.cue"]; !ok {
		types, err := os.ReadFile(filepath.Join(testRulesDir, "types.cue"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "types.cue"), types, 0644))
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "buspass", cmd.Use)
	assert.Contains(t, cmd.Long, "inference session")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"compile", "validate", "determine", "batch", "trace", "replay", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestCompileCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	compileCmd, _, err := cmd.Find([]string{"compile"})
	require.NoError(t, err)

	outputFlag := compileCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)
}

func TestEngineFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"determine", "batch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)

			for flag, def := range map[string]string{
				"db":          "",
				"max-steps":   "1000",
				"timeout":     "0s",
				"input-type":  "Person",
				"target-type": "BusPass",
			} {
				f := sub.Flags().Lookup(flag)
				require.NotNil(t, f, "flag --%s", flag)
				assert.Equal(t, def, f.DefValue, "flag --%s", flag)
			}
		})
	}
}

func TestDetermineCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	determineCmd, _, err := cmd.Find([]string{"determine"})
	require.NoError(t, err)

	citizenFlag := determineCmd.Flags().Lookup("citizen")
	require.NotNil(t, citizenFlag)
	assert.Equal(t, "", citizenFlag.DefValue)

	dumpFlag := determineCmd.Flags().Lookup("dump-facts")
	require.NotNil(t, dumpFlag)
	assert.Equal(t, "false", dumpFlag.DefValue)
}

func TestBatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	batchCmd, _, err := cmd.Find([]string{"batch"})
	require.NoError(t, err)

	concurrencyFlag := batchCmd.Flags().Lookup("concurrency")
	require.NotNil(t, concurrencyFlag)
	assert.Equal(t, "4", concurrencyFlag.DefValue)

	require.NotNil(t, batchCmd.Flags().Lookup("metrics"))
}

func TestReplayCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	replayCmd, _, err := cmd.Find([]string{"replay"})
	require.NoError(t, err)

	dbFlag := replayCmd.Flags().Lookup("db")
	require.NotNil(t, dbFlag)

	targetFlag := replayCmd.Flags().Lookup("target-type")
	require.NotNil(t, targetFlag)
	assert.Equal(t, "BusPass", targetFlag.DefValue)
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestTraceCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	traceCmd, _, err := cmd.Find([]string{"trace"})
	require.NoError(t, err)

	for _, name := range []string{"db", "outcome", "session", "limit"} {
		assert.NotNil(t, traceCmd.Flags().Lookup(name), "flag --%s", name)
	}
}

func TestCommandHelp(t *testing.T) {
	cmd := NewRootCommand()

	assert.Contains(t, cmd.Short, "Bus pass")
	assert.Contains(t, cmd.Long, "CUE")
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, _, err := execute(t, "--format", "invalid", "compile", testRulesDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestNewLogger_VerboseEnablesDebug(t *testing.T) {
	buf := &bytes.Buffer{}

	newLogger(&RootOptions{}, buf).Debug("hidden")
	assert.Empty(t, buf.String())

	newLogger(&RootOptions{Verbose: true}, buf).Debug("shown", "rules", 7)
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "rules=7")
}
