package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/classmesh/store/sqlite"
)

const scenarioYAML = `name: cli
ticks: 3
runtime:
  decision_timeout: 2s
agents:
  - id: t1
    name: Ms Lee
    role: teacher
    group: 7a
  - id: s1
    name: Ben
    role: student
    group: 7a
  - id: s2
    name: Mia
    role: student
    group: 7a
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate_OK(t *testing.T) {
	out, err := executeCLI(t, "validate", "--scenario", writeScenario(t, scenarioYAML))
	require.NoError(t, err)
	assert.Contains(t, out, `scenario "cli" is valid: 3 agents`)
}

func TestValidate_ReportsField(t *testing.T) {
	path := writeScenario(t, scenarioYAML+"class_controller:\n  lecture_ticks: 0\n")

	_, err := executeCLI(t, "validate", "--scenario", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class_controller.lecture_ticks")
}

func TestValidate_UnknownProviderFlag(t *testing.T) {
	_, err := executeCLI(t, "validate", "--scenario", writeScenario(t, scenarioYAML), "--llm", "parrot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestRun_PersistsToSQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "data", "class.db")

	out, err := executeCLI(t, "run", "--scenario", writeScenario(t, scenarioYAML), "--db", db)
	require.NoError(t, err)

	var status struct {
		State  string `json:"state"`
		Tick   int64  `json:"tick"`
		Agents int    `json:"agents"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, int64(3), status.Tick)
	assert.Equal(t, 3, status.Agents)

	st, err := sqlite.Open(db)
	require.NoError(t, err)
	defer st.Close()
	last, err := st.LastTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestRun_TicksFlagOverridesScenario(t *testing.T) {
	out, err := executeCLI(t, "run", "--scenario", writeScenario(t, scenarioYAML), "--ticks", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `"tick": 2`)
}

func TestRun_OpenAIWithoutKeyFails(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := executeCLI(t, "run", "--scenario", writeScenario(t, scenarioYAML), "--llm", "openai")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}
