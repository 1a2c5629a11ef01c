package planner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/action"
	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/reasoning"
)

func newTestPlanner(t *testing.T, generate GenerateFunc) *Planner {
	t.Helper()
	exec := action.New(action.Config{}, &core.NoOpLogger{}, nil, nil)
	stream := reasoning.New(100, t.TempDir(), &core.NoOpLogger{})
	return New(generate, exec, stream, &core.NoOpLogger{}, nil, t.TempDir())
}

func TestRunHappyPathWritesFileAndCompletes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aurora_test.txt")

	plan := `[{"kind":"file_write","description":"write hello","parameters":{"path":"` + path + `","content":"hello"}}]`
	p := newTestPlanner(t, func(ctx context.Context, prompt string) (string, error) {
		return plan, nil
	})

	w := p.Run(context.Background(), "create file with hello")

	require.Equal(t, StatusCompleted, w.Status)
	assert.Equal(t, 1, w.TotalActions)
	assert.Equal(t, 1, w.CompletedActions)
	assert.Equal(t, 0, w.FailedActions)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))
}

func TestRunPersistsWorkflowJSON(t *testing.T) {
	p := newTestPlanner(t, func(ctx context.Context, prompt string) (string, error) {
		return `[{"kind":"wait","description":"noop","parameters":{"seconds":0}}]`, nil
	})

	w := p.Run(context.Background(), "wait a moment")

	raw, err := os.ReadFile(filepath.Join(p.workflowDir, w.ID+".json"))
	require.NoError(t, err)
	var persisted Workflow
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, StatusCompleted, persisted.Status)
	assert.Equal(t, 1, persisted.TotalActions)
}

func TestRunFallsBackToCLIExecuteOnUnparsablePlan(t *testing.T) {
	p := newTestPlanner(t, func(ctx context.Context, prompt string) (string, error) {
		return "not json at all", nil
	})

	w := p.Run(context.Background(), "echo fallback-marker")

	require.Len(t, w.Actions, 1)
	assert.Equal(t, action.KindCLIExecute, w.Actions[0].Kind)
}

func TestRunRecoversFromFailedActionViaSubstitute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.txt")

	call := 0
	p := newTestPlanner(t, func(ctx context.Context, prompt string) (string, error) {
		call++
		if call == 1 {
			return `[{"kind":"cli_execute","description":"run missing","parameters":{"command":"/nonexistent/command","timeout_sec":2}}]`, nil
		}
		return `[{"kind":"file_write","description":"recover by writing ok","parameters":{"path":"` + path + `","content":"ok"}}]`, nil
	})

	w := p.Run(context.Background(), "run /nonexistent/command then write ok.txt")

	assert.Equal(t, StatusCompleted, w.Status)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(raw))
}

func TestRunFailsWhenRecoveryExhausted(t *testing.T) {
	p := newTestPlanner(t, func(ctx context.Context, prompt string) (string, error) {
		return "", assertErr{}
	})

	w := p.Run(context.Background(), "do something impossible")

	assert.Equal(t, StatusFailed, w.Status)
	assert.NotEmpty(t, w.Error)
}

type assertErr struct{}

func (assertErr) Error() string { return "generation unavailable" }

func TestParseActionArrayExtractsFirstTopLevelArrayFromProse(t *testing.T) {
	p := newTestPlanner(t, nil)
	text := "Sure, here is the plan:\n```json\n[{\"kind\":\"wait\",\"description\":\"d\",\"parameters\":{\"seconds\":1}}]\n```\nLet me know if you need changes."
	specs, err := p.parseActionArray(text)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "wait", specs[0].Kind)
}

func TestActionBudgetTruncatesPlan(t *testing.T) {
	plan := `[{"kind":"wait","description":"a","parameters":{"seconds":0}},{"kind":"wait","description":"b","parameters":{"seconds":0}},{"kind":"wait","description":"c","parameters":{"seconds":0}}]`
	p := newTestPlanner(t, func(ctx context.Context, prompt string) (string, error) {
		return plan, nil
	})
	p.SetActionBudget(2)

	w := p.Run(context.Background(), "three waits")
	assert.Equal(t, 2, w.TotalActions)
}
