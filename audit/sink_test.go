package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/core"
)

func TestRecordAppendsOneJSONLinePerEvent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, &core.NoOpLogger{})
	defer s.Close()

	s.Record("broker", "operator-1", "task_completed", "done", map[string]interface{}{"task_id": "abc"})
	s.Record("broker", "operator-1", "task_started", "go", nil)

	path := filepath.Join(dir, "logs", "broker.log")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "operator-1", ev.Actor)
	assert.Equal(t, "task_completed", ev.Action)
	assert.Equal(t, "abc", ev.Metadata["task_id"])
	assert.NotEmpty(t, ev.Timestamp)
}

func TestRecordIsolatesPerSubsystemFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, &core.NoOpLogger{})
	defer s.Close()

	s.Record("broker", "system", "x", "y", nil)
	s.Record("heartbeat", "system", "x", "y", nil)

	_, err := os.Stat(filepath.Join(dir, "logs", "broker.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "logs", "heartbeat.log"))
	assert.NoError(t, err)
}

func TestRecordNeverPanicsOnUnwritableDir(t *testing.T) {
	s := New("/nonexistent-root-no-permission-xyz/really", &core.NoOpLogger{})
	assert.NotPanics(t, func() {
		s.Record("broker", "system", "x", "y", nil)
	})
}
