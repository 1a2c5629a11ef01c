package reasoning

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/core"
)

func TestAddStepAttachesImplicitDefaultContext(t *testing.T) {
	s := New(100, t.TempDir(), &core.NoOpLogger{})
	id := s.BeginContext("investigate outage")

	step := s.AddStep(context.Background(), "planner", "checking logs", LevelInfo)
	assert.Equal(t, id, step.ContextID)
}

func TestAddStepRingEvictsOldest(t *testing.T) {
	s := New(3, t.TempDir(), &core.NoOpLogger{})
	for i := 0; i < 5; i++ {
		s.AddStep(context.Background(), "planner", "step", LevelInfo)
	}
	recent := s.Recent(10)
	require.Len(t, recent, 3)
}

func TestEndContextPersistsJSON(t *testing.T) {
	dir := t.TempDir()
	s := New(100, dir, &core.NoOpLogger{})
	id := s.BeginContext("goal: deploy")
	s.AddStep(context.Background(), "planner", "first", LevelInfo, WithContext(id))
	require.NoError(t, s.EndContext(id, ContextCompleted))

	path := filepath.Join(dir, "logs", "reasoning_contexts", id+".json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var persisted Ctx
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, ContextCompleted, persisted.Status)
	require.Len(t, persisted.Steps, 1)
	assert.Equal(t, "first", persisted.Steps[0].Thought)
}

func TestEndContextUnknownReturnsNotFound(t *testing.T) {
	s := New(100, t.TempDir(), &core.NoOpLogger{})
	err := s.EndContext("missing", ContextCompleted)
	require.Error(t, err)
}

func TestSubscriberDroppedOnOverflow(t *testing.T) {
	s := New(100, t.TempDir(), &core.NoOpLogger{})
	sub, unsub := s.Subscribe(1)
	defer unsub()

	s.AddStep(context.Background(), "planner", "one", LevelInfo)
	s.AddStep(context.Background(), "planner", "two", LevelInfo)
	s.AddStep(context.Background(), "planner", "three", LevelInfo)

	select {
	case _, ok := <-sub.Chan():
		if !ok {
			return
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected channel to deliver or be closed")
	}
}

func TestContextSnapshotIsIndependentCopy(t *testing.T) {
	s := New(100, t.TempDir(), &core.NoOpLogger{})
	id := s.BeginContext("x")
	s.AddStep(context.Background(), "planner", "a", LevelInfo, WithContext(id))

	snap, ok := s.ContextSnapshot(id)
	require.True(t, ok)
	require.Len(t, snap.Steps, 1)

	s.AddStep(context.Background(), "planner", "b", LevelInfo, WithContext(id))
	assert.Len(t, snap.Steps, 1, "snapshot must not observe later mutations")
}
