package broker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/core"
)

func catResolver(agent string) []string {
	return []string{"/bin/sh", "-c", "cat"}
}

func sleepResolver(agent string) []string {
	return []string{"/bin/sh", "-c", "sleep 5"}
}

func failResolver(agent string) []string {
	return []string{"/bin/sh", "-c", "echo boom 1>&2; exit 1"}
}

func TestSubmitEchoesPromptToResult(t *testing.T) {
	dir := t.TempDir()
	var audited []string
	b := New(catResolver, dir, &core.NoOpLogger{}, nil, func(ctx context.Context, subsystem, actor, action, message string, metadata map[string]interface{}) {
		audited = append(audited, action)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.RunAgent(ctx, "claude")

	task := b.Submit(context.Background(), "claude", "hello world", 5)
	require.Eventually(t, func() bool {
		return task.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, task.Result, "hello world")
	assert.Contains(t, audited, "task_completed")

	_, err := os.Stat(filepath.Join(dir, "logs", "tasks", task.ID+".log"))
	assert.NoError(t, err)
}

func TestSubmitTimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	b := New(sleepResolver, dir, &core.NoOpLogger{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.RunAgent(ctx, "claude")

	task := b.Submit(context.Background(), "claude", "x", 1)
	require.Eventually(t, func() bool {
		return task.Status == StatusTimeout
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSubmitNonZeroExitIsError(t *testing.T) {
	dir := t.TempDir()
	b := New(failResolver, dir, &core.NoOpLogger{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.RunAgent(ctx, "claude")

	task := b.Submit(context.Background(), "claude", "x", 5)
	require.Eventually(t, func() bool {
		return task.Status == StatusError
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, task.ErrorText, "boom")
}

func TestCodexAgentEmitsQuantizationHintMetadata(t *testing.T) {
	dir := t.TempDir()
	var codexMetadata map[string]interface{}
	b := New(catResolver, dir, &core.NoOpLogger{}, nil, func(ctx context.Context, subsystem, actor, action, message string, metadata map[string]interface{}) {
		if action == "activity" {
			codexMetadata = metadata
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.RunAgent(ctx, "codex")

	task := b.Submit(context.Background(), "codex", "write a function", 5)
	require.Eventually(t, func() bool {
		return task.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, codexMetadata)
	assert.Equal(t, "int8", codexMetadata["quantization_hint"])
}

func TestHistoryEvictsBeyondHistorySize(t *testing.T) {
	dir := t.TempDir()
	b := New(catResolver, dir, &core.NoOpLogger{}, nil, nil)
	b.historySize = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.RunAgent(ctx, "claude")

	var ids []string
	for i := 0; i < 5; i++ {
		task := b.Submit(context.Background(), "claude", "x", 5)
		ids = append(ids, task.ID)
	}

	require.Eventually(t, func() bool {
		_, ok := b.Status(ids[len(ids)-1])
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := b.Status(ids[0])
	assert.False(t, ok, "oldest task id should have aged out of history")
}
