package policy

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

func writePolicy(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "operator_enabled.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestGateAuthorizedRequiresBothFlags(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "operator_enabled: true\nfeatures:\n  control_mouse_keyboard: true\n  vision_agent: false\n")

	g, err := New(path, &core.NoOpLogger{}, nil)
	require.NoError(t, err)

	assert.True(t, g.Authorized(context.Background(), "control_mouse_keyboard"))
	assert.False(t, g.Authorized(context.Background(), "vision_agent"))
	assert.False(t, g.Authorized(context.Background(), "unknown_capability"))
}

func TestGateMasterFlagFalseDeniesEverything(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "operator_enabled: false\nfeatures:\n  control_mouse_keyboard: true\n")

	g, err := New(path, &core.NoOpLogger{}, nil)
	require.NoError(t, err)
	assert.False(t, g.Authorized(context.Background(), "control_mouse_keyboard"))
}

func TestGateMissingFileDeniesAll(t *testing.T) {
	var audited bool
	auditor := func(ctx context.Context, action, message string, metadata map[string]interface{}) {
		audited = true
	}
	g, err := New(filepath.Join(t.TempDir(), "missing.yaml"), &core.NoOpLogger{}, auditor)
	require.NoError(t, err)

	assert.False(t, g.Authorized(context.Background(), "anything"))
	assert.True(t, audited)
}

func TestGateRequireReturnsPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "operator_enabled: false\nfeatures: {}\n")
	g, err := New(path, &core.NoOpLogger{}, nil)
	require.NoError(t, err)

	err = g.Require(context.Background(), "control_mouse_keyboard")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
}

func TestGateRefreshPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "operator_enabled: true\nfeatures:\n  vision_agent: false\n")
	g, err := New(path, &core.NoOpLogger{}, nil)
	require.NoError(t, err)
	require.False(t, g.Authorized(context.Background(), "vision_agent"))

	writePolicy(t, dir, "operator_enabled: true\nfeatures:\n  vision_agent: true\n")
	g.Refresh(context.Background())
	assert.True(t, g.Authorized(context.Background(), "vision_agent"))
}

func TestGateWatchDetectsFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "operator_enabled: true\nfeatures:\n  vision_agent: false\n")
	g, err := New(path, &core.NoOpLogger{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Watch(ctx))
	defer g.StopWatch()

	writePolicy(t, dir, "operator_enabled: true\nfeatures:\n  vision_agent: true\n")

	require.Eventually(t, func() bool {
		return g.Authorized(context.Background(), "vision_agent")
	}, 2*time.Second, 20*time.Millisecond)
}
