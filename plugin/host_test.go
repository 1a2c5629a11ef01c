package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/core"
)

func TestLoadDeniedByGateNeverReadsManifest(t *testing.T) {
	dir := t.TempDir()
	denied := errors.New("denied")
	h := New(dir, &core.NoOpLogger{}, func(ctx context.Context, capability string) error {
		return denied
	}, nil, ResourceLimits{})

	err := h.Load(context.Background(), "anything")
	require.ErrorIs(t, err, denied)
}

func TestLoadMissingManifestReturnsError(t *testing.T) {
	dir := t.TempDir()
	h := New(dir, &core.NoOpLogger{}, nil, nil, ResourceLimits{})

	err := h.Load(context.Background(), "nope")
	require.Error(t, err)
}

func TestLoadMalformedManifestReturnsError(t *testing.T) {
	dir := t.TempDir()
	bundleDir := filepath.Join(dir, "badbundle")
	require.NoError(t, os.MkdirAll(bundleDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "manifest.yaml"), []byte("not: [valid yaml"), 0o644))

	h := New(dir, &core.NoOpLogger{}, nil, nil, ResourceLimits{})
	err := h.Load(context.Background(), "badbundle")
	require.Error(t, err)
}

func TestUnloadUnknownBundleReturnsError(t *testing.T) {
	h := New(t.TempDir(), &core.NoOpLogger{}, nil, nil, ResourceLimits{})
	err := h.Unload(context.Background(), "never-loaded")
	require.Error(t, err)
}

func TestHasPermissionFalseForUnloadedBundle(t *testing.T) {
	h := New(t.TempDir(), &core.NoOpLogger{}, nil, nil, ResourceLimits{})
	assert.False(t, h.HasPermission("x", "control_mouse_keyboard"))
}

func TestApplyLimitsRestoreIsSafeWithZeroLimits(t *testing.T) {
	restore, err := applyLimits(ResourceLimits{})
	require.NoError(t, err)
	assert.NotPanics(t, restore)
}
