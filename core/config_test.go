package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, "./data", cfg.DataRoot)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatPeriod)
	assert.Equal(t, 20, cfg.BrokerHistorySize)
	assert.NotNil(t, cfg.Logger)
}

func TestNewConfigEnvOverride(t *testing.T) {
	t.Setenv("AURORA_LOG_FORMAT", "json")
	t.Setenv("AURORA_HEARTBEAT_PERIOD", "15s")
	cfg := NewConfig()
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatPeriod)
}

func TestNewConfigOptionOverridesEnv(t *testing.T) {
	t.Setenv("AURORA_DATA_ROOT", "/env/path")
	cfg := NewConfig(WithDataRoot("/option/path"))
	assert.Equal(t, "/option/path", cfg.DataRoot)
}

func TestSplitCommandTemplate(t *testing.T) {
	args := SplitCommandTemplate(`claude --prompt "hello world" -x 'y z'`)
	assert.Equal(t, []string{"claude", "--prompt", "hello world", "-x", "y z"}, args)
}

func TestOperatorIDFromContext(t *testing.T) {
	ctx := WithOperatorID(context.Background(), "alice")
	assert.Equal(t, "alice", OperatorIDFromContext(ctx))
	assert.Equal(t, "system", OperatorIDFromContext(context.Background()))
}
