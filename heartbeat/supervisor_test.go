package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/telemetry"
)

func TestCheckAggregatesRegisteredComponents(t *testing.T) {
	s := New(time.Hour, &core.NoOpLogger{}, nil, nil)
	s.Register("policy", HealthCheckerFunc(func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	}))
	s.Register("broker", HealthCheckerFunc(func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusError, Detail: "boom"}
	}))

	snap := s.Check(context.Background())
	require.Len(t, snap.Components, 2)
	assert.Equal(t, StatusHealthy, snap.Components["policy"].Status)
	assert.Equal(t, StatusError, snap.Components["broker"].Status)
}

func TestRecordRecoveryBoundsRingAt100(t *testing.T) {
	s := New(time.Hour, &core.NoOpLogger{}, nil, nil)
	for i := 0; i < 150; i++ {
		s.RecordRecovery(context.Background(), "broker", "retry", "x")
	}
	snap := s.Check(context.Background())
	assert.Len(t, snap.Recoveries, 100)
}

func TestRecordErrorIncrementsCounter(t *testing.T) {
	s := New(time.Hour, &core.NoOpLogger{}, nil, nil)
	s.RecordError(context.Background(), "llm", "transport error")
	s.RecordError(context.Background(), "llm", "transport error")
	snap := s.Check(context.Background())
	assert.Equal(t, 2, snap.ErrorCounts["llm"])
}

func TestRunTicksAtConfiguredPeriod(t *testing.T) {
	m := telemetry.NewMetrics()
	s := New(10*time.Millisecond, &core.NoOpLogger{}, m, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-done

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.HeartbeatTicks), float64(2))
}
