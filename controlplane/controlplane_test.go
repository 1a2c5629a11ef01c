package controlplane

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/heartbeat"
	"github.com/usephedm/aurora-pro-ai/reasoning"
)

func TestStartRunsSubsystemsInRegistrationOrder(t *testing.T) {
	cp := New(&core.NoOpLogger{}, nil, nil, nil, "", "")

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	cp.Register(Subsystem{Name: "policy", Start: record("policy")})
	cp.Register(Subsystem{Name: "audit", Start: record("audit")})
	cp.Register(Subsystem{Name: "cache", Start: record("cache")})

	require.NoError(t, cp.Start(context.Background()))
	assert.Equal(t, []string{"policy", "audit", "cache"}, order)
}

func TestStartUnwindsOnFailure(t *testing.T) {
	cp := New(&core.NoOpLogger{}, nil, nil, nil, "", "")

	var stopped []string
	cp.Register(Subsystem{
		Name:  "a",
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { stopped = append(stopped, "a"); return nil },
	})
	cp.Register(Subsystem{
		Name:  "b",
		Start: func(ctx context.Context) error { return errors.New("boom") },
	})

	err := cp.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, stopped)
}

func TestShutdownStopsInReverseOrder(t *testing.T) {
	cp := New(&core.NoOpLogger{}, nil, nil, nil, "", "")

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	cp.Register(Subsystem{Name: "a", Start: record("a-start"), Stop: record("a")})
	cp.Register(Subsystem{Name: "b", Start: record("b-start"), Stop: record("b")})

	require.NoError(t, cp.Start(context.Background()))
	order = nil
	cp.Shutdown(context.Background())
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestEmergencyStopIsIdempotent(t *testing.T) {
	cp := New(&core.NoOpLogger{}, nil, nil, nil, "", "")

	var calls int32
	var mu sync.Mutex
	cp.Register(Subsystem{Name: "a", Stop: func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}})

	require.NoError(t, cp.EmergencyStop(context.Background(), "test"))
	require.NoError(t, cp.EmergencyStop(context.Background(), "test again"))

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, calls)
	assert.True(t, cp.IsStopped())
}

func TestEmergencyStopBroadcastsToReasoningSubscribers(t *testing.T) {
	stream := reasoning.New(10, t.TempDir(), &core.NoOpLogger{})
	sub, unsubscribe := stream.Subscribe(4)
	defer unsubscribe()

	cp := New(&core.NoOpLogger{}, nil, stream, nil, "", "")
	require.NoError(t, cp.EmergencyStop(context.Background(), "operator request"))

	select {
	case step := <-sub.Chan():
		assert.Contains(t, step.Thought, "emergency_stop")
	default:
		t.Fatal("expected a broadcast step to be delivered")
	}
}

func TestRestartClearsStoppedFlag(t *testing.T) {
	cp := New(&core.NoOpLogger{}, nil, nil, nil, "", "")
	require.NoError(t, cp.EmergencyStop(context.Background(), "test"))
	assert.True(t, cp.IsStopped())

	require.NoError(t, cp.Restart(context.Background()))
	assert.False(t, cp.IsStopped())
}

func TestSnapshotIncludesComponentHealthAndHistory(t *testing.T) {
	sup := heartbeat.New(100*time.Millisecond, &core.NoOpLogger{}, nil, nil)
	sup.Register("test-component", heartbeat.HealthCheckerFunc(func(ctx context.Context) heartbeat.ComponentHealth {
		return heartbeat.ComponentHealth{Status: heartbeat.StatusHealthy}
	}))

	cp := New(&core.NoOpLogger{}, nil, nil, sup, "", "")
	snap := cp.Snapshot(context.Background())

	assert.Contains(t, snap.Components, "test-component")
	assert.Len(t, cp.History(), 1)
}
