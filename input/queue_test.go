package input

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/core"
)

type fakeActuator struct {
	mu       sync.Mutex
	calls    []Kind
	failN    int
	failsafe bool
}

func (f *fakeActuator) Perform(ctx context.Context, kind Kind, parameters map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind)
	if f.failsafe {
		return ErrFailsafeTriggered
	}
	if f.failN > 0 {
		f.failN--
		return assertError{}
	}
	return nil
}

type assertError struct{}

func (assertError) Error() string { return "transient actuator error" }

func TestSubmitRunsExactlyOneClick(t *testing.T) {
	act := &fakeActuator{}
	q := New(act, nil, &core.NoOpLogger{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	task, err := q.SubmitAndWait(context.Background(), "t1", KindClick, map[string]interface{}{"x": 100, "y": 100})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Len(t, act.calls, 1)
}

func TestFailsafeIsNeverRetried(t *testing.T) {
	act := &fakeActuator{failsafe: true}
	q := New(act, nil, &core.NoOpLogger{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	task, err := q.SubmitAndWait(context.Background(), "t2", KindClick, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, task.Status)
	assert.Len(t, act.calls, 1, "failsafe errors must not be retried")
}

func TestTransientFailureRetriesUpToMaxRetries(t *testing.T) {
	act := &fakeActuator{failN: 1}
	q := New(act, nil, &core.NoOpLogger{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	task, err := q.SubmitAndWait(context.Background(), "t3", KindMoveTo, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.GreaterOrEqual(t, len(act.calls), 2)
}

func TestPolicyDenialSkipsActuator(t *testing.T) {
	act := &fakeActuator{}
	denyErr := assertError{}
	q := New(act, func(ctx context.Context, capability string) error {
		assert.Equal(t, capabilityMouseKeyboard, capability)
		return denyErr
	}, &core.NoOpLogger{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	task, err := q.SubmitAndWait(context.Background(), "t-denied", KindClick, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, task.Status)
	assert.Empty(t, act.calls, "actuator must never run when policy denies the capability")
}

func TestTasksExecuteSerially(t *testing.T) {
	act := &fakeActuator{}
	q := New(act, nil, &core.NoOpLogger{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	t1 := q.Submit("a", KindClick, nil)
	t2 := q.Submit("b", KindClick, nil)

	require.Eventually(t, func() bool {
		return t1.Status == StatusCompleted && t2.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)
}
