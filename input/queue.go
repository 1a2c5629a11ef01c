// Package input implements the Input Queue (C10): a strictly
// serialized mouse/keyboard actuator with bounded retries and
// failsafe detection.
package input

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/heartbeat"
	"github.com/usephedm/aurora-pro-ai/resilience"
	"github.com/usephedm/aurora-pro-ai/telemetry"
)

// ErrFailsafeTriggered is raised by an Actuator when it detects a
// failsafe condition (e.g. the pointer hit a screen corner). It is
// never retried.
var ErrFailsafeTriggered = errors.New("input: failsafe triggered")

// Kind enumerates the supported actuator actions (spec.md §3 InputTask).
type Kind string

const (
	KindClick       Kind = "click"
	KindRightClick  Kind = "right_click"
	KindDoubleClick Kind = "double_click"
	KindMoveTo      Kind = "move_to"
	KindTypeText    Kind = "type_text"
	KindHotkey      Kind = "hotkey"
	KindScroll      Kind = "scroll"
	KindPressKey    Kind = "press_key"
	KindDrag        Kind = "drag"
)

// Status mirrors CLITask's lifecycle, applied to InputTask.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
)

// Task is one queued actuator invocation.
type Task struct {
	ID         string
	Kind       Kind
	Parameters map[string]interface{}
	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
	Retries    int
	MaxRetries int
}

// Actuator performs the actual hardware interaction. Abstracted
// behind an interface since the core never drives real hardware
// directly — per the out-of-scope browser/OCR kernel non-goal, this
// keeps platform-specific input driving out of this module.
type Actuator interface {
	Perform(ctx context.Context, kind Kind, parameters map[string]interface{}) error
}

// AuditFunc emits an audit event without importing the audit package.
type AuditFunc func(ctx context.Context, action, message string, metadata map[string]interface{})

// PolicyFunc authorizes a capability before a task actuates. A
// closure over the Policy Gate rather than a direct import, the same
// decoupling used for AuditFunc.
type PolicyFunc func(ctx context.Context, capability string) error

// capabilityMouseKeyboard is the single capability every task in this
// queue requires (spec.md §6 policy file: "control_mouse_keyboard").
const capabilityMouseKeyboard = "control_mouse_keyboard"

// Queue is the single-worker serialized input queue.
type Queue struct {
	mu sync.Mutex

	actuator   Actuator
	logger     core.Logger
	policy     PolicyFunc
	metrics    *telemetry.Metrics
	auditor    AuditFunc
	maxRetries int

	jobs    chan *job
	running bool

	depth         int
	runningCount  int64
	totalCount    int64
	restartCount  int64
	lastError     string
}

type job struct {
	task *Task
	done chan struct{}
}

// New constructs a Queue. actuator may be nil only in tests that
// never submit a job. policy may be nil only in tests; a nil policy
// is treated as "no gate configured" and authorizes everything, so
// production wiring must always supply one (spec.md §4.10: "Each
// task: authorize(input_control) -> execute_with_retries(action)").
func New(actuator Actuator, policy PolicyFunc, logger core.Logger, metrics *telemetry.Metrics, auditor AuditFunc) *Queue {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Queue{
		actuator:   actuator,
		policy:     policy,
		logger:     logger,
		metrics:    metrics,
		auditor:    auditor,
		maxRetries: 2,
		jobs:       make(chan *job, 256),
	}
}

// Run starts the single worker goroutine. Blocks until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			q.mu.Lock()
			q.depth--
			q.runningCount++
			q.mu.Unlock()

			q.execute(ctx, j.task)

			q.mu.Lock()
			q.runningCount--
			q.mu.Unlock()

			close(j.done)
		}
	}
}

// Submit enqueues a task and returns immediately with its id.
// Authorization happens inside the worker, as the first step of
// execute (spec.md §4.10), not here.
func (q *Queue) Submit(id string, kind Kind, parameters map[string]interface{}) *Task {
	task, _ := q.enqueue(id, kind, parameters)
	return task
}

// SubmitAndWait enqueues a task and blocks until it reaches a
// terminal state or ctx is done. Completion is signaled by the worker
// closing the job's done channel — no polling of task.Status, which
// the worker goroutine mutates without synchronization.
func (q *Queue) SubmitAndWait(ctx context.Context, id string, kind Kind, parameters map[string]interface{}) (*Task, error) {
	task, j := q.enqueue(id, kind, parameters)
	select {
	case <-j.done:
		return task, nil
	case <-ctx.Done():
		return task, ctx.Err()
	}
}

func (q *Queue) enqueue(id string, kind Kind, parameters map[string]interface{}) (*Task, *job) {
	task := &Task{
		ID:         id,
		Kind:       kind,
		Parameters: parameters,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: q.maxRetries,
	}

	j := &job{task: task, done: make(chan struct{})}

	q.mu.Lock()
	q.depth++
	q.totalCount++
	q.mu.Unlock()

	q.jobs <- j
	return task, j
}

var fixedDelays = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}

func (q *Queue) execute(ctx context.Context, task *Task) {
	task.StartedAt = time.Now().UTC()

	if q.policy != nil {
		if err := q.policy(ctx, capabilityMouseKeyboard); err != nil {
			task.Status = StatusError
			task.Error = err.Error()
			task.FinishedAt = time.Now().UTC()
			if q.auditor != nil {
				q.auditor(ctx, "input_denied", task.ID, map[string]interface{}{
					"kind": task.Kind, "capability": capabilityMouseKeyboard,
				})
			}
			return
		}
	}

	task.Status = StatusRunning

	classify := func(err error) bool {
		return !errors.Is(err, ErrFailsafeTriggered)
	}

	retries := task.MaxRetries
	if retries > len(fixedDelays) {
		retries = len(fixedDelays)
	}
	err := resilience.FixedDelays(ctx, fixedDelays[:retries], classify, func() error {
		if task.Retries > 0 {
			q.logger.WarnWithContext(ctx, "input: retrying task", map[string]interface{}{"id": task.ID, "retry": task.Retries})
		}
		perr := q.actuator.Perform(ctx, task.Kind, task.Parameters)
		if perr != nil && classify(perr) {
			task.Retries++
		}
		return perr
	})

	task.FinishedAt = time.Now().UTC()

	q.mu.Lock()
	if err != nil {
		q.lastError = err.Error()
	}
	q.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			task.Status = StatusTimeout
		} else {
			task.Status = StatusError
		}
		task.Error = err.Error()
		if q.metrics != nil {
			q.metrics.ComponentErrors.WithLabelValues("input").Inc()
		}
	} else {
		task.Status = StatusCompleted
	}

	if q.auditor != nil {
		q.auditor(ctx, "input_task_"+string(task.Status), task.ID, map[string]interface{}{
			"kind": task.Kind, "retries": task.Retries,
		})
	}
}

// Snapshot reports health telemetry for status endpoints.
type Snapshot struct {
	Depth        int
	Running      bool
	RunningCount int64
	TotalCount   int64
	RestartCount int64
	LastError    string
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		Depth:        q.depth,
		Running:      q.running,
		RunningCount: q.runningCount,
		TotalCount:   q.totalCount,
		RestartCount: q.restartCount,
		LastError:    q.lastError,
	}
}

// HealthCheck implements heartbeat.HealthChecker.
func (q *Queue) HealthCheck(ctx context.Context) heartbeat.ComponentHealth {
	snap := q.Snapshot()
	if !snap.Running {
		return heartbeat.ComponentHealth{Status: heartbeat.StatusStopped, Detail: "worker not running"}
	}
	if snap.LastError != "" {
		return heartbeat.ComponentHealth{Status: heartbeat.StatusError, Detail: snap.LastError}
	}
	return heartbeat.ComponentHealth{Status: heartbeat.StatusHealthy}
}

// Restart bumps the restart counter, used by the control plane after
// a recoverable failure.
func (q *Queue) Restart() {
	q.mu.Lock()
	q.restartCount++
	q.mu.Unlock()
}
