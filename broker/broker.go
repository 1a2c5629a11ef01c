package broker

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/resilience"
	"github.com/usephedm/aurora-pro-ai/telemetry"
)

// spawnError marks a failure to even launch the subprocess (pipe
// setup, fork/exec) as distinct from the command itself failing or
// timing out. Only spawn failures are transient enough to retry
// locally (spec.md §4's failure-semantics table).
type spawnError struct{ err error }

func (e spawnError) Error() string { return e.err.Error() }
func (e spawnError) Unwrap() error { return e.err }

var fixedDelays = []time.Duration{time.Second, 2 * time.Second}

// AuditFunc emits an audit event without importing the audit package.
type AuditFunc func(ctx context.Context, subsystem, actor, action, message string, metadata map[string]interface{})

// CommandResolver returns the argv template for an agent, sourced
// from the `<AGENT>_CLI_CMD` environment convention (spec.md §6).
type CommandResolver func(agent string) []string

// Broker owns one bounded queue per agent.
type Broker struct {
	mu       sync.Mutex
	agents   map[string]*agentQueue
	resolve  CommandResolver
	dataRoot string
	logger   core.Logger
	metrics  *telemetry.Metrics
	auditor  AuditFunc

	historySize int
	history     []string
	tasks       map[string]*Task
}

type agentQueue struct {
	sem  chan struct{}
	jobs chan *Task
}

// New constructs a Broker rooted at dataRoot (for per-task log/report
// files under logs/tasks/).
func New(resolve CommandResolver, dataRoot string, logger core.Logger, metrics *telemetry.Metrics, auditor AuditFunc) *Broker {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Broker{
		agents:      make(map[string]*agentQueue),
		resolve:     resolve,
		dataRoot:    dataRoot,
		logger:      logger,
		metrics:     metrics,
		auditor:     auditor,
		historySize: 20,
		tasks:       make(map[string]*Task),
	}
}

func (b *Broker) queueFor(agent string) *agentQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.agents[agent]
	if !ok {
		q = &agentQueue{sem: make(chan struct{}, 1), jobs: make(chan *Task, 256)}
		b.agents[agent] = q
	}
	return q
}

// Submit enqueues a task for agent and returns immediately. A
// background worker must be running (Run) to actually process it.
func (b *Broker) Submit(ctx context.Context, agent, prompt string, timeoutSec int) *Task {
	if timeoutSec <= 0 {
		timeoutSec = 300
	}
	task := &Task{
		ID:         uuid.NewString(),
		Agent:      agent,
		Prompt:     prompt,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
		TimeoutSec: timeoutSec,
		OperatorID: core.OperatorIDFromContext(ctx),
	}

	b.mu.Lock()
	b.tasks[task.ID] = task
	b.history = append(b.history, task.ID)
	if len(b.history) > b.historySize {
		evicted := b.history[0]
		b.history = b.history[1:]
		delete(b.tasks, evicted)
	}
	b.mu.Unlock()

	b.queueFor(agent).jobs <- task
	return task
}

// Status returns a task by id, or (nil, false) if it has aged out of
// the retained history ("unknown task" per spec.md §4.4).
func (b *Broker) Status(id string) (*Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	return t, ok
}

// RunAgent starts the single worker for one agent's queue. Call once
// per agent the broker is configured to serve; blocks until ctx ends.
func (b *Broker) RunAgent(ctx context.Context, agent string) {
	q := b.queueFor(agent)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.jobs:
			q.sem <- struct{}{}
			b.execute(ctx, task)
			<-q.sem
		}
	}
}

func (b *Broker) execute(ctx context.Context, task *Task) {
	task.Status = StatusRunning
	task.StartedAt = time.Now().UTC()

	argv := b.resolve(task.Agent)
	if len(argv) == 0 {
		task.Status = StatusError
		task.ErrorText = fmt.Sprintf("no command template configured for agent %q", task.Agent)
		b.finish(ctx, task)
		return
	}

	classify := func(err error) bool {
		var se spawnError
		return errors.As(err, &se)
	}

	var result runResult
	err := resilience.FixedDelays(ctx, fixedDelays, classify, func() error {
		if task.Retries > 0 {
			b.logger.WarnWithContext(ctx, "broker: retrying task after spawn failure", map[string]interface{}{"id": task.ID, "retry": task.Retries})
		}
		r, rerr := b.runOnce(ctx, argv, task)
		result = r
		if rerr != nil && classify(rerr) {
			task.Retries++
		}
		return rerr
	})

	task.FinishedAt = time.Now().UTC()

	var se spawnError
	switch {
	case errors.As(err, &se):
		task.Status = StatusError
		task.ErrorText = se.Error()
	case err != nil:
		task.Status = result.status
		task.ErrorText = result.errorText
	default:
		task.Status = StatusCompleted
		task.Result = result.stdout
	}

	b.finish(ctx, task)
}

// runResult carries one subprocess attempt's outcome back to execute,
// since runOnce's error only needs to say whether the attempt is
// worth retrying — the terminal status/text/output travels separately.
type runResult struct {
	status    Status
	errorText string
	stdout    string
}

// runOnce spawns argv once and streams its output into task's chunk
// log. A spawnError return means the process never got running (pipe
// setup or fork/exec failed) and the caller may retry; any other
// error is a timeout or non-zero exit, which is not retried.
func (b *Broker) runOnce(ctx context.Context, argv []string, task *Task) (runResult, error) {
	deadline := time.Duration(task.TimeoutSec) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.SysProcAttr = processGroupAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return runResult{}, spawnError{err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return runResult{}, spawnError{err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return runResult{}, spawnError{err}
	}

	if err := cmd.Start(); err != nil {
		return runResult{}, spawnError{err}
	}

	go func() {
		defer stdin.Close()
		_, _ = stdin.Write([]byte(task.Prompt))
	}()

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf strings.Builder
	wg.Add(2)
	go streamLines(&wg, stdout, func(line string) {
		task.appendChunk(StreamStdout, line)
		stdoutBuf.WriteString(line)
		stdoutBuf.WriteByte('\n')
	})
	go streamLines(&wg, stderr, func(line string) {
		task.appendChunk(StreamStderr, line)
		stderrBuf.WriteString(line)
		stderrBuf.WriteByte('\n')
	})

	waitErr := cmd.Wait()
	wg.Wait()

	switch {
	case runCtx.Err() != nil:
		killProcessGroup(cmd)
		return runResult{status: StatusTimeout, errorText: "deadline exceeded"}, fmt.Errorf("broker: timed out")
	case waitErr != nil:
		errText := stderrBuf.String()
		if errText == "" {
			errText = waitErr.Error()
		}
		return runResult{status: StatusError, errorText: errText}, fmt.Errorf("broker: command failed: %w", waitErr)
	default:
		return runResult{status: StatusCompleted, stdout: stdoutBuf.String()}, nil
	}
}

func streamLines(wg *sync.WaitGroup, r io.Reader, onLine func(string)) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
}

func (b *Broker) finish(ctx context.Context, task *Task) {
	promptHash := sha256.Sum256([]byte(task.Prompt))
	hashHex := hex.EncodeToString(promptHash[:])
	duration := task.FinishedAt.Sub(task.StartedAt)

	if b.auditor != nil {
		b.auditor(ctx, "broker", task.OperatorID, "task_"+string(task.Status), task.ID, map[string]interface{}{
			"agent":        task.Agent,
			"prompt_sha256": hashHex,
			"duration_ms":  duration.Milliseconds(),
		})
	}

	if task.Agent == "codex" {
		b.emitCodexActivity(ctx, task, hashHex, duration)
	}

	if b.metrics != nil {
		b.metrics.TasksTotal.WithLabelValues(task.Agent, string(task.Status)).Inc()
	}

	b.writeReport(task)
}

// emitCodexActivity writes the "codex" agent's additional structured
// activity event, supplemented from the quantizer collaborator: a
// quantization_hint metadata field, always "int8", carried alongside
// the usual fields.
func (b *Broker) emitCodexActivity(ctx context.Context, task *Task, promptHash string, duration time.Duration) {
	exitCode := 0
	switch task.Status {
	case StatusError:
		exitCode = 1
	case StatusTimeout:
		exitCode = 124
	}

	if b.auditor != nil {
		b.auditor(ctx, "codex_activity", task.OperatorID, "activity", task.ID, map[string]interface{}{
			"prompt_sha256":     promptHash,
			"status":            task.Status,
			"duration_ms":       duration.Milliseconds(),
			"exit_code":         exitCode,
			"output_path":       b.reportPath(task.ID),
			"operator":          task.OperatorID,
			"prompt_summary":    task.firstWords(10),
			"stdout_lines":      countChunks(task, StreamStdout),
			"stderr_lines":      countChunks(task, StreamStderr),
			"quantization_hint": "int8",
		})
	}
}

func countChunks(task *Task, kind StreamKind) int {
	n := 0
	for _, c := range task.Chunks {
		if c.Stream == kind {
			n++
		}
	}
	return n
}

func (b *Broker) reportPath(taskID string) string {
	return filepath.Join(b.dataRoot, "logs", "tasks", taskID+".log")
}

func (b *Broker) writeReport(task *Task) {
	path := b.reportPath(task.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		b.logger.Warn("broker: failed to create task report directory", map[string]interface{}{"error": err.Error()})
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "task %s agent=%s status=%s\n", task.ID, task.Agent, task.Status)
	fmt.Fprintf(&sb, "created=%s started=%s finished=%s\n", task.CreatedAt, task.StartedAt, task.FinishedAt)
	fmt.Fprintf(&sb, "operator=%s retries=%d\n\n", task.OperatorID, task.Retries)
	for _, c := range task.Chunks {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", c.Timestamp.Format(time.RFC3339), c.Stream, c.Text)
	}
	if task.Result != "" {
		fmt.Fprintf(&sb, "\nresult:\n%s\n", task.Result)
	}
	if task.ErrorText != "" {
		fmt.Fprintf(&sb, "\nerror:\n%s\n", task.ErrorText)
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		b.logger.Warn("broker: failed to write task report", map[string]interface{}{"error": err.Error()})
	}
}

