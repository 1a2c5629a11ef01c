// Package broker implements the CLI Task Broker (C4): a per-agent
// bounded queue of external-process invocations, serialized one at a
// time per agent, with retries, streaming logs, and structured audit
// events.
package broker

import (
	"time"
)

// Status mirrors CLITask's lifecycle (spec.md §3).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
)

// StreamKind identifies which output stream a chunk came from.
type StreamKind string

const (
	StreamStdout StreamKind = "stdout"
	StreamStderr StreamKind = "stderr"
	StreamSystem StreamKind = "system"
)

// Chunk is one captured line of process output.
type Chunk struct {
	Timestamp time.Time
	Stream    StreamKind
	Text      string
}

const maxChunks = 2000

// Task is one opaque CLI invocation. External callers hold only the
// id; the broker is the exclusive owner of everything else.
type Task struct {
	ID         string
	Agent      string
	Prompt     string
	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	TimeoutSec int
	Result     string
	ErrorText  string
	Retries    int
	OperatorID string
	Chunks     []Chunk
}

func (t *Task) appendChunk(stream StreamKind, text string) {
	t.Chunks = append(t.Chunks, Chunk{Timestamp: time.Now().UTC(), Stream: stream, Text: text})
	if len(t.Chunks) > maxChunks {
		t.Chunks = t.Chunks[len(t.Chunks)-maxChunks:]
	}
}

func (t *Task) firstWords(n int) string {
	words := make([]byte, 0, 64)
	count := 0
	for i := 0; i < len(t.Prompt) && count < n; i++ {
		c := t.Prompt[i]
		words = append(words, c)
		if c == ' ' {
			count++
		}
	}
	return string(words)
}
