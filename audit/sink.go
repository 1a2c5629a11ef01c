// Package audit implements the Audit Sink (C2): an append-only JSONL
// writer, one file per subsystem, that never fails the caller.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/usephedm/aurora-pro-ai/core"
)

// Event is one immutable audit record (spec.md §3). Fields are never
// mutated after construction.
type Event struct {
	Timestamp string                 `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Sink owns one append-only file per subsystem under
// <dataRoot>/logs/<subsystem>.log.
type Sink struct {
	mu      sync.Mutex
	dataDir string
	files   map[string]*os.File
	logger  core.Logger
}

// New constructs a Sink rooted at dataDir/logs.
func New(dataDir string, logger core.Logger) *Sink {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Sink{
		dataDir: filepath.Join(dataDir, "logs"),
		files:   make(map[string]*os.File),
		logger:  logger,
	}
}

// Record appends one event to <subsystem>.log. Write failures are
// logged at warning level and never returned to the caller — spec.md
// §4.2: "A failure to write must log at warning level and must never
// raise into the caller."
func (s *Sink) Record(subsystem, actor, action, message string, metadata map[string]interface{}) {
	event := Event{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Actor:     actor,
		Action:    action,
		Message:   message,
		Metadata:  metadata,
	}

	line, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("audit: failed to marshal event", map[string]interface{}{"subsystem": subsystem, "error": err.Error()})
		return
	}

	f, err := s.fileFor(subsystem)
	if err != nil {
		s.logger.Warn("audit: failed to open subsystem log", map[string]interface{}{"subsystem": subsystem, "error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Warn("audit: write failed", map[string]interface{}{"subsystem": subsystem, "error": err.Error()})
	}
}

func (s *Sink) fileFor(subsystem string) (*os.File, error) {
	s.mu.Lock()
	if f, ok := s.files[subsystem]; ok {
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}
	path := filepath.Join(s.dataDir, subsystem+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.files[subsystem]; ok {
		f.Close()
		return existing, nil
	}
	s.files[subsystem] = f
	return f, nil
}

// Close closes every open subsystem file; writes are unbuffered, so
// there is nothing to flush. Safe to call once during Control Plane
// shutdown.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
