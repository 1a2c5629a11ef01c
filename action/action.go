// Package action implements the Action Executor (C6): a typed
// dispatcher that routes one Action to whichever subsystem owns its
// side effect (browser, subprocess, filesystem, input device, LLM
// judge) and always records the outcome.
package action

import "time"

// Kind is the closed action vocabulary of spec.md §4.6.
type Kind string

const (
	KindWebNavigate    Kind = "web_navigate"
	KindWebClick       Kind = "web_click"
	KindWebType        Kind = "web_type"
	KindWebExtract     Kind = "web_extract"
	KindCLIExecute     Kind = "cli_execute"
	KindFileRead       Kind = "file_read"
	KindFileWrite      Kind = "file_write"
	KindFileDelete     Kind = "file_delete"
	KindScreenshot     Kind = "screenshot"
	KindVisionAnalyze  Kind = "vision_analyze"
	KindMouseClick     Kind = "mouse_click"
	KindMouseMove      Kind = "mouse_move"
	KindKeyboardType   Kind = "keyboard_type"
	KindWait           Kind = "wait"
	KindVerify         Kind = "verify"
)

// Status is the lifecycle of one Action (spec.md §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Action is the smallest unit of observable side effect (spec.md §3).
type Action struct {
	ID            string                 `json:"id"`
	Kind          Kind                   `json:"kind"`
	Description   string                 `json:"description"`
	Parameters    map[string]interface{} `json:"parameters"`
	Status        Status                 `json:"status"`
	Result        interface{}            `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	StartedAt     time.Time              `json:"started_at,omitempty"`
	FinishedAt    time.Time              `json:"finished_at,omitempty"`
	ExecutionMS   int64                  `json:"execution_ms,omitempty"`
	Reasoning     string                 `json:"reasoning,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

func stringParam(params map[string]interface{}, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intParam(params map[string]interface{}, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func boolParam(params map[string]interface{}, key string) bool {
	v, ok := params[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
