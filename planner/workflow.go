// Package planner implements the Autonomous Planner (C7): it turns a
// natural-language goal into an ordered Action graph via the LLM
// Router, drives the Action Executor through it, and persists the
// terminal Workflow.
package planner

import (
	"time"

	"github.com/usephedm/aurora-pro-ai/action"
)

// Status is the Workflow lifecycle (spec.md §3).
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusVerifying Status = "verifying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// Workflow is the planner-owned unit of work (spec.md §3).
type Workflow struct {
	ID               string          `json:"id"`
	Request          string          `json:"request"`
	Status           Status          `json:"status"`
	Actions          []*action.Action `json:"actions"`
	CurrentIndex     int             `json:"current_index"`
	TotalActions     int             `json:"total_actions"`
	CompletedActions int             `json:"completed_actions"`
	FailedActions    int             `json:"failed_actions"`
	ReasoningChain   []string        `json:"reasoning_chain"`
	Result           string          `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	FinishedAt        time.Time      `json:"finished_at,omitempty"`
}

func (w *Workflow) addReasoning(line string) {
	w.ReasoningChain = append(w.ReasoningChain, line)
}
