package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/prompts"

	"github.com/usephedm/aurora-pro-ai/action"
	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/reasoning"
)

// GenerateFunc is a closure over the LLM Router's Generate call,
// keeping this package decoupled from llm's concrete types the same
// way llm's code-CLI shim (codecli.go) is decoupled from broker.
type GenerateFunc func(ctx context.Context, prompt string) (text string, err error)

// AuditFunc emits an audit event without importing the audit package.
type AuditFunc func(ctx context.Context, action, message string, metadata map[string]interface{})

const defaultActionBudget = 50

// plannerPrompt enumerates the closed action vocabulary so the LLM's
// JSON response stays within what the Action Executor can dispatch
// (spec.md §4.6/§4.7). Rendered through langchaingo's PromptTemplate
// rather than fmt.Sprintf so the variable slots are named, not
// positional.
var plannerPrompt = prompts.NewPromptTemplate(
	`You are planning a sequence of actions to accomplish a goal. Respond with a JSON array of actions only.
Each action has: {"kind": one of [web_navigate, web_click, web_type, web_extract, cli_execute, file_read, file_write, file_delete, screenshot, vision_analyze, mouse_click, mouse_move, keyboard_type, wait, verify], "description": "...", "parameters": {...}}.

Goal: {{.goal}}`,
	[]string{"goal"},
)

// recoveryPrompt asks for 1-3 substitute actions after a failure
// (spec.md §4.7 step 2).
var recoveryPrompt = prompts.NewPromptTemplate(
	`The following action failed while accomplishing a goal.
Goal: {{.goal}}
Failed action: {{.description}} (error: {{.error}})
Propose 1 to 3 substitute actions as a JSON array, using the same schema as before, that might accomplish the same intent.`,
	[]string{"goal", "description", "error"},
)

// renderPrompt formats tmpl with vars, falling back to the raw
// template text if rendering fails (a malformed variable should
// degrade the prompt, not abort planning).
func renderPrompt(tmpl prompts.PromptTemplate, vars map[string]interface{}) string {
	rendered, err := tmpl.Format(vars)
	if err != nil {
		return tmpl.Template
	}
	return rendered
}

// Planner is the Autonomous Planner (C7).
type Planner struct {
	mu           sync.Mutex
	generate     GenerateFunc
	executor     *action.Executor
	reasoner     *reasoning.Stream
	validate     *validator.Validate
	logger       core.Logger
	auditor      AuditFunc
	actionBudget int
	workflowDir  string
	workflows    map[string]*Workflow
}

type actionSpec struct {
	Kind        string                 `json:"kind" validate:"required"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func New(generate GenerateFunc, executor *action.Executor, reasoner *reasoning.Stream, logger core.Logger, auditor AuditFunc, workflowDir string) *Planner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if workflowDir == "" {
		workflowDir = "logs/workflows"
	}
	return &Planner{
		generate:     generate,
		executor:     executor,
		reasoner:     reasoner,
		validate:     validator.New(),
		logger:       logger,
		auditor:      auditor,
		actionBudget: defaultActionBudget,
		workflowDir:  workflowDir,
		workflows:    make(map[string]*Workflow),
	}
}

// SetActionBudget overrides the default truncation budget.
func (p *Planner) SetActionBudget(n int) {
	if n > 0 {
		p.actionBudget = n
	}
}

// Status returns a snapshot of a workflow by id.
func (p *Planner) Status(id string) (*Workflow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workflows[id]
	return w, ok
}

// Run plans and executes one goal to completion, persisting the
// terminal workflow (spec.md §4.7).
func (p *Planner) Run(ctx context.Context, request string) *Workflow {
	w := &Workflow{
		ID:        uuid.NewString(),
		Request:   request,
		Status:    StatusPlanning,
		CreatedAt: time.Now().UTC(),
	}
	p.mu.Lock()
	p.workflows[w.ID] = w
	p.mu.Unlock()

	contextID := p.reasoner.BeginContext("workflow: " + request)
	defer p.finalize(ctx, w, contextID)

	specs := p.plan(ctx, w, contextID, request)
	if len(specs) > p.actionBudget {
		w.addReasoning(fmt.Sprintf("truncated plan from %d to %d actions (budget)", len(specs), p.actionBudget))
		specs = specs[:p.actionBudget]
	}

	for _, spec := range specs {
		w.Actions = append(w.Actions, &action.Action{
			ID:          uuid.NewString(),
			Kind:        action.Kind(spec.Kind),
			Description: spec.Description,
			Parameters:  spec.Parameters,
			Status:      action.StatusPending,
		})
	}
	w.TotalActions = len(w.Actions)
	w.Status = StatusExecuting

	for i, act := range w.Actions {
		w.CurrentIndex = i
		p.executeWithRecovery(ctx, w, contextID, request, act)
		if w.Status == StatusFailed {
			return w
		}
	}

	w.Status = StatusCompleted
	w.Result = fmt.Sprintf("completed %d/%d actions", w.CompletedActions, w.TotalActions)
	return w
}

func (p *Planner) plan(ctx context.Context, w *Workflow, contextID, request string) []actionSpec {
	p.reasoner.AddStep(ctx, "planner", "planning actions for goal", reasoning.LevelInfo, reasoning.WithContext(contextID))

	text, err := p.generate(ctx, renderPrompt(plannerPrompt, map[string]interface{}{"goal": request}))
	if err != nil {
		w.addReasoning("plan generation failed: " + err.Error())
		return []actionSpec{p.fallbackPlan(request)}
	}

	specs, err := p.parseActionArray(text)
	if err != nil || len(specs) == 0 {
		w.addReasoning("plan parsing failed, falling back to single cli_execute")
		return []actionSpec{p.fallbackPlan(request)}
	}
	return specs
}

func (p *Planner) fallbackPlan(request string) actionSpec {
	return actionSpec{
		Kind:        string(action.KindCLIExecute),
		Description: "fallback: run goal as a raw command",
		Parameters:  map[string]interface{}{"command": request, "timeout_sec": 60},
	}
}

// parseActionArray is tolerant of surrounding prose: it extracts the
// first top-level JSON array from the response (spec.md §4.7 step 1).
func (p *Planner) parseActionArray(text string) ([]actionSpec, error) {
	start := strings.Index(text, "[")
	if start < 0 {
		return nil, fmt.Errorf("planner: no JSON array found in response")
	}
	depth := 0
	end := -1
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("planner: unterminated JSON array in response")
	}

	var raw []actionSpec
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, err
	}
	valid := make([]actionSpec, 0, len(raw))
	for _, spec := range raw {
		if err := p.validate.Struct(spec); err != nil {
			continue
		}
		valid = append(valid, spec)
	}
	return valid, nil
}

func (p *Planner) executeWithRecovery(ctx context.Context, w *Workflow, contextID, request string, act *action.Action) {
	p.reasoner.AddStep(ctx, "planner", "executing: "+act.Description, reasoning.LevelInfo, reasoning.WithContext(contextID))
	p.executor.Execute(ctx, act)
	p.autoVerify(ctx, w, contextID, act)

	if act.Status != action.StatusFailed {
		w.CompletedActions++
		return
	}

	w.addReasoning(fmt.Sprintf("action %s failed: %s; attempting recovery", act.Kind, act.Error))
	p.reasoner.AddStep(ctx, "planner", "recovering from failed action", reasoning.LevelWarning, reasoning.WithContext(contextID))

	recovered := p.recover(ctx, request, act)
	if !recovered {
		w.FailedActions++
		w.Status = StatusFailed
		w.Error = fmt.Sprintf("action %s failed and recovery did not succeed: %s", act.Kind, act.Error)
		return
	}
	w.CompletedActions++
}

func (p *Planner) recover(ctx context.Context, request string, failed *action.Action) bool {
	text, err := p.generate(ctx, renderPrompt(recoveryPrompt, map[string]interface{}{
		"goal": request, "description": failed.Description, "error": failed.Error,
	}))
	if err != nil {
		return false
	}
	specs, err := p.parseActionArray(text)
	if err != nil || len(specs) == 0 {
		return false
	}
	for _, spec := range specs {
		substitute := &action.Action{
			ID:          uuid.NewString(),
			Kind:        action.Kind(spec.Kind),
			Description: spec.Description,
			Parameters:  spec.Parameters,
			Status:      action.StatusPending,
		}
		p.executor.Execute(ctx, substitute)
		if substitute.Status != action.StatusFailed {
			return true
		}
	}
	return false
}

// autoVerify checks a kind-specific rule after every non-verify action
// (spec.md §4.7 step 3). A failed verification is a warning signal,
// not an abort.
func (p *Planner) autoVerify(ctx context.Context, w *Workflow, contextID string, act *action.Action) {
	if act.Kind == action.KindVerify || act.Status == action.StatusFailed {
		return
	}
	ok := true
	reason := "no auto-verify rule for this kind"
	if act.Kind == action.KindCLIExecute {
		if result, isMap := act.Result.(map[string]interface{}); isMap {
			rc, _ := result["returncode"].(int)
			ok = rc == 0
			reason = fmt.Sprintf("returncode=%d", rc)
		}
	}
	level := reasoning.LevelInfo
	if !ok {
		level = reasoning.LevelWarning
	}
	p.reasoner.AddStep(ctx, "planner", "auto-verify: "+reason, level, reasoning.WithContext(contextID))
	w.addReasoning("auto-verify (" + string(act.Kind) + "): " + reason)
}

func (p *Planner) finalize(ctx context.Context, w *Workflow, contextID string) {
	w.FinishedAt = time.Now().UTC()

	status := reasoning.ContextCompleted
	if w.Status == StatusFailed {
		status = reasoning.ContextFailed
	}
	_ = p.reasoner.EndContext(contextID, status)

	if err := p.persist(w); err != nil {
		p.logger.Warn("planner: failed to persist workflow", map[string]interface{}{"error": err.Error(), "id": w.ID})
	}
	if p.auditor != nil {
		p.auditor(ctx, "workflow_finished", w.Request, map[string]interface{}{
			"id": w.ID, "status": w.Status, "completed": w.CompletedActions, "failed": w.FailedActions,
		})
	}
}

func (p *Planner) persist(w *Workflow) error {
	if err := os.MkdirAll(p.workflowDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.workflowDir, w.ID+".json"), raw, 0o644)
}
