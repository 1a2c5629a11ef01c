package action

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/input"
	"github.com/usephedm/aurora-pro-ai/telemetry"
)

// AuditFunc emits an audit event without importing the audit package.
type AuditFunc func(ctx context.Context, action, message string, metadata map[string]interface{})

// JudgeFunc backs the verify action. It is a closure over the LLM
// Router rather than a direct import, matching the decoupling used for
// the code-CLI provider shim.
type JudgeFunc func(ctx context.Context, condition string, history []string) (success bool, reason string, err error)

// GateFunc authorizes a capability before a privileged action kind
// runs. A closure over the Policy Gate rather than a direct import,
// matching the decoupling used for JudgeFunc/VisionBackend.
type GateFunc func(ctx context.Context, capability string) error

// privilegedCapability maps an action kind to the Policy Gate
// capability it requires (spec.md §4.6/§2: "Every privileged action
// consults the Policy Gate"). Kinds absent from this table carry no
// capability requirement.
func privilegedCapability(kind Kind) (string, bool) {
	switch kind {
	case KindMouseClick, KindMouseMove, KindKeyboardType:
		return "control_mouse_keyboard", true
	case KindVisionAnalyze:
		return "vision_agent", true
	default:
		return "", false
	}
}

// VisionBackend analyzes a screenshot for text and UI elements. No pack
// example ships an OCR library, so the default implementation is a
// stdlib-only stub (see DESIGN.md) — operators may supply a real
// backend.
type VisionBackend interface {
	Analyze(ctx context.Context, screenshotPath string, detectElements bool) (ocrText string, uiElements []string, err error)
}

// PageCache is the subset of cache.Tiered that web_navigate uses to
// avoid refetching a URL within its TTL, decoupled from the cache
// package the same way the verify action is decoupled from llm.
type PageCache interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
}

// Executor is the Action Executor (C6).
type Executor struct {
	mu        sync.Mutex
	inputQ    *input.Queue
	vision    VisionBackend
	judge     JudgeFunc
	pages     PageCache
	pageTTL   time.Duration
	gate      GateFunc
	logger    core.Logger
	metrics   *telemetry.Metrics
	auditor   AuditFunc
	screenDir string

	webDoc *goquery.Document
	webURL string

	recentHistory []string
	historyLimit  int
}

// Config bundles the Executor's optional collaborators. inputQ, vision
// and judge may all be nil. A missing inputQ or judge degrades its
// action kinds to an error result rather than a panic; a missing
// vision backend makes vision_analyze succeed with empty OCR text and
// no UI elements.
type Config struct {
	InputQueue    *input.Queue
	Vision        VisionBackend
	Judge         JudgeFunc
	Pages         PageCache
	PageTTL       time.Duration
	Gate          GateFunc
	ScreenshotDir string
}

func New(cfg Config, logger core.Logger, metrics *telemetry.Metrics, auditor AuditFunc) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	dir := cfg.ScreenshotDir
	if dir == "" {
		dir = "logs/screenshots"
	}
	ttl := cfg.PageTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Executor{
		inputQ:       cfg.InputQueue,
		vision:       cfg.Vision,
		judge:        cfg.Judge,
		pages:        cfg.Pages,
		pageTTL:      ttl,
		gate:         cfg.Gate,
		logger:       logger,
		metrics:      metrics,
		auditor:      auditor,
		screenDir:    dir,
		historyLimit: 50,
	}
}

// Execute dispatches act to the subsystem matching its kind. It never
// returns an error to the caller for action-level failures: those are
// recorded on act.Error/act.Status instead (spec.md §4.6).
func (e *Executor) Execute(ctx context.Context, act *Action) {
	act.StartedAt = time.Now().UTC()
	if act.Timestamp.IsZero() {
		act.Timestamp = act.StartedAt
	}

	if capability, privileged := privilegedCapability(act.Kind); privileged && e.gate != nil {
		if err := e.gate(ctx, capability); err != nil {
			act.Status = StatusFailed
			act.Error = err.Error()
			act.FinishedAt = time.Now().UTC()
			act.ExecutionMS = act.FinishedAt.Sub(act.StartedAt).Milliseconds()
			e.recordHistory(act)
			if e.auditor != nil {
				e.auditor(ctx, "action_denied", act.Description, map[string]interface{}{
					"kind": act.Kind, "id": act.ID, "capability": capability,
				})
			}
			return
		}
	}

	act.Status = StatusExecuting

	var result interface{}
	var err error

	switch act.Kind {
	case KindWebNavigate:
		result, err = e.webNavigate(ctx, act.Parameters)
	case KindWebClick:
		result, err = e.webClick(act.Parameters)
	case KindWebType:
		result, err = e.webType(act.Parameters)
	case KindWebExtract:
		result, err = e.webExtract(act.Parameters)
	case KindCLIExecute:
		result, err = e.cliExecute(ctx, act.Parameters)
	case KindFileRead:
		result, err = e.fileRead(act.Parameters)
	case KindFileWrite:
		result, err = e.fileWrite(act.Parameters)
	case KindFileDelete:
		result, err = e.fileDelete(act.Parameters)
	case KindScreenshot:
		result, err = e.screenshot(act.Parameters)
	case KindVisionAnalyze:
		result, err = e.visionAnalyze(ctx, act.Parameters)
	case KindMouseClick:
		result, err = e.mouseDispatch(ctx, act.ID, input.KindClick, act.Parameters)
	case KindMouseMove:
		result, err = e.mouseDispatch(ctx, act.ID, input.KindMoveTo, act.Parameters)
	case KindKeyboardType:
		result, err = e.mouseDispatch(ctx, act.ID, input.KindTypeText, act.Parameters)
	case KindWait:
		result, err = e.wait(ctx, act.Parameters)
	case KindVerify:
		result, err = e.verify(ctx, act.Parameters)
	default:
		err = fmt.Errorf("action: unknown kind %q", act.Kind)
	}

	act.FinishedAt = time.Now().UTC()
	act.ExecutionMS = act.FinishedAt.Sub(act.StartedAt).Milliseconds()

	if err != nil {
		act.Status = StatusFailed
		act.Error = err.Error()
	} else {
		act.Status = StatusCompleted
		act.Result = result
	}

	e.recordHistory(act)

	if e.metrics != nil {
		e.metrics.ActionDuration.WithLabelValues(string(act.Kind)).Observe(float64(act.ExecutionMS))
	}
	if e.auditor != nil {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		e.auditor(ctx, "action_executed", act.Description, map[string]interface{}{
			"kind":   act.Kind,
			"status": status,
			"id":     act.ID,
		})
	}
}

func (e *Executor) recordHistory(act *Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	summary := fmt.Sprintf("%s: %s", act.Kind, act.Status)
	if act.Error != "" {
		summary += " (" + act.Error + ")"
	}
	e.recentHistory = append(e.recentHistory, summary)
	if len(e.recentHistory) > e.historyLimit {
		e.recentHistory = e.recentHistory[len(e.recentHistory)-e.historyLimit:]
	}
}

// --- web_* : colly/goquery static-DOM interaction ---
//
// These actions operate on the last-fetched document rather than a
// live browser session — no pack example ships a JS-capable browser
// driver, so clicks/types are simulated against the static DOM colly
// already fetched (selector lookup, attribute/text extraction). This
// is a real limitation against true browser automation; it is
// documented in DESIGN.md rather than silently pretended away.

func (e *Executor) webNavigate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	url := stringParam(params, "url")
	if url == "" {
		return nil, fmt.Errorf("web_navigate: missing url")
	}
	waitMS := intParam(params, "wait_ms", 0)

	var body []byte
	if e.pages != nil {
		if cached, ok := e.pages.Get(ctx, "web_page", url); ok {
			body = cached
		}
	}

	var title string
	if body == nil {
		c := colly.NewCollector()
		c.OnHTML("html", func(el *colly.HTMLElement) {
			body = el.Response.Body
		})
		if err := c.Visit(url); err != nil {
			return nil, err
		}
		if e.pages != nil && body != nil {
			_ = e.pages.Set(ctx, "web_page", url, body, e.pageTTL)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.webDoc = doc
	e.webURL = url
	e.mu.Unlock()
	title = doc.Find("title").First().Text()
	if waitMS > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(waitMS) * time.Millisecond):
		}
	}
	return map[string]interface{}{"url": url, "title": title}, nil
}

func (e *Executor) currentDoc() (*goquery.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.webDoc == nil {
		return nil, fmt.Errorf("no page loaded: call web_navigate first")
	}
	return e.webDoc, nil
}

func (e *Executor) webClick(params map[string]interface{}) (interface{}, error) {
	selector := stringParam(params, "selector")
	doc, err := e.currentDoc()
	if err != nil {
		return nil, err
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("web_click: selector %q matched no elements", selector)
	}
	href, hasHref := sel.First().Attr("href")
	if hasHref && href != "" {
		return e.webNavigate(context.Background(), map[string]interface{}{"url": resolveHref(e.webURL, href)})
	}
	return map[string]interface{}{"acknowledged": true, "text": strings.TrimSpace(sel.First().Text())}, nil
}

func resolveHref(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return base
}

func (e *Executor) webType(params map[string]interface{}) (interface{}, error) {
	selector := stringParam(params, "selector")
	text := stringParam(params, "text")
	doc, err := e.currentDoc()
	if err != nil {
		return nil, err
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("web_type: selector %q matched no elements", selector)
	}
	sel.SetAttr("value", text)
	return map[string]interface{}{"acknowledged": true}, nil
}

func (e *Executor) webExtract(params map[string]interface{}) (interface{}, error) {
	selector := stringParam(params, "selector")
	doc, err := e.currentDoc()
	if err != nil {
		return nil, err
	}
	var html string
	if selector == "" {
		html, _ = doc.Html()
	} else {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			return nil, fmt.Errorf("web_extract: selector %q matched no elements", selector)
		}
		html, _ = sel.First().Html()
	}

	conv := converter.NewConverter(converter.WithPlugins(base.NewBasePlugin(), commonmark.NewCommonmarkPlugin()))
	markdown, err := conv.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("web_extract: markdown conversion failed: %w", err)
	}
	return map[string]interface{}{"markdown": markdown}, nil
}

// --- cli_execute ---

func (e *Executor) cliExecute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	command := stringParam(params, "command")
	if command == "" {
		return nil, fmt.Errorf("cli_execute: missing command")
	}
	timeoutSec := intParam(params, "timeout_sec", 60)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	returnCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		returnCode = exitErr.ExitCode()
	} else if runErr != nil && runCtx.Err() != nil {
		return nil, fmt.Errorf("cli_execute: timed out after %ds", timeoutSec)
	}
	// Exit status 127 is the shell reporting that the command was not
	// found: nothing ran, so the action fails instead of returning a
	// result.
	if returnCode == 127 {
		return nil, fmt.Errorf("cli_execute: command not found: %s", strings.TrimSpace(stderr.String()))
	}

	return map[string]interface{}{
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": returnCode,
	}, nil
}

// --- file_* ---

func (e *Executor) fileRead(params map[string]interface{}) (interface{}, error) {
	path := stringParam(params, "path")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"content": string(raw)}, nil
}

func (e *Executor) fileWrite(params map[string]interface{}) (interface{}, error) {
	path := stringParam(params, "path")
	content := stringParam(params, "content")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return map[string]interface{}{"bytes_written": len(content)}, nil
}

func (e *Executor) fileDelete(params map[string]interface{}) (interface{}, error) {
	path := stringParam(params, "path")
	if err := os.Remove(path); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": true}, nil
}

// --- screenshot / vision_analyze ---

func (e *Executor) screenshot(params map[string]interface{}) (interface{}, error) {
	if err := os.MkdirAll(e.screenDir, 0o755); err != nil {
		return nil, err
	}
	// No frame-grab library is present in the pack (no platform display
	// capture dependency); the path is reserved and an empty placeholder
	// file is written so downstream vision_analyze calls have a stable
	// artifact to reference.
	ts := time.Now().UTC()
	path := fmt.Sprintf("%s/%d.png", e.screenDir, ts.UnixNano())
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		return nil, err
	}
	return map[string]interface{}{"path": path, "timestamp": ts}, nil
}

func (e *Executor) visionAnalyze(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	path := stringParam(params, "region")
	if path == "" {
		path = stringParam(params, "screenshot_path")
	}
	detect := boolParam(params, "detect_elements")
	if e.vision == nil {
		return map[string]interface{}{"ocr_text": "", "ui_elements": []string{}, "screenshot_path": path}, nil
	}
	text, elements, err := e.vision.Analyze(ctx, path, detect)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"ocr_text": text, "ui_elements": elements, "screenshot_path": path}, nil
}

// --- mouse_click / mouse_move / keyboard_type : via Input Queue ---

func (e *Executor) mouseDispatch(ctx context.Context, id string, kind input.Kind, params map[string]interface{}) (interface{}, error) {
	if e.inputQ == nil {
		return nil, fmt.Errorf("action: no input queue configured")
	}
	task, err := e.inputQ.SubmitAndWait(ctx, id, kind, params)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": string(task.Status)}, nil
}

// --- wait ---

func (e *Executor) wait(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	seconds := intParam(params, "seconds", 0)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(seconds) * time.Second):
	}
	return map[string]interface{}{"waited_seconds": seconds}, nil
}

// --- verify ---

func (e *Executor) verify(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	condition := stringParam(params, "condition")
	if e.judge == nil {
		return nil, fmt.Errorf("action: no verify judge configured")
	}
	e.mu.Lock()
	history := append([]string(nil), e.recentHistory...)
	e.mu.Unlock()

	success, reason, err := e.judge(ctx, condition, history)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": success, "reason": reason}, nil
}
