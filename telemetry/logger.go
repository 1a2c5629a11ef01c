// Package telemetry supplies the ambient logging, tracing, and
// metrics stack used by every Aurora Pro component, adapted from
// github.com/itsneelabh/gomind's telemetry package: text logs for
// local development, JSON lines under Kubernetes, OpenTelemetry
// tracing, and Prometheus counters/gauges for the Heartbeat
// Supervisor and Control Plane.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/usephedm/aurora-pro-ai/core"
)

// StructuredLogger implements core.ComponentLogger.
type StructuredLogger struct {
	mu        sync.Mutex
	component string
	level     string
	format    string // "text" or "json"
	output    io.Writer
	limiter   *rateLimiter
}

var levelRank = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

// NewStructuredLogger builds a logger. format is "json" or "text";
// level is one of debug/info/warn/error.
func NewStructuredLogger(format, level string) *StructuredLogger {
	if format == "" {
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		} else {
			format = "text"
		}
	}
	if level == "" {
		level = "info"
	}
	return &StructuredLogger{
		level:   strings.ToUpper(level),
		format:  format,
		output:  os.Stdout,
		limiter: newRateLimiter(time.Second),
	}
}

// WithComponent returns a logger tagged with component, sharing the
// same output/format/rate-limiter state.
func (l *StructuredLogger) WithComponent(component string) core.Logger {
	return &StructuredLogger{
		component: component,
		level:     l.level,
		format:    l.format,
		output:    l.output,
		limiter:   l.limiter,
	}
}

func (l *StructuredLogger) Info(msg string, fields map[string]interface{})  { l.log("INFO", msg, fields) }
func (l *StructuredLogger) Warn(msg string, fields map[string]interface{})  { l.log("WARN", msg, fields) }
func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) { l.log("DEBUG", msg, fields) }
func (l *StructuredLogger) Error(msg string, fields map[string]interface{}) {
	if !l.limiter.allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *StructuredLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, withOperator(ctx, fields))
}
func (l *StructuredLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, withOperator(ctx, fields))
}
func (l *StructuredLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withOperator(ctx, fields))
}
func (l *StructuredLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, withOperator(ctx, fields))
}

func withOperator(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["operator"] = core.OperatorIDFromContext(ctx)
	return out
}

func (l *StructuredLogger) log(level, msg string, fields map[string]interface{}) {
	if levelRank[level] < levelRank[l.level] {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if l.format == "json" {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"message":   msg,
		}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		enc, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.output, "%s [%s] log marshal error: %v\n", ts, level, err)
			return
		}
		fmt.Fprintln(l.output, string(enc))
		return
	}

	comp := ""
	if l.component != "" {
		comp = " " + l.component
	}
	fmt.Fprintf(l.output, "%s [%s]%s %s %v\n", ts, level, comp, msg, fields)
}

// rateLimiter is a tiny token bucket so a failing subsystem cannot
// flood stdout with error logs.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}
