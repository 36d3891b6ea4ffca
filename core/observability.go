package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// observeOperation records one counter increment, one duration sample, and
// one structured log line per gatekeeper operation.
func (g *GateKeeper) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if g == nil {
		return
	}
	operation = strings.ToLower(strings.TrimSpace(operation))
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	elapsed := time.Since(startedAt)

	logFields := cloneFields(fields)
	logFields["event_type"] = operation
	logFields["status"] = outcome
	logFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		logFields["error"] = err.Error()
	}

	if g.metricsRecorder != nil {
		tags := map[string]string{"operation": operation, "status": outcome}
		for _, key := range []string{"identity", "caller", "selector_count"} {
			raw, ok := logFields[key]
			if !ok {
				continue
			}
			if value := strings.TrimSpace(fmt.Sprint(raw)); value != "" && value != "<nil>" {
				tags[key] = value
			}
		}
		g.metricsRecorder.IncCounter(ctx, "protect."+operation+".total", 1, cloneTags(tags))
		g.metricsRecorder.ObserveHistogram(ctx, "protect."+operation+".duration_ms", float64(elapsed.Milliseconds()), cloneTags(tags))
	}

	if err != nil {
		g.logError(ctx, operation+" failed", logFields)
		return
	}
	g.logInfo(ctx, operation+" succeeded", logFields)
}

func (g *GateKeeper) logInfo(ctx context.Context, message string, fields map[string]any) {
	if logger := g.scopedLogger(ctx, fields); logger != nil {
		logger.Info(message, fieldArgs(fields)...)
	}
}

func (g *GateKeeper) logError(ctx context.Context, message string, fields map[string]any) {
	if logger := g.scopedLogger(ctx, fields); logger != nil {
		logger.Error(message, fieldArgs(fields)...)
	}
}

// scopedLogger attaches the request context and, when the logger supports
// structured fields, the field map itself.
func (g *GateKeeper) scopedLogger(ctx context.Context, fields map[string]any) Logger {
	if g == nil || g.logger == nil {
		return nil
	}
	logger := g.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if structured, ok := logger.(FieldsLogger); ok {
		logger = structured.WithFields(cloneFields(fields))
	}
	return logger
}

// fieldArgs renders fields as alternating key/value args in stable order,
// for loggers that only take variadic args.
func fieldArgs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}
