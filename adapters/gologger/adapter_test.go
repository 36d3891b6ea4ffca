package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolvePrecedence(t *testing.T) {
	direct := newRecordingLogger("direct")
	fromProvider := newRecordingLogger("from-provider")
	provider := recordingProvider{logger: fromProvider}

	cases := []struct {
		name     string
		provider glog.LoggerProvider
		logger   glog.Logger
		wantName string
	}{
		{name: "provider wins over logger", provider: provider, logger: direct, wantName: "from-provider"},
		{name: "logger used without provider", logger: direct, wantName: "direct"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolvedProvider, resolved := Resolve("protect", tc.provider, tc.logger)
			if resolvedProvider == nil {
				t.Fatalf("expected a non-nil resolved provider")
			}
			logger, ok := resolved.(*recordingLogger)
			if !ok {
				t.Fatalf("expected the recording logger back, got %T", resolved)
			}
			if logger.name != tc.wantName {
				t.Fatalf("resolved %q, want %q", logger.name, tc.wantName)
			}
		})
	}

	if _, resolved := Resolve("protect", nil, nil); resolved == nil {
		t.Fatalf("expected nop fallback when nothing is wired")
	}
}

func TestToJobBridgesNilSafety(t *testing.T) {
	if ToJobProvider(nil) != nil {
		t.Fatalf("nil provider must map to nil, not a wrapper around nothing")
	}
	if ToJobLogger(nil) != nil {
		t.Fatalf("nil logger must map to nil")
	}
}

func TestResolveForJobBridgesCalls(t *testing.T) {
	fromProvider := newRecordingLogger("from-provider")
	provider := recordingProvider{logger: fromProvider}

	_, _, jobProvider, jobLogger := ResolveForJob("protect", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected both go-job bridges, got provider=%v logger=%v", jobProvider, jobLogger)
	}

	jobProvider.GetLogger("protect").Info("outbox run", "claimed", 3)

	call := fromProvider.calls[len(fromProvider.calls)-1]
	if call.msg != "outbox run" {
		t.Fatalf("bridged message %q, want %q", call.msg, "outbox run")
	}
	if len(call.args) != 2 || call.args[0] != "claimed" || call.args[1] != 3 {
		t.Fatalf("bridged args %#v, want [claimed 3]", call.args)
	}
}

type recordedCall struct {
	msg  string
	args []any
}

type recordingLogger struct {
	name  string
	calls []recordedCall
}

func newRecordingLogger(name string) *recordingLogger {
	return &recordingLogger{name: name}
}

func (l *recordingLogger) record(msg string, args []any) {
	l.calls = append(l.calls, recordedCall{msg: msg, args: append([]any(nil), args...)})
}

func (l *recordingLogger) Trace(msg string, args ...any) { l.record(msg, args) }
func (l *recordingLogger) Debug(msg string, args ...any) { l.record(msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record(msg, args) }
func (l *recordingLogger) Fatal(msg string, args ...any) { l.record(msg, args) }

func (l *recordingLogger) WithContext(context.Context) glog.Logger { return l }

type recordingProvider struct {
	logger *recordingLogger
}

func (p recordingProvider) GetLogger(string) glog.Logger {
	if p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

var (
	_ glog.Logger         = (*recordingLogger)(nil)
	_ glog.LoggerProvider = recordingProvider{}
)
