package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"
)

// SentryCore forwards error log entries to Sentry.
type SentryCore struct {
	zapcore.LevelEnabler
	fields []zapcore.Field
}

// NewSentryCore creates a new core that forwards errors to Sentry.
func NewSentryCore(enab zapcore.LevelEnabler) *SentryCore {
	return &SentryCore{LevelEnabler: enab}
}

// InitSentry configures the global Sentry client. An empty DSN is a no-op.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return nil
}

// FlushSentry waits for buffered events to be delivered.
func FlushSentry() {
	if sentry.CurrentHub().Client() != nil {
		sentry.Flush(2 * time.Second)
	}
}

func (c *SentryCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *SentryCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *SentryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if ent.Level < zapcore.ErrorLevel || sentry.CurrentHub().Client() == nil {
		return nil
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		enc := zapcore.NewMapObjectEncoder()

		var errorValues []string

		for _, field := range append(append([]zapcore.Field{}, c.fields...), fields...) {
			if field.Type == zapcore.ErrorType {
				if err, ok := field.Interface.(error); ok {
					errorValues = append(errorValues, err.Error())
					continue
				}
			}
			field.AddTo(enc)
		}

		for key, value := range enc.Fields {
			scope.SetExtra(key, value)
		}

		level := sentry.LevelError
		if ent.Level > zapcore.ErrorLevel {
			level = sentry.LevelFatal
		}

		scope.SetLevel(level)
		scope.SetTag("subsystem", errorCategory(ent.Caller.Function))

		value := ent.Message
		if len(errorValues) > 0 {
			value = fmt.Sprintf("%s: %s", ent.Message, strings.Join(errorValues, "; "))
		}

		module, function := splitFunction(ent.Caller.Function)

		event := sentry.NewEvent()
		event.Level = level
		event.Message = ent.Message
		event.Exception = []sentry.Exception{{
			Value:      value,
			Type:       function,
			Module:     module,
			Stacktrace: sentry.NewStacktrace(),
		}}

		sentry.CaptureEvent(event)
	})

	return nil
}

func (c *SentryCore) Sync() error {
	return nil
}

// splitFunction splits a fully qualified function name into package path and name.
func splitFunction(qualified string) (string, string) {
	if qualified == "" {
		return "", ""
	}

	var module string
	if slash := strings.LastIndexByte(qualified, '/'); slash > -1 {
		module = qualified[:slash]
	}

	if dot := strings.LastIndexByte(qualified, '.'); dot > -1 {
		return module, qualified[dot+1:]
	}

	return module, qualified
}
