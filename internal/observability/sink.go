package observability

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity classifies audit events recorded by the dispatch pipeline.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// EventSink records operational events emitted by the dispatch pipeline,
// such as delivery outcomes and endpoint deactivations. Implementations are
// fire-and-forget: RecordEvent never returns an error and must not block the
// caller beyond what logging costs.
type EventSink interface {
	RecordEvent(ctx context.Context, eventType string, severity Severity, metadata map[string]string)
}

// AuditSink writes audit events to the structured log.
type AuditSink struct {
	logger *zap.Logger
}

func NewAuditSink(logger *zap.Logger) *AuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditSink{logger: logger}
}

func (s *AuditSink) RecordEvent(ctx context.Context, eventType string, severity Severity, metadata map[string]string) {
	if s == nil || s.logger == nil {
		return
	}

	fields := make([]zap.Field, 0, len(metadata)+2)
	fields = append(fields, zap.String("auditEvent", eventType))

	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fields = append(fields, zap.String(key, metadata[key]))
	}

	logger := WithContextLogger(s.logger, ctx)
	logger.Log(severityLevel(severity), "audit event", fields...)
}

func severityLevel(severity Severity) zapcore.Level {
	switch severity {
	case SeverityWarning:
		return zapcore.WarnLevel
	case SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NopSink discards all events. Useful default for constructors and tests.
type NopSink struct{}

func (NopSink) RecordEvent(context.Context, string, Severity, map[string]string) {}
