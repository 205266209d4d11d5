package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security-relevant event mirrored to slog.
// The persistent hash-chained ledger is the system of record; this
// logger provides the immediate operational trail.
type AuditEvent struct {
	Action        string
	ActorID       string
	ResourceType  string
	ResourceID    string
	Success       bool
	FailureReason string
	IPAddress     string
}

// AuditLogger provides the slog half of the audit dual-write
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogEvent logs a privileged action outcome
func (al *AuditLogger) LogEvent(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "action"),
		slog.String("action", event.Action),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", event.ActorID))
	}
	if event.ResourceType != "" {
		attrs = append(attrs, slog.String("resource_type", event.ResourceType))
	}
	if event.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", event.ResourceID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	if event.Success {
		al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
	}
}

// LogEnumerationSensitive records the true outcome of a flow whose
// client-visible response must not reveal account existence.
func (al *AuditLogger) LogEnumerationSensitive(ctx context.Context, operation, destination string, accountFound bool) {
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("audit_type", "enumeration_sensitive"),
		slog.String("operation", operation),
		slog.String("destination", SanitizedEmail(destination)),
		slog.Bool("account_found", accountFound),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}
