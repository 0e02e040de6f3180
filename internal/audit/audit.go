// Package audit publishes authorization outcomes to an audit sink.
// Publishing is strictly best-effort: a sink failure is logged and
// swallowed, and must never change the authorization outcome.
package audit

import (
	"context"
	"strings"
	"time"

	"docvault.org/internal/obs"
)

// Event is one authorization outcome. Attributes is the bag the
// decision was made against; it is recorded for investigation, not
// persisted as service state.
type Event struct {
	Decision   string         `json:"decision"`
	PolicyID   *int64         `json:"policy_id"`
	Action     string         `json:"action,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink accepts events fire-and-forget.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for
// audit correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogSink writes events as structured JSON log lines through the
// shared service logger.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	fields := map[string]any{
		"type":        "audit",
		"decision":    event.Decision,
		"action":      event.Action,
		"attributes":  event.Attributes,
		"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
	}
	if event.PolicyID != nil {
		fields["policy_id"] = *event.PolicyID
	} else {
		fields["policy_id"] = nil
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	obs.Logger().WithFields(fields).Info("authz decision")
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, event Event) {
	for _, sink := range m {
		sink.Publish(ctx, event)
	}
}
