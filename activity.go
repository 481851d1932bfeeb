package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess       ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure       ActivityEventType = "auth.login.failure"
	ActivityEventLoginNotGranted    ActivityEventType = "auth.login.not_granted"
	ActivityEventTokenRefreshed     ActivityEventType = "auth.token.refreshed"
	ActivityEventLogout             ActivityEventType = "auth.logout"
	ActivityEventHandshake          ActivityEventType = "auth.handshake"
	ActivityEventDeviceRegistered   ActivityEventType = "auth.device.registered"
	ActivityEventPasswordReset      ActivityEventType = "auth.password.reset"
	ActivityEventPasswordChanged    ActivityEventType = "auth.password.changed"
	ActivityEventPasswordResetToken ActivityEventType = "auth.password.reset_requested"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	EntityID   string
	Device     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// emitActivity records event best effort, sink failures are only logged.
func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		if event.Metadata == nil {
			event.Metadata = map[string]any{}
		}
		event.Metadata["request_id"] = id
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink failed for %s: %v", event.EventType, err)
	}
}
