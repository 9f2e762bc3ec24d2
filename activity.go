package access

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported audit categories.
type ActivityEventType string

const (
	ActivityEventRoleStatusChanged ActivityEventType = "role.status.changed"
	ActivityEventRoleInvited       ActivityEventType = "role.invited"
	ActivityEventRoleRemoved       ActivityEventType = "role.removed"
	ActivityEventLoginSuccess      ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure      ActivityEventType = "auth.login.failure"
	ActivityEventRoleSwitch        ActivityEventType = "auth.role.switch"
	ActivityEventPasswordSetup     ActivityEventType = "auth.password.setup"
)

// ActorRef identifies who/what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	RoleID     string
	FromStatus RoleStatus
	ToStatus   RoleStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort: errors are logged, never propagated into the
// triggering operation.
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
