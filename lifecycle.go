package access

import (
	"context"
	"time"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor ActorRef
	Role  *RoleAssignment
	From  RoleStatus
	To    RoleStatus
	Meta  TransitionMetadata
}

// TransitionHook is executed before or after a transition persists.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// RoleLifecycle defines the invited → active → deactivated graph for role
// assignments. Soft delete is not a transition: removed roles simply stop
// resolving, from any state, with no grace period.
type RoleLifecycle interface {
	Transition(ctx context.Context, actor ActorRef, role *RoleAssignment, target RoleStatus, opts ...TransitionOption) (*RoleAssignment, error)
	CurrentStatus(role *RoleAssignment) RoleStatus
}

// LifecycleOption customizes lifecycle construction.
type LifecycleOption func(*roleLifecycle)

// WithLifecycleClock injects a custom clock (useful for tests).
func WithLifecycleClock(clock func() time.Time) LifecycleOption {
	return func(lc *roleLifecycle) {
		if clock != nil {
			lc.now = clock
		}
	}
}

// WithLifecycleActivitySink sets the sink used to publish lifecycle events.
func WithLifecycleActivitySink(sink ActivitySink) LifecycleOption {
	return func(lc *roleLifecycle) {
		lc.activitySink = normalizeActivitySink(sink)
	}
}

// WithLifecycleLogger overrides the logger used for sink failures.
func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(lc *roleLifecycle) {
		if logger != nil {
			lc.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses graph validation (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewRoleLifecycle returns the default implementation backed by the
// provided repository.
func NewRoleLifecycle(roles Roles, opts ...LifecycleOption) RoleLifecycle {
	lc := &roleLifecycle{
		roles: roles,
		transitions: map[RoleStatus]map[RoleStatus]struct{}{
			RoleStatusInvited: {
				RoleStatusActive:      {},
				RoleStatusDeactivated: {},
			},
			RoleStatusActive: {
				RoleStatusDeactivated: {},
			},
			RoleStatusDeactivated: {
				RoleStatusActive: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(lc)
		}
	}

	return lc
}

type roleLifecycle struct {
	roles        Roles
	transitions  map[RoleStatus]map[RoleStatus]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	metadata    TransitionMetadata
	force       bool
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (lc *roleLifecycle) Transition(ctx context.Context, actor ActorRef, role *RoleAssignment, target RoleStatus, opts ...TransitionOption) (*RoleAssignment, error) {
	if role == nil {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"target": target,
			"reason": "role is nil",
		})
	}

	role.EnsureStatus()
	from := role.Status
	if target == "" {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"reason": "target status is empty",
		})
	}

	if from == target {
		return role, nil
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if !options.force && !lc.canTransition(from, target) {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	tc := TransitionContext{
		Actor: actor,
		Role:  role,
		From:  from,
		To:    target,
		Meta:  options.cloneMetadata(),
	}

	if err := lc.runHooks(ctx, options.beforeHooks, tc); err != nil {
		return nil, err
	}

	updated, err := lc.roles.UpdateStatus(ctx, role.ID, target)
	if err != nil {
		return nil, err
	}

	role.Status = updated.Status
	role.UpdatedAt = updated.UpdatedAt

	if err := lc.runHooks(ctx, options.afterHooks, tc); err != nil {
		return nil, err
	}

	lc.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventRoleStatusChanged,
		Actor:      actor,
		UserID:     role.UserID.String(),
		RoleID:     role.ID.String(),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   lc.transitionMetadata(tc.Meta),
		OccurredAt: lc.now(),
	})

	return role, nil
}

func (lc *roleLifecycle) CurrentStatus(role *RoleAssignment) RoleStatus {
	if role == nil {
		return ""
	}
	role.EnsureStatus()
	return role.Status
}

func (lc *roleLifecycle) canTransition(from, to RoleStatus) bool {
	targets, ok := lc.transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

func (lc *roleLifecycle) runHooks(ctx context.Context, hooks []TransitionHook, tc TransitionContext) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

func (lc *roleLifecycle) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta.Metadata)+1)
	for k, v := range meta.Metadata {
		out[k] = v
	}
	if meta.Reason != "" {
		out["reason"] = meta.Reason
	}
	return out
}

func (lc *roleLifecycle) recordActivity(ctx context.Context, event ActivityEvent) {
	if err := lc.activitySink.Record(ctx, event); err != nil {
		lc.logger.Warn("role lifecycle activity sink error", "error", err)
	}
}
