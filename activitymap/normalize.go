// Package activitymap converts access activity events into the flat
// actor/verb/object records that downstream audit and notification
// transports expect.
package activitymap

import (
	"strings"
	"time"

	access "github.com/potionhq/potion-access"
)

const (
	// MetadataKeyActorType stores the actor type derived from access.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyUserID stores the subject user id when the object is a role assignment.
	MetadataKeyUserID = "user_id"
	// MetadataKeyFromStatus stores the source role status for lifecycle transitions.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the target role status for lifecycle transitions.
	MetadataKeyToStatus = "to_status"
)

const (
	defaultChannel = "access"
	defaultActorID = "system"
	objectTypeUser = "user"
	objectTypeRole = "role_assignment"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel        string
	actorFallback  string
	objectResolver func(access.ActivityEvent) (string, string)
}

// Normalize converts an access.ActivityEvent into a generic normalized shape.
// Lifecycle and invitation events attach to the role assignment; login and
// password events attach to the user.
func Normalize(event access.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType, objectID := resolveObject(event, options.objectResolver)
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event, objectType),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectResolver overrides object type/id extraction from ActivityEvent.
func WithObjectResolver(resolver func(access.ActivityEvent) (objectType, objectID string)) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback when actor/user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
	}
}

func resolveObject(event access.ActivityEvent, resolver func(access.ActivityEvent) (string, string)) (string, string) {
	if resolver != nil {
		objectType, objectID := resolver(event)
		return strings.TrimSpace(objectType), strings.TrimSpace(objectID)
	}
	if roleID := strings.TrimSpace(event.RoleID); roleID != "" {
		return objectTypeRole, roleID
	}
	return objectTypeUser, strings.TrimSpace(event.UserID)
}

func normalizeMetadata(event access.ActivityEvent, objectType string) map[string]any {
	metadata := cloneMap(event.Metadata)

	set := func(key string, value string) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		set(MetadataKeyActorType, actorType)
	}
	if objectType == objectTypeRole && strings.TrimSpace(event.UserID) != "" {
		set(MetadataKeyUserID, strings.TrimSpace(event.UserID))
	}
	if event.FromStatus != "" {
		set(MetadataKeyFromStatus, string(event.FromStatus))
	}
	if event.ToStatus != "" {
		set(MetadataKeyToStatus, string(event.ToStatus))
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
