package presence

import (
	"context"
	"time"
)

// EventKind is the notification-worthy change an Event reports.
type EventKind int

const (
	EventCameOnline EventKind = iota + 1
	EventWentOffline
	EventStatusSet
	EventStatusChanged
	EventStatusCleared
)

// Category groups event kinds under the notification toggles.
type Category int

const (
	CategoryOnline Category = iota + 1
	CategoryOffline
	CategoryStatusText
)

// Verb is the phrase that follows the contact's name in a notification title.
func (k EventKind) Verb() string {
	switch k {
	case EventCameOnline:
		return "came online"
	case EventWentOffline:
		return "went offline"
	case EventStatusSet, EventStatusChanged:
		return "set status"
	case EventStatusCleared:
		return "deleted status"
	default:
		return "changed"
	}
}

func (k EventKind) String() string {
	switch k {
	case EventCameOnline:
		return "came_online"
	case EventWentOffline:
		return "went_offline"
	case EventStatusSet:
		return "status_set"
	case EventStatusChanged:
		return "status_changed"
	case EventStatusCleared:
		return "status_cleared"
	default:
		return "unknown"
	}
}

func (k EventKind) Category() Category {
	switch k {
	case EventCameOnline:
		return CategoryOnline
	case EventWentOffline:
		return CategoryOffline
	default:
		return CategoryStatusText
	}
}

// Event is one notification-worthy change for a tracked contact.
type Event struct {
	Kind           EventKind `json:"kind"`
	ContactID      ContactID `json:"contact_id"`
	Username       string    `json:"username,omitempty"`
	Status         Status    `json:"status"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	Body           string    `json:"body"`
	At             time.Time `json:"at"`
}

// Notifier receives events. It decides whether to show them.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// UsernameResolver fills in usernames missing from presence updates.
type UsernameResolver interface {
	Username(id ContactID) string
}

// PresenceUpdate is one contact's entry in a batch from the host.
type PresenceUpdate struct {
	ID         ContactID  `json:"id"`
	Username   string     `json:"username,omitempty"`
	Status     Status     `json:"status"`
	Activities []Activity `json:"activities,omitempty"`
}

// Batch is one delivery of presence updates.
type Batch struct {
	Updates []PresenceUpdate `json:"updates"`
}
