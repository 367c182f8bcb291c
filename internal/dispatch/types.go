package dispatch

import (
	"context"
	"time"

	"friendwatch/internal/presence"
)

// Action is what clicking a notification does.
type Action string

const (
	ActionOpenDM      Action = "open-dm"
	ActionOpenProfile Action = "open-profile"
	ActionDismiss     Action = "dismiss"
)

// ParseAction maps a configured action name. Empty or unknown names fall
// back to open-dm.
func ParseAction(s string) Action {
	switch Action(s) {
	case ActionOpenProfile:
		return ActionOpenProfile
	case ActionDismiss:
		return ActionDismiss
	default:
		return ActionOpenDM
	}
}

// Toggles are the user's notification switches.
type Toggles struct {
	Notifications bool
	Online        bool
	Offline       bool
	StatusText    bool
	Action        Action
}

func DefaultToggles() Toggles {
	return Toggles{Notifications: true, Online: true, Offline: true, StatusText: true, Action: ActionOpenDM}
}

// Allows reports whether events of kind k may be shown.
func (t Toggles) Allows(k presence.EventKind) bool {
	if !t.Notifications {
		return false
	}
	switch k.Category() {
	case presence.CategoryOnline:
		return t.Online
	case presence.CategoryOffline:
		return t.Offline
	case presence.CategoryStatusText:
		return t.StatusText
	default:
		return false
	}
}

// Contact is the directory view of one contact.
type Contact struct {
	ID          presence.ContactID `json:"id"`
	Username    string             `json:"username"`
	Nickname    string             `json:"nickname,omitempty"`
	AvatarURL   string             `json:"avatar_url,omitempty"`
	DMLink      string             `json:"dm_link,omitempty"`
	ProfileLink string             `json:"profile_link,omitempty"`
}

// DisplayName is the nickname if set, else the username.
func (c Contact) DisplayName() string {
	if c.Nickname != "" {
		return c.Nickname
	}
	return c.Username
}

// Directory resolves contact ids to display data.
type Directory interface {
	Lookup(id presence.ContactID) (Contact, bool)
}

// NotificationIntent is a notification ready to be shown.
type NotificationIntent struct {
	ID          string             `json:"id"`
	ContactID   presence.ContactID `json:"contact_id"`
	Kind        presence.EventKind `json:"kind"`
	Title       string             `json:"title"`
	Body        string             `json:"body"`
	Icon        string             `json:"icon,omitempty"`
	Action      Action             `json:"action"`
	DMLink      string             `json:"dm_link,omitempty"`
	ProfileLink string             `json:"profile_link,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Sink shows intents to the user.
type Sink interface {
	Show(ctx context.Context, in NotificationIntent) error
}

type SinkFunc func(ctx context.Context, in NotificationIntent) error

func (f SinkFunc) Show(ctx context.Context, in NotificationIntent) error { return f(ctx, in) }

// Navigator carries out click actions.
type Navigator interface {
	OpenDM(ctx context.Context, in NotificationIntent) error
	OpenProfile(ctx context.Context, in NotificationIntent) error
	Focus(ctx context.Context) error
}
