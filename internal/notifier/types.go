package notifier

import (
	"time"

	kit "friendwatch/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Targets         []kit.ChatTarget
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	Intent string    `json:"intent"`
	Text   string    `json:"text"`
}

// NotificationEvent is published on the event bus for pipeline lifecycle events.
type NotificationEvent struct {
	Intent   string    `json:"intent"`
	Contact  string    `json:"contact"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// CallbackNamespace marks button data that carries an intent id.
const (
	CallbackNamespace = "fw"
	CallbackPrefix    = CallbackNamespace + ":"
)
