package config

// Config is the whole friendwatch configuration. Durations are Go duration
// strings ("500ms", "10s", "1m").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Notifier      NotifierConfig      `json:"notifier"`
	Notifications NotificationsConfig `json:"notifications"`
	Presence      PresenceConfig      `json:"presence"`
	Tracking      TrackingConfig      `json:"tracking"`
	Ops           OpsConfig           `json:"ops"`
}

// TelegramConfig configures the chat transport. An empty token disables it;
// notifications then go to the log only.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// NotifyChatIDs receive notifications. Defaults to the owners' private chats.
	NotifyChatIDs  []int64 `json:"notify_chat_ids,omitempty"`
	NotifyThreadID int     `json:"notify_thread_id,omitempty"`
	PollTimeout    string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the key/value backend for tracking state.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./friendwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // redis URL or postgres DSN (do not log)
	Prefix      string `json:"prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// NotifierConfig controls the async notification pipeline. Enabled is a
// pointer so an omitted value defaults to true.
type NotifierConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// NotificationsConfig holds the user's toggles. Absent toggles are enabled.
type NotificationsConfig struct {
	Notifications *bool  `json:"notifications,omitempty"`
	Online        *bool  `json:"online_notifications,omitempty"`
	Offline       *bool  `json:"offline_notifications,omitempty"`
	StatusText    *bool  `json:"status_text_notifications,omitempty"`
	Action        string `json:"notification_action,omitempty"` // open-dm | open-profile | dismiss
}

// PresenceConfig says where presence data comes from.
type PresenceConfig struct {
	UserID         string `json:"user_id,omitempty"`
	SnapshotPath   string `json:"snapshot_path,omitempty"`
	SpoolPath      string `json:"spool_path,omitempty"`
	SpoolFromStart bool   `json:"spool_from_start,omitempty"`
	PollInterval   string `json:"poll_interval,omitempty"`
	FeedBuffer     int    `json:"feed_buffer,omitempty"`
}

type TrackingConfig struct {
	Contacts   []string `json:"contacts,omitempty"`
	KeyPrefix  string   `json:"key_prefix,omitempty"`
	Checkpoint string   `json:"checkpoint,omitempty"` // cron spec, "off" disables
}

// OpsConfig controls the operator HTTP server. Prefer a loopback address.
type OpsConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address,omitempty"` // default: "127.0.0.1:6060"
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

// BoolOr dereferences p, or returns def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
