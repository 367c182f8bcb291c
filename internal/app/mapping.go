package app

import (
	"fmt"
	"strings"
	"time"

	"friendwatch/internal/config"
	"friendwatch/internal/dispatch"
	"friendwatch/internal/notifier"
	"friendwatch/internal/ops"
	"friendwatch/internal/presence"
	"friendwatch/internal/storage"
	kit "friendwatch/internal/transport"
	logx "friendwatch/pkg/logx"
)

func mapLoggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    c.Telegram.Enabled,
			ChatID:     c.Telegram.ChatID,
			ThreadID:   c.Telegram.ThreadID,
			MinLevel:   c.Telegram.MinLevel,
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDuration("storage.busy_timeout", c.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		DSN:         c.DSN,
		Prefix:      c.Prefix,
		BusyTimeout: busy,
	}, nil
}

// notifyTargets are the chats notifications go to. Without explicit chat
// ids the owners' private chats are used.
func notifyTargets(t config.TelegramConfig) []kit.ChatTarget {
	ids := t.NotifyChatIDs
	thread := t.NotifyThreadID
	if len(ids) == 0 {
		ids = t.OwnerUserIDs
		thread = 0
	}
	out := make([]kit.ChatTarget, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		out = append(out, kit.ChatTarget{ChatID: id, ThreadID: thread})
	}
	return out
}

// mapNotifierConfig fills defaults for omitted notifier fields.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 2000,
	}
	if cfg == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = config.BoolOr(n.Enabled, true)
	out.Targets = notifyTargets(cfg.Telegram)
	out.PersistDedup = n.PersistDedup
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = config.ParseDuration("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDuration("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDuration("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}

	switch {
	case out.Workers < 0:
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	case out.QueueSize < 0:
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	case out.RatePerSec < 0:
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	case out.RetryMax < 0:
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	return out, nil
}

func mapToggles(c config.NotificationsConfig) dispatch.Toggles {
	return dispatch.Toggles{
		Notifications: config.BoolOr(c.Notifications, true),
		Online:        config.BoolOr(c.Online, true),
		Offline:       config.BoolOr(c.Offline, true),
		StatusText:    config.BoolOr(c.StatusText, true),
		Action:        dispatch.ParseAction(c.Action),
	}
}

func mapOpsConfig(c config.OpsConfig) ops.Config {
	return ops.Config{
		Enabled:              c.Enabled,
		Address:              strings.TrimSpace(c.Address),
		BlockProfileRate:     c.BlockProfileRate,
		MutexProfileFraction: c.MutexProfileFraction,
	}
}

func contactIDs(ids []string) []presence.ContactID {
	out := make([]presence.ContactID, 0, len(ids))
	seen := make(map[presence.ContactID]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
