package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks values the strict decoder cannot.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	durations := map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"notifier.retry_base":      cfg.Notifier.RetryBase,
		"notifier.retry_max_delay": cfg.Notifier.RetryMaxDelay,
		"notifier.dedup_window":    cfg.Notifier.DedupWindow,
		"presence.poll_interval":   cfg.Presence.PollInterval,
	}
	for path, raw := range durations {
		if _, err := ParseDuration(path, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory", "mem":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver))
		}
	case "redis", "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn (or %s) is required for driver %q", EnvStorageDSN, cfg.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	switch cfg.Notifications.Action {
	case "", "open-dm", "open-profile", "dismiss":
	default:
		errs = append(errs, fmt.Errorf("notifications.notification_action: unknown action %q", cfg.Notifications.Action))
	}

	for i, id := range cfg.Tracking.Contacts {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("tracking.contacts[%d] is empty", i))
		}
	}
	if cfg.Telegram.Token != "" && len(cfg.Telegram.OwnerUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids is required when telegram is enabled"))
	}
	return errors.Join(errs...)
}
