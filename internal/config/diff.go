package config

import (
	"reflect"
	"sort"
	"strings"

	logx "friendwatch/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe log
// fields describing them. Tokens and DSNs are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if (ot.Token != "") != (nt.Token != "") ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		!reflect.DeepEqual(ot.NotifyChatIDs, nt.NotifyChatIDs) ||
		ot.NotifyThreadID != nt.NotifyThreadID {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", nt.Token != ""),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int("telegram.notify_chat_count", len(nt.NotifyChatIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	if !strings.EqualFold(strings.TrimSpace(ost.Driver), strings.TrimSpace(nst.Driver)) ||
		strings.TrimSpace(ost.Path) != strings.TrimSpace(nst.Path) ||
		ost.DSN != nst.DSN || ost.Prefix != nst.Prefix ||
		strings.TrimSpace(ost.BusyTimeout) != strings.TrimSpace(nst.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
			logx.Bool("storage.dsn_set", nst.DSN != ""),
		)
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	if BoolOr(on.Enabled, true) != BoolOr(nn.Enabled, true) || !reflect.DeepEqual(stripEnabled(on), stripEnabled(nn)) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", BoolOr(nn.Enabled, true)),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.queue_size", nn.QueueSize),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Bool("notifier.persist_dedup", nn.PersistDedup),
		)
	}

	ox, nx := oldCfg.Notifications, newCfg.Notifications
	if BoolOr(ox.Notifications, true) != BoolOr(nx.Notifications, true) ||
		BoolOr(ox.Online, true) != BoolOr(nx.Online, true) ||
		BoolOr(ox.Offline, true) != BoolOr(nx.Offline, true) ||
		BoolOr(ox.StatusText, true) != BoolOr(nx.StatusText, true) ||
		ox.Action != nx.Action {
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.Bool("notifications.enabled", BoolOr(nx.Notifications, true)),
			logx.Bool("notifications.online", BoolOr(nx.Online, true)),
			logx.Bool("notifications.offline", BoolOr(nx.Offline, true)),
			logx.Bool("notifications.status_text", BoolOr(nx.StatusText, true)),
			logx.String("notifications.action", nx.Action),
		)
	}

	if oldCfg.Presence != newCfg.Presence {
		changed = append(changed, "presence")
		attrs = append(attrs,
			logx.Bool("presence.snapshot_set", newCfg.Presence.SnapshotPath != ""),
			logx.Bool("presence.spool_set", newCfg.Presence.SpoolPath != ""),
		)
	}

	added, removed := DiffIDs(oldCfg.Tracking.Contacts, newCfg.Tracking.Contacts)
	if len(added) > 0 || len(removed) > 0 ||
		oldCfg.Tracking.KeyPrefix != newCfg.Tracking.KeyPrefix ||
		oldCfg.Tracking.Checkpoint != newCfg.Tracking.Checkpoint {
		changed = append(changed, "tracking")
		attrs = append(attrs,
			logx.Int("tracking.added", len(added)),
			logx.Int("tracking.removed", len(removed)),
			logx.String("tracking.checkpoint", newCfg.Tracking.Checkpoint),
		)
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.address", strings.TrimSpace(newCfg.Ops.Address)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func stripEnabled(n NotifierConfig) NotifierConfig {
	n.Enabled = nil
	return n
}

// DiffIDs compares two id lists as sets.
func DiffIDs(oldIDs, newIDs []string) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[strings.TrimSpace(id)] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newIDs))
	for _, id := range newIDs {
		id = strings.TrimSpace(id)
		newSet[id] = struct{}{}
		if _, ok := oldSet[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range oldSet {
		if _, ok := newSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
