package app

import (
	"context"
	"strings"

	"friendwatch/internal/config"
	"friendwatch/internal/presence"
	logx "friendwatch/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes the live-reloadable parts of next into the running
// components. Storage, presence sources and the telegram token only change
// on restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(next.Logging))

	tg := mapToggles(next.Notifications)
	a.toggles.Store(&tg)

	if a.cmdm != nil {
		a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	}
	if a.notif != nil {
		if nc, err := mapNotifierConfig(next); err != nil {
			a.log.Warn("notifier config ignored", logx.Err(err))
		} else {
			a.notif.Apply(nc)
		}
	}

	a.applyTracking(ctx, prev, next)

	if err := a.ckpt.Reschedule(next.Tracking.Checkpoint); err != nil {
		a.log.Warn("checkpoint schedule ignored", logx.Err(err))
	}
	a.ops.Apply(ctx, mapOpsConfig(next.Ops))

	for _, s := range sections {
		switch s {
		case "storage", "presence":
			a.log.Warn("config section changes need a restart", logx.String("section", s))
		}
	}
	if prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token change needs a restart")
	}
	if prev.Tracking.KeyPrefix != next.Tracking.KeyPrefix {
		a.log.Warn("tracking key prefix change needs a restart")
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

// applyTracking applies only the edits made to tracking.contacts, so
// contacts added or removed over chat commands survive a reload.
func (a *App) applyTracking(ctx context.Context, prev, next *config.Config) {
	added, removed := config.DiffIDs(prev.Tracking.Contacts, next.Tracking.Contacts)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	drop := make(map[presence.ContactID]struct{}, len(removed))
	for _, id := range removed {
		drop[id] = struct{}{}
	}
	want := make([]presence.ContactID, 0, a.engine.Tracker().Len()+len(added))
	for _, id := range a.engine.Tracker().IDs() {
		if _, ok := drop[id]; !ok {
			want = append(want, id)
		}
	}
	want = append(want, contactIDs(added)...)

	got, gone, err := a.engine.SetTracked(ctx, want)
	if err != nil {
		a.log.Warn("tracked set persisted partially", logx.Err(err))
	}
	a.log.Info("tracked contacts updated",
		logx.Strs("added", got),
		logx.Strs("removed", gone),
	)
}
