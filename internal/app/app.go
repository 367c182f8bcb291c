// Package app wires friendwatch together and applies config hot reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"friendwatch/internal/checkpoint"
	"friendwatch/internal/commands"
	"friendwatch/internal/config"
	"friendwatch/internal/dispatch"
	"friendwatch/internal/eventbus"
	"friendwatch/internal/notifier"
	"friendwatch/internal/ops"
	"friendwatch/internal/presence"
	rtsup "friendwatch/internal/runtime/supervisor"
	"friendwatch/internal/source"
	"friendwatch/internal/storage"
	kit "friendwatch/internal/transport"
	"friendwatch/internal/transport/telegram"
	logx "friendwatch/pkg/logx"
)

// StopReason is used for structured shutdown tracing.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

// menuUpdater is implemented by transports with a command menu.
type menuUpdater interface {
	UpdateMenuCommands(cmds []telegram.Command) error
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	bus      eventbus.Bus
	snapshot *source.Snapshot
	dir      *dispatch.StaticDirectory
	toggles  atomic.Pointer[dispatch.Toggles]

	adapter kit.Adapter // nil without a chat transport
	notif   *notifier.Service
	disp    *dispatch.Dispatcher
	engine  *presence.Engine
	feed    *source.Feed
	spool   *source.Spool
	ckpt    *checkpoint.Scheduler
	ops     *ops.Server
	cmdm    *commands.Manager

	updates chan kit.Update
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
}

// WithAdapter replaces the Telegram transport, for embedding hosts and tests.
func WithAdapter(ad kit.Adapter) Option {
	return func(o *options) { o.adapter = ad }
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil && strings.TrimSpace(cfg.Telegram.Token) != "" {
		pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	var sender logx.ChatSender
	if ad != nil {
		sender = ad
	}
	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging), sender)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg, log); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	stCfg, err := mapStorageConfig(cfg.Storage)
	if err != nil {
		return err
	}
	st, err := storage.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = st

	snap := &source.Snapshot{}
	if p := strings.TrimSpace(cfg.Presence.SnapshotPath); p != "" {
		if snap, err = source.LoadSnapshot(p); err != nil {
			return err
		}
	}
	a.snapshot = snap
	a.dir = dispatch.NewStaticDirectory(snap.Contacts...)

	tg := mapToggles(cfg.Notifications)
	a.toggles.Store(&tg)

	var (
		sink dispatch.Sink = dispatch.LogSink{Log: log.With(logx.String("comp", "notifications"))}
		nav  dispatch.Navigator
	)
	nCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	if a.adapter != nil {
		a.notif = notifier.New(nCfg, a.adapter, log.With(logx.String("comp", "notifier")), a.bus, st)
		sink = a.notif
		if len(nCfg.Targets) > 0 {
			nav = notifier.ChatNavigator{Adapter: a.adapter, Target: nCfg.Targets[0], Log: log.With(logx.String("comp", "navigator"))}
		}
	}
	a.disp = dispatch.New(dispatch.Options{
		Directory: a.dir,
		Sink:      sink,
		Navigator: nav,
		Toggles:   func() dispatch.Toggles { return *a.toggles.Load() },
		Logger:    log.With(logx.String("comp", "dispatch")),
	})

	userID := strings.TrimSpace(cfg.Presence.UserID)
	if userID == "" {
		userID = snap.UserID
	}
	a.engine = presence.NewEngine(presence.Options{
		Store:     st,
		Keys:      presence.KeysFor(cfg.Tracking.KeyPrefix, userID),
		Notifier:  a.disp,
		Usernames: a.dir,
		Bus:       a.bus,
		Logger:    log.With(logx.String("comp", "presence")),
	})

	a.feed = source.NewFeed(cfg.Presence.FeedBuffer)
	if p := strings.TrimSpace(cfg.Presence.SpoolPath); p != "" {
		poll, err := config.ParseDuration("presence.poll_interval", cfg.Presence.PollInterval, 0)
		if err != nil {
			return err
		}
		a.spool = source.NewSpool(source.SpoolOptions{
			Path:         p,
			Store:        st,
			FromStart:    cfg.Presence.SpoolFromStart,
			PollInterval: poll,
			Logger:       log.With(logx.String("comp", "spool")),
		})
	}

	a.ckpt = checkpoint.New(a.engine, log.With(logx.String("comp", "checkpoint")))
	if err := a.ckpt.Reschedule(cfg.Tracking.Checkpoint); err != nil {
		return err
	}

	a.ops = ops.New(a.engine, a.health, log.With(logx.String("comp", "ops")))

	if a.adapter != nil {
		var queue commands.QueueStats
		if a.notif != nil {
			queue = a.notif
		}
		a.cmdm = commands.NewManager(log.With(logx.String("comp", "commands")), a.adapter, cfg.Telegram.OwnerUserIDs)
		a.cmdm.Register(commands.Tracking(a.engine, a.dir, queue)...)
		a.cmdm.SetCallbackHandler(commands.ClickHandler(a.disp, notifier.ChatNavigator{
			Adapter: a.adapter,
			Log:     log.With(logx.String("comp", "navigator")),
		}))
	}
	return nil
}

func (a *App) Engine() *presence.Engine { return a.engine }

// Feed accepts presence batches from an embedding host.
func (a *App) Feed() *source.Feed { return a.feed }

func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Healthy reports whether the app is running without a fatal error.
func (a *App) Healthy() bool {
	return a.sup != nil && a.sup.Context().Err() == nil && a.sup.Err() == nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if _, err := mapNotifierConfig(next); err != nil {
			return err
		}
		if _, err := mapStorageConfig(next.Storage); err != nil {
			return err
		}
		return checkpoint.Validate(next.Tracking.Checkpoint)
	})

	if a.notif != nil {
		a.notif.Start(runCtx)
	}

	res, err := a.engine.Init(ctx, a.snapshot.Seed(contactIDs(cfg.Tracking.Contacts)))
	if err != nil {
		// State is still seeded; a failed write is retried by the next checkpoint.
		a.log.Warn("presence init persisted partially", logx.Err(err))
	}
	fields := []logx.Field{
		logx.Int("tracked", res.Tracked),
		logx.Int("catch_up", len(res.CatchUp)),
		logx.Bool("cold_load", res.ColdLoad),
	}
	if len(res.Dropped) > 0 {
		fields = append(fields, logx.Strs("dropped", res.Dropped))
	}
	a.log.Info("presence tracking initialized", fields...)

	if a.adapter != nil {
		if err := a.adapter.Start(runCtx, a.updates); err != nil {
			return err
		}
		a.syncMenu()
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.Run(c, a.updates)
		})
	}

	a.sup.GoRestart("presence.engine", func(c context.Context) error {
		return a.engine.Run(c, a.feed.C())
	})

	if a.spool != nil {
		a.sup.GoRestart("source.spool", func(c context.Context) error {
			return a.spool.Run(c, a.feed)
		}, rtsup.WithRestartBackoff(time.Second, time.Minute))
	}

	a.ckpt.Start()
	a.ops.Apply(runCtx, mapOpsConfig(cfg.Ops))

	a.sup.Go0("events.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("telegram", a.adapter != nil),
		logx.Bool("spool", a.spool != nil),
		logx.Int("contacts", a.dir.Len()),
	)
	return nil
}

func (a *App) syncMenu() {
	mu, ok := a.adapter.(menuUpdater)
	if !ok || a.cmdm == nil {
		return
	}
	cmds := a.cmdm.Commands()
	menu := make([]telegram.Command, 0, len(cmds))
	for _, c := range cmds {
		menu = append(menu, telegram.Command{Name: c.Name, Description: c.Description})
	}
	if err := mu.UpdateMenuCommands(menu); err != nil {
		a.log.Warn("menu commands update failed", logx.Err(err))
	}
}

// logEvents mirrors the event bus into debug logs.
func (a *App) logEvents(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()
	log := a.log.With(logx.String("comp", "events"))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
		}
	}
}

func (a *App) health() (map[string]any, error) {
	out := map[string]any{
		"tracked":  a.engine.Tracker().Len(),
		"contacts": a.dir.Len(),
		"pending":  a.disp.Pending(),
	}
	ck := a.ckpt.Stats()
	out["checkpoint"] = map[string]any{
		"spec":     ck.Spec,
		"runs":     ck.Runs,
		"failures": ck.Failures,
		"last_run": ck.LastRun,
	}
	if a.notif != nil {
		out["notifier_queue"] = a.notif.QueueLen()
	}
	if a.spool != nil {
		st := a.spool.Stats()
		out["spool"] = map[string]any{"offset": st.Offset, "lines": st.Lines, "skipped": st.Skipped}
	}
	if a.sup != nil {
		c := a.sup.Counters()
		out["goroutines_active"] = c.Active
		if err := a.sup.Err(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
			return
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	if a.adapter != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
	}
	step("supervisor", 3*time.Second, a.sup.Wait)
	if a.notif != nil {
		step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	}
	step("checkpoint", 3*time.Second, a.ckpt.Stop)
	step("presence", 2*time.Second, a.engine.Close)
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}
	a.feed.Close()

	a.log.Info("stopped", logx.String("reason", string(reason)))
	_ = a.logs.Close()
	return errors.Join(errs...)
}
