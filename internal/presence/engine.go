package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"friendwatch/internal/eventbus"
	"friendwatch/internal/storage"
	logx "friendwatch/pkg/logx"
)

// Seed is the startup input: who the user knows, who they chose to track,
// and the current presence of everyone.
type Seed struct {
	Roster         []ContactID
	Tracked        []ContactID
	ClientStatuses map[ContactID]ClientStatus
	Activities     map[ContactID][]Activity
}

type Options struct {
	Store     storage.Store
	Keys      Keys
	Notifier  Notifier
	Usernames UsernameResolver
	Bus       eventbus.Bus
	Logger    logx.Logger
	Tracker   *Tracker
	Now       func() time.Time
}

// Outcome is what processing one update decided.
type Outcome struct {
	ContactID    ContactID
	Ignored      bool
	Transition   Transition
	CustomStatus CustomStatusKind
	Event        *Event
	NotifyErr    error
}

type BatchResult struct {
	Outcomes []Outcome
}

// Events returns the events the batch produced, in order.
func (r BatchResult) Events() []Event {
	var out []Event
	for _, o := range r.Outcomes {
		if o.Event != nil {
			out = append(out, *o.Event)
		}
	}
	return out
}

// InitResult summarizes seeding.
type InitResult struct {
	Tracked  int
	Dropped  []ContactID // persisted ids no longer on the roster
	CatchUp  []Event
	ColdLoad bool // persisted state was unreadable
}

// Engine owns the Tracker and applies presence batches to it.
//
// All batch processing and membership changes run under one mutex, so every
// read of a contact's previous state happens before its write and batches
// apply in arrival order.
type Engine struct {
	mu sync.Mutex

	tracker   *Tracker
	store     storage.Store
	keys      Keys
	notifier  Notifier
	usernames UsernameResolver
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		tracker:   opts.Tracker,
		store:     opts.Store,
		keys:      opts.Keys,
		notifier:  opts.Notifier,
		usernames: opts.Usernames,
		bus:       opts.Bus,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if e.tracker == nil {
		e.tracker = NewTracker()
	}
	if e.keys == (Keys{}) {
		e.keys = KeysFor("", "")
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) Tracker() *Tracker { return e.tracker }

// Init seeds the tracker for a new session. Unreadable persisted state is
// treated as absent. After seeding, current custom statuses are diffed
// against the persisted history so changes made while the process was down
// are reported.
func (e *Engine) Init(ctx context.Context, seed Seed) (InitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res InitResult
	e.tracker.Reset()

	persisted, err := loadTrackedIDs(ctx, e.store, e.keys.Tracking)
	if err != nil {
		res.ColdLoad = true
		e.log.Warn("tracked ids unreadable; starting empty", logx.String("key", e.keys.Tracking), logx.Err(err))
		persisted = nil
	}
	history, err := loadStatusText(ctx, e.store, e.keys.StatusText)
	if err != nil {
		res.ColdLoad = true
		e.log.Warn("custom status history unreadable; starting empty", logx.String("key", e.keys.StatusText), logx.Err(err))
		history = nil
	}

	var roster map[ContactID]struct{}
	if len(seed.Roster) > 0 {
		roster = make(map[ContactID]struct{}, len(seed.Roster))
		for _, id := range seed.Roster {
			roster[id] = struct{}{}
		}
	}

	seen := map[ContactID]struct{}{}
	var ids []ContactID
	for _, id := range append(append([]ContactID(nil), persisted...), seed.Tracked...) {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if roster != nil {
			if _, ok := roster[id]; !ok {
				res.Dropped = append(res.Dropped, id)
				continue
			}
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		var last *CustomStatus
		if h, ok := history[id]; ok {
			last = &h
		}
		e.tracker.Seed(id, NormalizeClientStatus(seed.ClientStatuses[id]), last)
	}
	res.Tracked = len(ids)

	var errs []error
	for _, id := range sortedIDs(ids) {
		c, _ := e.tracker.Get(id)
		o := e.recordCustomStatusLocked(ctx, id, e.username(id, ""), c.LastStatus, CustomStatusOf(seed.Activities[id]), &errs)
		if o.Event != nil {
			res.CatchUp = append(res.CatchUp, *o.Event)
		}
	}
	if !equalIDs(persisted, e.tracker.IDs()) {
		if err := e.flushTrackedLocked(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	e.log.Info("tracking seeded",
		logx.Int("tracked", res.Tracked),
		logx.Int("dropped", len(res.Dropped)),
		logx.Int("catch_up", len(res.CatchUp)),
		logx.Bool("cold", res.ColdLoad),
	)
	return res, errors.Join(errs...)
}

// HandleBatch applies one batch. Store write failures are joined into the
// returned error; the tracker reflects every update regardless.
func (e *Engine) HandleBatch(ctx context.Context, updates []PresenceUpdate) (BatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		res  BatchResult
		errs []error
	)
	res.Outcomes = make([]Outcome, 0, len(updates))
	for _, u := range updates {
		res.Outcomes = append(res.Outcomes, e.processLocked(ctx, u, &errs))
	}
	return res, errors.Join(errs...)
}

// Run drains batches in order until ctx is done or the channel closes.
func (e *Engine) Run(ctx context.Context, batches <-chan Batch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-batches:
			if !ok {
				return nil
			}
			res, err := e.HandleBatch(ctx, b.Updates)
			if err != nil {
				e.log.Warn("batch persisted partially", logx.Err(err), logx.Int("updates", len(b.Updates)))
			}
			if evs := res.Events(); len(evs) > 0 {
				e.log.Debug("batch processed", logx.Int("updates", len(b.Updates)), logx.Int("events", len(evs)))
			}
		}
	}
}

func (e *Engine) processLocked(ctx context.Context, u PresenceUpdate, errs *[]error) Outcome {
	out := Outcome{ContactID: u.ID}
	prev, ok := e.tracker.Get(u.ID)
	if u.ID == "" || !ok {
		out.Ignored = true
		return out
	}
	username := e.username(u.ID, u.Username)
	if username == "" {
		e.log.Debug("update without resolvable username skipped", logx.String("contact", u.ID))
		out.Ignored = true
		return out
	}

	cur := u.Status
	if cur == StatusUnknown {
		cur = StatusOffline
	}
	out.Transition = ClassifyTransition(prev.LastStatus, cur)
	e.tracker.SetStatus(u.ID, cur)
	e.publish(eventbus.TypeTransition, out)

	switch out.Transition {
	case WentOffline:
		body := ""
		if prev.LastStatus != StatusUnknown {
			body = "was " + prev.LastStatus.String()
		}
		out.Event = &Event{Kind: EventWentOffline, ContactID: u.ID, Username: username, Status: cur, PreviousStatus: prev.LastStatus, Body: body, At: e.now()}
		out.NotifyErr = e.notify(ctx, *out.Event)
	case CameOnline:
		body := cur.String()
		if c := CustomStatusOf(u.Activities); c != nil && c.State != "" {
			body = Truncate(c.State, StatusTextMaxLen)
		}
		out.Event = &Event{Kind: EventCameOnline, ContactID: u.ID, Username: username, Status: cur, PreviousStatus: prev.LastStatus, Body: body, At: e.now()}
		out.NotifyErr = e.notify(ctx, *out.Event)
	default:
		cs := e.recordCustomStatusLocked(ctx, u.ID, username, cur, CustomStatusOf(u.Activities), errs)
		out.CustomStatus = cs.CustomStatus
		out.Event = cs.Event
		out.NotifyErr = cs.NotifyErr
	}
	return out
}

// recordCustomStatusLocked diffs, records and (when changed) writes through
// the custom status of one tracked contact.
func (e *Engine) recordCustomStatusLocked(ctx context.Context, id ContactID, username string, status Status, cur *CustomStatus, errs *[]error) Outcome {
	out := Outcome{ContactID: id}
	prev, ok := e.tracker.Get(id)
	if !ok {
		out.Ignored = true
		return out
	}
	diff := DiffCustomStatus(prev.LastCustomStatus, cur)
	out.CustomStatus = diff.Kind

	if e.tracker.SetCustomStatus(id, cur) {
		if err := e.flushStatusTextLocked(ctx); err != nil {
			*errs = append(*errs, err)
		}
	}
	if diff.Kind == CustomStatusNoOp {
		return out
	}
	e.publish(eventbus.TypeCustomStatus, out)

	kind := EventStatusSet
	switch diff.Kind {
	case CustomStatusChanged:
		kind = EventStatusChanged
	case CustomStatusCleared:
		kind = EventStatusCleared
	}
	out.Event = &Event{Kind: kind, ContactID: id, Username: username, Status: status, PreviousStatus: prev.LastStatus, Body: diff.Body, At: e.now()}
	out.NotifyErr = e.notify(ctx, *out.Event)
	return out
}

func (e *Engine) notify(ctx context.Context, ev Event) error {
	if e.notifier == nil {
		return nil
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.log.Warn("notification dispatch failed",
			logx.String("contact", ev.ContactID),
			logx.String("kind", ev.Kind.String()),
			logx.Err(err),
		)
		return err
	}
	return nil
}

func (e *Engine) username(id ContactID, given string) string {
	if given != "" {
		return given
	}
	if e.usernames != nil {
		return e.usernames.Username(id)
	}
	return ""
}

func (e *Engine) publish(typ string, o Outcome) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: o})
}

// Track starts tracking id and flushes the tracked set.
func (e *Engine) Track(ctx context.Context, id ContactID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" || !e.tracker.Track(id) {
		return false, nil
	}
	e.publish(eventbus.TypeTrackedChange, Outcome{ContactID: id})
	return true, e.flushTrackedLocked(ctx)
}

// Untrack stops tracking id and drops its custom-status history.
func (e *Engine) Untrack(ctx context.Context, id ContactID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.tracker.Get(id)
	if !ok {
		return false, nil
	}
	e.tracker.Untrack(id)
	e.publish(eventbus.TypeTrackedChange, Outcome{ContactID: id, Ignored: true})
	err := e.flushTrackedLocked(ctx)
	if c.LastCustomStatus != nil {
		err = errors.Join(err, e.flushStatusTextLocked(ctx))
	}
	return true, err
}

// SetTracked reconciles the tracked set with ids, keeping state for ids
// that stay tracked.
func (e *Engine) SetTracked(ctx context.Context, ids []ContactID) (added, removed []ContactID, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	want := make(map[ContactID]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		want[id] = struct{}{}
		if e.tracker.Track(id) {
			added = append(added, id)
		}
	}
	for _, id := range e.tracker.IDs() {
		if _, ok := want[id]; !ok {
			e.tracker.Untrack(id)
			removed = append(removed, id)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil, nil, nil
	}
	added = sortedIDs(added)
	e.publish(eventbus.TypeTrackedChange, Outcome{})
	err = e.flushTrackedLocked(ctx)
	if len(removed) > 0 {
		err = errors.Join(err, e.flushStatusTextLocked(ctx))
	}
	return added, removed, err
}

// FlushTracked writes the tracked id set to the store.
func (e *Engine) FlushTracked(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushTrackedLocked(ctx)
}

// Flush writes both the tracked set and the custom-status history.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.flushTrackedLocked(ctx), e.flushStatusTextLocked(ctx))
}

// Close flushes and clears the tracker. Init may be called again afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := errors.Join(e.flushTrackedLocked(ctx), e.flushStatusTextLocked(ctx))
	e.tracker.Reset()
	return err
}

func (e *Engine) flushTrackedLocked(ctx context.Context) error {
	return saveJSON(ctx, e.store, e.keys.Tracking, e.tracker.IDs())
}

func (e *Engine) flushStatusTextLocked(ctx context.Context) error {
	return saveJSON(ctx, e.store, e.keys.StatusText, e.tracker.CustomStatuses())
}

func equalIDs(a, b []ContactID) bool {
	if len(a) != len(b) {
		return false
	}
	a = sortedIDs(a)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
