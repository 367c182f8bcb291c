package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"friendwatch/internal/presence"
	logx "friendwatch/pkg/logx"
)

var (
	ErrUnknownIntent = errors.New("dispatch: unknown or expired notification")
	ErrNoNavigator   = errors.New("dispatch: no navigator configured")
)

const (
	DefaultRegistrySize = 512
	DefaultRefocusDelay = 200 * time.Millisecond
)

type Options struct {
	Directory    Directory
	Sink         Sink
	Navigator    Navigator
	Toggles      func() Toggles
	Logger       logx.Logger
	RegistrySize int
	RefocusDelay time.Duration
	Now          func() time.Time
}

// Dispatcher implements presence.Notifier.
type Dispatcher struct {
	dir     Directory
	sink    Sink
	nav     Navigator
	toggles func() Toggles
	log     logx.Logger
	delay   time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]NotificationIntent
	order   []string
	max     int
}

var _ presence.Notifier = (*Dispatcher)(nil)

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		dir:     opts.Directory,
		sink:    opts.Sink,
		nav:     opts.Navigator,
		toggles: opts.Toggles,
		log:     opts.Logger,
		delay:   opts.RefocusDelay,
		now:     opts.Now,
		pending: map[string]NotificationIntent{},
		max:     opts.RegistrySize,
	}
	if d.toggles == nil {
		d.toggles = DefaultToggles
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if d.delay <= 0 {
		d.delay = DefaultRefocusDelay
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.max <= 0 {
		d.max = DefaultRegistrySize
	}
	return d
}

// Notify builds and shows an intent for ev unless its category is switched off.
func (d *Dispatcher) Notify(ctx context.Context, ev presence.Event) error {
	t := d.toggles()
	if !t.Allows(ev.Kind) {
		d.log.Debug("notification suppressed", logx.String("contact", ev.ContactID), logx.String("kind", ev.Kind.String()))
		return nil
	}
	in := d.Build(ev, t.Action)
	if d.sink == nil {
		return nil
	}
	d.remember(in)
	if err := d.sink.Show(ctx, in); err != nil {
		d.forget(in.ID)
		return fmt.Errorf("show %s: %w", in.ID, err)
	}
	return nil
}

// Build renders ev as an intent without showing it.
func (d *Dispatcher) Build(ev presence.Event, action Action) NotificationIntent {
	c := Contact{ID: ev.ContactID, Username: ev.Username}
	if d.dir != nil {
		if found, ok := d.dir.Lookup(ev.ContactID); ok {
			if found.Username == "" {
				found.Username = ev.Username
			}
			c = found
		}
	}
	name := c.DisplayName()
	if name == "" {
		name = ev.ContactID
	}
	if action == "" {
		action = ActionOpenDM
	}
	at := ev.At
	if at.IsZero() {
		at = d.now()
	}
	return NotificationIntent{
		ID:          uuid.NewString(),
		ContactID:   ev.ContactID,
		Kind:        ev.Kind,
		Title:       name + " " + ev.Kind.Verb(),
		Body:        ev.Body,
		Icon:        c.AvatarURL,
		Action:      action,
		DMLink:      c.DMLink,
		ProfileLink: c.ProfileLink,
		CreatedAt:   at,
	}
}

// HandleClick runs the action of a previously shown intent. Each intent
// resolves at most once.
func (d *Dispatcher) HandleClick(ctx context.Context, intentID string) (NotificationIntent, error) {
	return d.HandleClickVia(ctx, intentID, d.nav)
}

// HandleClickVia is HandleClick with a per-click navigator, for transports
// where the reply goes back to wherever the click came from.
func (d *Dispatcher) HandleClickVia(ctx context.Context, intentID string, nav Navigator) (NotificationIntent, error) {
	d.mu.Lock()
	in, ok := d.pending[intentID]
	d.mu.Unlock()
	if !ok {
		return NotificationIntent{}, ErrUnknownIntent
	}
	d.forget(intentID)

	switch in.Action {
	case ActionDismiss:
		return in, nil
	case ActionOpenProfile:
		if nav == nil {
			return in, ErrNoNavigator
		}
		return in, nav.OpenProfile(ctx, in)
	default:
		if nav == nil {
			return in, ErrNoNavigator
		}
		if err := nav.OpenDM(ctx, in); err != nil {
			return in, err
		}
		log := d.log
		time.AfterFunc(d.delay, func() {
			if err := nav.Focus(context.Background()); err != nil {
				log.Debug("refocus failed", logx.Err(err))
			}
		})
		return in, nil
	}
}

// Pending returns the number of intents awaiting a click.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) remember(in NotificationIntent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[in.ID] = in
	d.order = append(d.order, in.ID)
	for len(d.pending) > d.max && len(d.order) > 0 {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.pending, oldest)
	}
	// ids already forgotten stay in order until they reach the front
	if len(d.order) > 4*d.max {
		live := d.order[:0]
		for _, id := range d.order {
			if _, ok := d.pending[id]; ok {
				live = append(live, id)
			}
		}
		d.order = live
	}
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}
