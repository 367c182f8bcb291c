package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"friendwatch/internal/eventbus"
	"friendwatch/internal/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type usernames map[ContactID]string

func (u usernames) Username(id ContactID) string { return u[id] }

func newTestEngine(t *testing.T, st storage.Store, tracked ...ContactID) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := NewEngine(Options{Store: st, Keys: KeysFor("", "me"), Notifier: rec})
	_, err := e.Init(context.Background(), Seed{Tracked: tracked})
	require.NoError(t, err)
	return e, rec
}

func update(id ContactID, s Status, custom ...string) PresenceUpdate {
	u := PresenceUpdate{ID: id, Username: "user" + id, Status: s}
	for _, c := range custom {
		state := c
		u.Activities = append(u.Activities, Activity{Kind: ActivityCustom, State: &state})
	}
	return u
}

func TestEngineRepeatedOfflineIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t, storage.NewMemory(), "1")

	_, err := e.HandleBatch(ctx, []PresenceUpdate{update("1", StatusOnline)})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := e.HandleBatch(ctx, []PresenceUpdate{update("1", StatusOffline)})
		require.NoError(t, err)
	}
	assert.Equal(t, []EventKind{EventCameOnline, EventWentOffline}, rec.kinds())
}

func TestEngineCoarseSequence(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t, storage.NewMemory(), "1")

	// Contacts tracked at runtime start unknown.
	_, err := e.Track(ctx, "2")
	require.NoError(t, err)

	res, err := e.HandleBatch(ctx, []PresenceUpdate{update("2", StatusOnline)})
	require.NoError(t, err)
	assert.Equal(t, CameOnline, res.Outcomes[0].Transition)

	res, err = e.HandleBatch(ctx, []PresenceUpdate{update("2", StatusDND, "focus")})
	require.NoError(t, err)
	assert.Equal(t, NoTransition, res.Outcomes[0].Transition)
	assert.Equal(t, CustomStatusSet, res.Outcomes[0].CustomStatus, "lateral move must reach the differ")

	res, err = e.HandleBatch(ctx, []PresenceUpdate{update("2", StatusOffline, "focus")})
	require.NoError(t, err)
	assert.Equal(t, WentOffline, res.Outcomes[0].Transition)
	assert.Equal(t, "was dnd", res.Outcomes[0].Event.Body)

	assert.Equal(t, []EventKind{EventCameOnline, EventStatusSet, EventWentOffline}, rec.kinds())
}

func TestEngineCustomStatusSequence(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t, storage.NewMemory(), "1")

	seq := []PresenceUpdate{
		update("1", StatusOffline),
		update("1", StatusOffline, "brb"),
		update("1", StatusOffline, "brb"),
		update("1", StatusOffline),
	}
	for _, u := range seq {
		_, err := e.HandleBatch(ctx, []PresenceUpdate{u})
		require.NoError(t, err)
	}
	require.Equal(t, []EventKind{EventStatusSet, EventStatusCleared}, rec.kinds())
	assert.Equal(t, "brb", rec.events[0].Body)
	assert.Equal(t, "brb", rec.events[1].Body)
}

func TestEngineIgnoresUntracked(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t, storage.NewMemory(), "1")

	res, err := e.HandleBatch(ctx, []PresenceUpdate{update("99", StatusOnline, "hey"), update("", StatusOnline)})
	require.NoError(t, err)
	for _, o := range res.Outcomes {
		assert.True(t, o.Ignored)
	}
	assert.False(t, e.Tracker().IsTracked("99"))
	assert.Empty(t, rec.kinds())
}

func TestEngineUsernameResolution(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	e := NewEngine(Options{Notifier: rec, Usernames: usernames{"1": "alice"}})
	_, err := e.Init(ctx, Seed{Tracked: []ContactID{"1", "2"}})
	require.NoError(t, err)

	res, err := e.HandleBatch(ctx, []PresenceUpdate{
		{ID: "1", Status: StatusOnline},
		{ID: "2", Status: StatusOnline},
	})
	require.NoError(t, err)
	assert.False(t, res.Outcomes[0].Ignored)
	assert.True(t, res.Outcomes[1].Ignored)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "alice", rec.events[0].Username)

	c, _ := e.Tracker().Get("2")
	assert.Equal(t, StatusOffline, c.LastStatus, "skipped update must not touch state")
}

func TestEngineInitCatchUpAndRosterFilter(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	keys := KeysFor("", "me")

	ids, _ := json.Marshal([]ContactID{"1", "2", "gone"})
	hist, _ := json.Marshal(map[ContactID]CustomStatus{"1": {State: "old"}, "2": {State: "same"}})
	require.NoError(t, st.Set(ctx, keys.Tracking, ids))
	require.NoError(t, st.Set(ctx, keys.StatusText, hist))

	rec := &recorder{}
	e := NewEngine(Options{Store: st, Keys: keys, Notifier: rec})
	newState, same := "new", "same"
	res, err := e.Init(ctx, Seed{
		Roster: []ContactID{"1", "2", "3"},
		ClientStatuses: map[ContactID]ClientStatus{
			"1": {{Platform: "desktop", Status: "online"}},
		},
		Activities: map[ContactID][]Activity{
			"1": {{Kind: ActivityCustom, State: &newState}},
			"2": {{Kind: ActivityCustom, State: &same}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tracked)
	assert.Equal(t, []ContactID{"gone"}, res.Dropped)
	require.Len(t, res.CatchUp, 1)
	assert.Equal(t, EventStatusChanged, res.CatchUp[0].Kind)
	assert.Equal(t, `from "old" to "new"`, res.CatchUp[0].Body)

	c, _ := e.Tracker().Get("1")
	assert.Equal(t, StatusOnline, c.LastStatus)

	raw, ok, err := st.Get(ctx, keys.Tracking)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `["1","2"]`, string(raw))

	raw, _, err = st.Get(ctx, keys.StatusText)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":{"state":"new"},"2":{"state":"same"}}`, string(raw))
}

func TestEngineColdLoadOnCorruptState(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	keys := KeysFor("", "me")
	require.NoError(t, st.Set(ctx, keys.Tracking, []byte("{not json")))

	e := NewEngine(Options{Store: st, Keys: keys})
	res, err := e.Init(ctx, Seed{Tracked: []ContactID{"5"}})
	require.NoError(t, err)
	assert.True(t, res.ColdLoad)
	assert.Equal(t, []ContactID{"5"}, e.Tracker().IDs())
}

func TestEngineMembership(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	e := NewEngine(Options{Store: st, Bus: bus})
	_, err := e.Init(ctx, Seed{Tracked: []ContactID{"1"}})
	require.NoError(t, err)

	added, err := e.Track(ctx, "2")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = e.Track(ctx, "2")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = e.HandleBatch(ctx, []PresenceUpdate{update("2", StatusOnline, "hi")})
	require.NoError(t, err)

	removed, err := e.Untrack(ctx, "1")
	require.NoError(t, err)
	assert.True(t, removed)

	add, rem, err := e.SetTracked(ctx, []ContactID{"2", "3"})
	require.NoError(t, err)
	assert.Equal(t, []ContactID{"3"}, add)
	assert.Empty(t, rem)

	add, rem, err = e.SetTracked(ctx, []ContactID{"3"})
	require.NoError(t, err)
	assert.Empty(t, add)
	assert.Equal(t, []ContactID{"2"}, rem)

	keys := KeysFor("", "")
	raw, _, err := st.Get(ctx, keys.Tracking)
	require.NoError(t, err)
	assert.JSONEq(t, `["3"]`, string(raw))
	raw, _, err = st.Get(ctx, keys.StatusText)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	var changes int
	for len(ch) > 0 {
		if ev := <-ch; ev.Type == eventbus.TypeTrackedChange {
			changes++
		}
	}
	assert.Equal(t, 4, changes)
}

func TestEngineRunDrainsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, rec := newTestEngine(t, nil, "1")

	batches := make(chan Batch, 3)
	batches <- Batch{Updates: []PresenceUpdate{update("1", StatusOnline)}}
	batches <- Batch{Updates: []PresenceUpdate{update("1", StatusOffline)}}
	batches <- Batch{Updates: []PresenceUpdate{update("1", StatusIdle)}}
	close(batches)

	require.NoError(t, e.Run(ctx, batches))
	assert.Equal(t, []EventKind{EventCameOnline, EventWentOffline, EventCameOnline}, rec.kinds())
}

var errDiskFull = errors.New("disk full")

// flakyStore fails every Set once failing is switched on.
type flakyStore struct {
	storage.Store
	failing atomic.Bool
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failing.Load() {
		return errDiskFull
	}
	return s.Store.Set(ctx, key, value)
}

func TestEngineKeepsStateWhenStoreAndSinkFail(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: storage.NewMemory()}
	keys := KeysFor("", "me")
	errSink := errors.New("sink down")
	e := NewEngine(Options{
		Store: st,
		Keys:  keys,
		Notifier: NotifierFunc(func(context.Context, Event) error {
			return errSink
		}),
	})
	_, err := e.Init(ctx, Seed{Tracked: []ContactID{"1"}})
	require.NoError(t, err)
	st.failing.Store(true)

	res, err := e.HandleBatch(ctx, []PresenceUpdate{update("1", StatusOnline)})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, CameOnline, res.Outcomes[0].Transition)
	assert.ErrorIs(t, res.Outcomes[0].NotifyErr, errSink)

	res, err = e.HandleBatch(ctx, []PresenceUpdate{update("1", StatusOnline, "brb")})
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Contains(t, err.Error(), keys.StatusText)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, CustomStatusSet, res.Outcomes[0].CustomStatus)
	assert.ErrorIs(t, res.Outcomes[0].NotifyErr, errSink)

	c, ok := e.tracker.Get("1")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, c.LastStatus)
	require.NotNil(t, c.LastCustomStatus)
	assert.Equal(t, "brb", c.LastCustomStatus.State)

	// The failed dispatch did not roll back the status: going offline and
	// back is still a transition pair.
	res, err = e.HandleBatch(ctx, []PresenceUpdate{update("1", StatusOffline)})
	require.NoError(t, err)
	assert.Equal(t, WentOffline, res.Outcomes[0].Transition)
	res, err = e.HandleBatch(ctx, []PresenceUpdate{update("1", StatusOnline)})
	require.NoError(t, err)
	assert.Equal(t, CameOnline, res.Outcomes[0].Transition)
}

func TestEngineCloseFlushesAndResets(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	e, _ := newTestEngine(t, st, "1", "2")
	_, err := e.HandleBatch(ctx, []PresenceUpdate{update("1", StatusOnline, "busy")})
	require.NoError(t, err)

	require.NoError(t, e.Close(ctx))
	assert.Equal(t, 0, e.tracker.Len())

	raw, ok, err := st.Get(ctx, KeysFor("", "me").Tracking)
	require.NoError(t, err)
	require.True(t, ok)
	var ids []ContactID
	require.NoError(t, json.Unmarshal(raw, &ids))
	assert.ElementsMatch(t, []ContactID{"1", "2"}, ids)

	res, err := e.Init(ctx, Seed{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tracked)
}
