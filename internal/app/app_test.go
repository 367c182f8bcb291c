package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"friendwatch/internal/config"
	"friendwatch/internal/presence"
	kit "friendwatch/internal/transport"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }
func (a *fakeAdapter) Delete(context.Context, kit.MessageRef) error   { return nil }
func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	a.to = append(a.to, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

type fixture struct {
	dir    string
	cfg    string
	spool  string
	config map[string]any
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	snap := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(snap, []byte(`{
		"user_id": "me",
		"roster": ["1", "2", "3"],
		"client_statuses": {"1": {}, "2": {"desktop": "online"}},
		"contacts": [
			{"id": "1", "username": "alice"},
			{"id": "2", "username": "bob"}
		]
	}`), 0o600))

	f := &fixture{
		dir:   dir,
		cfg:   filepath.Join(dir, "config.json"),
		spool: filepath.Join(dir, "presence.jsonl"),
	}
	f.config = map[string]any{
		"telegram": map[string]any{"owner_user_ids": []int64{7}},
		"logging":  map[string]any{"level": "error"},
		"storage":  map[string]any{"driver": "memory"},
		"presence": map[string]any{
			"snapshot_path":    snap,
			"spool_path":       f.spool,
			"spool_from_start": true,
			"poll_interval":    "50ms",
		},
		"tracking": map[string]any{"contacts": []string{"1"}, "checkpoint": "off"},
	}
	f.write(t)
	require.NoError(t, os.WriteFile(f.spool, nil, 0o600))
	return f
}

func (f *fixture) write(t *testing.T) {
	t.Helper()
	b, err := json.Marshal(f.config)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.cfg, b, 0o600))
}

func startApp(t *testing.T, f *fixture, opts ...Option) *App {
	t.Helper()
	a, err := New(f.cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func TestFeedBatchNotifiesOwners(t *testing.T) {
	f := newFixture(t)
	ad := &fakeAdapter{}
	a := startApp(t, f, WithAdapter(ad))

	require.NoError(t, a.Feed().Push(context.Background(), presence.Batch{Updates: []presence.PresenceUpdate{
		{ID: "1", Status: presence.StatusOnline},
		{ID: "2", Status: presence.StatusOffline},
	}}))

	require.Eventually(t, func() bool { return len(ad.messages()) == 1 }, 5*time.Second, 20*time.Millisecond)
	msg := ad.messages()[0]
	assert.Contains(t, msg, "alice came online")
	ad.mu.Lock()
	assert.Equal(t, int64(7), ad.to[0].ChatID)
	ad.mu.Unlock()

	c, ok := a.Engine().Tracker().Get("1")
	require.True(t, ok)
	assert.Equal(t, presence.StatusOnline, c.LastStatus)
	assert.False(t, a.Engine().Tracker().IsTracked("2"))
}

func TestSpoolLinesReachEngine(t *testing.T) {
	f := newFixture(t)
	a := startApp(t, f)

	fh, err := os.OpenFile(f.spool, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = fh.WriteString("garbage\n" + `{"updates":[{"id":"1","status":"dnd","activities":[{"kind":"custom","state":"heads down"}]}]}` + "\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	require.Eventually(t, func() bool {
		c, ok := a.Engine().Tracker().Get("1")
		return ok && c.LastStatus == presence.StatusDND
	}, 5*time.Second, 20*time.Millisecond)

	c, _ := a.Engine().Tracker().Get("1")
	require.NotNil(t, c.LastCustomStatus)
	assert.Equal(t, "heads down", c.LastCustomStatus.State)
	assert.Equal(t, uint64(1), a.spool.Stats().Skipped)
}

func TestApplyConfigUpdatesTogglesAndTracking(t *testing.T) {
	f := newFixture(t)
	a := startApp(t, f)
	ctx := context.Background()

	_, err := a.Engine().Track(ctx, "3")
	require.NoError(t, err)

	prev := a.cfgm.Get()
	off := false
	next := *prev
	next.Tracking.Contacts = []string{"2"}
	next.Notifications = config.NotificationsConfig{Online: &off, Action: "dismiss"}
	a.applyConfig(ctx, prev, &next)

	assert.Equal(t, []presence.ContactID{"2", "3"}, a.Engine().Tracker().IDs())
	tg := a.toggles.Load()
	assert.False(t, tg.Online)
	assert.True(t, tg.Offline)
	assert.Equal(t, "dismiss", string(tg.Action))
}

func TestHealthReportsComponents(t *testing.T) {
	f := newFixture(t)
	a := startApp(t, f)

	h, err := a.health()
	require.NoError(t, err)
	assert.Equal(t, 1, h["tracked"])
	assert.Equal(t, 2, h["contacts"])
	assert.Contains(t, h, "spool")
	assert.True(t, a.Healthy())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	f.config["storage"] = map[string]any{"driver": "etcd"}
	f.write(t)
	_, err := New(f.cfg)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "storage.driver"))
}

func TestNotifyTargets(t *testing.T) {
	got := notifyTargets(config.TelegramConfig{OwnerUserIDs: []int64{1, 0, 2}, NotifyThreadID: 9})
	assert.Equal(t, []kit.ChatTarget{{ChatID: 1}, {ChatID: 2}}, got)

	got = notifyTargets(config.TelegramConfig{OwnerUserIDs: []int64{1}, NotifyChatIDs: []int64{-100}, NotifyThreadID: 9})
	assert.Equal(t, []kit.ChatTarget{{ChatID: -100, ThreadID: 9}}, got)
}
