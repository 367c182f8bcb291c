package source

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"friendwatch/internal/presence"
	"friendwatch/internal/storage"
)

func TestDecodeBatch(t *testing.T) {
	b, err := DecodeBatch([]byte(`{"updates":[{"id":"1","username":"alice","status":"dnd","activities":[{"kind":"custom","state":"brb"}]}]}`))
	require.NoError(t, err)
	require.Len(t, b.Updates, 1)
	assert.Equal(t, presence.StatusDND, b.Updates[0].Status)
	assert.Equal(t, "brb", presence.CustomStatusOf(b.Updates[0].Activities).State)

	bad := []string{
		`not json`,
		`{"updates":[{"status":"online"}]}`,
		`{"updates":[{"id":"","status":"online"}]}`,
		`{"nope":[]}`,
	}
	for _, line := range bad {
		_, err := DecodeBatch([]byte(line))
		assert.Error(t, err, line)
	}
}

func TestFeedKeepsOrder(t *testing.T) {
	f := NewFeed(4)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.Push(ctx, presence.Batch{Updates: []presence.PresenceUpdate{{ID: id}}}))
	}
	f.Close()
	assert.ErrorIs(t, f.Push(ctx, presence.Batch{}), ErrFeedClosed)

	var got []string
	for b := range f.C() {
		got = append(got, b.Updates[0].ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFeedCloseReleasesBlockedPush(t *testing.T) {
	f := NewFeed(1)
	ctx := context.Background()
	require.NoError(t, f.Push(ctx, presence.Batch{Updates: []presence.PresenceUpdate{{ID: "a"}}}))

	pushed := make(chan error, 1)
	go func() {
		pushed <- f.Push(ctx, presence.Batch{Updates: []presence.PresenceUpdate{{ID: "b"}}})
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		f.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a pending Push")
	}
	assert.ErrorIs(t, <-pushed, ErrFeedClosed)

	var got []string
	for b := range f.C() {
		got = append(got, b.Updates[0].ID)
	}
	assert.Equal(t, []string{"a"}, got)
}

func TestLoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"user_id": "me",
		"roster": ["1", "2"],
		"client_statuses": {"1": {"mobile": "idle", "desktop": "online"}},
		"contacts": [{"id": "1", "username": "alice", "nickname": "Al"}]
	}`), 0o644))

	s, err := LoadSnapshot(path)
	require.NoError(t, err)
	seed := s.Seed([]presence.ContactID{"2"})
	assert.Equal(t, []presence.ContactID{"1", "2"}, seed.Roster)
	assert.Equal(t, presence.StatusIdle, presence.NormalizeClientStatus(seed.ClientStatuses["1"]))
	assert.Equal(t, "Al", s.Contacts[0].DisplayName())

	empty, err := LoadSnapshot(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, empty.Roster)
}

func TestSpoolTailsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presence.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"updates":[{"id":"1","status":"online"}]}`+"\n"), 0o644))

	st := storage.NewMemory()
	feed := NewFeed(16)
	sp := NewSpool(SpoolOptions{Path: path, Store: st, FromStart: true, PollInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sp.Run(ctx, feed) }()

	next := func() presence.Batch {
		select {
		case b := <-feed.C():
			return b
		case <-time.After(3 * time.Second):
			t.Fatalf("no batch")
			return presence.Batch{}
		}
	}
	assert.Equal(t, "1", next().Updates[0].ID)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("garbage\n" + `{"updates":[{"id":"2","status":"idle"}]}` + "\n" + `{"updates":[{"id":"3"`)
	require.NoError(t, err)
	assert.Equal(t, "2", next().Updates[0].ID)

	_, err = f.WriteString(`,"status":"dnd"}]}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "3", next().Updates[0].ID)

	cancel()
	require.NoError(t, <-done)

	stats := sp.Stats()
	assert.Equal(t, uint64(3), stats.Lines)
	assert.Equal(t, uint64(1), stats.Skipped)

	raw, ok, err := st.Get(context.Background(), "spool-offset-presence.jsonl")
	require.NoError(t, err)
	require.True(t, ok)
	info, err := os.Stat(path)
	require.NoError(t, err)
	n, err := strconv.ParseInt(string(raw), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), n)
}

func TestSpoolStartsAtEndWithoutOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presence.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"updates":[{"id":"old","status":"online"}]}`+"\n"), 0o644))

	sp := NewSpool(SpoolOptions{Path: path})
	assert.Equal(t, int64(len(`{"updates":[{"id":"old","status":"online"}]}`+"\n")), sp.initialOffset(context.Background()))
}
