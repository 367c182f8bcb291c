package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"friendwatch/internal/dispatch"
	"friendwatch/internal/eventbus"
	"friendwatch/internal/presence"
	"friendwatch/internal/storage"
	kit "friendwatch/internal/transport"
	logx "friendwatch/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sent
	failures int
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }
func (a *fakeAdapter) Delete(context.Context, kit.MessageRef) error   { return nil }
func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return kit.MessageRef{}, errors.New("transient")
	}
	a.sent = append(a.sent, sent{to: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func intent(id, body string) dispatch.NotificationIntent {
	return dispatch.NotificationIntent{ID: id, ContactID: "1", Kind: presence.EventCameOnline, Title: "alice came online", Body: body, Action: dispatch.ActionOpenDM}
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Targets:     []kit.ChatTarget{{ChatID: 10}, {ChatID: 20, ThreadID: 3}},
		RatePerSec:  100,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

func TestShowFansOutToTargets(t *testing.T) {
	ad := &fakeAdapter{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), ad, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Show(context.Background(), intent("a", "online")); err != nil {
		t.Fatalf("show: %v", err)
	}
	waitFor(t, func() bool { return ad.count() == 2 })

	var sentEvents int
	waitFor(t, func() bool {
		for len(ch) > 0 {
			if ev := <-ch; ev.Type == eventbus.TypeNotifySent {
				sentEvents++
			}
		}
		return sentEvents == 2
	})
	if len(s.Snapshot()) != 2 {
		t.Fatalf("history = %d, want 2", len(s.Snapshot()))
	}
}

func TestShowDedupsIdenticalIntents(t *testing.T) {
	ad := &fakeAdapter{}
	cfg := testConfig()
	cfg.Targets = cfg.Targets[:1]
	s := New(cfg, ad, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	ctx := context.Background()
	_ = s.Show(ctx, intent("a", "online"))
	_ = s.Show(ctx, intent("b", "online"))
	_ = s.Show(ctx, intent("c", "idle"))
	waitFor(t, func() bool { return ad.count() == 2 })
	time.Sleep(20 * time.Millisecond)
	if ad.count() != 2 {
		t.Fatalf("sent %d, want 2", ad.count())
	}
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	st := storage.NewMemory()
	cfg := testConfig()
	cfg.Targets = cfg.Targets[:1]
	cfg.PersistDedup = true

	ad := &fakeAdapter{}
	s := New(cfg, ad, logx.Nop(), nil, st)
	s.Start(context.Background())
	_ = s.Show(context.Background(), intent("a", "online"))
	waitFor(t, func() bool { return ad.count() == 1 })
	s.Stop(context.Background())

	s2 := New(cfg, ad, logx.Nop(), nil, st)
	s2.Start(context.Background())
	defer s2.Stop(context.Background())
	_ = s2.Show(context.Background(), intent("b", "online"))
	time.Sleep(30 * time.Millisecond)
	if ad.count() != 1 {
		t.Fatalf("restart repeated a deduped notification")
	}
}

func TestSendRetries(t *testing.T) {
	ad := &fakeAdapter{failures: 2}
	cfg := testConfig()
	cfg.Targets = cfg.Targets[:1]
	s := New(cfg, ad, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Show(context.Background(), intent("a", "online"))
	waitFor(t, func() bool { return ad.count() == 1 })
}

func TestShowRejectsWhenNotRunning(t *testing.T) {
	s := New(Config{Enabled: false}, &fakeAdapter{}, logx.Nop(), nil, nil)
	if err := s.Show(context.Background(), intent("a", "x")); !errors.Is(err, ErrDisabled) {
		t.Fatalf("got %v, want ErrDisabled", err)
	}
	s = New(testConfig(), &fakeAdapter{}, logx.Nop(), nil, nil)
	if err := s.Show(context.Background(), intent("a", "x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
	cfg := testConfig()
	cfg.Targets = nil
	s = New(cfg, &fakeAdapter{}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Show(context.Background(), intent("a", "x")); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("got %v, want ErrNoTargets", err)
	}
}

func TestRenderEscapesAndAddsButtons(t *testing.T) {
	in := intent("abc", "<b>brb</b>")
	in.DMLink = "https://chat.example/dm/1"
	text, opt := Render(in)
	if !strings.HasPrefix(text, "<b>alice came online</b>\n") || !strings.Contains(text, "&lt;b&gt;brb") {
		t.Fatalf("text = %q", text)
	}
	if opt.ParseMode != "HTML" || len(opt.Buttons) != 2 {
		t.Fatalf("opt = %+v", opt)
	}
	id, ok := IntentFromCallback(opt.Buttons[0].Data)
	if !ok || id != "abc" {
		t.Fatalf("callback data %q did not round trip", opt.Buttons[0].Data)
	}
	if _, ok := IntentFromCallback("other"); ok {
		t.Fatalf("foreign data accepted")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}
