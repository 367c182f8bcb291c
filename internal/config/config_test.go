package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 10s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./state.db
notifications:
  offline_notifications: false
  notification_action: open-profile
tracking:
  contacts: ["100", "200"]
  checkpoint: "@every 5m"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, []string{"100", "200"}, cfg.Tracking.Contacts)
	assert.False(t, BoolOr(cfg.Notifications.Offline, true))
	assert.True(t, BoolOr(cfg.Notifications.Online, true))
	assert.Equal(t, "open-profile", cfg.Notifications.Action)
	assert.Same(t, cfg, m.Get())
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"telegram":{"tokn":"x"}}`))
	require.Error(t, err)

	_, err = Decode("c.yaml", []byte("presence:\n  snapshot: x\n"))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("notifier.retry_base", "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	d, err = ParseDuration("notifier.retry_base", "0s", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	d, err = ParseDuration("notifier.retry_base", " 750ms ", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, d)

	_, err = ParseDuration("presence.poll_interval", "-1s", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presence.poll_interval")

	_, err = ParseDuration("telegram.poll_timeout", "soon", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.poll_timeout")
}

func TestDecodeYAMLErrorNamesFile(t *testing.T) {
	_, err := Decode("friendwatch.yaml", []byte("tracking:\n  contacts: [\"1\", \"2\"]\n"))
	require.NoError(t, err)

	_, err = Decode("friendwatch.yaml", []byte("tracking: [unterminated\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "friendwatch.yaml")
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvTelegramToken, "999:env")
	t.Setenv(EnvStorageDSN, "redis://localhost:6379/0")

	body := `{"telegram":{"token":"file","owner_user_ids":[1]},"storage":{"driver":"redis"}}`
	m := NewConfigManager(writeFile(t, "config.json", body))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "999:env", cfg.Telegram.Token)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.DSN)
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	p := writeFile(t, ".env", EnvStorageDSN+"=postgres://from-file\n")
	t.Setenv(EnvStorageDSN, "postgres://from-env")
	require.NoError(t, LoadDotEnv(p, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "postgres://from-env", os.Getenv(EnvStorageDSN))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"bad duration", Config{Notifier: NotifierConfig{RetryBase: "soon"}}, false},
		{"sqlite without path", Config{Storage: StorageConfig{Driver: "sqlite"}}, false},
		{"redis without dsn", Config{Storage: StorageConfig{Driver: "redis"}}, false},
		{"unknown driver", Config{Storage: StorageConfig{Driver: "etcd"}}, false},
		{"unknown action", Config{Notifications: NotificationsConfig{Action: "jump"}}, false},
		{"blank contact", Config{Tracking: TrackingConfig{Contacts: []string{" "}}}, false},
		{"token without owners", Config{Telegram: TelegramConfig{Token: "x"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	off := false
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "a", OwnerUserIDs: []int64{1}},
		Storage:  StorageConfig{Driver: "redis", DSN: "redis://secret"},
		Tracking: TrackingConfig{Contacts: []string{"1", "2"}},
	}
	newCfg := &Config{
		Telegram:      TelegramConfig{Token: "b", OwnerUserIDs: []int64{1}},
		Storage:       StorageConfig{Driver: "redis", DSN: "redis://secret"},
		Notifications: NotificationsConfig{Online: &off},
		Tracking:      TrackingConfig{Contacts: []string{"2", "3"}},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"notifications", "tracking"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
}

func TestDiffIDs(t *testing.T) {
	added, removed := DiffIDs([]string{"1", "2"}, []string{"2", "3", "4"})
	assert.Equal(t, []string{"3", "4"}, added)
	assert.Equal(t, []string{"1"}, removed)
}

func TestWatchPublishesChanges(t *testing.T) {
	p := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	cancel()
	<-done
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	p := writeFile(t, "config.json", `{}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	require.NoError(t, os.WriteFile(p, []byte(`{"storage":{"driver":"etcd"}}`), 0o600))
	m.reload(context.Background())

	select {
	case <-ch:
		t.Fatal("invalid config must not be published")
	default:
	}
	assert.Empty(t, m.Get().Storage.Driver)
}
