package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
)

type fakeMessenger struct {
	mu        sync.Mutex
	delivered []string
	chats     []int64
	sent      []string
}

func (f *fakeMessenger) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeMessenger) Stop(context.Context) error                     { return nil }

func (f *fakeMessenger) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeMessenger) Deliver(_ context.Context, chatID int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, message)
	f.chats = append(f.chats, chatID)
	return nil
}

func (f *fakeMessenger) deliveries() ([]string, []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...), append([]int64(nil), f.chats...)
}

func writeConfig(t *testing.T, dir, body string) *config.ConfigManager {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgm := config.NewConfigManager(path)
	if _, err := cfgm.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfgm
}

func baseConfig(dir string) string {
	return `{
  "logging": {"level": "debug", "file": {"enabled": true, "path": "` + filepath.Join(dir, "bot.log") + `"}},
  "storage": {"driver": "file", "path": "` + filepath.Join(dir, "reminders") + `"},
  "scheduler": {"interval": "1s", "timezone": "UTC"}
}`
}

func TestAppDeliversDueReminder(t *testing.T) {
	dir := t.TempDir()
	cfgm := writeConfig(t, dir, baseConfig(dir))
	fm := &fakeMessenger{}
	a, err := build(cfgm, cfgm.Get(), fm, "test")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	r, err := a.store.Create(ctx, 4242, "Check the oven", time.Now().Add(300*time.Millisecond))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if msgs, _ := fm.deliveries(); len(msgs) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	msgs, chats := fm.deliveries()
	if len(msgs) != 1 || msgs[0] != "Check the oven" || chats[0] != 4242 {
		t.Fatalf("deliveries = %q to %v", msgs, chats)
	}
	got, err := a.Reminders().Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != reminder.StatusTriggered {
		t.Fatalf("status = %s", got.Status)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("supervisor error: %v", err)
	}
}

func TestApplyConfigHotReload(t *testing.T) {
	dir := t.TempDir()
	cfgm := writeConfig(t, dir, baseConfig(dir))
	a, err := build(cfgm, cfgm.Get(), &fakeMessenger{}, "test")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() {
		_ = a.store.Close()
		_ = a.logs.Close()
	})

	oldCfg := cfgm.Get()
	next := *oldCfg
	next.Scheduler.Interval = "3s"
	next.Scheduler.Timezone = "Europe/Berlin"
	next.Router.RatePerSec = 2
	a.applyConfig(context.Background(), oldCfg, &next)

	if got := a.location().String(); got != "Europe/Berlin" {
		t.Fatalf("location = %s", got)
	}
	if snap := a.sched.Snapshot(); snap.Interval != 3*time.Second || snap.Timezone != "Europe/Berlin" {
		t.Fatalf("scheduler snapshot = %+v", snap)
	}

	// Unchanged config leaves everything alone.
	a.applyConfig(context.Background(), &next, &next)
	if got := a.location().String(); got != "Europe/Berlin" {
		t.Fatalf("location after no-op reload = %s", got)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		wantErr string
	}{
		{"default is file", config.StorageConfig{Path: "data/r"}, "file", ""},
		{"sqlite alias", config.StorageConfig{Driver: "SQLite3", Path: "r.db"}, "sqlite", ""},
		{"mysql", config.StorageConfig{Driver: "mysql", DSN: "u:p@tcp(db)/r"}, "mysql", ""},
		{"mysql without dsn", config.StorageConfig{Driver: "mysql"}, "", "storage.dsn"},
		{"sqlite without path", config.StorageConfig{Driver: "sqlite"}, "", "storage.path"},
		{"bad busy timeout", config.StorageConfig{Driver: "sqlite", Path: "r.db", BusyTimeout: "soon"}, "", "busy_timeout"},
		{"unknown", config.StorageConfig{Driver: "redis", Path: "x"}, "", "unknown storage.driver"},
	}
	for _, tc := range cases {
		sc, err := mapStorageConfig(&config.Config{Storage: tc.in})
		if tc.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("%s: err = %v, want %q", tc.name, err, tc.wantErr)
			}
			continue
		}
		if err != nil || sc.Driver != tc.driver {
			t.Errorf("%s: got %+v, %v", tc.name, sc, err)
		}
	}
}

func TestMapLogConfigNeedsOperatorChat(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Logging: config.LoggingConfig{Chat: config.LoggingChat{Enabled: true}}}
	if mapLogConfig(cfg).Chat.Enabled {
		t.Fatal("chat sink enabled without an operator chat")
	}
	cfg.Telegram.OperatorChatID = 99
	if !mapLogConfig(cfg).Chat.Enabled {
		t.Fatal("chat sink disabled with an operator chat")
	}
}
