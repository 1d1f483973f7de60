package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

const sampleYAML = `
telegram:
  token: "file-token"
  poll_timeout: 10s
  operator_chat_id: 42
  allowed_chat_ids: [42, 7]
logging:
  level: info
  console: true
  chat:
    enabled: true
    min_level: warn
    rate_per_sec: 1
storage:
  driver: sqlite
  path: ./data/reminders.db
  busy_timeout: 5s
scheduler:
  interval: 5s
  timezone: UTC
router:
  workers: 2
  delivery_timeout: 10s
mcp:
  enabled: true
  addr: 127.0.0.1:8765
  path: /mcp
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if cfg.Telegram.OperatorChatID != 42 || len(cfg.Telegram.AllowedChatIDs) != 2 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Router.Workers != 2 || !cfg.MCP.Enabled {
		t.Fatalf("decoded = %+v", cfg)
	}
	if !cfg.Scheduler.IsEnabled() {
		t.Fatal("omitted scheduler.enabled should mean enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	js := `{"storage":{"driver":"file","path":"x"},"scheduler":{"enabled":false}}`
	cfg, err = Decode("config.json", []byte(js))
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if cfg.Scheduler.IsEnabled() {
		t.Fatal("explicit scheduler.enabled=false ignored")
	}
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		data string
	}{
		{"unknown json key", "c.json", `{"storage":{"driver":"file","path":"x","retention":"1d"}}`},
		{"unknown yaml section", "c.yml", "plugins:\n  foo: {}\n"},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "telegram: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.file, []byte(tc.data)); err == nil {
				t.Fatalf("Decode(%q) succeeded", tc.data)
			}
		})
	}
}

func TestEmptyYAMLDecodes(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.yaml", []byte("")); err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	env := map[string]string{
		EnvTelegramToken: " env-token ",
		EnvStorageDSN:    "user:pw@tcp(db:3306)/reminders",
	}
	m.getenv = func(k string) string { return env[k] }

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Storage.DSN != env[EnvStorageDSN] {
		t.Fatalf("dsn = %q", cfg.Storage.DSN)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{Storage: StorageConfig{Driver: "file", Path: "./data"}}
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"mysql without dsn", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.dsn"},
		{"missing path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad interval", func(c *Config) { c.Scheduler.Interval = "soon" }, "scheduler.interval"},
		{"negative timeout", func(c *Config) { c.Router.DeliveryTimeout = "-1s" }, "router.delivery_timeout"},
		{"bad zone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file log without path", func(c *Config) { c.Logging.File.Enabled = true }, "logging.file.path"},
		{"mcp path", func(c *Config) { c.MCP = MCPConfig{Enabled: true, Path: "mcp"} }, "mcp.path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	newCfg := *oldCfg
	newCfg.Telegram.Token = "rotated"
	newCfg.Scheduler.Interval = "10s"
	newCfg.Router.RatePerSec = 5

	ch := SummarizeConfigChange(oldCfg, &newCfg)
	if got := strings.Join(ch.Sections, ","); got != "telegram,scheduler,router" {
		t.Fatalf("sections = %s", got)
	}
	if got := strings.Join(ch.RestartRequired, ","); got != "telegram" {
		t.Fatalf("restart required = %s", got)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config reloaded", ch.Fields...)
	if strings.Contains(buf.String(), "rotated") || strings.Contains(buf.String(), "file-token") {
		t.Fatalf("token leaked into log record: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"telegram.token_changed":true`) {
		t.Fatalf("token change not reported: %s", buf.String())
	}

	if !SummarizeConfigChange(oldCfg, oldCfg).Empty() {
		t.Fatal("identical configs reported a change")
	}

	newCfg = *oldCfg
	newCfg.Router.Workers = 8
	if ch := SummarizeConfigChange(oldCfg, &newCfg); !ch.Has("router") || len(ch.RestartRequired) != 1 {
		t.Fatalf("router worker change = %+v", ch)
	}
}

func TestWatchPublishesValidReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"storage":{"driver":"file","path":"a"},"scheduler":{"interval":"5s"}}`)

	m := NewConfigManager(path)
	m.getenv = func(string) string { return "" }
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, c *Config) error {
		if c.Scheduler.Interval == "1h" {
			return errors.New("too slow")
		}
		return c.Validate()
	})
	updates := m.Subscribe(4)
	defer m.Unsubscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// let the watcher register
	time.Sleep(200 * time.Millisecond)

	write(`{"storage":{"driver":"file","path":"a"},"scheduler":{"interval":"1h"}}`)
	select {
	case c := <-updates:
		t.Fatalf("rejected config published: %+v", c.Scheduler)
	case <-time.After(time.Second):
	}

	write(`{"storage":{"driver":"file","path":"a"},"scheduler":{"interval":"2s"}}`)
	select {
	case c := <-updates:
		if c.Scheduler.Interval != "2s" {
			t.Fatalf("published interval = %s", c.Scheduler.Interval)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}
	if m.Get().Scheduler.Interval != "2s" {
		t.Fatal("reload not committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
