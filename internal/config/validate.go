package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Validate checks values a decoder cannot: enums, durations, zones and
// driver requirements. All problems are reported together.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)

	add(validLevel("logging.level", c.Logging.Level))
	add(validLevel("logging.chat.min_level", c.Logging.Chat.MinLevel))
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when logging.file.enabled"))
	}
	if c.Logging.Chat.RatePerSec < 0 {
		add(errors.New("logging.chat.rate_per_sec: must be >= 0"))
	}

	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(fmt.Errorf("storage.path: required for driver %q", d))
		}
	case "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn: required for driver mysql (or set %s)", EnvStorageDSN))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)
	if c.Storage.CompactEvery < 0 {
		add(errors.New("storage.compact_every: must be >= 0"))
	}

	_, err = ParseDurationField("scheduler.interval", c.Scheduler.Interval)
	add(err)
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if c.Router.Workers < 0 || c.Router.QueueSize < 0 || c.Router.RatePerSec < 0 || c.Router.HistorySize < 0 {
		add(errors.New("router: workers, queue_size, rate_per_sec and history_size must be >= 0"))
	}
	_, err = ParseDurationField("router.delivery_timeout", c.Router.DeliveryTimeout)
	add(err)

	if c.MCP.Enabled {
		if p := strings.TrimSpace(c.MCP.Path); p != "" && !strings.HasPrefix(p, "/") {
			add(fmt.Errorf("mcp.path: must start with '/': %q", p))
		}
	}

	return errors.Join(errs...)
}

func validLevel(path, raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(s)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
