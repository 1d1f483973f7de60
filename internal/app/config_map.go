package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/mcpserver"
	"remindbot/internal/notifier"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "file"
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path, CompactEvery: sc.CompactEvery}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "mysql":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=mysql")
		}
		return storage.Config{Driver: "mysql", DSN: dsn}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	interval, err := config.ParseDurationOrDefault("scheduler.interval", cfg.Scheduler.Interval, scheduler.DefaultInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:  cfg.Scheduler.IsEnabled(),
		Interval: interval,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	rc := cfg.Router
	timeout, err := config.ParseDurationOrDefault("router.delivery_timeout", rc.DeliveryTimeout, notifier.DefaultDeliveryTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:         rc.Workers,
		QueueSize:       rc.QueueSize,
		RatePerSec:      rc.RatePerSec,
		DeliveryTimeout: timeout,
		HistorySize:     rc.HistorySize,
	}, nil
}

// mapLogConfig keeps chat forwarding off when no operator chat is set so
// Apply does not warn about a missing target.
func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled && cfg.Telegram.OperatorChatID != 0,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

func mapAccess(cfg *config.Config) router.Access {
	return router.Access{
		AllowedChatIDs: cfg.Telegram.AllowedChatIDs,
		OperatorChatID: cfg.Telegram.OperatorChatID,
	}
}

func mapMCPConfig(cfg *config.Config) mcpserver.HTTPConfig {
	return mcpserver.HTTPConfig{
		Enabled: cfg.MCP.Enabled,
		Addr:    cfg.MCP.Addr,
		Path:    cfg.MCP.Path,
	}
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
