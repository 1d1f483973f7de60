// Command reminder-mcp serves the reminder tools over stdio for agent
// runtimes that spawn MCP servers as subprocesses. It shares the daemon's
// config file and must use a SQL store, because the file store is owned by
// a single process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	_ "github.com/joho/godotenv/autoload"

	"remindbot/internal/config"
	"remindbot/internal/mcpserver"
	"remindbot/internal/reminders"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

var version = "dev"

func main() {
	var (
		cfgPath  string
		logLevel string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&logLevel, "log-level", "info", "log level (logs go to stderr)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdout carries the protocol.
	log := logx.NewWriter(os.Stderr, logLevel).With(logx.Component("reminder-mcp"))
	if err := run(ctx, cfgPath, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("reminder-mcp stopped", logx.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, log logx.Logger) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc := storage.Config{DSN: strings.TrimSpace(cfg.Storage.DSN), Path: strings.TrimSpace(cfg.Storage.Path)}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "sqlite", "sqlite3":
		sc.Driver = "sqlite"
		sc.BusyTimeout, err = config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
		if err != nil {
			return err
		}
	case "mysql":
		sc.Driver = "mysql"
	default:
		return fmt.Errorf("storage.driver %q cannot be shared with the daemon; use sqlite or mysql", cfg.Storage.Driver)
	}

	st, err := storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		return err
	}
	defer st.Close()

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return err
		}
	}
	api := reminders.New(st, log.With(logx.Component("reminders")), nil,
		reminders.WithLocation(func() *time.Location { return loc }),
	)
	return mcpserver.New(api, log, version).Run(ctx)
}
