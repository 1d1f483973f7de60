package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/mcpserver"
	"remindbot/internal/notifier"
	"remindbot/internal/reminders"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

// Messenger is the chat transport: inbound commands plus reminder delivery.
type Messenger interface {
	kit.Adapter
	notifier.Deliverer
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter Messenger

	api     *reminders.Service
	sched   *scheduler.Service
	notif   *notifier.Service
	cmdm    *router.CommandManager
	mcp     *mcpserver.Server
	mcpHTTP *mcpserver.HTTPServer

	loc       atomic.Pointer[time.Location]
	lastScan  atomic.Int64 // unix nanos of the last completed scan
	updates   chan kit.Update
	startedAt time.Time
}

// New loads the config file and builds every component. Nothing runs until
// Start.
func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The adapter logs to the console until the logging service exists.
	bootLog := logx.NewConsole("INFO").With(logx.Component("telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	a, err := build(cfgm, cfg, ad, version)
	if err != nil {
		return nil, err
	}
	ad.SetLogger(a.log.With(logx.Component("telegram")))
	return a, nil
}

func build(cfgm *config.ConfigManager, cfg *config.Config, ad Messenger, version string) (*App, error) {
	// logx.New applies immediately; chat forwarding is enabled only after
	// the target is set so Apply does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(kit.ChatTarget{ChatID: cfg.Telegram.OperatorChatID})
	logSvc.Apply(logCfg)
	log = log.With(logx.Component("app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	a.loc.Store(loadLocation(cfg.Scheduler.Timezone))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		return nil, err
	}
	a.store = st
	log.Info("storage opened", logx.String("driver", sc.Driver))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a.api = reminders.New(st, log.With(logx.Component("reminders")), a.bus,
		reminders.WithLocation(a.location),
	)
	a.notif = notifier.New(ncfg, ad, log.With(logx.Component("router")), a.bus)
	a.sched = scheduler.New(scfg, st, a.notif, log.With(logx.Component("scheduler")), a.bus,
		scheduler.WithHeartbeat(a.scanned),
	)
	a.cmdm = router.NewCommandManager(log.With(logx.Component("commands")), ad, a.api, mapAccess(cfg))
	a.mcp = mcpserver.New(a.api, log, version)
	a.mcpHTTP = mcpserver.NewHTTPServer(a.mcp)
	return a, nil
}

func (a *App) location() *time.Location { return a.loc.Load() }

func (a *App) scanned() { a.lastScan.Store(time.Now().UnixNano()) }

// Reminders exposes the command API, mainly for tests and embedding.
func (a *App) Reminders() *reminders.Service { return a.api }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = time.Now()
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.cmdm.MenuCommands()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}

	// Deliveries outlive the run context so Stop can drain the queue.
	a.notif.Start(context.WithoutCancel(runCtx))
	a.sched.Start(runCtx)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if err := a.mcpHTTP.Apply(runCtx, mapMCPConfig(a.cfgm.Get())); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("mcp: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.watchEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				newCfg = drainLatest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if every := systemd.WatchdogInterval(); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			a.watchdogLoop(c, every)
		})
	}

	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started")
	return nil
}

func drainLatest(ch <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-ch:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// applyConfig pushes a committed reload into the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	if ch.Has("logging") || ch.Has("telegram") {
		// update log target first (so Apply() doesn't warn when chat logging is enabled)
		a.logs.SetChatTarget(kit.ChatTarget{ChatID: newCfg.Telegram.OperatorChatID})
		a.logs.Apply(mapLogConfig(newCfg))
		a.cmdm.SetAccess(mapAccess(newCfg))
	}

	if ch.Has("scheduler") {
		if scfg, err := mapSchedulerConfig(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.loc.Store(loadLocation(scfg.Timezone))
			a.sched.Apply(scfg)
		}
	}

	if ch.Has("router") {
		if ncfg, err := mapNotifierConfig(newCfg); err != nil {
			a.log.Warn("invalid router config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
	}

	if ch.Has("mcp") {
		if err := a.mcpHTTP.Apply(ctx, mapMCPConfig(newCfg)); err != nil {
			a.log.Warn("mcp endpoint not applied", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: ch.Sections})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Scheduler first so nothing new is claimed while the router drains.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("mcp", 2*time.Second, func(c context.Context) error { a.mcpHTTP.Stop(c); return nil })
	step("router", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped", logx.Duration("uptime", time.Since(a.startedAt)))
	return a.logs.Close()
}
