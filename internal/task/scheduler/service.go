package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

func New(cfg Config, store Store, router Dispatcher, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		store:  store,
		router: router,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = loadLocation(cfg.Timezone, log)
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins periodic scans and runs one immediately so reminders that
// came due while the process was down fire without waiting a full interval.
// ctx bounds every scan; Stop cancels it.
func (s *Service) Start(ctx context.Context) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	// Kept even when disabled so a reload can enable scanning later.
	s.runCtx, s.stopRun = context.WithCancel(ctx)
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	interval := normalizeInterval(s.cfg.Interval)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	// The chain is applied per entry; Entry.WrappedJob shares the skip lock.
	s.entryID = s.c.Schedule(cron.Every(interval), cron.FuncJob(s.tick))
	s.c.Start()
	first := make(chan struct{})
	s.firstScan = first
	job := s.c.Entry(s.entryID).WrappedJob
	go func() {
		defer close(first)
		job.Run()
	}()

	s.log.Info("scheduler started",
		logx.Duration("interval", interval),
		logx.String("tz", s.loc.String()),
	)
}

// Stop halts scanning and waits for an in-flight scan until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	start := time.Now()
	s.mu.Lock()
	c, first := s.c, s.firstScan
	s.c = nil
	s.entryID = 0
	s.firstScan = nil
	stopRun := s.stopRun
	s.mu.Unlock()

	if c != nil {
		select {
		case <-scansDone(c, first):
		case <-ctx.Done():
			s.log.Warn("scheduler stop timed out; cancelling scan")
		}
	}
	if stopRun != nil {
		stopRun()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply hot-reloads the config. Interval, timezone or enable changes restart
// the ticker. A scan in progress finishes before the new ticker starts.
func (s *Service) Apply(cfg Config) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	tzChanged := strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone)
	if tzChanged {
		s.loc = loadLocation(cfg.Timezone, s.log)
	}
	changed := tzChanged ||
		normalizeInterval(old.Interval) != normalizeInterval(cfg.Interval) ||
		old.Enabled != cfg.Enabled
	// Never started, or nothing the ticker depends on moved.
	if s.runCtx == nil || !changed {
		s.mu.Unlock()
		return
	}
	c, first := s.c, s.firstScan
	s.c = nil
	s.entryID = 0
	s.firstScan = nil
	s.mu.Unlock()

	// Stop waits for a running scan, which itself takes s.mu.
	if c != nil {
		<-scansDone(c, first)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled by config reload")
		return
	}
	if s.c == nil && s.runCtx.Err() == nil {
		s.startLocked()
	}
}

// scansDone stops c and closes the returned channel once neither a cron run
// nor the startup scan is still in flight.
func scansDone(c *cron.Cron, first <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	stopped := c.Stop()
	go func() {
		defer close(done)
		<-stopped.Done()
		if first != nil {
			<-first
		}
	}()
	return done
}

func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := s.ScanOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("due scan failed", logx.Err(err))
	}
}

func (s *Service) publish(typ string, data eventbus.ReminderEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
