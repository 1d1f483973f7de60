package notifier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

// Service is the notification router. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log       logx.Logger
	deliverer Deliverer
	bus       eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan reminder.Reminder
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	queued    atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, deliverer Deliverer, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		deliverer: deliverer,
		log:       log,
		bus:       bus,
	}
	s.applyLocked(cfg)
	return s
}

// Apply hot-reloads rate and timeout. Worker and queue sizes take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s.cfg = cfg
	// Burst equals the per-second rate so a batch of reminders due together
	// goes out without stalling.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the worker pool. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan reminder.Reminder, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// A broken worker must not take the daemon down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("router.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
	s.log.Info("router started", logx.Int("workers", workers), logx.Int("queue", cap(q)))
}

// Stop stops intake and drains the queue until ctx ends; whatever is left
// afterwards is dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight Dispatch calls finish before the queue closes.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
		s.log.Info("router stopped")
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("router stop deadline reached; pending deliveries dropped", logx.Int("pending", len(q)))
	}
}

// Dispatch enqueues r for delivery without blocking.
func (s *Service) Dispatch(r reminder.Reminder) error {
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- r:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *Service) Stats() Stats {
	st := Stats{
		Queued:    s.queued.Load(),
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
	s.mu.Lock()
	if s.queue != nil {
		st.QueueLen = len(s.queue)
		st.QueueCap = cap(s.queue)
	}
	s.mu.Unlock()
	return st
}

// History returns recent delivery outcomes, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem, limit int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan reminder.Reminder) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-q:
			if !ok {
				return
			}
			_ = s.deliver(ctx, r)
		}
	}
}

// deliver makes exactly one attempt.
func (s *Service) deliver(runCtx context.Context, r reminder.Reminder) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if err := lim.Wait(runCtx); err != nil {
		return s.fail(r, cfg, 0, err)
	}
	if s.deliverer == nil {
		return s.fail(r, cfg, 0, fmt.Errorf("no deliverer configured"))
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(runCtx, cfg.DeliveryTimeout)
	err := s.deliverer.Deliver(callCtx, r.ChatID, r.Message)
	cancel()
	took := time.Since(start)
	if err != nil {
		return s.fail(r, cfg, took, err)
	}

	s.delivered.Add(1)
	s.appendHistory(HistoryItem{At: time.Now(), ReminderID: r.ID, ChatID: r.ChatID, OK: true, Took: took}, cfg.HistorySize)
	s.log.Debug("reminder delivered",
		logx.Int64("reminder_id", r.ID),
		logx.Int64("chat_id", r.ChatID),
		logx.Duration("took", took),
	)
	s.publish(eventbus.TypeReminderDelivered, eventbus.ReminderEvent{ID: r.ID, ChatID: r.ChatID})
	return nil
}

func (s *Service) fail(r reminder.Reminder, cfg Config, took time.Duration, cause error) error {
	err := &DeliveryError{ReminderID: r.ID, ChatID: r.ChatID, Err: cause}
	s.failed.Add(1)
	s.appendHistory(HistoryItem{At: time.Now(), ReminderID: r.ID, ChatID: r.ChatID, Error: cause.Error(), Took: took}, cfg.HistorySize)
	s.log.Warn("reminder delivery failed",
		logx.Int64("reminder_id", r.ID),
		logx.Int64("chat_id", r.ChatID),
		logx.Err(cause),
	)
	s.publish(eventbus.TypeReminderDeliveryFailed, eventbus.ReminderEvent{ID: r.ID, ChatID: r.ChatID, Error: cause.Error()})
	return err
}

func (s *Service) publish(typ string, data eventbus.ReminderEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
