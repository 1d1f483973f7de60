package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

const (
	DefaultInterval = 5 * time.Second
	MinInterval     = time.Second
)

// Config controls the scan loop.
type Config struct {
	Enabled  bool
	Interval time.Duration
	// Timezone (IANA) only affects log output and snapshots.
	Timezone string
}

// Store is the part of storage.Store the scan needs.
type Store interface {
	Due(ctx context.Context, now time.Time) ([]reminder.Reminder, error)
	MarkTriggered(ctx context.Context, id int64) (reminder.Reminder, error)
}

// Dispatcher hands a claimed reminder to delivery. It must not block.
type Dispatcher interface {
	Dispatch(r reminder.Reminder) error
}

type Option func(*Service)

// WithClock replaces time.Now for due checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHeartbeat registers a callback run after every completed scan.
func WithHeartbeat(fn func()) Option {
	return func(s *Service) { s.heartbeat = fn }
}

type Service struct {
	applyMu sync.Mutex // serializes Start, Stop and Apply
	mu      sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	store  Store
	router Dispatcher

	now       func() time.Time
	heartbeat func()

	c       *cron.Cron
	entryID cron.EntryID
	// firstScan closes when the scan run by startLocked returns; cron's
	// Stop does not wait for it.
	firstScan chan struct{}
	runCtx  context.Context
	stopRun context.CancelFunc

	stats scanStats
}

// ScanResult summarizes one pass over the due set.
type ScanResult struct {
	At             time.Time
	Due            int
	Triggered      int
	Lost           int // claimed by someone else first
	Failed         int // store errors while claiming
	DispatchFailed int
	Took           time.Duration
}

// Snapshot is a point-in-time view for status output.
type Snapshot struct {
	Enabled    bool
	Running    bool
	Interval   time.Duration
	Timezone   string
	NextScanAt time.Time

	Scans          uint64
	Triggered      uint64
	Lost           uint64
	Failed         uint64
	DispatchFailed uint64

	LastScanAt   time.Time
	LastScanTook time.Duration
	LastError    string
	LastErrorAt  time.Time
}

type scanStats struct {
	scans          uint64
	triggered      uint64
	lost           uint64
	failed         uint64
	dispatchFailed uint64
	lastScanAt     time.Time
	lastScanTook   time.Duration
	lastErr        string
	lastErrAt      time.Time
}

func normalizeInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	if d < MinInterval {
		return MinInterval
	}
	return d
}
