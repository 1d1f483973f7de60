// Package eventbus is an in-memory fanout for reminder lifecycle signals.
//
// Publish never blocks. Subscribers get buffered channels; a slow subscriber
// loses events instead of stalling the scheduler or the router.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeReminderCreated        = "reminder.created"
	TypeReminderCancelled      = "reminder.cancelled"
	TypeReminderTriggered      = "reminder.triggered"
	TypeReminderDelivered      = "reminder.delivered"
	TypeReminderDeliveryFailed = "reminder.delivery_failed"
	TypeConfigReloaded         = "config.reloaded"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// ReminderEvent is the Data of every reminder.* event.
type ReminderEvent struct {
	ID     int64  `json:"id"`
	ChatID int64  `json:"chat_id"`
	Error  string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every event type when types is empty.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts events lost to full subscriber buffers.
	Dropped() uint64
}

// New returns a bus that owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch    chan Event
	types []string
}

func (s *subscriber) wants(t string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		// A concurrent unsubscribe may close the channel under us.
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscriber{ch: make(chan Event, buffer), types: slices.Clone(types)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
