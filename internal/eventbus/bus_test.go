package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	failed, unsubFailed := b.Subscribe(4, TypeReminderDeliveryFailed)
	defer unsubFailed()

	b.Publish(Event{Type: TypeReminderTriggered, Data: ReminderEvent{ID: 1}})
	b.Publish(Event{Type: TypeReminderDeliveryFailed, Data: ReminderEvent{ID: 1, Error: "boom"}})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(failed); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-failed
	if e.Time.IsZero() {
		t.Fatal("publish should stamp the event time")
	}
	if ev, ok := e.Data.(ReminderEvent); !ok || ev.Error != "boom" {
		t.Fatalf("unexpected payload: %#v", e.Data)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TypeReminderDelivered})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if d := b.Dropped(); d != 9 {
		t.Fatalf("dropped = %d, want 9", d)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: TypeReminderCreated})
}
