package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 2)

	bus.Subscribe(EventLoginAccepted, "a", func(ctx context.Context, e Event) error {
		got <- e
		return nil
	})
	bus.Subscribe(EventLoginAccepted, "b", func(ctx context.Context, e Event) error {
		got <- e
		return nil
	})
	bus.Subscribe(EventLoginRefused, "other", func(ctx context.Context, e Event) error {
		t.Error("handler for another event type called")
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventLoginAccepted, Payload: LoginAcceptedPayload{UserID: "test"}})

	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			if p := e.Payload.(LoginAcceptedPayload); p.UserID != "test" {
				t.Errorf("payload = %+v", p)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
	bus.Stop()
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")

	bus.Subscribe(EventShutdown, "fails", func(ctx context.Context, e Event) error { return boom })
	bus.Subscribe(EventShutdown, "panics", func(ctx context.Context, e Event) error { panic("handler bug") })

	if err := bus.EmitSync(context.Background(), Event{Type: EventShutdown}); !errors.Is(err, boom) {
		t.Errorf("EmitSync = %v, want boom", err)
	}
	if err := bus.EmitSync(context.Background(), Event{Type: EventStartup}); err != nil {
		t.Errorf("EmitSync without handlers = %v", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32

	bus.Subscribe(EventEnter, "keep", func(ctx context.Context, e Event) error { calls.Add(1); return nil })
	bus.Subscribe(EventEnter, "drop", func(ctx context.Context, e Event) error { calls.Add(10); return nil })
	bus.Unsubscribe(EventEnter, "drop")

	if n := bus.HandlerCount(EventEnter); n != 1 {
		t.Fatalf("HandlerCount = %d, want 1", n)
	}
	_ = bus.EmitSync(context.Background(), Event{Type: EventEnter})
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestStopDropsLaterEvents(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventSessionClosed, "count", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventSessionClosed})
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventSessionClosed})

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
