package feed

import (
	"context"
	"testing"
	"time"

	"github.com/GideonEse/fete/internal/session"
)

func TestInMemoryBroadcast(t *testing.T) {
	ctx := context.Background()
	f := NewInMemory()

	ch1, cancel1, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel1()
	ch2, cancel2, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel2()

	evt := Event{Type: EventArrival, MemberID: "m1", Status: session.StatusOnTime, At: time.Now()}
	if err := f.Publish(ctx, evt); err != nil {
		t.Fatal(err)
	}

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.MemberID != "m1" || got.Type != EventArrival {
				t.Errorf("subscriber %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestInMemoryCancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	f := NewInMemory()

	ch, cancel, _ := f.Subscribe(ctx)
	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic or deliver.
	if err := f.Publish(ctx, Event{Type: EventExit}); err != nil {
		t.Fatal(err)
	}
}

func TestInMemoryDropsWhenSubscriberStalls(t *testing.T) {
	ctx := context.Background()
	f := NewInMemory()

	_, cancel, _ := f.Subscribe(ctx)
	defer cancel()

	// Overfill the buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			f.Publish(ctx, Event{Type: EventArrival})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}
}
