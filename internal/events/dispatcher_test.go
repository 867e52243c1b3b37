package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

func TestInMemoryDispatcherRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())
	var calls int32
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("first fails")
	})
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		panic("second panics")
	})
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	d.Subscribe(EventTicketAssigned, func(context.Context, Event) error {
		t.Fatal("wrong event type delivered")
		return nil
	})

	ev := New(EventTicketCreated, 1, domain.Actor{ID: 3}, time.Now(), TicketCreatedPayload{})
	if err := d.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestAsyncDispatcherDoesNotBlockPublisher(t *testing.T) {
	d := NewAsyncDispatcher(zap.NewNop())
	release := make(chan struct{})
	var done int32
	d.Subscribe(EventTicketStatusChanged, func(ctx context.Context, _ Event) error {
		<-release
		if ctx.Err() != nil {
			t.Error("handler context should be detached from the publisher")
		}
		atomic.StoreInt32(&done, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Publish(ctx, New(EventTicketStatusChanged, 9, domain.Actor{}, time.Now(), nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	cancel()
	if atomic.LoadInt32(&done) != 0 {
		t.Fatal("publish waited for the handler")
	}

	close(release)
	d.Wait()
	if atomic.LoadInt32(&done) != 1 {
		t.Fatal("handler never completed")
	}
}

func TestAsyncDispatcherClose(t *testing.T) {
	d := NewAsyncDispatcher(zap.NewNop())
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error { return nil })

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Publish(context.Background(), New(EventTicketCreated, 1, domain.Actor{}, time.Now(), nil)); err == nil {
		t.Fatal("publish after close should fail")
	}
}

func TestAsyncDispatcherCloseHonorsContext(t *testing.T) {
	d := NewAsyncDispatcher(zap.NewNop())
	block := make(chan struct{})
	defer close(block)
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		<-block
		return nil
	})
	_ = d.Publish(context.Background(), New(EventTicketCreated, 1, domain.Actor{}, time.Now(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err=%v", err)
	}
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New(EventTicketCreated, 1, domain.Actor{}, time.Now(), nil)
	b := New(EventTicketCreated, 1, domain.Actor{}, time.Now(), nil)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids %q %q", a.ID, b.ID)
	}
}
