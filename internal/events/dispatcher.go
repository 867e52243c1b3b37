package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

type registry struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
}

func (r *registry) handlers(eventType EventType) []EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventHandler{}, r.listeners[eventType]...)
}

// Subscribe registers a handler for the given event type.
func (r *registry) Subscribe(eventType EventType, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[eventType] = append(r.listeners[eventType], handler)
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	registry
	logger *zap.Logger
}

// NewInMemoryDispatcher creates a synchronous dispatcher. Handler errors
// are logged and never returned.
func NewInMemoryDispatcher(logger *zap.Logger) Dispatcher {
	return &inMemoryDispatcher{
		registry: registry{listeners: make(map[EventType][]EventHandler)},
		logger:   logger,
	}
}

// Publish synchronously invokes handlers for the given event.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	for _, handler := range d.handlers(event.Type) {
		runHandler(ctx, d.logger, handler, event)
	}
	return nil
}

// AsyncDispatcher runs every handler on its own goroutine so publishers
// never wait on delivery.
type AsyncDispatcher struct {
	registry
	logger *zap.Logger
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

// NewAsyncDispatcher creates a fire-and-forget dispatcher.
func NewAsyncDispatcher(logger *zap.Logger) *AsyncDispatcher {
	return &AsyncDispatcher{
		registry: registry{listeners: make(map[EventType][]EventHandler)},
		logger:   logger,
	}
}

// Publish schedules handlers and returns immediately. Handlers get a
// context detached from the caller's cancellation so a finished HTTP
// request does not abort delivery.
func (d *AsyncDispatcher) Publish(ctx context.Context, event Event) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return fmt.Errorf("dispatcher closed; dropping %s", event.Type)
	}

	detached := context.WithoutCancel(ctx)
	for _, handler := range d.handlers(event.Type) {
		d.wg.Add(1)
		go func(h EventHandler) {
			defer d.wg.Done()
			runHandler(detached, d.logger, h, event)
		}(handler)
	}
	return nil
}

// Wait blocks until every scheduled handler has returned.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

// Close rejects new events and waits for in-flight handlers or ctx.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.closeMu.Lock()
	d.closed = true
	d.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runHandler(ctx context.Context, logger *zap.Logger, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panic",
				zap.String("event_type", string(event.Type)),
				zap.Int64("ticket_id", event.TicketID),
				zap.Any("panic", r))
		}
	}()
	if err := handler(ctx, event); err != nil {
		logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID),
			zap.Error(err))
	}
}
