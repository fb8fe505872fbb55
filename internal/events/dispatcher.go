package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by QueuedDispatcher.Publish when the buffer is full
// and the event was dropped.
var ErrQueueFull = errors.New("event queue full")

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

type listeners struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
}

func (l *listeners) subscribe(eventType EventType, handler EventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[eventType] = append(l.handlers[eventType], handler)
}

func (l *listeners) forType(eventType EventType) []EventHandler {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]EventHandler{}, l.handlers[eventType]...)
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	listeners
}

// NewInMemoryDispatcher creates a dispatcher that runs handlers inline.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{listeners{handlers: make(map[EventType][]EventHandler)}}
}

// Publish synchronously invokes handlers for the given event. Handler errors
// are joined and returned after every handler ran.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, handler := range d.forType(event.Type) {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.subscribe(eventType, handler)
}

// QueuedOptions configures a QueuedDispatcher.
type QueuedOptions struct {
	BufferSize int
	Workers    int
}

// QueuedDispatcher buffers events and delivers them from worker goroutines
// started by Run. Publish never blocks.
type QueuedDispatcher struct {
	listeners
	queue   chan Event
	workers int
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewQueuedDispatcher creates a dispatcher with a bounded buffer.
func NewQueuedDispatcher(opts QueuedOptions, logger *zap.Logger) *QueuedDispatcher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueuedDispatcher{
		listeners: listeners{handlers: make(map[EventType][]EventHandler)},
		queue:     make(chan Event, opts.BufferSize),
		workers:   opts.Workers,
		logger:    logger,
	}
}

// Publish enqueues the event, dropping it when the buffer is full.
func (d *QueuedDispatcher) Publish(_ context.Context, event Event) error {
	select {
	case d.queue <- event:
		return nil
	default:
		d.dropped.Add(1)
		d.logger.Warn("event dropped, queue full",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID),
		)
		return ErrQueueFull
	}
}

// Subscribe registers a handler for the given event type.
func (d *QueuedDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.subscribe(eventType, handler)
}

// Dropped reports how many events were discarded because the buffer was full.
func (d *QueuedDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers events until ctx is cancelled, then drains what is already queued.
func (d *QueuedDispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event := <-d.queue:
					d.deliver(event)
				}
			}
		}()
	}
	wg.Wait()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return nil
		}
	}
}

func (d *QueuedDispatcher) deliver(event Event) {
	for _, handler := range d.forType(event.Type) {
		if err := d.invoke(handler, event); err != nil {
			d.logger.Warn("event handler failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err),
			)
		}
	}
}

func (d *QueuedDispatcher) invoke(handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(context.Background(), event)
}
