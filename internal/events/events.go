package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// ===============================
// EVENT INTERFACE
// ===============================

// Event represents a domain event
type Event interface {
	GetEventID() string
	GetEventType() string
}

// BaseEvent carries the fields every event has
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
}

// GetEventID returns the event ID
func (e *BaseEvent) GetEventID() string {
	return e.EventID
}

// GetEventType returns the event type
func (e *BaseEvent) GetEventType() string {
	return e.EventType
}

// ===============================
// EVENT BUS INTERFACE
// ===============================

// ErrBusStopped is returned by Health once the bus has stopped.
var ErrBusStopped = errors.New("event bus is stopped")

// EventBus delivers events to subscribed handlers
type EventBus interface {
	// Publish runs the synchronous handlers and returns their joined
	// errors. Asynchronous handlers are queued for the workers and never
	// delay or fail the publisher.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler that runs inside Publish.
	Subscribe(eventType string, handler EventHandler) error
	// SubscribeAsync registers a handler that runs on a bus worker.
	SubscribeAsync(eventType string, handler EventHandler) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() error
}

// EventHandler handles one event
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
	GetHandlerID() string
}

// ===============================
// IN-MEMORY EVENT BUS
// ===============================

type subscription struct {
	handler EventHandler
	async   bool
}

// delivery is one async handler invocation waiting for a worker
type delivery struct {
	ctx     context.Context
	event   Event
	handler EventHandler
}

type inMemoryEventBus struct {
	mu             sync.RWMutex
	subscriptions  map[string][]subscription
	deliveries     chan delivery
	logger         *zap.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	bufferSize     int
	workerCount    int
	handlerTimeout time.Duration
	started        int32
	dropped        int64
}

// EventBusConfig holds configuration for the event bus
type EventBusConfig struct {
	BufferSize     int
	WorkerCount    int
	HandlerTimeout time.Duration
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() *EventBusConfig {
	return &EventBusConfig{
		BufferSize:     1000,
		WorkerCount:    4,
		HandlerTimeout: 30 * time.Second,
	}
}

// NewEventBus creates a new in-memory event bus. Until Start is called,
// asynchronous handlers run inline.
func NewEventBus(config *EventBusConfig, logger *zap.Logger) EventBus {
	if config == nil {
		config = DefaultEventBusConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBusConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = DefaultEventBusConfig().HandlerTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &inMemoryEventBus{
		subscriptions:  make(map[string][]subscription),
		deliveries:     make(chan delivery, config.BufferSize),
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		bufferSize:     config.BufferSize,
		workerCount:    config.WorkerCount,
		handlerTimeout: config.HandlerTimeout,
	}
}

func (b *inMemoryEventBus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subscriptions[event.GetEventType()]...)
	b.mu.RUnlock()

	b.logger.Debug("Publishing event",
		zap.String("event_id", event.GetEventID()),
		zap.String("event_type", event.GetEventType()),
		zap.Int("handlers", len(subs)),
	)

	var errs []error
	for _, sub := range subs {
		if sub.async {
			b.dispatch(ctx, event, sub.handler)
			continue
		}
		if err := b.executeHandler(ctx, sub.handler, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.handler.GetHandlerID(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		b.logger.Error("Failed to process event",
			zap.String("event_id", event.GetEventID()),
			zap.String("event_type", event.GetEventType()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// dispatch queues an async handler. The handler sees ctx's values but not
// its cancellation. A full queue or a stopped bus drops the delivery.
func (b *inMemoryEventBus) dispatch(ctx context.Context, event Event, handler EventHandler) {
	detached := context.WithoutCancel(ctx)

	if atomic.LoadInt32(&b.started) == 0 {
		b.run(detached, handler, event)
		return
	}
	if b.ctx.Err() != nil {
		b.drop(event, handler, ErrBusStopped)
		return
	}

	select {
	case b.deliveries <- delivery{ctx: detached, event: event, handler: handler}:
	default:
		b.drop(event, handler, fmt.Errorf("event queue is full"))
	}
}

func (b *inMemoryEventBus) drop(event Event, handler EventHandler, reason error) {
	atomic.AddInt64(&b.dropped, 1)
	b.logger.Warn("Event delivery dropped",
		zap.String("event_id", event.GetEventID()),
		zap.String("handler_id", handler.GetHandlerID()),
		zap.Error(reason),
	)
}

func (b *inMemoryEventBus) Subscribe(eventType string, handler EventHandler) error {
	return b.subscribe(eventType, handler, false)
}

func (b *inMemoryEventBus) SubscribeAsync(eventType string, handler EventHandler) error {
	return b.subscribe(eventType, handler, true)
}

func (b *inMemoryEventBus) subscribe(eventType string, handler EventHandler, async bool) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{handler: handler, async: async})

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", eventType),
		zap.String("handler_id", handler.GetHandlerID()),
		zap.Bool("async", async),
	)
	return nil
}

// Start launches the workers that run asynchronous handlers
func (b *inMemoryEventBus) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return fmt.Errorf("event bus already started")
	}

	b.logger.Info("Starting event bus", zap.Int("worker_count", b.workerCount))

	for i := 0; i < b.workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	return nil
}

// Stop stops the workers after they drain the queue
func (b *inMemoryEventBus) Stop(ctx context.Context) error {
	b.logger.Info("Stopping event bus")

	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus stopped",
			zap.Int64("dropped_deliveries", atomic.LoadInt64(&b.dropped)),
		)
	case <-ctx.Done():
		b.logger.Warn("Event bus stop timeout")
		return ctx.Err()
	}
	return nil
}

// Health reports a stopped bus or a queue more than 80% full
func (b *inMemoryEventBus) Health() error {
	if b.ctx.Err() != nil {
		return ErrBusStopped
	}

	depth := len(b.deliveries)
	if depth > b.bufferSize*80/100 {
		return fmt.Errorf("event queue is %d%% full", depth*100/b.bufferSize)
	}
	return nil
}

func (b *inMemoryEventBus) worker(workerID int) {
	defer b.wg.Done()

	for {
		select {
		case d := <-b.deliveries:
			b.run(d.ctx, d.handler, d.event)
		case <-b.ctx.Done():
			for {
				select {
				case d := <-b.deliveries:
					b.run(d.ctx, d.handler, d.event)
				default:
					return
				}
			}
		}
	}
}

// run executes an async handler; its error only reaches the log
func (b *inMemoryEventBus) run(ctx context.Context, handler EventHandler, event Event) {
	if err := b.executeHandler(ctx, handler, event); err != nil {
		b.logger.Error("Async handler failed",
			zap.String("handler_id", handler.GetHandlerID()),
			zap.String("event_id", event.GetEventID()),
			zap.String("event_type", event.GetEventType()),
			zap.Error(err),
		)
	}
}

// executeHandler executes a single handler with timeout and recovery
func (b *inMemoryEventBus) executeHandler(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked",
				zap.String("handler_id", handler.GetHandlerID()),
				zap.String("event_type", event.GetEventType()),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	handlerCtx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
	defer cancel()

	return handler.Handle(handlerCtx, event)
}

// ===============================
// UTILITY FUNCTIONS
// ===============================

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return "evt_" + uuid.Must(uuid.NewV4()).String()
}

// TypedEventHandler is a generic handler for specific event types
type TypedEventHandler[T Event] struct {
	ID      string
	Handler func(ctx context.Context, event T) error
}

// Handle implements EventHandler
func (h TypedEventHandler[T]) Handle(ctx context.Context, event Event) error {
	if typedEvent, ok := event.(T); ok {
		return h.Handler(ctx, typedEvent)
	}
	return fmt.Errorf("event type mismatch: expected %T, got %T", *new(T), event)
}

// GetHandlerID implements EventHandler
func (h TypedEventHandler[T]) GetHandlerID() string {
	return h.ID
}

// NewTypedEventHandler creates a typed event handler
func NewTypedEventHandler[T Event](id string, handler func(ctx context.Context, event T) error) EventHandler {
	return TypedEventHandler[T]{
		ID:      id,
		Handler: handler,
	}
}
