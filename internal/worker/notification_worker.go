package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-support/internal/events"
)

// EventHandler processes one queued event.
type EventHandler interface {
	Handle(ctx context.Context, event events.Event) error
}

// NotificationWorker moves notification delivery off the request path:
// dispatcher callbacks only enqueue, and a background goroutine drains the
// queue into the handler.
type NotificationWorker struct {
	handler EventHandler
	queue   chan events.Event
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewNotificationWorker builds a worker with a bounded queue.
func NewNotificationWorker(handler EventHandler, queueSize int, logger *zap.Logger) *NotificationWorker {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &NotificationWorker{
		handler: handler,
		queue:   make(chan events.Event, queueSize),
		logger:  logger,
	}
}

// Register subscribes the worker to every event type.
func (w *NotificationWorker) Register(d events.Dispatcher) {
	events.SubscribeAll(d, w.Enqueue)
}

// Enqueue queues an event without blocking. When the queue is full the event
// is dropped and logged.
func (w *NotificationWorker) Enqueue(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
	default:
		w.logger.Warn("notification queue full; dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("subject_id", event.SubjectID))
	}
	return nil
}

// Start drains the queue until ctx is cancelled. Events still queued at
// cancellation are delivered before the goroutine exits.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event := <-w.queue:
				w.deliver(ctx, event)
			case <-ctx.Done():
				w.drain()
				return
			}
		}
	}()
}

// Wait blocks until the worker goroutine has exited.
func (w *NotificationWorker) Wait() {
	w.wg.Wait()
}

func (w *NotificationWorker) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-w.queue:
			w.deliver(ctx, event)
		default:
			return
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, event events.Event) {
	if err := w.handler.Handle(ctx, event); err != nil {
		w.logger.Warn("notification delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("subject_id", event.SubjectID),
			zap.Error(err))
	}
}
