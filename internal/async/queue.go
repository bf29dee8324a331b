// Package async runs worker triggers in-process for deployments without an
// external event source.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/imagetext/internal/trigger"
)

var ErrQueueClosed = errors.New("event queue is shutting down")

// Handler processes one trigger. A non-nil error is redelivered when the
// queue's retry predicate accepts it.
type Handler func(ctx context.Context, t trigger.Trigger) error

// Event is one delivery of a trigger.
type Event struct {
	Trigger    trigger.Trigger
	Delivery   int // 1 for the first attempt
	EnqueuedAt time.Time
}

type EventQueue struct {
	handle        Handler
	retryable     func(error) bool
	logger        *slog.Logger
	workers       int
	timeout       time.Duration
	maxDeliveries int
	delay         time.Duration

	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*EventQueue)

func WithWorkers(n int) Option {
	return func(q *EventQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *EventQueue) {
		if n > 0 {
			q.ch = make(chan Event, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *EventQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithRedelivery bounds redelivery of failed events. max counts all
// deliveries including the first; delay grows linearly per attempt.
func WithRedelivery(max int, delay time.Duration, retryable func(error) bool) Option {
	return func(q *EventQueue) {
		if max > 0 {
			q.maxDeliveries = max
		}
		if delay >= 0 {
			q.delay = delay
		}
		if retryable != nil {
			q.retryable = retryable
		}
	}
}

func NewEventQueue(h Handler, logger *slog.Logger, opts ...Option) *EventQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &EventQueue{
		handle:        h,
		retryable:     func(error) bool { return true },
		logger:        logger,
		workers:       4,
		timeout:       3 * time.Minute,
		maxDeliveries: 1,
		ch:            make(chan Event, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *EventQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for ev := range q.ch {
					q.run(workerID, ev)
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *EventQueue) run(workerID int, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	err := q.handle(ctx, ev.Trigger)
	cancel()

	log := q.logger.With("worker_id", workerID, "bucket", ev.Trigger.Bucket, "key", ev.Trigger.Key, "delivery", ev.Delivery)
	if err == nil {
		log.Debug("event handled", "wait_ms", time.Since(ev.EnqueuedAt).Milliseconds())
		return
	}
	if !q.retryable(err) || ev.Delivery >= q.maxDeliveries {
		log.Error("event dropped", "error", err)
		return
	}
	log.Warn("event failed, redelivering", "error", err)
	next := Event{Trigger: ev.Trigger, Delivery: ev.Delivery + 1}
	time.AfterFunc(q.delay*time.Duration(ev.Delivery), func() {
		if err := q.enqueue(context.Background(), next); err != nil {
			q.logger.Warn("redelivery abandoned", "key", next.Trigger.Key, "error", err)
		}
	})
}

// Enqueue schedules the first delivery of t. It blocks while the queue is full
// until ctx is done.
func (q *EventQueue) Enqueue(ctx context.Context, t trigger.Trigger) error {
	return q.enqueue(ctx, Event{Trigger: t, Delivery: 1})
}

func (q *EventQueue) enqueue(ctx context.Context, ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "key", ev.Trigger.Key)
		return ErrQueueClosed
	}
	ev.EnqueuedAt = time.Now()
	select {
	case q.ch <- ev:
		q.logger.Debug("queued event", "key", ev.Trigger.Key, "delivery", ev.Delivery)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "key", ev.Trigger.Key)
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting events and waits for queued ones to finish or for
// ctx to end. Pending redeliveries are abandoned.
func (q *EventQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
