package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/vds/internal/models"
	"github.com/your-org/vds/internal/observability"
)

var (
	ErrQueueFull = errors.New("alert: dispatch queue full")
	ErrClosed    = errors.New("alert: dispatcher closed")
)

// Dispatcher hands an alert off for delivery. Dispatch never waits for the
// chat API; delivery outcomes are logged and counted, not returned.
type Dispatcher interface {
	Dispatch(ctx context.Context, a Alert) error
	Close(ctx context.Context) error
}

// NopDispatcher drops alerts. Used when alerting is disabled.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(_ context.Context, a Alert) error {
	slog.Info("alerts disabled, not notifying", "alert_id", a.ID, "file", a.Filename)
	return nil
}

func (NopDispatcher) Close(context.Context) error { return nil }

// AsyncDispatcher delivers alerts from a buffered channel on a background goroutine.
type AsyncDispatcher struct {
	notifier Notifier
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Alert
	done   chan struct{}
}

func NewAsyncDispatcher(n Notifier, queueSize int, timeout time.Duration) *AsyncDispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &AsyncDispatcher{
		notifier: n,
		timeout:  timeout,
		ch:       make(chan Alert, queueSize),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *AsyncDispatcher) loop() {
	defer close(d.done)
	for a := range d.ch {
		observability.AlertQueueDepth.Set(float64(len(d.ch)))
		ctx, cancel := context.WithTimeout(context.Background(), 2*d.timeout)
		_ = Deliver(ctx, d.notifier, a)
		cancel()
	}
}

// Dispatch enqueues a without blocking. A full queue drops the alert.
func (d *AsyncDispatcher) Dispatch(_ context.Context, a Alert) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.ch <- a:
		observability.AlertQueueDepth.Set(float64(len(d.ch)))
		return nil
	default:
		observability.AlertDeliveries.WithLabelValues("enqueue", "dropped").Inc()
		return ErrQueueFull
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered
// or for ctx to end.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AlertPublisher is the queue side of QueueDispatcher.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, task models.AlertTask) error
}

// QueueDispatcher publishes alerts to the ALERTS stream for cmd/notifier.
type QueueDispatcher struct {
	pub     AlertPublisher
	timeout time.Duration
}

func NewQueueDispatcher(pub AlertPublisher, timeout time.Duration) *QueueDispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &QueueDispatcher{pub: pub, timeout: timeout}
}

// Dispatch publishes the alert task. It is detached from ctx cancellation so a
// client disconnect does not lose the alert.
func (d *QueueDispatcher) Dispatch(ctx context.Context, a Alert) error {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := d.pub.PublishAlert(pubCtx, a.Task()); err != nil {
		observability.AlertDeliveries.WithLabelValues("enqueue", "error").Inc()
		return err
	}
	observability.AlertDeliveries.WithLabelValues("enqueue", "ok").Inc()
	return nil
}

func (d *QueueDispatcher) Close(context.Context) error { return nil }
