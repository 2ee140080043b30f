// Package notify delivers stock alerts to operators after a sale commits.
// Delivery is best effort: a failed or dropped alert never affects the sale.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"pharmaledger/backend/internal/domain"
)

const (
	DefaultBuffer   = 256
	deliveryTimeout = 5 * time.Second
)

type Sink interface {
	Notify(ctx context.Context, alert domain.StockAlert) error
}

// Publisher is what the sale coordinator hands alerts to.
type Publisher interface {
	Publish(alert domain.StockAlert) bool
}

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, alert domain.StockAlert) error {
	s.logger.Warn(alert.Subject,
		zap.String("medicine_id", alert.MedicineID),
		zap.String("medicine", alert.MedicineName),
		zap.Int("old_quantity", alert.OldQuantity),
		zap.Int("new_quantity", alert.NewQuantity),
		zap.String("status", string(alert.Status)),
	)
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, alert domain.StockAlert) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher queues alerts on a bounded buffer and delivers them from a
// single background worker.
type Dispatcher struct {
	sink   Sink
	logger *zap.Logger
	queue  chan domain.StockAlert
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	started bool
}

func NewDispatcher(sink Sink, buffer int, logger *zap.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sink:   sink,
		logger: logger,
		queue:  make(chan domain.StockAlert, buffer),
		done:   make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// Publish enqueues alert without blocking. It returns false when the alert
// was dropped because the buffer is full or the dispatcher is closed.
func (d *Dispatcher) Publish(alert domain.StockAlert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, alert dropped", zap.String("medicine", alert.MedicineName))
		return false
	}
	select {
	case d.queue <- alert:
		return true
	default:
		d.logger.Warn("alert buffer full, alert dropped",
			zap.String("medicine", alert.MedicineName),
			zap.String("status", string(alert.Status)),
		)
		return false
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for alert := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		if err := d.sink.Notify(ctx, alert); err != nil {
			d.logger.Error("alert delivery failed",
				zap.String("medicine", alert.MedicineName),
				zap.String("status", string(alert.Status)),
				zap.Error(err),
			)
		}
		cancel()
	}
}
