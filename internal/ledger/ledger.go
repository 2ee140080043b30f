// Package ledger owns every write to medicine and batch stock quantities.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"pharmaledger/backend/internal/allocation"
	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
	"pharmaledger/backend/internal/xid"
)

const (
	DefaultLockTimeout  = 2 * time.Second
	DefaultStoreTimeout = 5 * time.Second

	compensateAttempts = 5
	compensateBackoff  = 25 * time.Millisecond
)

type Options struct {
	LockTimeout  time.Duration
	StoreTimeout time.Duration
	Allocator    *allocation.Allocator
	Logger       *zap.Logger
}

type Ledger struct {
	stock        store.StockStore
	allocator    *allocation.Allocator
	lockTimeout  time.Duration
	storeTimeout time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
	reads singleflight.Group
}

func New(stock store.StockStore, opts Options) *Ledger {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Allocator == nil {
		opts.Allocator = allocation.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ledger{
		stock:        stock,
		allocator:    opts.Allocator,
		lockTimeout:  opts.LockTimeout,
		storeTimeout: opts.StoreTimeout,
		logger:       opts.Logger,
		locks:        make(map[string]*semaphore.Weighted),
	}
}

const (
	stateApplied int32 = iota
	stateCompensating
	stateCompensated
)

// Reservation records one applied decrement so it can be reversed.
type Reservation struct {
	ID           string
	MedicineID   string
	MedicineName string
	Quantity     int
	OldQuantity  int
	NewQuantity  int
	Draws        []domain.BatchDraw

	state atomic.Int32
}

func (r *Reservation) Compensated() bool {
	return r.state.Load() == stateCompensated
}

// GetAvailable reads the quantity a sale could take right now without
// taking the medicine's lock. Concurrent reads of one medicine share a
// single store round trip.
func (l *Ledger) GetAvailable(ctx context.Context, medicineID string) (int, error) {
	v, err, _ := l.reads.Do(medicineID, func() (any, error) {
		// Shared by every waiter, so one caller leaving must not fail the rest.
		med, batches, err := l.snapshot(context.WithoutCancel(ctx), medicineID)
		if err != nil {
			return 0, err
		}
		return l.allocator.Available(*med, batches), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// ReserveAndDecrement re-checks availability under the medicine's lock and
// applies the allocation as one compare-and-set change.
func (l *Ledger) ReserveAndDecrement(ctx context.Context, medicineID string, qty int) (*Reservation, error) {
	if qty < 1 {
		return nil, &domain.ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}

	release, err := l.acquire(ctx, medicineID)
	if err != nil {
		return nil, err
	}
	defer release()

	med, batches, err := l.snapshot(ctx, medicineID)
	if err != nil {
		return nil, err
	}
	med, batches, err = l.writeOffExpired(ctx, med, batches)
	if err != nil {
		return nil, err
	}
	available := l.allocator.Available(*med, batches)
	alloc, err := l.allocator.Allocate(*med, batches, qty)
	if err != nil {
		return nil, err
	}

	draws := make([]domain.BatchDraw, 0, len(alloc.Draws))
	for _, d := range alloc.Draws {
		draws = append(draws, domain.BatchDraw{BatchID: d.BatchID, Quantity: -d.Quantity})
	}
	change := domain.StockChange{
		MedicineID:       med.ID,
		ExpectedQuantity: med.QuantityInStock,
		Delta:            -qty,
		Draws:            draws,
	}
	if err := l.apply(ctx, change); err != nil {
		return nil, err
	}
	l.reads.Forget(medicineID)

	r := &Reservation{
		ID:           xid.New("rsv"),
		MedicineID:   med.ID,
		MedicineName: med.Name,
		Quantity:     qty,
		OldQuantity:  available,
		NewQuantity:  available - qty,
		Draws:        alloc.Draws,
	}
	l.logger.Debug("stock decremented",
		zap.String("reservation_id", r.ID),
		zap.String("medicine_id", r.MedicineID),
		zap.Int("quantity", alloc.Requested),
		zap.Bool("batch_tracked", alloc.Tracked),
		zap.Int("draws", len(alloc.Draws)),
		zap.Int("old_quantity", r.OldQuantity),
		zap.Int("new_quantity", r.NewQuantity),
	)
	return r, nil
}

// Compensate puts a reservation's units back into the batches they were
// drawn from. Calling it again for the same reservation is a no-op.
func (l *Ledger) Compensate(ctx context.Context, r *Reservation) error {
	if r == nil {
		return nil
	}
	if !r.state.CompareAndSwap(stateApplied, stateCompensating) {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= compensateAttempts; attempt++ {
		lastErr = l.compensateOnce(ctx, r)
		if lastErr == nil {
			r.state.Store(stateCompensated)
			l.reads.Forget(r.MedicineID)
			l.logger.Debug("reservation compensated",
				zap.String("reservation_id", r.ID),
				zap.String("medicine_id", r.MedicineID),
				zap.Int("quantity", r.Quantity),
			)
			return nil
		}
		if errors.Is(lastErr, domain.ErrNotFound) {
			break
		}
		l.logger.Warn("compensation attempt failed",
			zap.String("reservation_id", r.ID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt < compensateAttempts {
			time.Sleep(compensateBackoff * time.Duration(attempt))
		}
	}

	r.state.Store(stateApplied)
	l.logger.Error("compensation abandoned",
		zap.String("reservation_id", r.ID),
		zap.String("medicine_id", r.MedicineID),
		zap.Int("quantity", r.Quantity),
		zap.Error(lastErr),
	)
	return lastErr
}

func (l *Ledger) compensateOnce(ctx context.Context, r *Reservation) error {
	release, err := l.acquire(ctx, r.MedicineID)
	if err != nil {
		return err
	}
	defer release()

	med, err := l.getMedicine(ctx, r.MedicineID)
	if err != nil {
		return err
	}
	draws := make([]domain.BatchDraw, len(r.Draws))
	copy(draws, r.Draws)
	return l.apply(ctx, domain.StockChange{
		MedicineID:       r.MedicineID,
		ExpectedQuantity: med.QuantityInStock,
		Delta:            r.Quantity,
		Draws:            draws,
	})
}

// writeOffExpired removes units held in expired batches from those batches
// and from the aggregate, so the aggregate of a batch-tracked medicine only
// counts sellable stock. The caller must hold the medicine's lock.
func (l *Ledger) writeOffExpired(ctx context.Context, med *domain.Medicine, batches []domain.Batch) (*domain.Medicine, []domain.Batch, error) {
	expired := allocation.ExpiredBatches(batches, l.allocator.Now())
	if len(expired) == 0 {
		return med, batches, nil
	}

	total := 0
	written := make(map[string]bool, len(expired))
	draws := make([]domain.BatchDraw, 0, len(expired))
	for _, b := range expired {
		total += b.Quantity
		written[b.ID] = true
		draws = append(draws, domain.BatchDraw{BatchID: b.ID, Quantity: -b.Quantity})
	}
	delta := -min(total, med.QuantityInStock)
	if err := l.apply(ctx, domain.StockChange{
		MedicineID:       med.ID,
		ExpectedQuantity: med.QuantityInStock,
		Delta:            delta,
		Draws:            draws,
	}); err != nil {
		return nil, nil, err
	}
	l.reads.Forget(med.ID)
	l.logger.Info("expired stock written off",
		zap.String("medicine_id", med.ID),
		zap.Int("batches", len(expired)),
		zap.Int("quantity", -delta),
	)

	updated := *med
	updated.QuantityInStock += delta
	remaining := make([]domain.Batch, len(batches))
	copy(remaining, batches)
	for i := range remaining {
		if written[remaining[i].ID] {
			remaining[i].Quantity = 0
		}
	}
	return &updated, remaining, nil
}

// acquire waits for the medicine's lock for at most the lock timeout.
// Waiters are admitted in arrival order.
func (l *Ledger) acquire(ctx context.Context, medicineID string) (func(), error) {
	sem := l.lockFor(medicineID)
	waitCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()
	if err := sem.Acquire(waitCtx, 1); err != nil {
		return nil, &domain.ConcurrencyConflictError{
			MedicineID: medicineID,
			Reason:     fmt.Sprintf("lock not acquired within %s", l.lockTimeout),
			Err:        err,
		}
	}
	return func() { sem.Release(1) }, nil
}

func (l *Ledger) lockFor(medicineID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.locks[medicineID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[medicineID] = sem
	}
	return sem
}

func (l *Ledger) snapshot(ctx context.Context, medicineID string) (*domain.Medicine, []domain.Batch, error) {
	med, err := l.getMedicine(ctx, medicineID)
	if err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	batches, err := l.stock.ListBatches(callCtx, medicineID)
	if err != nil {
		return nil, nil, l.storeError("list batches", medicineID, err)
	}
	return med, batches, nil
}

func (l *Ledger) getMedicine(ctx context.Context, medicineID string) (*domain.Medicine, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	med, err := l.stock.GetMedicine(callCtx, medicineID)
	if err != nil {
		return nil, l.storeError("get medicine", medicineID, err)
	}
	return med, nil
}

func (l *Ledger) apply(ctx context.Context, change domain.StockChange) error {
	callCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	if err := l.stock.ApplyStockChange(callCtx, change); err != nil {
		return l.storeError("apply stock change", change.MedicineID, err)
	}
	return nil
}

func (l *Ledger) storeError(op string, medicineID string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &domain.NotFoundError{Kind: "medicine", Key: medicineID}
	case errors.Is(err, store.ErrStockChanged):
		return &domain.ConcurrencyConflictError{MedicineID: medicineID, Reason: "stock changed during update", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ConcurrencyConflictError{MedicineID: medicineID, Reason: op + " timed out", Err: err}
	default:
		return &domain.PersistenceError{Op: op, Err: err}
	}
}
