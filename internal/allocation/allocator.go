// Package allocation picks which batches a stock decrement draws from.
package allocation

import (
	"slices"
	"strings"
	"time"

	"pharmaledger/backend/internal/domain"
)

type Allocator struct {
	now func() time.Time
}

func New() *Allocator {
	return &Allocator{now: time.Now}
}

// NewWithClock builds an allocator that judges expiry against now.
func NewWithClock(now func() time.Time) *Allocator {
	if now == nil {
		now = time.Now
	}
	return &Allocator{now: now}
}

// Allocate computes the draws for requiredQty units of medicine against a
// snapshot of its batches. Eligible batches are consumed earliest expiry
// first, then oldest created. A medicine without batch records is treated as
// a single pseudo-batch holding its aggregate quantity. Nothing is allocated
// unless the whole quantity can be.
func (a *Allocator) Allocate(medicine domain.Medicine, batches []domain.Batch, requiredQty int) (domain.Allocation, error) {
	if requiredQty < 1 {
		return domain.Allocation{}, &domain.ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}

	if len(batches) == 0 {
		if medicine.QuantityInStock < requiredQty {
			return domain.Allocation{}, insufficient(medicine, requiredQty, max(medicine.QuantityInStock, 0))
		}
		return domain.Allocation{
			MedicineID: medicine.ID,
			Requested:  requiredQty,
			Draws:      []domain.BatchDraw{{BatchID: domain.AggregateBatchID, Quantity: requiredQty}},
		}, nil
	}

	eligible := EligibleBatches(batches, a.now())
	available := a.Available(medicine, batches)
	if available < requiredQty {
		return domain.Allocation{}, insufficient(medicine, requiredQty, available)
	}

	draws := make([]domain.BatchDraw, 0, len(eligible))
	remaining := requiredQty
	for _, batch := range eligible {
		if remaining == 0 {
			break
		}
		take := min(remaining, batch.Quantity)
		draws = append(draws, domain.BatchDraw{BatchID: batch.ID, Quantity: take})
		remaining -= take
	}

	return domain.Allocation{
		MedicineID: medicine.ID,
		Requested:  requiredQty,
		Draws:      draws,
		Tracked:    true,
	}, nil
}

// Available is the quantity Allocate could hand out now. For tracked
// medicines the eligible batch total is capped by the aggregate, so stock
// sitting in expired batches is never counted.
func (a *Allocator) Available(medicine domain.Medicine, batches []domain.Batch) int {
	aggregate := max(medicine.QuantityInStock, 0)
	if len(batches) == 0 {
		return aggregate
	}
	return min(aggregate, EligibleQuantity(batches, a.now()))
}

// Now is the instant expiry is judged against.
func (a *Allocator) Now() time.Time {
	return a.now()
}

// ExpiredBatches returns the batches still holding units whose expiry date
// is not after now.
func ExpiredBatches(batches []domain.Batch, now time.Time) []domain.Batch {
	var expired []domain.Batch
	for _, batch := range batches {
		if batch.Quantity > 0 && !batch.ExpiryDate.After(now) {
			expired = append(expired, batch)
		}
	}
	return expired
}

// EligibleBatches returns the batches that may be drawn from at now, in
// draw order.
func EligibleBatches(batches []domain.Batch, now time.Time) []domain.Batch {
	eligible := make([]domain.Batch, 0, len(batches))
	for _, batch := range batches {
		if batch.Quantity < 1 || !batch.ExpiryDate.After(now) {
			continue
		}
		eligible = append(eligible, batch)
	}
	slices.SortFunc(eligible, compareBatchForFEFO)
	return eligible
}

// EligibleQuantity is the total of the batches that may be drawn from at now.
func EligibleQuantity(batches []domain.Batch, now time.Time) int {
	total := 0
	for _, batch := range EligibleBatches(batches, now) {
		total += batch.Quantity
	}
	return total
}

func compareBatchForFEFO(a domain.Batch, b domain.Batch) int {
	if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func insufficient(medicine domain.Medicine, requested int, available int) error {
	return &domain.InsufficientStockError{
		MedicineID: medicine.ID,
		Medicine:   medicine.Name,
		Requested:  requested,
		Available:  available,
	}
}
