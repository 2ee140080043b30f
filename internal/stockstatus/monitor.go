// Package stockstatus classifies stock quantities and detects transitions
// into a degraded status.
package stockstatus

import (
	"fmt"
	"time"

	"pharmaledger/backend/internal/domain"
)

// DefaultLowThreshold is the quantity at or below which a medicine is LOW.
// Every component that reports stock status reads the threshold from a
// Monitor built with this value unless LOW_STOCK_THRESHOLD overrides it.
const DefaultLowThreshold = 150

func Status(quantity int, threshold int) domain.StockStatus {
	switch {
	case quantity <= 0:
		return domain.StockEmpty
	case quantity <= threshold:
		return domain.StockLow
	default:
		return domain.StockAvailable
	}
}

// Degraded reports whether a transition from oldStatus to newStatus must be
// reported. Recovery and same-status changes are silent.
func Degraded(oldStatus domain.StockStatus, newStatus domain.StockStatus) bool {
	if oldStatus == newStatus {
		return false
	}
	return newStatus == domain.StockLow || newStatus == domain.StockEmpty
}

type Monitor struct {
	threshold int
	now       func() time.Time
}

func NewMonitor(threshold int) *Monitor {
	if threshold < 0 {
		threshold = DefaultLowThreshold
	}
	return &Monitor{threshold: threshold, now: time.Now}
}

func (m *Monitor) Threshold() int {
	return m.threshold
}

func (m *Monitor) Status(quantity int) domain.StockStatus {
	return Status(quantity, m.threshold)
}

// Detect compares the status before and after a stock change and returns
// the alert to emit, if any.
func (m *Monitor) Detect(medicineID string, name string, oldQty int, newQty int) (domain.StockAlert, bool) {
	oldStatus := m.Status(oldQty)
	newStatus := m.Status(newQty)
	if !Degraded(oldStatus, newStatus) {
		return domain.StockAlert{}, false
	}

	return domain.StockAlert{
		MedicineID:   medicineID,
		MedicineName: name,
		OldQuantity:  oldQty,
		NewQuantity:  newQty,
		Status:       newStatus,
		Subject:      alertSubject(name, newStatus),
		OccurredAt:   m.now().UTC(),
	}, true
}

func alertSubject(name string, status domain.StockStatus) string {
	if status == domain.StockEmpty {
		return fmt.Sprintf("Stock Empty: %s", name)
	}
	return fmt.Sprintf("Low Stock Alert: %s", name)
}
