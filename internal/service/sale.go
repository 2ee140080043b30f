package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmaledger/backend/internal/cache"
	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/ledger"
	"pharmaledger/backend/internal/xid"
)

type Phase string

const (
	PhaseReceived   Phase = "RECEIVED"
	PhaseValidating Phase = "VALIDATING"
	PhaseAllocating Phase = "ALLOCATING"
	PhaseCommitting Phase = "COMMITTING"
	PhaseCommitted  Phase = "COMMITTED"
	PhaseRejected   Phase = "REJECTED"
	PhaseAborted    Phase = "ABORTED"
)

type saleLine struct {
	name     string
	quantity int
	medicine domain.Medicine
}

type saleAttempt struct {
	id     string
	phase  Phase
	logger *zap.Logger
}

func (a *saleAttempt) enter(phase Phase) {
	a.logger.Debug("sale phase", zap.String("from", string(a.phase)), zap.String("to", string(phase)))
	a.phase = phase
}

// CreateSale turns a cart into a committed sale. Stock for every line is
// decremented under the medicine's lock in medicine id order; if any line
// or the sale write fails, every decrement already applied is reversed
// before the error is returned.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	attempt := &saleAttempt{id: xid.New("sale"), phase: PhaseReceived}
	attempt.logger = s.logger.With(zap.String("sale_id", attempt.id))

	attempt.enter(PhaseValidating)
	lines, err := s.validateSale(ctx, req)
	if err != nil {
		attempt.enter(PhaseRejected)
		attempt.logger.Info("sale rejected", zap.Error(err))
		return domain.Sale{}, err
	}

	// Allocation runs to commit or abort regardless of the caller going away.
	workCtx := context.WithoutCancel(ctx)

	attempt.enter(PhaseAllocating)
	order := make([]saleLine, len(lines))
	copy(order, lines)
	slices.SortFunc(order, func(a, b saleLine) int {
		return strings.Compare(a.medicine.ID, b.medicine.ID)
	})

	reservations := make([]*ledger.Reservation, 0, len(order))
	for _, line := range order {
		r, err := s.ledger.ReserveAndDecrement(workCtx, line.medicine.ID, line.quantity)
		if err != nil {
			s.rollback(workCtx, attempt, reservations)
			attempt.enter(PhaseAborted)
			attempt.logger.Warn("sale aborted",
				zap.String("medicine", line.name),
				zap.Int("requested", line.quantity),
				zap.Error(err),
			)
			return domain.Sale{}, err
		}
		reservations = append(reservations, r)
	}

	attempt.enter(PhaseCommitting)
	sale := buildSale(attempt.id, req, lines, cashierName(ctx), s.now().UTC())

	storeCtx, cancel := context.WithTimeout(workCtx, s.storeTimeout)
	created, err := s.repo.CreateSale(storeCtx, sale)
	cancel()
	if err != nil {
		s.rollback(workCtx, attempt, reservations)
		attempt.enter(PhaseAborted)
		attempt.logger.Error("sale not persisted", zap.Error(err))
		return domain.Sale{}, &domain.PersistenceError{Op: "create sale", Err: err}
	}

	attempt.enter(PhaseCommitted)
	attempt.logger.Info("sale committed",
		zap.Int("lines", len(created.Items)),
		zap.String("grand_total", created.GrandTotal.StringFixed(2)),
		zap.String("cashier", created.Cashier),
	)

	if err := s.summaries.Delete(workCtx, cache.SummaryKey); err != nil {
		attempt.logger.Warn("sales summary cache not invalidated", zap.Error(err))
	}
	s.emitAlerts(reservations)

	return *created, nil
}

// validateSale checks the request shape and resolves every line to a
// medicine. Repeated names are merged into one line in first-seen order.
func (s *Service) validateSale(ctx context.Context, req domain.SaleRequest) ([]saleLine, error) {
	if strings.TrimSpace(req.PatientName) == "" {
		return nil, &domain.ValidationError{Field: "patientName", Message: "is required"}
	}
	if len(req.Items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Message: "cart must contain at least one item"}
	}

	lines := make([]saleLine, 0, len(req.Items))
	index := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, &domain.ValidationError{Field: "items.name", Message: "is required"}
		}
		if item.Quantity < 1 {
			return nil, &domain.ValidationError{Field: "items.quantity", Message: "must be greater than zero for " + name}
		}
		if i, ok := index[name]; ok {
			lines[i].quantity += item.Quantity
			continue
		}
		index[name] = len(lines)
		lines = append(lines, saleLine{name: name, quantity: item.Quantity})
	}

	names := make([]string, 0, len(lines))
	for _, line := range lines {
		names = append(names, line.name)
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	medicines, err := s.repo.GetMedicinesByNames(storeCtx, names)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load medicines", Err: err}
	}
	for i := range lines {
		med, ok := medicines[lines[i].name]
		if !ok {
			return nil, &domain.NotFoundError{Kind: "medicine", Key: lines[i].name}
		}
		lines[i].medicine = med
	}
	return lines, nil
}

// rollback compensates in reverse order of application.
func (s *Service) rollback(ctx context.Context, attempt *saleAttempt, reservations []*ledger.Reservation) {
	for i := len(reservations) - 1; i >= 0; i-- {
		r := reservations[i]
		if err := s.ledger.Compensate(ctx, r); err != nil {
			attempt.logger.Error("compensation failed",
				zap.String("reservation_id", r.ID),
				zap.String("medicine_id", r.MedicineID),
				zap.Int("quantity", r.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) emitAlerts(reservations []*ledger.Reservation) {
	if s.notifier == nil {
		return
	}
	for _, r := range reservations {
		alert, ok := s.monitor.Detect(r.MedicineID, r.MedicineName, r.OldQuantity, r.NewQuantity)
		if !ok {
			continue
		}
		s.notifier.Publish(alert)
	}
}

func buildSale(id string, req domain.SaleRequest, lines []saleLine, cashier string, at time.Time) domain.Sale {
	items := make([]domain.SaleLineItem, 0, len(lines))
	grandTotal := decimal.Zero
	for _, line := range lines {
		price := line.medicine.SellPrice
		total := price.Mul(decimal.NewFromInt(int64(line.quantity)))
		grandTotal = grandTotal.Add(total)
		items = append(items, domain.SaleLineItem{
			Name:     line.medicine.Name,
			Price:    price,
			Quantity: line.quantity,
			Total:    total,
		})
	}

	return domain.Sale{
		ID:           id,
		PatientName:  strings.TrimSpace(req.PatientName),
		PatientPhone: strings.TrimSpace(req.PatientPhone),
		Items:        items,
		GrandTotal:   grandTotal,
		Cashier:      cashier,
		CreatedAt:    at,
	}
}
