package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
)

func TestSeededCatalogueKeepsAggregateInLineWithBatches(t *testing.T) {
	s := NewSeeded(zap.NewNop())
	ctx := context.Background()

	med, err := s.GetMedicine(ctx, "med-ibuprofen")
	if err != nil {
		t.Fatalf("get medicine failed: %v", err)
	}
	batches, err := s.ListBatches(ctx, med.ID)
	if err != nil {
		t.Fatalf("list batches failed: %v", err)
	}
	total := 0
	for _, b := range batches {
		total += b.Quantity
	}
	if total != med.QuantityInStock {
		t.Fatalf("aggregate %d does not match batch total %d", med.QuantityInStock, total)
	}

	users, err := s.ListUsers(ctx)
	if err != nil || len(users) != 2 {
		t.Fatalf("expected two seeded users, got %d (%v)", len(users), err)
	}
}

func TestApplyStockChangeRejectsStaleExpectedQuantity(t *testing.T) {
	s := New()
	ctx := context.Background()
	med, err := s.CreateMedicine(ctx, domain.Medicine{Name: "Paracetamol", SellPrice: decimal.NewFromInt(2), QuantityInStock: 10})
	if err != nil {
		t.Fatalf("create medicine failed: %v", err)
	}

	err = s.ApplyStockChange(ctx, domain.StockChange{MedicineID: med.ID, ExpectedQuantity: 9, Delta: -3})
	if !errors.Is(err, store.ErrStockChanged) {
		t.Fatalf("expected ErrStockChanged, got %v", err)
	}
	err = s.ApplyStockChange(ctx, domain.StockChange{MedicineID: med.ID, ExpectedQuantity: 10, Delta: -11})
	if !errors.Is(err, store.ErrStockChanged) {
		t.Fatalf("expected negative result to be refused, got %v", err)
	}

	if err := s.ApplyStockChange(ctx, domain.StockChange{
		MedicineID:       med.ID,
		ExpectedQuantity: 10,
		Delta:            -3,
		Draws:            []domain.BatchDraw{{BatchID: domain.AggregateBatchID, Quantity: -3}},
	}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	got, _ := s.GetMedicine(ctx, med.ID)
	if got.QuantityInStock != 7 {
		t.Fatalf("expected 7 in stock, got %d", got.QuantityInStock)
	}
}

func TestApplyStockChangeIsAllOrNothingAcrossBatches(t *testing.T) {
	s := New()
	ctx := context.Background()
	med, err := s.CreateMedicine(ctx, domain.Medicine{Name: "Ibuprofen", SellPrice: decimal.NewFromInt(3)})
	if err != nil {
		t.Fatalf("create medicine failed: %v", err)
	}
	expiry := time.Now().UTC().AddDate(0, 2, 0)
	first, err := s.CreateBatch(ctx, domain.Batch{MedicineID: med.ID, ExpiryDate: expiry, Quantity: 5})
	if err != nil {
		t.Fatalf("create batch failed: %v", err)
	}
	second, err := s.CreateBatch(ctx, domain.Batch{MedicineID: med.ID, ExpiryDate: expiry, Quantity: 2})
	if err != nil {
		t.Fatalf("create batch failed: %v", err)
	}

	err = s.ApplyStockChange(ctx, domain.StockChange{
		MedicineID:       med.ID,
		ExpectedQuantity: 7,
		Delta:            -8,
		Draws: []domain.BatchDraw{
			{BatchID: first.ID, Quantity: -5},
			{BatchID: second.ID, Quantity: -3},
		},
	})
	if err == nil {
		t.Fatalf("expected overdrawn batch to be refused")
	}

	batches, _ := s.ListBatches(ctx, med.ID)
	if batches[0].Quantity != 5 || batches[1].Quantity != 2 {
		t.Fatalf("refused change must not touch batches, got %+v", batches)
	}
	got, _ := s.GetMedicine(ctx, med.ID)
	if got.QuantityInStock != 7 {
		t.Fatalf("refused change must not touch aggregate, got %d", got.QuantityInStock)
	}
}

func TestCreateSaleAndListNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second"} {
		_, err := s.CreateSale(ctx, domain.Sale{
			PatientName: name,
			Items:       []domain.SaleLineItem{{Name: "Paracetamol", Price: decimal.NewFromInt(2), Quantity: 1, Total: decimal.NewFromInt(2)}},
			GrandTotal:  decimal.NewFromInt(2),
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("create sale failed: %v", err)
		}
	}
	if _, err := s.CreateSale(ctx, domain.Sale{PatientName: "empty"}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected sale without items to be invalid, got %v", err)
	}

	sales, err := s.ListSales(ctx, 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 2 || sales[0].PatientName != "second" {
		t.Fatalf("expected newest sale first, got %+v", sales)
	}
}

func TestCreateMedicineRejectsDuplicateName(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.CreateMedicine(ctx, domain.Medicine{Name: "Cetirizine"}); err != nil {
		t.Fatalf("create medicine failed: %v", err)
	}
	if _, err := s.CreateMedicine(ctx, domain.Medicine{Name: " Cetirizine "}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}
