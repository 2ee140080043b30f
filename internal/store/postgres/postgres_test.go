package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: db}, mock
}

func TestApplyStockChangeCommitsAggregateAndBatches(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE medicines SET quantity_in_stock`).
		WithArgs("med-ibuprofen", 200, -5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE batches SET quantity`).
		WithArgs("bat-ibu-2", "med-ibuprofen", -5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.ApplyStockChange(context.Background(), domain.StockChange{
		MedicineID:       "med-ibuprofen",
		ExpectedQuantity: 200,
		Delta:            -5,
		Draws:            []domain.BatchDraw{{BatchID: "bat-ibu-2", Quantity: -5}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyStockChangeSkipsAggregatePseudoBatch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE medicines SET quantity_in_stock`).
		WithArgs("med-paracetamol", 200, -4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.ApplyStockChange(context.Background(), domain.StockChange{
		MedicineID:       "med-paracetamol",
		ExpectedQuantity: 200,
		Delta:            -4,
		Draws:            []domain.BatchDraw{{BatchID: domain.AggregateBatchID, Quantity: -4}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyStockChangeStaleAggregateRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE medicines SET quantity_in_stock`).
		WithArgs("med-cetirizine", 90, -3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM medicines`).
		WithArgs("med-cetirizine").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	err := s.ApplyStockChange(context.Background(), domain.StockChange{
		MedicineID: "med-cetirizine", ExpectedQuantity: 90, Delta: -3,
	})
	if !errors.Is(err, store.ErrStockChanged) {
		t.Fatalf("expected ErrStockChanged, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyStockChangeUnknownMedicine(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE medicines SET quantity_in_stock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM medicines`).
		WithArgs("med-missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.ApplyStockChange(context.Background(), domain.StockChange{
		MedicineID: "med-missing", ExpectedQuantity: 1, Delta: -1,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyStockChangeBatchGuardRollsBackAggregate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE medicines SET quantity_in_stock`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE batches SET quantity`).
		WithArgs("bat-ome-1", "med-omeprazole", -60).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE batches SET quantity`).
		WithArgs("bat-ome-2", "med-omeprazole", -70).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.ApplyStockChange(context.Background(), domain.StockChange{
		MedicineID:       "med-omeprazole",
		ExpectedQuantity: 130,
		Delta:            -130,
		Draws: []domain.BatchDraw{
			{BatchID: "bat-ome-1", Quantity: -60},
			{BatchID: "bat-ome-2", Quantity: -70},
		},
	})
	if !errors.Is(err, store.ErrStockChanged) {
		t.Fatalf("expected ErrStockChanged, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetMedicineNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM medicines WHERE id = \$1`).
		WithArgs("med-missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetMedicine(context.Background(), "med-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMedicineScansDecimalPrices(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM medicines WHERE id = \$1`).
		WithArgs("med-paracetamol").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "generic_name", "category", "sell_price", "purchase_price",
			"quantity_in_stock", "reorder_level", "created_at", "updated_at",
		}).AddRow("med-paracetamol", "Paracetamol 500mg", "Paracetamol", "Analgesic", "2.50", "1.20", 200, 50, now, now))

	m, err := s.GetMedicine(context.Background(), "med-paracetamol")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !m.SellPrice.Equal(decimal.RequireFromString("2.5")) || m.QuantityInStock != 200 {
		t.Fatalf("unexpected medicine: %+v", m)
	}
}

func TestCreateSaleWritesHeaderAndLines(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sales`).
		WithArgs("sale-1", "Budi", "0812", sqlmock.AnyArg(), "Pharmacist On Duty", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO sale_items`).
		WithArgs("sale-1", 1, "Paracetamol 500mg", sqlmock.AnyArg(), 4, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO sale_items`).
		WithArgs("sale-1", 2, "Cetirizine 10mg", sqlmock.AnyArg(), 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sale, err := s.CreateSale(context.Background(), domain.Sale{
		ID:           "sale-1",
		PatientName:  "Budi",
		PatientPhone: "0812",
		Items: []domain.SaleLineItem{
			{Name: "Paracetamol 500mg", Price: decimal.RequireFromString("2.50"), Quantity: 4, Total: decimal.RequireFromString("10.00")},
			{Name: "Cetirizine 10mg", Price: decimal.RequireFromString("3.20"), Quantity: 1, Total: decimal.RequireFromString("3.20")},
		},
		GrandTotal: decimal.RequireFromString("13.20"),
		Cashier:    "Pharmacist On Duty",
		CreatedAt:  at,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if len(sale.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(sale.Items))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateSaleRejectsEmptyCart(t *testing.T) {
	s, _ := newMockStore(t)
	if _, err := s.CreateSale(context.Background(), domain.Sale{ID: "sale-1"}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestListSalesGroupsLineItems(t *testing.T) {
	s, mock := newMockStore(t)
	newer := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	columns := []string{
		"id", "patient_name", "patient_phone", "grand_total", "cashier", "created_at",
		"name", "price", "quantity", "total",
	}
	mock.ExpectQuery(`FROM sales`).
		WithArgs(nil).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("sale-2", "Sari", "", "8.20", "admin", newer, "Paracetamol 500mg", "2.50", 2, "5.00").
			AddRow("sale-2", "Sari", "", "8.20", "admin", newer, "Cetirizine 10mg", "3.20", 1, "3.20").
			AddRow("sale-1", "Budi", "", "4.10", "admin", older, "Metformin 500mg", "4.10", 1, "4.10"))

	sales, err := s.ListSales(context.Background(), 0)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("expected 2 sales, got %d", len(sales))
	}
	if sales[0].ID != "sale-2" || len(sales[0].Items) != 2 {
		t.Fatalf("unexpected first sale: %+v", sales[0])
	}
	if sales[1].ID != "sale-1" || len(sales[1].Items) != 1 {
		t.Fatalf("unexpected second sale: %+v", sales[1])
	}
	if !sales[0].GrandTotal.Equal(decimal.RequireFromString("8.2")) {
		t.Fatalf("unexpected grand total %s", sales[0].GrandTotal)
	}
}

func TestUpdateUserPasswordMissingUser(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users SET password`).
		WithArgs("ghost", "$2a$10$hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.UpdateUserPassword(context.Background(), "Ghost", "$2a$10$hash"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateBatchUnknownMedicine(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE medicines SET quantity_in_stock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.CreateBatch(context.Background(), domain.Batch{
		MedicineID: "med-missing",
		Quantity:   10,
		ExpiryDate: time.Now().Add(24 * time.Hour),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
