package store

import (
	"context"
	"errors"

	"pharmaledger/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStockChanged means a stock change no longer matches stored state:
	// the aggregate moved since it was read, or a batch would go negative.
	ErrStockChanged = errors.New("stock changed concurrently")
	ErrInvalid      = errors.New("invalid record")
	ErrDuplicate    = errors.New("duplicate record")
)

type MedicineStore interface {
	ListMedicines(ctx context.Context) ([]domain.Medicine, error)
	GetMedicine(ctx context.Context, id string) (*domain.Medicine, error)
	GetMedicinesByNames(ctx context.Context, names []string) (map[string]domain.Medicine, error)
	CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	ListBatches(ctx context.Context, medicineID string) ([]domain.Batch, error)
}

// StockStore is the only write path for quantityInStock and batch.quantity.
type StockStore interface {
	GetMedicine(ctx context.Context, id string) (*domain.Medicine, error)
	ListBatches(ctx context.Context, medicineID string) ([]domain.Batch, error)
	ApplyStockChange(ctx context.Context, change domain.StockChange) error
}

// SaleStore lists sales newest first; a limit below 1 returns every sale.
type SaleStore interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	MedicineStore
	StockStore
	SaleStore
	UserStore
}
