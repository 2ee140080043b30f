package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
)

type seedMedicine struct {
	medicine domain.Medicine
	batches  []domain.Batch
}

// seedDemo fills an empty database with the demo accounts and catalogue.
// Accounts are written with the plain SEED_* passwords; the auth manager
// replaces them with bcrypt hashes on first load.
func seedDemo(ctx context.Context, repo store.Repository, logger *zap.Logger) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		adminPwd := os.Getenv("SEED_ADMIN_PASSWORD")
		pharmacistPwd := os.Getenv("SEED_PHARMACIST_PASSWORD")
		if adminPwd == "" || pharmacistPwd == "" {
			return errors.New("SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD are required to seed accounts")
		}
		for _, u := range []domain.UserAccount{
			{Username: "admin", DisplayName: "Administrator", Password: adminPwd, Role: domain.RoleAdmin},
			{Username: "pharmacist", DisplayName: "Pharmacist On Duty", Password: pharmacistPwd, Role: domain.RolePharmacist},
		} {
			if err := repo.CreateUser(ctx, u); err != nil && !errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("create user %s: %w", u.Username, err)
			}
		}
		logger.Info("seeded accounts")
	}

	medicines, err := repo.ListMedicines(ctx)
	if err != nil {
		return fmt.Errorf("list medicines: %w", err)
	}
	if len(medicines) > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, entry := range demoCatalogue(now) {
		created, err := repo.CreateMedicine(ctx, entry.medicine)
		if err != nil {
			return fmt.Errorf("create medicine %s: %w", entry.medicine.Name, err)
		}
		for _, b := range entry.batches {
			b.MedicineID = created.ID
			if _, err := repo.CreateBatch(ctx, b); err != nil {
				return fmt.Errorf("create batch %s: %w", b.BatchNo, err)
			}
		}
	}
	logger.Info("seeded demo catalogue")
	return nil
}

func demoCatalogue(now time.Time) []seedMedicine {
	price := decimal.RequireFromString
	return []seedMedicine{
		{medicine: domain.Medicine{Name: "Paracetamol", GenericName: "Acetaminophen 500mg", Category: "analgesic", SellPrice: price("2.50"), PurchasePrice: price("1.20"), QuantityInStock: 200, ReorderLevel: 50}},
		{medicine: domain.Medicine{Name: "Cetirizine", GenericName: "Cetirizine 10mg", Category: "antihistamine", SellPrice: price("3.20"), PurchasePrice: price("1.40"), QuantityInStock: 90, ReorderLevel: 30}},
		{
			medicine: domain.Medicine{Name: "Ibuprofen", GenericName: "Ibuprofen 400mg", Category: "analgesic", SellPrice: price("3.00"), PurchasePrice: price("1.60"), ReorderLevel: 40},
			batches: []domain.Batch{
				{BatchNo: "IBU-2401", ExpiryDate: now.AddDate(0, 6, 0), Quantity: 120, PurchasePrice: price("1.55")},
				{BatchNo: "IBU-2402", ExpiryDate: now.AddDate(0, 3, 0), Quantity: 80, PurchasePrice: price("1.65")},
			},
		},
		{
			medicine: domain.Medicine{Name: "Omeprazole", GenericName: "Omeprazole 20mg", Category: "gastro", SellPrice: price("6.40"), PurchasePrice: price("3.30"), ReorderLevel: 25},
			batches: []domain.Batch{
				{BatchNo: "OME-2401", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 60, PurchasePrice: price("3.30")},
				{BatchNo: "OME-2402", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 60, PurchasePrice: price("3.30")},
			},
		},
	}
}
