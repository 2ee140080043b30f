package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
	"pharmaledger/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	medicines       map[string]domain.Medicine
	idByName        map[string]string
	batches         map[string][]domain.Batch
	sales           []domain.Sale
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		medicines:       make(map[string]domain.Medicine),
		idByName:        make(map[string]string),
		batches:         make(map[string][]domain.Batch),
		sales:           make([]domain.Sale, 0, 64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD.
// If unset, dev defaults are used with a warning. These accounts are never
// used when DATABASE_URL is set.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	pharmacistPwd := envOr("SEED_PHARMACIST_PASSWORD", "pharma123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_PHARMACIST_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username    string
		displayName string
		password    string
		role        string
	}{
		{"admin", "Administrator", adminPwd, domain.RoleAdmin},
		{"pharmacist", "Pharmacist On Duty", pharmacistPwd, domain.RolePharmacist},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:    u.username,
			DisplayName: u.displayName,
			Password:    string(hash),
			Role:        u.role,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store holding a demo catalogue: some medicines are
// tracked by expiry-dated batches, others only by their aggregate quantity.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(logger)

	now := time.Now().UTC()
	medicines := []domain.Medicine{
		{ID: "med-paracetamol", Name: "Paracetamol", GenericName: "Acetaminophen 500mg", Category: "analgesic", SellPrice: decimal.RequireFromString("2.50"), PurchasePrice: decimal.RequireFromString("1.20"), QuantityInStock: 200, ReorderLevel: 50},
		{ID: "med-amoxicillin", Name: "Amoxicillin", GenericName: "Amoxicillin 250mg", Category: "antibiotic", SellPrice: decimal.RequireFromString("8.75"), PurchasePrice: decimal.RequireFromString("5.10"), QuantityInStock: 0, ReorderLevel: 20},
		{ID: "med-cetirizine", Name: "Cetirizine", GenericName: "Cetirizine 10mg", Category: "antihistamine", SellPrice: decimal.RequireFromString("3.20"), PurchasePrice: decimal.RequireFromString("1.40"), QuantityInStock: 90, ReorderLevel: 30},
		{ID: "med-metformin", Name: "Metformin", GenericName: "Metformin 500mg", Category: "antidiabetic", SellPrice: decimal.RequireFromString("4.10"), PurchasePrice: decimal.RequireFromString("2.05"), QuantityInStock: 300, ReorderLevel: 60},
		{ID: "med-ibuprofen", Name: "Ibuprofen", GenericName: "Ibuprofen 400mg", Category: "analgesic", SellPrice: decimal.RequireFromString("3.00"), PurchasePrice: decimal.RequireFromString("1.60"), ReorderLevel: 40},
		{ID: "med-omeprazole", Name: "Omeprazole", GenericName: "Omeprazole 20mg", Category: "gastro", SellPrice: decimal.RequireFromString("6.40"), PurchasePrice: decimal.RequireFromString("3.30"), ReorderLevel: 25},
	}
	for _, m := range medicines {
		m.CreatedAt = now
		m.UpdatedAt = now
		s.medicines[m.ID] = m
		s.idByName[m.Name] = m.ID
	}

	batches := []domain.Batch{
		{ID: "bat-ibu-1", MedicineID: "med-ibuprofen", BatchNo: "IBU-2401", ExpiryDate: now.AddDate(0, 6, 0), Quantity: 120, PurchasePrice: decimal.RequireFromString("1.55"), CreatedAt: now.AddDate(0, 0, -40)},
		{ID: "bat-ibu-2", MedicineID: "med-ibuprofen", BatchNo: "IBU-2402", ExpiryDate: now.AddDate(0, 3, 0), Quantity: 80, PurchasePrice: decimal.RequireFromString("1.65"), CreatedAt: now.AddDate(0, 0, -20)},
		{ID: "bat-ome-1", MedicineID: "med-omeprazole", BatchNo: "OME-2401", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 60, PurchasePrice: decimal.RequireFromString("3.30"), CreatedAt: now.AddDate(0, 0, -30)},
		{ID: "bat-ome-2", MedicineID: "med-omeprazole", BatchNo: "OME-2402", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 60, PurchasePrice: decimal.RequireFromString("3.30"), CreatedAt: now.AddDate(0, 0, -10)},
	}
	for _, b := range batches {
		s.batches[b.MedicineID] = append(s.batches[b.MedicineID], b)
		med := s.medicines[b.MedicineID]
		med.QuantityInStock += b.Quantity
		s.medicines[b.MedicineID] = med
	}

	return s
}

func (s *Store) ListMedicines(_ context.Context) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Medicine, 0, len(s.medicines))
	for _, m := range s.medicines {
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b domain.Medicine) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetMedicine(_ context.Context, id string) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.medicines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *Store) GetMedicinesByNames(_ context.Context, names []string) (map[string]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Medicine, len(names))
	for _, name := range names {
		id, ok := s.idByName[name]
		if !ok {
			continue
		}
		result[name] = s.medicines[id]
	}
	return result, nil
}

func (s *Store) CreateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	medicine.Name = strings.TrimSpace(medicine.Name)
	if medicine.Name == "" || medicine.QuantityInStock < 0 || medicine.SellPrice.IsNegative() {
		return nil, store.ErrInvalid
	}
	if medicine.ID == "" {
		medicine.ID = xid.New("med")
	}
	now := time.Now().UTC()
	if medicine.CreatedAt.IsZero() {
		medicine.CreatedAt = now
	}
	medicine.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idByName[medicine.Name]; exists {
		return nil, store.ErrDuplicate
	}
	if _, exists := s.medicines[medicine.ID]; exists {
		return nil, store.ErrDuplicate
	}
	s.medicines[medicine.ID] = medicine
	s.idByName[medicine.Name] = medicine.ID
	created := medicine
	return &created, nil
}

// CreateBatch records a received batch and adds its quantity to the
// medicine's aggregate in the same critical section.
func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.MedicineID == "" || batch.Quantity < 1 || batch.ExpiryDate.IsZero() {
		return nil, store.ErrInvalid
	}
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	med, ok := s.medicines[batch.MedicineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	s.batches[batch.MedicineID] = append(s.batches[batch.MedicineID], batch)
	med.QuantityInStock += batch.Quantity
	med.UpdatedAt = time.Now().UTC()
	s.medicines[med.ID] = med
	created := batch
	return &created, nil
}

func (s *Store) ListBatches(_ context.Context, medicineID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.medicines[medicineID]; !ok {
		return nil, store.ErrNotFound
	}
	batches := make([]domain.Batch, len(s.batches[medicineID]))
	copy(batches, s.batches[medicineID])
	return batches, nil
}

// ApplyStockChange validates the whole change before mutating anything, so
// a rejected change leaves no trace.
func (s *Store) ApplyStockChange(_ context.Context, change domain.StockChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	med, ok := s.medicines[change.MedicineID]
	if !ok {
		return store.ErrNotFound
	}
	if med.QuantityInStock != change.ExpectedQuantity {
		return fmt.Errorf("medicine %s holds %d, expected %d: %w", med.ID, med.QuantityInStock, change.ExpectedQuantity, store.ErrStockChanged)
	}
	next := med.QuantityInStock + change.Delta
	if next < 0 {
		return fmt.Errorf("medicine %s would drop to %d: %w", med.ID, next, store.ErrStockChanged)
	}

	batches := s.batches[change.MedicineID]
	index := make(map[string]int, len(batches))
	for i, b := range batches {
		index[b.ID] = i
	}
	updated := make([]domain.Batch, len(batches))
	copy(updated, batches)
	for _, draw := range change.Draws {
		if draw.BatchID == domain.AggregateBatchID {
			continue
		}
		i, ok := index[draw.BatchID]
		if !ok {
			return fmt.Errorf("batch %s: %w", draw.BatchID, store.ErrNotFound)
		}
		if updated[i].Quantity+draw.Quantity < 0 {
			return fmt.Errorf("batch %s holds %d: %w", draw.BatchID, updated[i].Quantity, store.ErrStockChanged)
		}
		updated[i].Quantity += draw.Quantity
	}

	med.QuantityInStock = next
	med.UpdatedAt = time.Now().UTC()
	s.medicines[med.ID] = med
	if len(batches) > 0 {
		s.batches[change.MedicineID] = updated
	}
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sales {
		if existing.ID == sale.ID {
			return nil, store.ErrDuplicate
		}
	}
	saved := cloneSale(sale)
	s.sales = append(s.sales, saved)
	created := cloneSale(saved)
	return &created, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = len(s.sales)
	}
	result := make([]domain.Sale, 0, min(limit, len(s.sales)))
	for i := len(s.sales) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, cloneSale(s.sales[i]))
	}
	slices.SortStableFunc(result, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RolePharmacist
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	items := make([]domain.SaleLineItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
