package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
	"pharmaledger/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const medicineColumns = `id, name, generic_name, category, sell_price, purchase_price, quantity_in_stock, reorder_level, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedicine(row rowScanner) (domain.Medicine, error) {
	var m domain.Medicine
	err := row.Scan(&m.ID, &m.Name, &m.GenericName, &m.Category, &m.SellPrice, &m.PurchasePrice,
		&m.QuantityInStock, &m.ReorderLevel, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *Store) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+medicineColumns+` FROM medicines ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	medicines := make([]domain.Medicine, 0, 64)
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return medicines, nil
}

func (s *Store) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	m, err := scanMedicine(s.db.QueryRowContext(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMedicinesByNames(ctx context.Context, names []string) (map[string]domain.Medicine, error) {
	result := make(map[string]domain.Medicine, len(names))
	if len(names) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		result[m.Name] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	medicine.Name = strings.TrimSpace(medicine.Name)
	if medicine.Name == "" || medicine.QuantityInStock < 0 || medicine.SellPrice.IsNegative() {
		return nil, store.ErrInvalid
	}
	if medicine.ID == "" {
		medicine.ID = xid.New("med")
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO medicines (id, name, generic_name, category, sell_price, purchase_price, quantity_in_stock, reorder_level, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
		RETURNING created_at, updated_at
	`, medicine.ID, medicine.Name, medicine.GenericName, medicine.Category, medicine.SellPrice, medicine.PurchasePrice,
		medicine.QuantityInStock, medicine.ReorderLevel).Scan(&medicine.CreatedAt, &medicine.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &medicine, nil
}

// CreateBatch records a received batch and raises the medicine's aggregate
// by the same quantity in one transaction.
func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.MedicineID == "" || batch.Quantity < 1 || batch.ExpiryDate.IsZero() {
		return nil, store.ErrInvalid
	}
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE medicines SET quantity_in_stock = quantity_in_stock + $2, updated_at = now()
		WHERE id = $1
	`, batch.MedicineID, batch.Quantity)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrNotFound
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO batches (id, medicine_id, batch_no, expiry_date, quantity, purchase_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		RETURNING created_at
	`, batch.ID, batch.MedicineID, batch.BatchNo, batch.ExpiryDate, batch.Quantity, batch.PurchasePrice).Scan(&batch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Store) ListBatches(ctx context.Context, medicineID string) ([]domain.Batch, error) {
	if err := s.medicineExists(ctx, s.db, medicineID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, medicine_id, batch_no, expiry_date, quantity, purchase_price, created_at
		FROM batches
		WHERE medicine_id = $1
		ORDER BY expiry_date, created_at, id
	`, medicineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 8)
	for rows.Next() {
		var b domain.Batch
		if err := rows.Scan(&b.ID, &b.MedicineID, &b.BatchNo, &b.ExpiryDate, &b.Quantity, &b.PurchasePrice, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

// ApplyStockChange writes the aggregate and every batch draw in one
// transaction. The aggregate update only matches when the stored quantity
// still equals ExpectedQuantity, and no row may go negative.
func (s *Store) ApplyStockChange(ctx context.Context, change domain.StockChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE medicines SET quantity_in_stock = quantity_in_stock + $3, updated_at = now()
		WHERE id = $1 AND quantity_in_stock = $2 AND quantity_in_stock + $3 >= 0
	`, change.MedicineID, change.ExpectedQuantity, change.Delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if err := s.medicineExists(ctx, tx, change.MedicineID); err != nil {
			return err
		}
		return fmt.Errorf("medicine %s no longer holds %d: %w", change.MedicineID, change.ExpectedQuantity, store.ErrStockChanged)
	}

	for _, draw := range change.Draws {
		if draw.BatchID == domain.AggregateBatchID {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE batches SET quantity = quantity + $3
			WHERE id = $1 AND medicine_id = $2 AND quantity + $3 >= 0
		`, draw.BatchID, change.MedicineID, draw.Quantity)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("batch %s cannot take %d: %w", draw.BatchID, draw.Quantity, store.ErrStockChanged)
		}
	}

	return tx.Commit()
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sales (id, patient_name, patient_phone, grand_total, cashier, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, sale.ID, sale.PatientName, sale.PatientPhone, sale.GrandTotal, sale.Cashier, sale.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	for i, item := range sale.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, name, price, quantity, total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, i+1, item.Name, item.Price, item.Quantity, item.Total); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	created.Items = append([]domain.SaleLineItem(nil), sale.Items...)
	return &created, nil
}

// ListSales loads sales with their line items in a single join. A NULL
// limit leaves the inner query unbounded.
func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.patient_name, s.patient_phone, s.grand_total, s.cashier, s.created_at,
		       i.name, i.price, i.quantity, i.total
		FROM (
			SELECT id, patient_name, patient_phone, grand_total, cashier, created_at
			FROM sales
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		) s
		JOIN sale_items i ON i.sale_id = s.id
		ORDER BY s.created_at DESC, s.id DESC, i.line_no
	`, limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		var (
			sale domain.Sale
			item domain.SaleLineItem
		)
		if err := rows.Scan(&sale.ID, &sale.PatientName, &sale.PatientPhone, &sale.GrandTotal, &sale.Cashier, &sale.CreatedAt,
			&item.Name, &item.Price, &item.Quantity, &item.Total); err != nil {
			return nil, err
		}
		if n := len(sales); n > 0 && sales[n-1].ID == sale.ID {
			sales[n-1].Items = append(sales[n-1].Items, item)
			continue
		}
		sale.Items = []domain.SaleLineItem{item}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	role := user.Role
	if role == "" {
		role = domain.RolePharmacist
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,now(),now())
	`, username, strings.TrimSpace(user.DisplayName), user.Password, role)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, display_name, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.DisplayName, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) medicineExists(ctx context.Context, q queryer, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM medicines WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
