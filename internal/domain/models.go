package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Medicine struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	GenericName     string          `json:"genericName,omitempty"`
	Category        string          `json:"category,omitempty"`
	SellPrice       decimal.Decimal `json:"sellPrice"`
	PurchasePrice   decimal.Decimal `json:"purchasePrice"`
	QuantityInStock int             `json:"quantityInStock"`
	ReorderLevel    int             `json:"reorderLevel"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Batch is a quantity of one medicine received together. Batches whose
// expiry date is not after the allocation instant are never drawn from.
type Batch struct {
	ID            string          `json:"id"`
	MedicineID    string          `json:"medicineId"`
	BatchNo       string          `json:"batchNo,omitempty"`
	ExpiryDate    time.Time       `json:"expiryDate"`
	Quantity      int             `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// AggregateBatchID names the pseudo-batch used for medicines without batch
// records. Stores never persist draws against it.
const AggregateBatchID = "aggregate"

type BatchDraw struct {
	BatchID  string `json:"batchId"`
	Quantity int    `json:"quantity"`
}

type Allocation struct {
	MedicineID string
	Requested  int
	Draws      []BatchDraw
	// Tracked is false when the medicine has no batch records and the
	// allocation was made against the aggregate pseudo-batch.
	Tracked bool
}

// StockChange is the only shape in which stock quantities are written.
// Delta and draw quantities are signed: negative for a sale decrement,
// positive for a compensation.
type StockChange struct {
	MedicineID       string
	ExpectedQuantity int
	Delta            int
	Draws            []BatchDraw
}

type SaleItemRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type SaleRequest struct {
	PatientName  string            `json:"patientName"`
	PatientPhone string            `json:"patientPhone"`
	Items        []SaleItemRequest `json:"items"`
}

type SaleLineItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

type Sale struct {
	ID           string          `json:"id"`
	PatientName  string          `json:"patientName"`
	PatientPhone string          `json:"patientPhone"`
	Items        []SaleLineItem  `json:"items"`
	GrandTotal   decimal.Decimal `json:"grandTotal"`
	Cashier      string          `json:"cashier"`
	CreatedAt    time.Time       `json:"date"`
}

// SaleRow is one line item of a committed sale flattened for reporting.
type SaleRow struct {
	SaleID        string          `json:"saleId"`
	CustomerName  string          `json:"customerName"`
	MedicineName  string          `json:"medicineName"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Pharmacist    string          `json:"pharmacist"`
	Date          time.Time       `json:"date"`
}

type SaleListResponse struct {
	Items []SaleRow `json:"items"`
}

type SalesSummary struct {
	TotalRevenue     decimal.Decimal `json:"totalRevenue"`
	TodayRevenue     decimal.Decimal `json:"todayRevenue"`
	ThisMonthRevenue decimal.Decimal `json:"thisMonthRevenue"`
	LastMonthRevenue decimal.Decimal `json:"lastMonthRevenue"`
	Growth           int64           `json:"growth"`
	GeneratedAt      time.Time       `json:"generatedAt"`
}

type StockStatus string

const (
	StockEmpty     StockStatus = "EMPTY"
	StockLow       StockStatus = "LOW"
	StockAvailable StockStatus = "AVAILABLE"
)

type StockReportRow struct {
	MedicineID      string      `json:"id"`
	Name            string      `json:"name"`
	QuantityInStock int         `json:"quantityInStock"`
	ReorderLevel    int         `json:"reorderLevel"`
	Status          StockStatus `json:"status"`
}

type StockReportResponse struct {
	Threshold int              `json:"threshold"`
	Items     []StockReportRow `json:"items"`
}

type AvailabilityResponse struct {
	MedicineID string `json:"medicineId"`
	Available  int    `json:"available"`
}

// StockAlert is emitted when a decrement moves a medicine into a degraded
// status.
type StockAlert struct {
	MedicineID   string      `json:"medicineId"`
	MedicineName string      `json:"medicineName"`
	OldQuantity  int         `json:"oldQuantity"`
	NewQuantity  int         `json:"newQuantity"`
	Status       StockStatus `json:"status"`
	Subject      string      `json:"subject"`
	OccurredAt   time.Time   `json:"occurredAt"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username    string
	DisplayName string
	Role        string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username    string
	DisplayName string
	Password    string
	Role        string
	Active      bool
	CreatedAt   time.Time
}

const (
	RolePharmacist = "pharmacist"
	RoleAdmin      = "admin"
)
