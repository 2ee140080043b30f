package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestResponseModelsUseCamelCaseKeys(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	values := []any{
		Medicine{ID: "med-1", Name: "Paracetamol", GenericName: "Acetaminophen", SellPrice: decimal.NewFromInt(2), QuantityInStock: 5, CreatedAt: now},
		Batch{ID: "b-1", MedicineID: "med-1", BatchNo: "P-1", ExpiryDate: now, Quantity: 5},
		BatchDraw{BatchID: "b-1", Quantity: 1},
		SaleRow{SaleID: "sale-1", CustomerName: "Budi", MedicineName: "Paracetamol", Date: now},
		StockAlert{MedicineID: "med-1", MedicineName: "Paracetamol", OldQuantity: 5, NewQuantity: 0, Status: StockEmpty, OccurredAt: now},
		LoginResponse{AccessToken: "token", Role: RoleAdmin, ExpiresAt: now.Format(time.RFC3339)},
	}

	for _, v := range values {
		body, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %T: %v", v, err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			t.Fatalf("decode %T: %v", v, err)
		}
		for key := range fields {
			if strings.Contains(key, "_") {
				t.Fatalf("%T has snake_case key %q", v, key)
			}
		}
	}
}

func TestStockAlertKeys(t *testing.T) {
	body, _ := json.Marshal(StockAlert{MedicineID: "med-1", NewQuantity: 3})
	for _, key := range []string{`"medicineId"`, `"newQuantity"`, `"occurredAt"`} {
		if !strings.Contains(string(body), key) {
			t.Fatalf("expected %s in %s", key, body)
		}
	}
}
