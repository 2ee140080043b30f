package notify

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"pharmaledger/backend/internal/domain"
)

func TestRabbitMQSinkIntegration(t *testing.T) {
	url := os.Getenv("PHARMALEDGER_TEST_RABBITMQ_URL")
	if url == "" {
		t.Skip("PHARMALEDGER_TEST_RABBITMQ_URL is not set")
	}

	exchange := "pharmacy.stock.test"
	conn, ch, err := DialRabbitMQ(url, exchange, zap.NewNop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = ch.Close()
		_ = conn.Close()
	})

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.Fatalf("declare queue: %v", err)
	}
	if err := ch.QueueBind(q.Name, "stock.#", exchange, false, nil); err != nil {
		t.Fatalf("bind queue: %v", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := NewRabbitMQSink(ch, exchange).Notify(ctx, lowAlert("Cetirizine")); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case d := <-deliveries:
		if d.RoutingKey != "stock.low" {
			t.Fatalf("unexpected routing key %s", d.RoutingKey)
		}
		var alert domain.StockAlert
		if err := json.Unmarshal(d.Body, &alert); err != nil || alert.MedicineName != "Cetirizine" {
			t.Fatalf("unexpected delivery %s (%v)", d.Body, err)
		}
	case <-ctx.Done():
		t.Fatalf("no delivery before timeout")
	}
}
