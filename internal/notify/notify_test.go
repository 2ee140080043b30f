package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"pharmaledger/backend/internal/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []domain.StockAlert
	err    error
}

func (s *recordingSink) Notify(_ context.Context, alert domain.StockAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func lowAlert(name string) domain.StockAlert {
	return domain.StockAlert{
		MedicineID:   "med-" + name,
		MedicineName: name,
		OldQuantity:  200,
		NewQuantity:  140,
		Status:       domain.StockLow,
		Subject:      "Low Stock Alert: " + name,
		OccurredAt:   time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestDispatcherDeliversQueuedAlertsBeforeClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, nil)
	d.Start()

	for _, name := range []string{"Paracetamol", "Ibuprofen", "Cetirizine"} {
		if !d.Publish(lowAlert(name)) {
			t.Fatalf("publish of %s dropped", name)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if sink.count() != 3 {
		t.Fatalf("expected 3 delivered alerts, got %d", sink.count())
	}
	if d.Publish(lowAlert("late")) {
		t.Fatalf("publish after close must be dropped")
	}
}

func TestDispatcherDropsWhenBufferFull(t *testing.T) {
	d := NewDispatcher(&recordingSink{}, 1, nil)
	if !d.Publish(lowAlert("a")) {
		t.Fatalf("first alert should fit the buffer")
	}
	if d.Publish(lowAlert("b")) {
		t.Fatalf("second alert should be dropped")
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestDispatcherSurvivesSinkFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("smtp down")}
	d := NewDispatcher(sink, 4, nil)
	d.Start()
	d.Publish(lowAlert("a"))
	d.Publish(lowAlert("b"))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if sink.count() != 2 {
		t.Fatalf("expected both alerts attempted, got %d", sink.count())
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker unreachable")}
	err := Fanout{failing, ok}.Notify(context.Background(), lowAlert("a"))
	if err == nil || ok.count() != 1 {
		t.Fatalf("expected error and delivery to healthy sink, got %v / %d", err, ok.count())
	}
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func TestRabbitMQSinkRoutesByStatus(t *testing.T) {
	ch := &fakeChannel{}
	alert := lowAlert("Paracetamol")
	alert.Status = domain.StockEmpty
	if err := NewRabbitMQSink(ch, "").Notify(context.Background(), alert); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if ch.exchange != DefaultExchange || ch.key != "stock.empty" {
		t.Fatalf("unexpected route %s/%s", ch.exchange, ch.key)
	}
	var decoded domain.StockAlert
	if err := json.Unmarshal(ch.msg.Body, &decoded); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if decoded.MedicineName != "Paracetamol" || decoded.NewQuantity != 140 {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	if got := ch.msg.Headers["subject"]; got != alert.Subject {
		t.Fatalf("expected subject header %q, got %v", alert.Subject, got)
	}
	if ch.msg.Type != "stock.empty" || ch.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected message type %q mode %d", ch.msg.Type, ch.msg.DeliveryMode)
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysByMedicine(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w)
	if err := sink.Notify(context.Background(), lowAlert("Ibuprofen")); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "med-Ibuprofen" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	if err := sink.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed")
	}
}
