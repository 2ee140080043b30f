package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"pharmaledger/backend/internal/domain"
)

const (
	DefaultExchange = "pharmacy.stock"
	exchangeType    = "topic"
)

// channelPublisher is the part of *amqp.Channel the sink uses.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitMQSink struct {
	ch       channelPublisher
	exchange string
}

func NewRabbitMQSink(ch channelPublisher, exchange string) *RabbitMQSink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &RabbitMQSink{ch: ch, exchange: exchange}
}

// Notify publishes to routing key stock.<status>, e.g. stock.low.
func (s *RabbitMQSink) Notify(ctx context.Context, alert domain.StockAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal stock alert: %w", err)
	}
	routingKey := "stock." + strings.ToLower(string(alert.Status))
	return s.ch.PublishWithContext(ctx, s.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    alert.OccurredAt,
		Type:         routingKey,
		Headers: amqp.Table{
			"subject":    alert.Subject,
			"medicineId": alert.MedicineID,
		},
		Body: body,
	})
}

// DialRabbitMQ connects, opens a channel and declares the alert exchange.
func DialRabbitMQ(url string, exchange string, logger *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("rabbitmq connect failed", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, exchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}
