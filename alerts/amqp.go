package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"sales-forecasting-platform/store"
)

// AMQPPublisher forwards alerts to a RabbitMQ topic exchange so downstream
// systems (replenishment, notifications) can react without polling the API.
type AMQPPublisher struct {
	url      string
	exchange string
	log      *logrus.Entry

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher creates a publisher. The connection is established lazily
// on first publish so a broker outage does not block startup.
func NewAMQPPublisher(url, exchange string, log *logrus.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		url:      url,
		exchange: exchange,
		log:      log.WithField("component", "amqp"),
	}
}

func (p *AMQPPublisher) ensureChannel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil && !p.conn.IsClosed() {
		return p.channel, nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = channel
	return channel, nil
}

// Publish sends one alert, routed by its kind (e.g. "low_stock").
func (p *AMQPPublisher) Publish(ctx context.Context, alert store.Alert) error {
	channel, err := p.ensureChannel()
	if err != nil {
		return err
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	err = channel.PublishWithContext(ctx, p.exchange, alert.Kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Run consumes alerts from the broker channel and publishes each one until
// the channel closes. Publish failures are logged and skipped.
func (p *AMQPPublisher) Run(ctx context.Context, alerts <-chan store.Alert) {
	for alert := range alerts {
		if err := p.Publish(ctx, alert); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"product_id": alert.ProductID,
				"kind":       alert.Kind,
			}).Warn("alert publish failed")
		}
	}
}

// Close tears down the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
