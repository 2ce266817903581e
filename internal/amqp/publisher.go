package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// DefaultExchange receives mailsync events
const DefaultExchange = "mailsync"

const publishTimeout = 5 * time.Second

// Publisher publishes outbox payloads to a durable topic exchange, using the
// outbox subject as routing key. It owns its connection.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// Dial connects to RabbitMQ and declares the exchange
func Dial(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}

	go watchClose(conn)

	log.WithField("exchange", exchange).Info("AMQP publisher connected")
	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func watchClose(conn *amqp.Connection) {
	if err := <-conn.NotifyClose(make(chan *amqp.Error, 1)); err != nil {
		log.Errorf("AMQP connection closed: %v", err)
	}
}

// Publish sends one payload. msgID becomes the AMQP message id so consumers
// can drop redeliveries.
func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte, msgID string) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	p.mu.Lock()
	ch := p.channel
	p.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("AMQP publisher is closed")
	}

	err := ch.PublishWithContext(
		ctx,
		p.exchange,
		subject,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			MessageId:    msgID,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to exchange '%s' with routing key '%s': %w", p.exchange, subject, err)
	}

	log.WithFields(log.Fields{
		"exchange":   p.exchange,
		"routingKey": subject,
		"msgID":      msgID,
	}).Debug("Message published")
	return nil
}

// Close closes the channel, then the connection. It is safe to call twice.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
		p.conn = nil
	}
	return errors.Join(errs...)
}
