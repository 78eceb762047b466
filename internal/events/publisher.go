// Package events fans registry changes out to a message broker and to
// terminal-state hooks such as the object-storage mirror.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends one message under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body json.RawMessage) error
	Close() error
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes persistent JSON messages to a topic exchange.
type RabbitPublisher struct {
	channel  amqpChannel
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
}

// DialRabbit connects to url and declares a durable topic exchange.
func DialRabbit(url, exchange string, logger *slog.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	p, err := NewRabbitPublisher(conn, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func NewRabbitPublisher(conn *amqp.Connection, exchange string, logger *slog.Logger) (*RabbitPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true, // durable
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}

	return &RabbitPublisher{channel: ch, exchange: exchange, logger: logger}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, body json.RawMessage) error {
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

func (p *RabbitPublisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		err = errors.CombineErrors(err, p.conn.Close())
	}
	return err
}
