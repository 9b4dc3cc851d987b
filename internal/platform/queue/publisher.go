// Package queue publishes outbound integration messages to RabbitMQ.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Message is one outbound delivery.
type Message struct {
	ContentType string
	Body        []byte
	Headers     map[string]string
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher sends persistent messages to one durable queue on the default
// exchange. Publishing is serialised because an AMQP channel is not safe for
// concurrent use.
type Publisher struct {
	mu     sync.Mutex
	conn   *amqp091.Connection
	ch     channel
	queue  string
	logger zerolog.Logger
}

// Dial connects to url, opens a channel and declares queue as durable.
func Dial(url, queue string, logger zerolog.Logger) (*Publisher, error) {
	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp091.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	p := &Publisher{conn: conn, queue: queue, logger: logger.With().Str("component", "queue").Str("queue", queue).Logger()}
	if err := p.reopen(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(ch channel, queue string, logger zerolog.Logger) *Publisher {
	return &Publisher{ch: ch, queue: queue, logger: logger}
}

func (p *Publisher) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", p.queue, err)
	}
	p.ch = ch
	return nil
}

// Publish delivers msg. A closed channel is reopened once before giving up.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	pub := amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, pub)
	if errors.Is(err, amqp091.ErrClosed) && p.conn != nil && !p.conn.IsClosed() {
		p.logger.Warn().Msg("channel closed, reopening")
		if rerr := p.reopen(); rerr != nil {
			return fmt.Errorf("publish to %s: %w", p.queue, rerr)
		}
		err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, pub)
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
