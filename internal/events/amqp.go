package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/investkar/ledger/internal/apperr"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const defaultExchange = "ledger.events"

// AMQPPublisher publishes events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(amqpURL, exchange string) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(exchange) == "" {
		exchange = defaultExchange
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("events: dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: channel: %w", err)
	}
	if errDeclare := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); errDeclare != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", errDeclare)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if errPublish := p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Body:         payload,
	}); errPublish != nil {
		return fmt.Errorf("events: publish %s: %v: %w", event.Type, errPublish, apperr.ErrTransport)
	}
	log.WithFields(log.Fields{"exchange": p.exchange, "routing_key": event.Type}).Debug("events: published")
	return nil
}

// Close releases channel and connection resources.
func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Connect returns an AMQP publisher, or the Fallback when url is empty or the broker is unreachable.
func Connect(amqpURL, exchange string) Publisher {
	if strings.TrimSpace(amqpURL) == "" {
		return Fallback{}
	}
	publisher, err := NewAMQPPublisher(amqpURL, exchange)
	if err != nil {
		log.WithError(err).Warn("events: rabbitmq unavailable, using fallback publisher")
		return Fallback{}
	}
	return publisher
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
