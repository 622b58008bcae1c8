package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "shiftdrop.notifications"

// AMQPDispatcher publishes notifications to a topic exchange for a gateway consumer.
// The connection is opened on first use and dropped after a publish error.
type AMQPDispatcher struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	dial    func(string) (*amqp.Connection, error)
}

func NewAMQPDispatcher(rawURL, exchange string) (*AMQPDispatcher, error) {
	clean, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultExchange
	}
	return &AMQPDispatcher{url: clean, exchange: exchange, dial: amqp.Dial}, nil
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp url scheme must be amqp:// or amqps://")
	}
	return clean, nil
}

// RoutingKey is the topic a message type is published under.
func RoutingKey(messageType string) string {
	return "notify." + messageType
}

type amqpEnvelope struct {
	Type      string  `json:"type"`
	Recipient string  `json:"recipient"`
	Text      string  `json:"text"`
	Payload   Payload `json:"payload"`
}

func (d *AMQPDispatcher) Send(ctx context.Context, messageType string, payload Payload) error {
	body, err := json.Marshal(amqpEnvelope{
		Type:      messageType,
		Recipient: payload.Address(),
		Text:      payload.Text(),
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, err := d.channelLocked()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, d.exchange, RoutingKey(messageType), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         messageType,
		Body:         body,
	})
	if err != nil {
		d.resetLocked()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (d *AMQPDispatcher) channelLocked() (*amqp.Channel, error) {
	if d.channel != nil && !d.channel.IsClosed() {
		return d.channel, nil
	}
	d.resetLocked()
	conn, err := d.dial(d.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(d.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	d.conn, d.channel = conn, ch
	return ch, nil
}

func (d *AMQPDispatcher) resetLocked() {
	if d.channel != nil {
		_ = d.channel.Close()
		d.channel = nil
	}
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

// Close releases the broker connection.
func (d *AMQPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	return nil
}
