// Package events publishes inbox lifecycle events to a RabbitMQ topic
// exchange so downstream services (flow workers, analytics) can consume
// them. Publishing is best-effort from the channel layer's point of view.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Routing keys for message lifecycle events.
const (
	KeyMessageInbound  = "message.inbound.v1"
	KeyMessageOutbound = "message.outbound.v1"
	KeyMessageDeleted  = "message.deleted.v1"
)

// Meta describes one emitted event.
type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Producer string    `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
}

// Envelope wraps an event payload with its metadata.
type Envelope struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

// MessageEvent is the payload for message.* routing keys.
type MessageEvent struct {
	CompanyID      uint   `json:"company_id"`
	ConversationID uint   `json:"conversation_id"`
	MessageID      uint   `json:"message_id"`
	ChannelType    string `json:"channel_type"`
	Direction      string `json:"direction"`
	Kind           string `json:"kind"`
}

type Publisher interface {
	Publish(ctx context.Context, key string, data interface{}) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// New connects to RabbitMQ and declares a durable topic exchange.
func New(url, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &rmqPublisher{conn: conn, exchange: exchange}, nil
}

func (p *rmqPublisher) Publish(ctx context.Context, key string, data interface{}) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	env := Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     key,
			Producer: "omnibox",
			Time:     time.Now(),
		},
		Data: data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.Meta.ID,
		Timestamp:    env.Meta.Time,
		Body:         body,
	})
	if err == nil {
		logrus.Debugf("events: published %s to %s", key, p.exchange)
	}
	return err
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

// nopPublisher is used when AMQP is not configured.
type nopPublisher struct{}

func NewNop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (nopPublisher) Close() error                                       { return nil }
