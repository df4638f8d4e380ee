package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/automata-engine/internal/domain"
)

// MessageType - тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTenantPause  MessageType = "tenant.pause"
	MessageTypeTenantResume MessageType = "tenant.resume"
	MessageTypeWorkReady    MessageType = "work.ready"
)

// Message - конверт сообщения.
type Message struct {
	// ID - уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type - тип сообщения.
	Type MessageType `json:"type"`

	// Payload - полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp - время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// TenantCommandPayload - payload команд tenant.pause / tenant.resume.
type TenantCommandPayload struct {
	TenantID int64  `json:"tenant_id"`
	Reason   string `json:"reason,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Encode сериализует сообщение в AMQP publishing.
func Encode(msg *Message) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Body:         body,
	}, nil
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	publishing, err := Encode(msg)
	if err != nil {
		return err
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,              // mandatory
			false,              // immediate
			publishing,
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishTenantPause рассылает команду остановки tenant'а всем процессам.
func (p *Publisher) PublishTenantPause(ctx context.Context, tenantID int64, reason string) error {
	msg := NewMessage(MessageTypeTenantPause, TenantCommandPayload{TenantID: tenantID, Reason: reason})
	return p.Publish(ctx, ExchangeTenants, RoutingKeyPause, msg)
}

// PublishTenantResume рассылает команду запуска tenant'а всем процессам.
func (p *Publisher) PublishTenantResume(ctx context.Context, tenantID int64, reason string) error {
	msg := NewMessage(MessageTypeTenantResume, TenantCommandPayload{TenantID: tenantID, Reason: reason})
	return p.Publish(ctx, ExchangeTenants, RoutingKeyResume, msg)
}

// PublishWorkReady публикует work item.
func (p *Publisher) PublishWorkReady(ctx context.Context, item domain.WorkItem) error {
	msg := NewMessage(MessageTypeWorkReady, item)
	return p.Publish(ctx, ExchangeWork, RoutingKeyReady, msg)
}
