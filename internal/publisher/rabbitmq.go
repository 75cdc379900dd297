// Package publisher announces stored metadata records on a RabbitMQ exchange.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fichub_metadata/internal/domain"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

const appID = "fichub_metadata"

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger = logger.With("component", "publisher")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// declare sets up a durable direct exchange and the queue consumers read
// record events from.
func declare(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return nil
}

// RecordEvent announces that one metadata row was written. Source is the
// record key; consumers deduplicate and route on it.
type RecordEvent struct {
	Action     string          `json:"action"`
	Source     string          `json:"source"`
	RecordID   int64           `json:"record_id"`
	FichubID   *string         `json:"fichub_id,omitempty"`
	Metadata   domain.Metadata `json:"metadata"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewRecordEvent builds the event for m. created is the store's report of
// whether the row was inserted rather than overwritten.
func NewRecordEvent(m *domain.Metadata, created bool, now time.Time) RecordEvent {
	action := ActionUpdate
	if created {
		action = ActionCreate
	}
	return RecordEvent{
		Action:     action,
		Source:     m.Source,
		RecordID:   m.ID,
		FichubID:   m.ExternalID,
		Metadata:   *m,
		OccurredAt: now.UTC(),
	}
}

// Headers carries the record key outside the body so consumers can filter
// without decoding it.
func (e RecordEvent) Headers() amqp.Table {
	return amqp.Table{
		"action": e.Action,
		"source": e.Source,
	}
}

func (r *RabbitMQ) Publish(ctx context.Context, m *domain.Metadata, created bool) error {
	event := NewRecordEvent(m, created, time.Now())

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event for %s: %w", event.Action, event.Source, err)
	}

	err = r.channel.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         "metadata." + event.Action,
		AppId:        appID,
		Headers:      event.Headers(),
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s event for %s: %w", event.Action, event.Source, err)
	}

	r.logger.Debug("published record event",
		"source", event.Source,
		"action", event.Action,
	)
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
