// Package broker publishes scored verdicts to RabbitMQ for downstream
// consumers (alerting, dashboards).
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"zentry-anomalies/internal/domain"
	"zentry-anomalies/internal/ports"
)

// Publisher pushes verdict batches to a topic exchange.
type Publisher struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

var _ ports.VerdictPublisher = (*Publisher)(nil)

// NewPublisher opens a channel and declares the durable exchange.
func NewPublisher(conn *amqp.Connection, exchange, routingKey string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{channel: ch, exchange: exchange, routingKey: routingKey}, nil
}

type verdictMessage struct {
	EntityID     string    `json:"entity_id"`
	WindowStart  time.Time `json:"window_start"`
	WindowWidth  string    `json:"window_width"`
	Anomalous    bool      `json:"anomalous"`
	Reason       string    `json:"reason"`
	Severity     float64   `json:"severity"`
	ModelVersion string    `json:"model_version"`
}

// PublishVerdicts sends one JSON message per batch.
func (p *Publisher) PublishVerdicts(ctx context.Context, verdicts []domain.AnomalyVerdict) error {
	messages := make([]verdictMessage, 0, len(verdicts))
	for _, v := range verdicts {
		messages = append(messages, verdictMessage{
			EntityID:     v.EntityID,
			WindowStart:  v.Window.Start,
			WindowWidth:  v.Window.Width.String(),
			Anomalous:    v.Anomalous,
			Reason:       string(v.Reason),
			Severity:     v.Severity,
			ModelVersion: v.ModelVersion,
		})
	}

	body, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode verdicts: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return &domain.AdapterIOError{Op: "publish verdicts", Kind: domain.IOConnection, Err: err}
	}
	return nil
}

// Close tears down the channel.
func (p *Publisher) Close() error {
	return p.channel.Close()
}
