package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles event publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher bound to a topic exchange
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// DistributionShare is one payout line of a completed project
type DistributionShare struct {
	Address string `json:"address"`
	Units   int64  `json:"units"`
	Amount  string `json:"amount"`
}

// ProjectCompletedEvent is consumed by the settlement service that releases escrow
type ProjectCompletedEvent struct {
	ProjectID   string              `json:"project_id"`
	Outcome     string              `json:"outcome"`
	RewardTotal string              `json:"reward_total"`
	TotalUnits  int64               `json:"total_units"`
	Shares      []DistributionShare `json:"shares"`
	CompletedAt string              `json:"completed_at"`
	RequestedBy string              `json:"requested_by"`
}

// SubmissionAcceptedEvent announces a stored submission
type SubmissionAcceptedEvent struct {
	SubmissionID       string `json:"submission_id"`
	ProjectID          string `json:"project_id"`
	ContributorAddress string `json:"contributor_address,omitempty"`
	Items              int    `json:"items"`
	Rejected           int    `json:"rejected"`
	Flagged            int    `json:"flagged"`
	ArchiveKey         string `json:"archive_key,omitempty"`
}

// PublishEvent publishes any JSON-encodable event with the given routing key
func (p *Publisher) PublishEvent(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
