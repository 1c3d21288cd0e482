// Package rabbitmq publishes task assignment envelopes to a broker so
// worker agents off-box can consume them.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/buildnet/build-scheduler/internal/core/domain"
	"github.com/buildnet/build-scheduler/internal/core/port"
)

const assignmentExchange = "builds.direct"

// Notifier publishes assignment envelopes to a direct exchange.
type Notifier struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *zap.Logger
}

var _ port.Notifier = (*Notifier)(nil)

// NewNotifier dials the broker, retrying with incremental backoff, and
// declares the assignment exchange.
func NewNotifier(url string, log *zap.Logger) (*Notifier, error) {
	var conn *amqp.Connection
	var err error

	maxRetries := 10
	for i := 1; i <= maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				if declErr := ch.ExchangeDeclare(
					assignmentExchange,
					"direct",
					true,  // durable
					false, // auto-delete
					false, // internal
					false, // no-wait
					nil,
				); declErr != nil {
					conn.Close()
					return nil, fmt.Errorf("declare exchange: %w", declErr)
				}
				return &Notifier{conn: conn, ch: ch, log: log}, nil
			}
			err = chErr
			conn.Close()
		}

		log.Warn("failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", i),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))
		time.Sleep(time.Duration(i*2) * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

type assignmentEnvelope struct {
	Type string             `json:"type"`
	Node string             `json:"node"`
	Task *domain.QueuedTask `json:"task"`
}

// PublishAssignment routes the envelope by priority band so workers can
// keep separate consumers for urgent and background work.
func (n *Notifier) PublishAssignment(ctx context.Context, nodeID string, task *domain.QueuedTask) error {
	body, err := json.Marshal(assignmentEnvelope{Type: "task_assigned", Node: nodeID, Task: task})
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}

	routingKey := "build.normal"
	switch {
	case task.Priority <= domain.PriorityHigh:
		routingKey = "build.high"
	case task.Priority >= domain.PriorityLow:
		routingKey = "build.low"
	}

	err = n.ch.PublishWithContext(ctx,
		assignmentExchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("publish assignment for %s: %w", task.ID, err)
	}

	n.log.Debug("published assignment",
		zap.String("task_id", task.ID),
		zap.String("node_id", nodeID),
		zap.String("routing_key", routingKey))
	return nil
}

// Close tears down the channel and connection.
func (n *Notifier) Close() error {
	if err := n.ch.Close(); err != nil {
		n.conn.Close()
		return err
	}
	return n.conn.Close()
}
