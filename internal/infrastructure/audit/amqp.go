package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/exp/slog"

	"ticketgate/internal/domain/validation"
)

const conflictEventType = "validation.conflict"

// AMQPPublisher публикует события конфликтов в durable-очередь RabbitMQ.
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	mu    sync.Mutex
	log   *slog.Logger
}

func NewAMQPPublisher(url, queue string, log *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return &AMQPPublisher{
		conn:  conn,
		ch:    ch,
		queue: queue,
		log:   log.With("component", "audit_publisher"),
	}, nil
}

func (p *AMQPPublisher) PublishConflict(ctx context.Context, e validation.ConflictEvent) error {
	msg, err := conflictMessage(e)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish conflict %s: %w", e.RecordID, err)
	}

	p.log.Debug("conflict event published", "record_id", e.RecordID, "ticket_id", e.TicketID)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func conflictMessage(e validation.ConflictEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal conflict event: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.RecordID,
		Type:         conflictEventType,
		Timestamp:    e.DetectedAt,
		Body:         body,
	}, nil
}
