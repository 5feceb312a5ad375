package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"briefing_scheduler/internal/domain"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// NewRabbitMQ connects, declares the exchange/queue binding and puts the
// channel in confirm mode so every publish waits for a broker ack.
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

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

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
		logger:     logger.With("component", "publisher"),
	}, nil
}

// declareTopology sets up a durable direct exchange with one durable queue
// bound on the routing key.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// JobEvent is the message body announcing a job outcome.
type JobEvent struct {
	Action    string           `json:"action"`
	JobID     string           `json:"job_id"`
	UserID    string           `json:"user_id,omitempty"`
	LocalDate string           `json:"local_date,omitempty"`
	Status    domain.JobStatus `json:"status"`
	Attempt   int              `json:"attempt,omitempty"`
	Welcome   bool             `json:"welcome,omitempty"`
	AudioPath *string          `json:"audio_path,omitempty"`
	ErrorCode *string          `json:"error_code,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewJobEvent(job *domain.Job, action string, now time.Time) JobEvent {
	return JobEvent{
		Action:    action,
		JobID:     job.ID,
		UserID:    job.UserID,
		LocalDate: job.LocalDate,
		Status:    job.Status,
		Attempt:   job.AttemptCount,
		Welcome:   job.IsWelcome,
		AudioPath: job.AudioPath,
		ErrorCode: job.ErrorCode,
		Timestamp: now.UTC(),
	}
}

// PublishJobEvent sends one persistent event and waits for the broker to
// confirm it. MessageId is stable per job and action so consumers can drop
// redeliveries.
func (r *RabbitMQ) PublishJobEvent(ctx context.Context, job *domain.Job, action string) error {
	now := time.Now()
	body, err := json.Marshal(NewJobEvent(job, action, now))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, r.exchange, r.routingKey, false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID + ":" + action + ":" + strconv.Itoa(job.AttemptCount),
			Type:         action,
			Body:         body,
			Timestamp:    now,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("publish event: broker nacked %s for job %s", action, job.ID)
	}

	r.logger.Debug("published job event", "job_id", job.ID, "action", action)
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
