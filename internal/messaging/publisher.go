package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// MemoryFactPublisher - интерфейс публикации фактов для долговременной памяти.
type MemoryFactPublisher interface {
	PublishMemoryFact(ctx context.Context, payload MemoryFactPayload) error
	Close() error
}

// RabbitMQMemoryFactPublisher реализует MemoryFactPublisher для RabbitMQ.
type RabbitMQMemoryFactPublisher struct {
	conn      *amqp091.Connection
	ch        *amqp091.Channel
	queueName string
}

var _ MemoryFactPublisher = (*RabbitMQMemoryFactPublisher)(nil)

// NewRabbitMQMemoryFactPublisher создает нового издателя фактов памяти.
// Важно: предполагается, что соединение conn уже установлено и обработка
// ошибок/переподключений управляется внешним кодом, который передает сюда
// стабильное соединение.
func NewRabbitMQMemoryFactPublisher(conn *amqp091.Connection, queueName string) (*RabbitMQMemoryFactPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open a channel")
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Объявляем durable очередь, чтобы факты пережили перезапуск брокера.
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		_ = ch.Close() // Попытаемся закрыть канал
		log.Error().Err(err).Str("queue", queueName).Msg("Failed to declare queue")
		return nil, fmt.Errorf("failed to declare queue '%s': %w", queueName, err)
	}

	log.Info().Str("queue", queueName).Msg("Memory facts queue declared successfully")

	return &RabbitMQMemoryFactPublisher{conn: conn, ch: ch, queueName: queueName}, nil
}

// PublishMemoryFact публикует факт в очередь памяти.
func (p *RabbitMQMemoryFactPublisher) PublishMemoryFact(ctx context.Context, payload MemoryFactPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Interface("payload", payload).Msg("Failed to marshal memory fact payload")
		return fmt.Errorf("failed to marshal memory fact payload: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    payload.TaskID,
		},
	)

	if err != nil {
		log.Error().Err(err).Str("taskID", payload.TaskID).Msg("Failed to publish memory fact")
		return fmt.Errorf("failed to publish memory fact: %w", err)
	}

	log.Debug().Str("taskID", payload.TaskID).Str("userID", payload.UserID).Msg("Memory fact published")
	return nil
}

// Close закрывает канал RabbitMQ.
func (p *RabbitMQMemoryFactPublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
