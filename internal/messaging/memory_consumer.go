package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"companion-server/internal/clients"
	"companion-server/internal/models"
)

// MemoryFactConsumer слушает очередь фактов и доставляет их в сервис
// долговременной памяти с ограниченным числом попыток на сообщение.
// Исчерпание попыток приводит к логированию и отбрасыванию факта:
// запись памяти никогда не валит сервис и не блокирует ходы.
type MemoryFactConsumer struct {
	conn         *amqp091.Connection
	ch           *amqp091.Channel
	memoryWriter clients.MemoryWriter
	logger       *zap.Logger
	queueName    string
	consumerTag  string
	maxAttempts  int
	retryDelay   time.Duration
	done         chan error // Сигнал для остановки
}

// NewMemoryFactConsumer создает нового консьюмера фактов памяти.
func NewMemoryFactConsumer(
	conn *amqp091.Connection,
	memoryWriter clients.MemoryWriter,
	queueName string,
	maxAttempts int,
	retryDelay time.Duration,
	logger *zap.Logger,
) (*MemoryFactConsumer, error) {
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection is nil")
	}
	if memoryWriter == nil {
		return nil, fmt.Errorf("MemoryWriter is nil")
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	consumerTag := fmt.Sprintf("memory_fact_consumer_%d", time.Now().UnixNano())

	consumer := &MemoryFactConsumer{
		conn:         conn,
		memoryWriter: memoryWriter,
		logger:       logger.Named("MemoryFactConsumer").With(zap.String("consumerTag", consumerTag), zap.String("queue", queueName)),
		queueName:    queueName,
		consumerTag:  consumerTag,
		maxAttempts:  maxAttempts,
		retryDelay:   retryDelay,
		done:         make(chan error),
	}

	if err := consumer.setupChannelAndQueue(); err != nil {
		return nil, fmt.Errorf("failed to setup channel and queue: %w", err)
	}

	consumer.logger.Info("MemoryFactConsumer инициализирован")
	return consumer, nil
}

// setupChannelAndQueue создает канал и объявляет очередь.
func (c *MemoryFactConsumer) setupChannelAndQueue() error {
	var err error
	c.ch, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	c.logger.Info("RabbitMQ channel opened")

	// Объявляем очередь (durable). Параметры должны совпадать с publisher'ом.
	_, err = c.ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = c.ch.Close() // Пытаемся закрыть канал при ошибке
		return fmt.Errorf("failed to declare queue '%s': %w", c.queueName, err)
	}
	c.logger.Info("RabbitMQ queue declared", zap.String("queue", c.queueName))

	// Обрабатываем по одному сообщению за раз
	err = c.ch.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		_ = c.ch.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	c.logger.Info("RabbitMQ QoS set", zap.Int("prefetchCount", 1))

	return nil
}

// StartConsuming запускает процесс получения и обработки сообщений.
// Блокирует выполнение до остановки консьюмера или ошибки канала.
func (c *MemoryFactConsumer) StartConsuming() error {
	if c.ch == nil {
		return fmt.Errorf("channel is not initialized, call setupChannelAndQueue first")
	}
	c.logger.Info("Начало прослушивания очереди фактов памяти...")

	deliveries, err := c.ch.Consume(
		c.queueName,
		c.consumerTag,
		false, // auto-ack (подтверждаем вручную)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		c.logger.Error("Ошибка запуска consumer'а", zap.Error(err))
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	// Горутина для обработки сообщений
	go c.handleDeliveries(deliveries)

	// Горутина для отслеживания закрытия канала
	go func() {
		notifyClose := make(chan *amqp091.Error)
		c.ch.NotifyClose(notifyClose)
		select {
		case err := <-notifyClose:
			if err != nil {
				c.logger.Error("RabbitMQ channel closed unexpectedly", zap.Error(err))
				c.done <- err
			} else {
				c.logger.Info("RabbitMQ channel closed gracefully.")
				c.done <- nil
			}
		case <-c.done: // Если Stop() был вызван раньше
			c.logger.Info("Received stop signal while waiting for channel close.")
		}
	}()

	c.logger.Info("Consumer запущен и ожидает сообщений", zap.String("tag", c.consumerTag))
	return <-c.done
}

// handleDeliveries обрабатывает входящие сообщения.
func (c *MemoryFactConsumer) handleDeliveries(deliveries <-chan amqp091.Delivery) {
	for d := range deliveries {
		log := c.logger.With(zap.Uint64("deliveryTag", d.DeliveryTag))
		log.Debug("Получено сообщение с фактом памяти")

		var payload MemoryFactPayload
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			log.Warn("Малформированное сообщение, отклоняем (Nack без requeue)", zap.Error(err))
			if nackErr := d.Nack(false, false); nackErr != nil {
				log.Error("Ошибка при отклонении (Nack) малформированного сообщения", zap.Error(nackErr))
			}
			continue
		}

		log = log.With(zap.String("taskID", payload.TaskID), zap.String("userID", payload.UserID))

		if err := c.deliverWithRetries(payload, log); err != nil {
			// Попытки исчерпаны: факт отбрасывается. Подтверждаем сообщение,
			// чтобы оно не зацикливалось в очереди.
			memoryFactsTotal.WithLabelValues("dropped").Inc()
			log.Error("Не удалось доставить факт после всех попыток, факт отброшен", zap.Error(err))
			if ackErr := d.Ack(false); ackErr != nil {
				log.Error("Ошибка при подтверждении (Ack) отброшенного сообщения", zap.Error(ackErr))
			}
			continue
		}

		memoryFactsTotal.WithLabelValues("delivered").Inc()
		log.Info("Факт успешно сохранен, подтверждаем (Ack)")
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("Ошибка при подтверждении (Ack) сообщения", zap.Error(ackErr))
		}
	}
	c.logger.Info("Канал deliveries закрыт, обработка сообщений завершена.")
	select {
	case c.done <- nil:
	default: // Канал done уже закрыт или заполнен
	}
}

// deliverWithRetries выполняет до maxAttempts попыток записи факта.
func (c *MemoryFactConsumer) deliverWithRetries(payload MemoryFactPayload, log *zap.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		lastErr = c.memoryWriter.SaveFact(ctx, payload.UserID, payload.Fact)
		cancel()

		if lastErr == nil {
			return nil
		}
		log.Warn("Попытка записи факта не удалась",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", c.maxAttempts),
			zap.Error(lastErr),
		)
		if attempt < c.maxAttempts {
			time.Sleep(c.retryDelay)
		}
	}
	return fmt.Errorf("%w: %w", models.ErrMemoryWriteFailed, lastErr)
}

// Stop корректно останавливает консьюмера.
func (c *MemoryFactConsumer) Stop() error {
	if c.ch == nil {
		c.logger.Warn("Попытка остановить консьюмер без открытого канала")
		return nil
	}
	c.logger.Info("Остановка MemoryFactConsumer...")

	if err := c.ch.Cancel(c.consumerTag, false); err != nil {
		c.logger.Error("Ошибка отмены consumer'а", zap.Error(err))
	}
	if err := c.ch.Close(); err != nil {
		c.logger.Error("Ошибка закрытия канала", zap.Error(err))
		return err
	}
	return nil
}
