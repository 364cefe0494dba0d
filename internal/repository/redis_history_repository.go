package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"companion-server/internal/models"
)

// Compile-time check to ensure redisHistoryRepository implements HistoryRepository
var _ HistoryRepository = (*redisHistoryRepository)(nil)

type redisHistoryRepository struct {
	client     *redis.Client
	maxEntries int
	logger     *zap.Logger
}

// NewRedisHistoryRepository creates a new Redis-backed HistoryRepository.
// maxEntries ограничивает длину хранимой истории на сессию.
func NewRedisHistoryRepository(client *redis.Client, maxEntries int, logger *zap.Logger) HistoryRepository {
	return &redisHistoryRepository{
		client:     client,
		maxEntries: maxEntries,
		logger:     logger.Named("RedisHistoryRepo"),
	}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("session_history:%s", sessionID)
}

// Append pushes messages to the tail of the session history and trims it.
func (r *redisHistoryRepository) Append(ctx context.Context, sessionID string, msgs ...models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := historyKey(sessionID)

	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal history message: %w", err)
		}
		values = append(values, data)
	}

	// Use pipeline for atomic operations
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	if r.maxEntries > 0 {
		pipe.LTrim(ctx, key, int64(-r.maxEntries), -1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to append history in redis", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to append history in redis: %w", err)
	}
	r.logger.Debug("History appended", zap.String("sessionID", sessionID), zap.Int("count", len(msgs)))
	return nil
}

// List returns up to limit most recent messages, oldest first.
func (r *redisHistoryRepository) List(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	key := historyKey(sessionID)

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := r.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		r.logger.Error("Failed to read history from redis", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("failed to read history from redis: %w", err)
	}

	messages := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			r.logger.Warn("Malformed history entry skipped", zap.String("sessionID", sessionID), zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
