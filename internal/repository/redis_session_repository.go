package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"companion-server/internal/models"
)

// Compile-time check to ensure redisSessionStateRepository implements SessionStateRepository
var _ SessionStateRepository = (*redisSessionStateRepository)(nil)

type redisSessionStateRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSessionStateRepository creates a new Redis-backed SessionStateRepository.
func NewRedisSessionStateRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) SessionStateRepository {
	return &redisSessionStateRepository{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisSessionRepo"),
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session_ctx:%s", sessionID)
}

// Get loads the session context.
func (r *redisSessionStateRepository) Get(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	key := sessionKey(sessionID)
	r.logger.Debug("Getting session context from Redis", zap.String("key", key))

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Debug("Session context not found in Redis", zap.String("sessionID", sessionID))
			return nil, models.ErrSessionNotFound
		}
		r.logger.Error("Failed to get session context from redis", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("failed to get session context from redis: %w", err)
	}

	var state models.SessionContext
	if err := json.Unmarshal(data, &state); err != nil {
		// Эта ошибка серьезная - данные в Redis повреждены
		r.logger.Error("Failed to parse session context from redis data",
			zap.Error(err),
			zap.String("sessionID", sessionID),
		)
		return nil, fmt.Errorf("corrupted session context in redis for session %s: %w", sessionID, err)
	}
	return &state, nil
}

// Save stores the session context with the configured TTL.
func (r *redisSessionStateRepository) Save(ctx context.Context, sessionID string, state *models.SessionContext) error {
	key := sessionKey(sessionID)
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session context: %w", err)
	}

	r.logger.Debug("Saving session context to Redis",
		zap.String("key", key),
		zap.Duration("ttl", r.ttl),
		zap.String("emotion", string(state.Emotion)),
		zap.String("scene", string(state.Scene)),
		zap.Int("affinity", state.AffinityLevel),
	)

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.Error("Failed to save session context in redis", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to save session context in redis: %w", err)
	}
	return nil
}
