package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"companion-server/internal/models"
)

// Compile-time check to ensure pgAffinityRepository implements AffinityRepository
var _ AffinityRepository = (*pgAffinityRepository)(nil)

type pgAffinityRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgAffinityRepository creates a new PostgreSQL-backed AffinityRepository.
func NewPgAffinityRepository(db *pgxpool.Pool, logger *zap.Logger) AffinityRepository {
	return &pgAffinityRepository{
		db:     db,
		logger: logger.Named("PgAffinityRepo"),
	}
}

// Get retrieves the affinity record for a user.
func (r *pgAffinityRepository) Get(ctx context.Context, userID string) (*models.AffinityRecord, error) {
	query := `SELECT user_id, affinity_level, updated_at FROM user_states WHERE user_id = $1`
	r.logger.Debug("Executing query", zap.String("query", query), zap.String("userID", userID))

	record := &models.AffinityRecord{}
	err := pgxscan.Get(ctx, r.db, record, query, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Affinity record not found", zap.String("userID", userID))
			return nil, models.ErrAffinityNotFound
		}
		r.logger.Error("Failed to get affinity record from postgres", zap.Error(err), zap.String("userID", userID))
		return nil, fmt.Errorf("failed to get affinity record from postgres: %w", err)
	}
	return record, nil
}

// Upsert writes the clamped affinity level and refreshes updated_at.
func (r *pgAffinityRepository) Upsert(ctx context.Context, userID string, level int) error {
	clamped := models.ClampAffinity(level)
	query := `
		INSERT INTO user_states (user_id, affinity_level, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET affinity_level = EXCLUDED.affinity_level, updated_at = NOW()`
	r.logger.Debug("Executing query", zap.String("query", query), zap.String("userID", userID), zap.Int("level", clamped))

	if _, err := r.db.Exec(ctx, query, userID, clamped); err != nil {
		r.logger.Error("Failed to upsert affinity record in postgres", zap.Error(err), zap.String("userID", userID))
		return fmt.Errorf("failed to upsert affinity record in postgres: %w", err)
	}
	r.logger.Info("Affinity record updated", zap.String("userID", userID), zap.Int("level", clamped))
	return nil
}

// Touch refreshes updated_at, creating the record with level 0 if absent.
func (r *pgAffinityRepository) Touch(ctx context.Context, userID string) error {
	query := `
		INSERT INTO user_states (user_id, affinity_level, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET updated_at = NOW()`
	r.logger.Debug("Executing query", zap.String("query", query), zap.String("userID", userID))

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		r.logger.Error("Failed to touch affinity record in postgres", zap.Error(err), zap.String("userID", userID))
		return fmt.Errorf("failed to touch affinity record in postgres: %w", err)
	}
	return nil
}
