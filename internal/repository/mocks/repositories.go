package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"companion-server/internal/models"
)

// Mock AffinityRepository
type AffinityRepository struct {
	mock.Mock
}

func (m *AffinityRepository) Get(ctx context.Context, userID string) (*models.AffinityRecord, error) {
	args := m.Called(ctx, userID)
	if rec, ok := args.Get(0).(*models.AffinityRecord); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *AffinityRepository) Upsert(ctx context.Context, userID string, level int) error {
	args := m.Called(ctx, userID, level)
	return args.Error(0)
}

func (m *AffinityRepository) Touch(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// Mock SessionStateRepository
type SessionStateRepository struct {
	mock.Mock
}

func (m *SessionStateRepository) Get(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	args := m.Called(ctx, sessionID)
	if state, ok := args.Get(0).(*models.SessionContext); ok {
		return state, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionStateRepository) Save(ctx context.Context, sessionID string, state *models.SessionContext) error {
	args := m.Called(ctx, sessionID, state)
	return args.Error(0)
}

// Mock HistoryRepository
type HistoryRepository struct {
	mock.Mock
}

func (m *HistoryRepository) Append(ctx context.Context, sessionID string, msgs ...models.Message) error {
	args := m.Called(ctx, sessionID, msgs)
	return args.Error(0)
}

func (m *HistoryRepository) List(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, sessionID, limit)
	if msgs, ok := args.Get(0).([]models.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
