package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"companion-server/internal/models"
)

// Mock TurnService
type TurnService struct {
	mock.Mock
}

func (m *TurnService) ProcessTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResponse, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*models.TurnResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TurnService) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, sessionID, limit)
	if msgs, ok := args.Get(0).([]models.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
