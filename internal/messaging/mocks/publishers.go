package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"companion-server/internal/messaging"
)

// Mock MemoryFactPublisher
type MemoryFactPublisher struct {
	mock.Mock
}

func (m *MemoryFactPublisher) PublishMemoryFact(ctx context.Context, payload messaging.MemoryFactPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MemoryFactPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
