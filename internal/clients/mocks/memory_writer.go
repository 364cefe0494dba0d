package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Mock MemoryWriter
type MemoryWriter struct {
	mock.Mock
}

func (m *MemoryWriter) SaveFact(ctx context.Context, userID, fact string) error {
	args := m.Called(ctx, userID, fact)
	return args.Error(0)
}
