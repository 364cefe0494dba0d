package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"companion-server/internal/image"
)

// Mock image.Generator
type Generator struct {
	mock.Mock
}

func (m *Generator) Generate(ctx context.Context, req image.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
