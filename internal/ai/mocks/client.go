package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"companion-server/internal/ai"
)

// Mock ai.Client
type Client struct {
	mock.Mock
}

func (m *Client) Converse(ctx context.Context, userID, sessionID, systemPrompt, userMessage string) (string, ai.UsageInfo, error) {
	args := m.Called(ctx, userID, sessionID, systemPrompt, userMessage)
	return args.String(0), args.Get(1).(ai.UsageInfo), args.Error(2)
}
