package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MemoryWriter - клиент сервиса долговременной памяти.
// Сервис сам выполняет retrieval при обращениях модели; этот клиент
// используется только для односторонней записи фактов.
type MemoryWriter interface {
	SaveFact(ctx context.Context, userID, fact string) error
}

type memoryServiceHTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ MemoryWriter = (*memoryServiceHTTPClient)(nil)

// NewMemoryServiceHTTPClient создает HTTP-клиента сервиса памяти.
func NewMemoryServiceHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) MemoryWriter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &memoryServiceHTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("MemoryServiceClient"),
	}
}

type saveFactRequest struct {
	UserID string `json:"user_id"`
	Fact   string `json:"fact"`
}

// SaveFact отправляет факт в сервис памяти.
func (c *memoryServiceHTTPClient) SaveFact(ctx context.Context, userID, fact string) error {
	payload := saveFactRequest{UserID: userID, Fact: fact}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal save fact request: %w", err)
	}

	endpointURL := c.baseURL + "/api/memory/facts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create save fact request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending fact to memory service", zap.String("url", endpointURL), zap.String("userID", userID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Memory service request failed", zap.Error(err), zap.String("userID", userID))
		return fmt.Errorf("memory service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("Memory service returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		return fmt.Errorf("memory service returned status %d", resp.StatusCode)
	}

	c.logger.Info("Fact saved to memory service", zap.String("userID", userID), zap.Int("factLength", len(fact)))
	return nil
}
