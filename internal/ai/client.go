package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"companion-server/internal/models"
)

const (
	pricePerMillionInputTokensUSD  = 0.15 // Цена за 1М входных токенов в USD
	pricePerMillionOutputTokensUSD = 0.6  // Цена за 1М выходных токенов в USD
)

// UsageInfo содержит информацию об использовании токенов и стоимости.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64 // Оценочная стоимость
}

// Client интерфейс для взаимодействия с AI API.
type Client interface {
	// Converse отправляет системный промпт и сообщение пользователя, возвращает
	// сырой текст ответа модели (ожидается JSON) и информацию об использовании.
	// Недоступность самого API - единственная фатальная для хода ошибка,
	// она оборачивается в models.ErrModelUnavailable.
	Converse(ctx context.Context, userID, sessionID, systemPrompt, userMessage string) (string, UsageInfo, error)
}

// Config - настройки клиента AI API.
type Config struct {
	APIKey  string
	BaseURL string // Пустая строка - дефолтный endpoint OpenAI
	Model   string
	Timeout time.Duration
}

type openAIClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

var _ Client = (*openAIClient)(nil)

// NewOpenAIClient создает клиента поверх совместимого с OpenAI API.
func NewOpenAIClient(cfg Config, logger *zap.Logger) Client {
	openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &openAIClient{
		client: openaigo.NewClientWithConfig(openaiConfig),
		model:  cfg.Model,
		logger: logger.Named("AIClient"),
	}
}

// Converse выполняет один запрос chat completion в JSON-режиме.
func (c *openAIClient) Converse(ctx context.Context, userID, sessionID, systemPrompt, userMessage string) (string, UsageInfo, error) {
	usageInfo := UsageInfo{}

	if strings.TrimSpace(systemPrompt) == "" {
		aiRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", usageInfo, fmt.Errorf("%w: системный промпт пуст", models.ErrModelUnavailable)
	}

	messages := []openaigo.ChatCompletionMessage{
		{
			Role:    openaigo.ChatMessageRoleSystem,
			Content: systemPrompt,
		},
		{
			Role:    openaigo.ChatMessageRoleUser,
			Content: userMessage,
		},
	}

	startTime := time.Now()
	c.logger.Debug("Sending request to AI API",
		zap.String("model", c.model),
		zap.String("userID", userID),
		zap.String("sessionID", sessionID),
		zap.Int("systemPromptBytes", len(systemPrompt)),
		zap.Int("userMessageBytes", len(userMessage)),
	)

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openaigo.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
			ResponseFormat: &openaigo.ChatCompletionResponseFormat{
				Type: openaigo.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("AI API request failed",
			zap.Duration("duration", duration),
			zap.String("userID", userID),
			zap.String("sessionID", sessionID),
			zap.Error(err),
		)
		aiRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", usageInfo, fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		c.logger.Error("AI API returned empty response",
			zap.Duration("duration", duration),
			zap.String("userID", userID),
		)
		aiRequestsTotal.WithLabelValues(c.model, "error_empty_response").Inc()
		return "", usageInfo, fmt.Errorf("%w: получен пустой ответ", models.ErrModelUnavailable)
	}

	aiRequestsTotal.WithLabelValues(c.model, "success").Inc()
	aiRequestDuration.WithLabelValues(c.model).Observe(duration.Seconds())

	generatedText := resp.Choices[0].Message.Content
	c.logger.Debug("AI API response received",
		zap.Duration("duration", duration),
		zap.Int("responseLength", len(generatedText)),
		zap.String("userID", userID),
	)

	usageInfo.PromptTokens = resp.Usage.PromptTokens
	usageInfo.CompletionTokens = resp.Usage.CompletionTokens
	usageInfo.TotalTokens = resp.Usage.TotalTokens
	if usageInfo.PromptTokens == 0 {
		// Некоторые совместимые API не возвращают usage - считаем промпт локально.
		usageInfo.PromptTokens = c.countTokens(systemPrompt + userMessage)
		usageInfo.TotalTokens = usageInfo.PromptTokens + usageInfo.CompletionTokens
	}
	usageInfo.EstimatedCostUSD = calculateCost(usageInfo.PromptTokens, usageInfo.CompletionTokens)

	if usageInfo.TotalTokens > 0 {
		aiPromptTokens.WithLabelValues(c.model).Observe(float64(usageInfo.PromptTokens))
		aiCompletionTokens.WithLabelValues(c.model).Observe(float64(usageInfo.CompletionTokens))
		aiTotalTokens.WithLabelValues(c.model).Observe(float64(usageInfo.TotalTokens))
		if usageInfo.EstimatedCostUSD > 0 {
			aiEstimatedCostUSD.WithLabelValues(c.model).Add(usageInfo.EstimatedCostUSD)
		}
	}

	return generatedText, usageInfo, nil
}

// countTokens считает токены промпта через tiktoken. При неизвестной модели
// используется кодировка cl100k_base.
func (c *openAIClient) countTokens(text string) int {
	tke, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		tke, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("Failed to get tiktoken encoding", zap.Error(err))
			return 0
		}
	}
	return len(tke.Encode(text, nil, nil))
}

// calculateCost вычисляет оценочную стоимость запроса в USD.
func calculateCost(promptTokens, completionTokens int) float64 {
	inputCost := float64(promptTokens) / 1_000_000 * pricePerMillionInputTokensUSD
	outputCost := float64(completionTokens) / 1_000_000 * pricePerMillionOutputTokensUSD
	return inputCost + outputCost
}

// IsUnavailable сообщает, является ли ошибка фатальной недоступностью модели.
func IsUnavailable(err error) bool {
	return errors.Is(err, models.ErrModelUnavailable)
}
