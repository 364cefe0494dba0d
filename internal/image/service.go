package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"companion-server/internal/models"
)

var imageGenerationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "companion_image_generations_total",
		Help: "Total number of image generation attempts by outcome.",
	},
	[]string{"outcome"}, // success, api_error, save_error
)

// GenerationRequest - параметры генерации одного портрета.
type GenerationRequest struct {
	Emotion       models.Emotion
	Scene         models.Scene
	AffinityLevel int
}

// Generator определяет интерфейс генерации изображения.
// Возвращает публичный URL сгенерированного файла.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Config - настройки генератора изображений.
type Config struct {
	ServerURL         string // Базовый URL SANA-сервера
	Timeout           time.Duration
	SavePath          string // Путь для сохранения файлов
	PublicBaseURL     string // Базовый URL для доступа к файлам
	PromptStyleSuffix string // Суффикс стиля для промпта
}

type sanaGenerator struct {
	logger    *zap.Logger
	cfg       Config
	client    *http.Client
	character *models.CharacterConfig
}

var _ Generator = (*sanaGenerator)(nil)

// NewSanaGenerator создает генератора поверх SANA HTTP API.
func NewSanaGenerator(cfg Config, character *models.CharacterConfig, logger *zap.Logger) (Generator, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("image server URL is not configured")
	}
	if cfg.SavePath == "" {
		return nil, fmt.Errorf("image save path is not configured")
	}
	if err := os.MkdirAll(cfg.SavePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image save path %s: %w", cfg.SavePath, err)
	}
	return &sanaGenerator{
		logger:    logger.Named("ImageGenerator"),
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		character: character,
	}, nil
}

type sanaAPIRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

// Generate строит промпт, вызывает SANA API, сохраняет файл и возвращает
// публичный URL.
func (g *sanaGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	fullPrompt := BuildPrompt(g.character, req) + g.cfg.PromptStyleSuffix
	log := g.logger.With(
		zap.String("emotion", string(req.Emotion)),
		zap.String("scene", string(req.Scene)),
		zap.Int("affinity", req.AffinityLevel),
	)
	log.Info("Generating character image...")
	log.Debug("Full prompt for SANA API", zap.String("prompt", fullPrompt))

	imageData, err := g.callSanaAPI(ctx, fullPrompt)
	if err != nil {
		imageGenerationsTotal.WithLabelValues("api_error").Inc()
		log.Error("SANA API call failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", models.ErrImageGenerationFailed, err)
	}
	if len(imageData) == 0 {
		imageGenerationsTotal.WithLabelValues("api_error").Inc()
		log.Error("SANA API returned empty image data")
		return "", fmt.Errorf("%w: API returned empty data", models.ErrImageGenerationFailed)
	}
	log.Info("Image data received from SANA", zap.Int("size_bytes", len(imageData)))

	fileName := imageFileName(uuid.NewString())
	filePath := filepath.Join(g.cfg.SavePath, fileName)
	if err := os.WriteFile(filePath, imageData, 0o644); err != nil {
		imageGenerationsTotal.WithLabelValues("save_error").Inc()
		log.Error("Failed to save image to file", zap.String("path", filePath), zap.Error(err))
		return "", fmt.Errorf("%w: save failed: %v", models.ErrImageGenerationFailed, err)
	}
	log.Info("Image saved to file", zap.String("path", filePath))

	imageURL := strings.TrimSuffix(g.cfg.PublicBaseURL, "/") + "/" + fileName
	imageGenerationsTotal.WithLabelValues("success").Inc()
	log.Info("Public image URL generated", zap.String("url", imageURL))
	return imageURL, nil
}

// callSanaAPI вызывает SANA API и возвращает байты изображения.
func (g *sanaGenerator) callSanaAPI(ctx context.Context, prompt string) ([]byte, error) {
	reqPayload := sanaAPIRequest{Prompt: prompt, Ratio: portraitRatio}
	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := strings.TrimSuffix(g.cfg.ServerURL, "/") + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		g.logger.Error("SANA API returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("body", truncateBody(bodyBytes)),
		)
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return bodyBytes, nil
}

func truncateBody(body []byte) []byte {
	const maxLogged = 512
	if len(body) > maxLogged {
		return body[:maxLogged]
	}
	return body
}

// StaticRoutePath возвращает путь маршрута для раздачи сгенерированных
// файлов. PublicBaseURL может быть и абсолютным URL, и путем; маршрут
// строится только из компонента пути, абсолютная часть остается лишь
// для построения ссылок в ответах.
func StaticRoutePath(publicBaseURL string) string {
	const defaultRoute = "/images"

	u, err := url.Parse(strings.TrimSpace(publicBaseURL))
	if err != nil {
		return defaultRoute
	}
	p := strings.TrimSuffix(u.Path, "/")
	if p == "" {
		return defaultRoute
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
