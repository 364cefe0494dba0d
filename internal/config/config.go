package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию для Companion Service.
type Config struct {
	// Настройки сервера
	Env        string `envconfig:"ENV" default:"development"`
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// Настройки PostgreSQL (affinity store)
	DBHost        string        `envconfig:"DB_HOST" required:"true"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" required:"true"`
	DBName        string        `envconfig:"DB_NAME" required:"true"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string

	// Настройки Redis (session state + history)
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	HistoryLimit  int           `envconfig:"HISTORY_MAX_MESSAGES" default:"200"`

	// Настройки RabbitMQ (memory facts)
	RabbitMQURL      string `envconfig:"RABBITMQ_URL" required:"true"`
	MemoryFactsQueue string `envconfig:"MEMORY_FACTS_QUEUE" default:"memory_facts"`

	// Настройки AI API
	AIBaseURL string        `envconfig:"AI_BASE_URL" default:""`
	AIModel   string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AITimeout time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
	// Секретное поле БЕЗ envconfig тега
	AIAPIKey string

	// Настройки сервера генерации изображений (SANA)
	ImageServerURL     string        `envconfig:"IMAGE_SERVER_URL" required:"true"`
	ImageServerTimeout time.Duration `envconfig:"IMAGE_SERVER_TIMEOUT" default:"120s"`
	ImageSavePath      string        `envconfig:"IMAGE_SAVE_PATH" default:"data/images"`
	ImagePublicBaseURL string        `envconfig:"IMAGE_PUBLIC_BASE_URL" default:"/images"`
	PromptStyleSuffix  string        `envconfig:"PROMPT_STYLE_SUFFIX" default:", anime style, high quality, detailed"`

	// Настройки сервиса долговременной памяти
	MemoryServiceURL       string        `envconfig:"MEMORY_SERVICE_URL" required:"true"`
	MemoryWriteMaxAttempts int           `envconfig:"MEMORY_WRITE_MAX_ATTEMPTS" default:"3"`
	MemoryWriteRetryDelay  time.Duration `envconfig:"MEMORY_WRITE_RETRY_DELAY" default:"2s"`

	// Пороги триггеров
	AffinityImageThreshold  int    `envconfig:"AFFINITY_IMAGE_THRESHOLD" default:"10"`
	AffinityMemoryThreshold int    `envconfig:"AFFINITY_MEMORY_THRESHOLD" default:"10"`
	ImageTriggerMode        string `envconfig:"IMAGE_TRIGGER_MODE" default:"policy"`

	// Персонаж
	CharacterConfigPath string `envconfig:"CHARACTER_CONFIG_PATH" default:"data/characters/character.json"`

	// CORS
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL.
func (c *Config) GetDSN() string {
	// Пароль теперь в c.DBPassword
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// GetAllowedOrigins возвращает список разрешенных CORS origin'ов.
func (c *Config) GetAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации companion-server: %w", err)
	}

	// Загружаем ОБЯЗАТЕЛЬНЫЕ секреты
	var loadErr error
	cfg.DBPassword, loadErr = ReadSecret("db_password")
	if loadErr != nil {
		return nil, loadErr
	}

	cfg.AIAPIKey, loadErr = ReadSecret("ai_api_key")
	if loadErr != nil {
		return nil, loadErr
	}

	if cfg.ImageTriggerMode != "policy" && cfg.ImageTriggerMode != "strict" {
		return nil, fmt.Errorf("некорректный IMAGE_TRIGGER_MODE '%s' (ожидается policy или strict)", cfg.ImageTriggerMode)
	}

	log.Printf("Конфигурация Companion Service загружена (секреты из файлов):")
	log.Printf("  Port: %s", cfg.ServerPort)
	log.Printf("  LogLevel: %s", cfg.LogLevel)
	log.Printf("  DB DSN: postgres://%s:***@%s:%s/%s?sslmode=%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)
	log.Printf("  Redis Addr: %s (db %d)", cfg.RedisAddr, cfg.RedisDB)
	log.Printf("  RabbitMQ URL: %s", cfg.RabbitMQURL)
	log.Printf("  Memory Facts Queue: %s", cfg.MemoryFactsQueue)
	log.Printf("  AI Model: %s", cfg.AIModel)
	log.Printf("  Image Server URL: %s", cfg.ImageServerURL)
	log.Printf("  Image Trigger Mode: %s", cfg.ImageTriggerMode)
	log.Println("  AI API Key: [ЗАГРУЖЕН]")

	return &cfg, nil
}
