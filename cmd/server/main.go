package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"companion-server/internal/ai"
	"companion-server/internal/clients"
	"companion-server/internal/config"
	"companion-server/internal/database"
	"companion-server/internal/handler"
	"companion-server/internal/image"
	appLogger "companion-server/internal/logger"
	"companion-server/internal/messaging"
	"companion-server/internal/middleware"
	"companion-server/internal/models"
	"companion-server/internal/repository"
	"companion-server/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	ginprometheus "github.com/zsais/go-gin-prometheus"
)

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	logger, err := appLogger.New(appLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: "json",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	zap.L().Info("Logger initialized successfully", zap.String("logLevel", cfg.LogLevel))

	// --- External Connections ---
	pgPool, err := setupPostgres(cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()
	zap.L().Info("Connected to PostgreSQL")

	// --- Database Migrations ---
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := database.ApplyMigrations(migrateCtx, pgPool); err != nil {
		migrateCancel()
		zap.L().Fatal("Failed to apply database migrations", zap.Error(err))
	}
	migrateCancel()

	redisClient, err := setupRedis(cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zap.L().Info("Connected to Redis")

	mqConn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()
	zap.L().Info("Connected to RabbitMQ")

	// --- Character ---
	character, err := models.LoadCharacterConfig(cfg.CharacterConfigPath)
	if err != nil {
		zap.L().Fatal("Failed to load character config", zap.String("path", cfg.CharacterConfigPath), zap.Error(err))
	}
	zap.L().Info("Character config loaded", zap.String("name", character.Name))

	// --- Dependency Injection ---
	affinityRepo := repository.NewPgAffinityRepository(pgPool, logger)
	sessionRepo := repository.NewRedisSessionStateRepository(redisClient, cfg.SessionTTL, logger)
	historyRepo := repository.NewRedisHistoryRepository(redisClient, cfg.HistoryLimit, logger)

	aiClient := ai.NewOpenAIClient(ai.Config{
		APIKey:  cfg.AIAPIKey,
		BaseURL: cfg.AIBaseURL,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	}, logger)

	imageGenerator, err := image.NewSanaGenerator(image.Config{
		ServerURL:         cfg.ImageServerURL,
		Timeout:           cfg.ImageServerTimeout,
		SavePath:          cfg.ImageSavePath,
		PublicBaseURL:     cfg.ImagePublicBaseURL,
		PromptStyleSuffix: cfg.PromptStyleSuffix,
	}, character, logger)
	if err != nil {
		zap.L().Fatal("Failed to create image generator", zap.Error(err))
	}
	imageCache := image.NewCache()

	memoryPublisher, err := messaging.NewRabbitMQMemoryFactPublisher(mqConn, cfg.MemoryFactsQueue)
	if err != nil {
		zap.L().Fatal("Failed to create MemoryFactPublisher", zap.Error(err))
	}
	defer memoryPublisher.Close()

	memoryWriter := clients.NewMemoryServiceHTTPClient(cfg.MemoryServiceURL, 15*time.Second, logger)
	memoryConsumer, err := messaging.NewMemoryFactConsumer(
		mqConn,
		memoryWriter,
		cfg.MemoryFactsQueue,
		cfg.MemoryWriteMaxAttempts,
		cfg.MemoryWriteRetryDelay,
		logger,
	)
	if err != nil {
		zap.L().Fatal("Failed to create MemoryFactConsumer", zap.Error(err))
	}

	turnService := service.NewTurnService(
		affinityRepo,
		sessionRepo,
		historyRepo,
		aiClient,
		imageGenerator,
		imageCache,
		memoryPublisher,
		character,
		service.PolicyConfig{
			AffinityImageThreshold:  cfg.AffinityImageThreshold,
			AffinityMemoryThreshold: cfg.AffinityMemoryThreshold,
			Mode:                    service.TriggerMode(cfg.ImageTriggerMode),
		},
		service.NewDefaultRandSource(),
		logger,
	)
	conversationHandler := handler.NewConversationHandler(turnService, logger)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.ZapLoggingMiddleware(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	if allowedOrigins := cfg.GetAllowedOrigins(); len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
		zap.L().Info("CORS_ALLOWED_ORIGINS not set, allowing default", zap.String("origin", "http://localhost:3000"))
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Сгенерированные изображения раздаются как статика. Маршрут строится
	// из компонента пути: базовый URL может быть абсолютным.
	router.Static(image.StaticRoutePath(cfg.ImagePublicBaseURL), cfg.ImageSavePath)

	conversationHandler.RegisterRoutes(router)

	// Prometheus middleware применяется после регистрации роутов.
	p.Use(router)

	// --- Start Background Workers (Consumers) ---
	go func() {
		zap.L().Info("Starting MemoryFactConsumer...")
		if err := memoryConsumer.StartConsuming(); err != nil {
			zap.L().Error("MemoryFactConsumer stopped with error", zap.Error(err))
		} else {
			zap.L().Info("MemoryFactConsumer stopped gracefully.")
		}
	}()

	// --- Start HTTP Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.ServerPort))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	zap.L().Info("Stopping MemoryFactConsumer...")
	if err := memoryConsumer.Stop(); err != nil {
		zap.L().Error("Error stopping MemoryFactConsumer", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	zap.L().Info("Server exiting")
}

// setupPostgres initializes the PostgreSQL connection pool with retry logic.
func setupPostgres(cfg *config.Config) (*pgxpool.Pool, error) {
	zap.L().Debug("Setting up PostgreSQL connection...")

	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	var pool *pgxpool.Pool
	var lastErr error
	maxRetries := 20
	retryDelay := 3 * time.Second

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		pool, err = pgxpool.NewWithConfig(connectCtx, poolConfig)
		connectCancel()

		if err != nil {
			lastErr = fmt.Errorf("unable to create postgres connection pool (attempt %d/%d): %w", attempt, maxRetries, err)
			zap.L().Warn("Postgres connection pool creation failed, retrying...",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxRetries),
				zap.Error(err),
			)
			if i < maxRetries-1 {
				time.Sleep(retryDelay)
			}
			continue
		}

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = pool.Ping(pingCtx)
		pingCancel()

		if err == nil {
			zap.L().Info("Successfully connected and pinged PostgreSQL", zap.Int("attempt", attempt))
			return pool, nil
		}

		pool.Close()
		lastErr = fmt.Errorf("unable to ping postgres database (attempt %d/%d): %w", attempt, maxRetries, err)
		zap.L().Warn("Postgres ping failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", maxRetries, lastErr)
}

// setupRedis initializes the Redis client with retry logic.
func setupRedis(cfg *config.Config) (*redis.Client, error) {
	zap.L().Debug("Setting up Redis connection...")
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	var client *redis.Client
	var lastErr error
	maxRetries := 20
	retryDelay := 3 * time.Second

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		client = redis.NewClient(redisOpts)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := client.Ping(pingCtx).Result()
		pingCancel()

		if err == nil {
			zap.L().Info("Successfully connected and pinged Redis", zap.Int("attempt", attempt))
			return client, nil
		}

		client.Close()
		lastErr = fmt.Errorf("unable to ping redis (attempt %d/%d): %w", attempt, maxRetries, err)
		zap.L().Warn("Redis ping failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, lastErr)
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp091.Connection, error) {
	var conn *amqp091.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		conn, err = amqp091.Dial(url)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxRetries),
			)
			go func() {
				notifyClose := make(chan *amqp091.Error)
				conn.NotifyClose(notifyClose)
				if closeErr := <-notifyClose; closeErr != nil {
					logger.Error("RabbitMQ connection closed unexpectedly", zap.Error(closeErr))
				} else {
					logger.Info("RabbitMQ connection closed gracefully.")
				}
			}()
			return conn, nil
		}
		logger.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}
