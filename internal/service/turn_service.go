package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"companion-server/internal/ai"
	"companion-server/internal/image"
	"companion-server/internal/messaging"
	"companion-server/internal/models"
	"companion-server/internal/repository"
)

// TurnService - оркестратор одного хода диалога.
type TurnService interface {
	// ProcessTurn обрабатывает один ход: собирает контекст, вызывает модель,
	// оценивает триггеры, условно генерирует изображение и пишет память,
	// сохраняет привязанность и возвращает собранный ответ.
	ProcessTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResponse, error)
	// GetHistory возвращает историю сообщений сессии, новые в конце.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}

type turnServiceImpl struct {
	affinityRepo repository.AffinityRepository
	sessionRepo  repository.SessionStateRepository
	historyRepo  repository.HistoryRepository
	aiClient     ai.Client
	generator    image.Generator
	imageCache   *image.Cache
	memoryPub    messaging.MemoryFactPublisher
	policyCfg    PolicyConfig
	systemPrompt string
	randSource   RandSource
	logger       *zap.Logger
}

var _ TurnService = (*turnServiceImpl)(nil)

// NewTurnService создает оркестратор ходов. Кэш изображений передается
// явно: его время жизни (процесс, сброс при рестарте) управляется снаружи,
// а не амбиентным глобальным состоянием.
func NewTurnService(
	affinityRepo repository.AffinityRepository,
	sessionRepo repository.SessionStateRepository,
	historyRepo repository.HistoryRepository,
	aiClient ai.Client,
	generator image.Generator,
	imageCache *image.Cache,
	memoryPub messaging.MemoryFactPublisher,
	character *models.CharacterConfig,
	policyCfg PolicyConfig,
	randSource RandSource,
	logger *zap.Logger,
) TurnService {
	return &turnServiceImpl{
		affinityRepo: affinityRepo,
		sessionRepo:  sessionRepo,
		historyRepo:  historyRepo,
		aiClient:     aiClient,
		generator:    generator,
		imageCache:   imageCache,
		memoryPub:    memoryPub,
		policyCfg:    policyCfg,
		systemPrompt: BuildSystemPrompt(character),
		randSource:   randSource,
		logger:       logger.Named("TurnService"),
	}
}

// ProcessTurn реализует полный цикл одного хода.
func (s *turnServiceImpl) ProcessTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResponse, error) {
	// --- 0. Валидация до начала оркестрации ---
	if err := validateTurnRequest(&req); err != nil {
		turnsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	message := strings.TrimSpace(req.Message)

	log := s.logger.With(zap.String("userID", req.UserID))

	// --- 1. Инициализация или восстановление состояния сессии ---
	sessionID, prev, daysSince, err := s.resolveSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		turnsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	log = log.With(zap.String("sessionID", sessionID))

	// --- 2. Сообщение с заголовком состояния ---
	contextMessage := BuildContextMessage(message, prev.AffinityLevel, prev.Scene, prev.Emotion, daysSince)

	// --- 3. Вызов модели ---
	raw, usage, err := s.aiClient.Converse(ctx, req.UserID, sessionID, s.systemPrompt, contextMessage)
	if err != nil {
		// Недоступность модели - единственный фатальный для хода случай.
		turnsTotal.WithLabelValues("model_unavailable").Inc()
		log.Error("Model call failed, turn cannot be completed", zap.Error(err))
		return nil, err
	}

	reply, parsedOK := ai.ParseStructuredReply(raw, prev.AffinityLevel)
	if !parsedOK {
		// Degraded-ход: подставлены значения по умолчанию, диалог продолжается.
		turnsTotal.WithLabelValues("degraded").Inc()
		log.Warn("Malformed model output, falling back to defaults",
			zap.String("phase", "parse"),
			zap.Int("rawLength", len(raw)),
			zap.Error(models.ErrMalformedModelOutput),
		)
	}
	log.Info("Turn reply parsed",
		zap.String("emotion", string(reply.Emotion)),
		zap.String("scene", string(reply.Scene)),
		zap.Int("affinity", reply.AffinityLevel),
		zap.Bool("degraded", !parsedOK),
		zap.Int("totalTokens", usage.TotalTokens),
	)

	// --- 4. Политика триггеров ---
	var decision TriggerDecision
	if parsedOK {
		decision = EvaluateTriggers(
			TriggerState{Emotion: prev.Emotion, Scene: prev.Scene, AffinityLevel: prev.AffinityLevel},
			TriggerState{Emotion: reply.Emotion, Scene: reply.Scene, AffinityLevel: reply.AffinityLevel},
			ModelProposal{NeedsImageUpdate: reply.NeedsImageUpdate, IsImportantEvent: reply.IsImportantEvent},
			s.policyCfg,
		)
	}
	// Degraded-ход никогда не порождает побочных эффектов: подставленные
	// значения не являются наблюдаемыми дельтами состояния.

	// --- 5. Изображение: кэш, затем генерация ---
	imageURL := prev.ImageURL
	if decision.RegenerateImage {
		imageURL = s.resolveImage(ctx, reply, prev.ImageURL, log)
	}

	// --- 6. Запись в долговременную память (вне критического пути) ---
	if decision.WriteMemory {
		s.publishMemoryFact(req.UserID, sessionID, reply, log)
	} else {
		// Явная no-op ветка: решение о записи памяти принимает только
		// оркестратор, отсутствие записи здесь - осознанный выбор.
		log.Debug("Memory write skipped", zap.String("phase", "memory"))
	}

	// --- 7. Сохранение привязанности ---
	if reply.AffinityLevel != prev.AffinityLevel {
		if err := s.affinityRepo.Upsert(ctx, req.UserID, reply.AffinityLevel); err != nil {
			// Ответ пользователю приоритетнее долговечности записи.
			log.Error("Failed to persist affinity, turn response unaffected",
				zap.String("phase", "persist_affinity"),
				zap.Error(err),
			)
		}
	}

	// --- 8. Состояние сессии и история ---
	now := time.Now().UTC()
	newState := &models.SessionContext{
		Emotion:       reply.Emotion,
		Scene:         reply.Scene,
		AffinityLevel: reply.AffinityLevel,
		ImageURL:      imageURL,
		StartedAt:     prev.StartedAt,
	}
	if err := s.sessionRepo.Save(ctx, sessionID, newState); err != nil {
		log.Error("Failed to save session context", zap.String("phase", "save_session"), zap.Error(err))
	}
	if err := s.historyRepo.Append(ctx, sessionID,
		models.Message{Role: "user", Dialogue: message, Timestamp: now},
		models.Message{Role: "agent", Dialogue: reply.Dialogue, Narration: reply.Narration, Timestamp: now},
	); err != nil {
		log.Error("Failed to append history", zap.String("phase", "append_history"), zap.Error(err))
	}

	if parsedOK {
		turnsTotal.WithLabelValues("ok").Inc()
	}

	resp := &models.TurnResponse{
		SessionID:     sessionID,
		Dialogue:      reply.Dialogue,
		Narration:     reply.Narration,
		Emotion:       reply.Emotion,
		Scene:         reply.Scene,
		AffinityLevel: reply.AffinityLevel,
		Timestamp:     now,
	}
	if imageURL != "" {
		resp.ImageURL = &imageURL
	}
	return resp, nil
}

// GetHistory возвращает историю сообщений сессии.
func (s *turnServiceImpl) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	return s.historyRepo.List(ctx, sessionID, limit)
}

// validateTurnRequest проверяет предусловия хода.
func validateTurnRequest(req *models.TurnRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return models.ErrEmptyUserID
	}
	trimmed := strings.TrimSpace(req.Message)
	if trimmed == "" {
		return models.ErrEmptyMessage
	}
	if len([]rune(trimmed)) > models.MaxMessageLength {
		return models.ErrMessageTooLong
	}
	return nil
}

// resolveSession возвращает идентификатор сессии, предыдущее состояние и
// число дней с последнего визита (0, если меньше суток или сессия уже идет).
func (s *turnServiceImpl) resolveSession(ctx context.Context, userID string, sessionID *string) (string, *models.SessionContext, int, error) {
	if sessionID != nil && *sessionID != "" {
		state, err := s.sessionRepo.Get(ctx, *sessionID)
		if err == nil {
			return *sessionID, state, 0, nil
		}
		if !errors.Is(err, models.ErrSessionNotFound) {
			return "", nil, 0, fmt.Errorf("failed to load session state: %w", err)
		}
		// Неизвестная сессия (например, после рестарта Redis) -
		// переинициализируем состояние, сохранив переданный идентификатор.
		s.logger.Warn("Unknown session id, reinitializing state", zap.String("sessionID", *sessionID))
		state, daysSince := s.initSession(ctx, userID)
		return *sessionID, state, daysSince, nil
	}

	state, daysSince := s.initSession(ctx, userID)
	return uuid.NewString(), state, daysSince, nil
}

// initSession строит стартовое состояние новой сессии: читает привязанность,
// вычисляет давность визита, случайно выбирает стартовую сцену и эмоцию и
// обновляет отметку визита.
func (s *turnServiceImpl) initSession(ctx context.Context, userID string) (*models.SessionContext, int) {
	affinityLevel := 0
	daysSince := 0

	record, err := s.affinityRepo.Get(ctx, userID)
	switch {
	case err == nil:
		affinityLevel = record.AffinityLevel
		if elapsed := time.Since(record.UpdatedAt); elapsed >= 24*time.Hour {
			daysSince = int(elapsed.Hours() / 24)
		}
	case errors.Is(err, models.ErrAffinityNotFound):
		// Первый визит пользователя, уровень по умолчанию.
	default:
		s.logger.Error("Failed to read affinity at session start", zap.String("userID", userID), zap.Error(err))
	}

	if err := s.affinityRepo.Touch(ctx, userID); err != nil {
		s.logger.Error("Failed to touch affinity record at session start", zap.String("userID", userID), zap.Error(err))
	}

	scene := models.InitialScenes[s.randSource.Intn(len(models.InitialScenes))]
	emotion := models.InitialEmotions[s.randSource.Intn(len(models.InitialEmotions))]

	return &models.SessionContext{
		Emotion:       emotion,
		Scene:         scene,
		AffinityLevel: affinityLevel,
		StartedAt:     time.Now().UTC(),
	}, daysSince
}

// resolveImage возвращает URL изображения для хода: кэш, затем генерация с
// одной повторной попыткой. Любая неудача оставляет предыдущее изображение.
func (s *turnServiceImpl) resolveImage(ctx context.Context, reply models.StructuredReply, prevURL string, log *zap.Logger) string {
	key := image.CacheKey{Category: reply.Emotion.Category(), Scene: reply.Scene}

	// Консультация кэша всегда предшествует вызову генерации.
	if cached, ok := s.imageCache.Get(key); ok {
		imageCacheLookups.WithLabelValues("hit").Inc()
		log.Debug("Image cache hit",
			zap.String("category", string(key.Category)),
			zap.String("scene", string(key.Scene)),
		)
		return cached.URL
	}
	imageCacheLookups.WithLabelValues("miss").Inc()

	genReq := image.GenerationRequest{
		Emotion:       reply.Emotion,
		Scene:         reply.Scene,
		AffinityLevel: reply.AffinityLevel,
	}

	var url string
	var err error
	// Одна повторная попытка, затем сохраняем предыдущее изображение.
	for attempt := 1; attempt <= 2; attempt++ {
		url, err = s.generator.Generate(ctx, genReq)
		if err == nil {
			break
		}
		log.Warn("Image generation attempt failed",
			zap.Int("attempt", attempt),
			zap.String("phase", "image_generation"),
			zap.Error(err),
		)
	}
	if err != nil {
		log.Error("Image generation failed after retry, keeping previous image",
			zap.String("phase", "image_generation"),
			zap.Error(err),
		)
		return prevURL
	}

	s.imageCache.Put(key, image.CachedImage{URL: url, Emotion: reply.Emotion, Scene: reply.Scene})
	return url
}

// publishMemoryFact отправляет факт в очередь памяти вне критического пути
// ответа. Ошибка публикации логируется и никогда не влияет на ход.
func (s *turnServiceImpl) publishMemoryFact(userID, sessionID string, reply models.StructuredReply, log *zap.Logger) {
	fact := strings.TrimSpace(reply.EventSummary)
	if fact == "" {
		fact = summarizeDialogue(reply.Dialogue)
	}
	if fact == "" {
		log.Debug("Memory write skipped: nothing to record", zap.String("phase", "memory"))
		return
	}

	payload := messaging.MemoryFactPayload{
		TaskID:     uuid.NewString(),
		UserID:     userID,
		SessionID:  sessionID,
		Fact:       fact,
		OccurredAt: time.Now().UTC(),
	}

	go func() {
		// Отдельный контекст: публикация не ждет и не задерживает ответ хода.
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.memoryPub.PublishMemoryFact(pubCtx, payload); err != nil {
			memoryPublishesTotal.WithLabelValues("error").Inc()
			log.Error("Failed to publish memory fact",
				zap.String("phase", "memory"),
				zap.String("taskID", payload.TaskID),
				zap.Error(err),
			)
			return
		}
		memoryPublishesTotal.WithLabelValues("ok").Inc()
		log.Info("Memory fact published", zap.String("taskID", payload.TaskID))
	}()
}

// summarizeDialogue строит резервный факт из начала реплики персонажа.
func summarizeDialogue(dialogue string) string {
	const maxRunes = 120
	trimmed := strings.TrimSpace(dialogue)
	runes := []rune(trimmed)
	if len(runes) <= maxRunes {
		return trimmed
	}
	return string(runes[:maxRunes]) + "..."
}
