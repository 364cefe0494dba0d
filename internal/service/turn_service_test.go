package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"companion-server/internal/ai"
	aiMocks "companion-server/internal/ai/mocks"
	"companion-server/internal/image"
	imageMocks "companion-server/internal/image/mocks"
	"companion-server/internal/messaging"
	messagingMocks "companion-server/internal/messaging/mocks"
	"companion-server/internal/models"
	repositoryMocks "companion-server/internal/repository/mocks"
	"companion-server/internal/service"
)

// fixedRand всегда возвращает 0: новая сессия стартует с InitialScenes[0]
// и InitialEmotions[0].
type fixedRand struct{}

func (fixedRand) Intn(n int) int { return 0 }

type turnServiceFixture struct {
	affinityRepo *repositoryMocks.AffinityRepository
	sessionRepo  *repositoryMocks.SessionStateRepository
	historyRepo  *repositoryMocks.HistoryRepository
	aiClient     *aiMocks.Client
	generator    *imageMocks.Generator
	cache        *image.Cache
	publisher    *messagingMocks.MemoryFactPublisher
	svc          service.TurnService
}

func newTurnServiceFixture(t *testing.T) *turnServiceFixture {
	t.Helper()
	f := &turnServiceFixture{
		affinityRepo: new(repositoryMocks.AffinityRepository),
		sessionRepo:  new(repositoryMocks.SessionStateRepository),
		historyRepo:  new(repositoryMocks.HistoryRepository),
		aiClient:     new(aiMocks.Client),
		generator:    new(imageMocks.Generator),
		cache:        image.NewCache(),
		publisher:    new(messagingMocks.MemoryFactPublisher),
	}
	f.svc = service.NewTurnService(
		f.affinityRepo,
		f.sessionRepo,
		f.historyRepo,
		f.aiClient,
		f.generator,
		f.cache,
		f.publisher,
		testCharacter(),
		defaultCfg(),
		fixedRand{},
		zap.NewNop(),
	)
	return f
}

func strPtr(s string) *string { return &s }

func existingSession(f *turnServiceFixture, sessionID string, state *models.SessionContext) {
	f.sessionRepo.On("Get", mock.Anything, sessionID).Return(state, nil).Once()
}

const rawReplySceneChange = `{
	"dialogue": "Пойдем в парк!",
	"narration": "Она тянет за рукав.",
	"emotion": "happy",
	"scene": "park",
	"affinity_level": 52,
	"needs_image_update": false,
	"is_important_event": false,
	"event_summary": ""
}`

func TestProcessTurn_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty user id", func(t *testing.T) {
		f := newTurnServiceFixture(t)
		resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "  ", Message: "hi"})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, models.ErrEmptyUserID)
	})

	t.Run("empty message", func(t *testing.T) {
		f := newTurnServiceFixture(t)
		resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "   "})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, models.ErrEmptyMessage)
	})

	t.Run("message too long", func(t *testing.T) {
		f := newTurnServiceFixture(t)
		long := strings.Repeat("я", models.MaxMessageLength+1)
		resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: long})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, models.ErrMessageTooLong)
	})

	t.Run("message at limit passes validation", func(t *testing.T) {
		f := newTurnServiceFixture(t)
		atLimit := strings.Repeat("я", models.MaxMessageLength)

		f.affinityRepo.On("Get", mock.Anything, "u1").Return(nil, models.ErrAffinityNotFound).Once()
		f.affinityRepo.On("Touch", mock.Anything, "u1").Return(nil).Once()
		f.aiClient.On("Converse", mock.Anything, "u1", mock.Anything, mock.Anything, mock.Anything).
			Return(rawReplySceneChange, ai.UsageInfo{}, nil).Once()
		f.generator.On("Generate", mock.Anything, mock.Anything).Return("/images/x.png", nil).Once()
		f.affinityRepo.On("Upsert", mock.Anything, "u1", 52).Return(nil).Once()
		f.sessionRepo.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		f.historyRepo.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: atLimit})
		assert.NoError(t, err)
		assert.NotNil(t, resp)
	})
}

// TestProcessTurn_NewSession проверяет полный ход с инициализацией новой
// сессии: чтение привязанности, случайный старт, вызов модели, генерация.
func TestProcessTurn_NewSession(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	f.affinityRepo.On("Get", mock.Anything, "u1").
		Return(&models.AffinityRecord{UserID: "u1", AffinityLevel: 48, UpdatedAt: time.Now().Add(-time.Hour)}, nil).Once()
	f.affinityRepo.On("Touch", mock.Anything, "u1").Return(nil).Once()

	// fixedRand дает indoor/neutral; модель переводит сцену в park.
	f.aiClient.On("Converse", mock.Anything, "u1", mock.Anything, mock.Anything, mock.MatchedBy(func(msg string) bool {
		assert.Contains(t, msg, "affinity: 48 / scene: indoor / emotion: neutral")
		assert.Contains(t, msg, "[User message]\nПривет!")
		assert.NotContains(t, msg, "days since last conversation")
		return true
	})).Return(rawReplySceneChange, ai.UsageInfo{TotalTokens: 120}, nil).Once()

	f.generator.On("Generate", mock.Anything, image.GenerationRequest{
		Emotion:       models.EmotionHappy,
		Scene:         models.ScenePark,
		AffinityLevel: 52,
	}).Return("/images/park.png", nil).Once()

	f.affinityRepo.On("Upsert", mock.Anything, "u1", 52).Return(nil).Once()

	f.sessionRepo.On("Save", mock.Anything, mock.Anything, mock.MatchedBy(func(state *models.SessionContext) bool {
		assert.Equal(t, models.EmotionHappy, state.Emotion)
		assert.Equal(t, models.ScenePark, state.Scene)
		assert.Equal(t, 52, state.AffinityLevel)
		assert.Equal(t, "/images/park.png", state.ImageURL)
		return true
	})).Return(nil).Once()

	f.historyRepo.On("Append", mock.Anything, mock.Anything, mock.MatchedBy(func(msgs []models.Message) bool {
		assert.Len(t, msgs, 2)
		assert.Equal(t, "user", msgs[0].Role)
		assert.Equal(t, "Привет!", msgs[0].Dialogue)
		assert.Equal(t, "agent", msgs[1].Role)
		assert.Equal(t, "Пойдем в парк!", msgs[1].Dialogue)
		return true
	})).Return(nil).Once()

	resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "Привет!"})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "Пойдем в парк!", resp.Dialogue)
	assert.Equal(t, models.EmotionHappy, resp.Emotion)
	assert.Equal(t, models.ScenePark, resp.Scene)
	assert.Equal(t, 52, resp.AffinityLevel)
	require.NotNil(t, resp.ImageURL)
	assert.Equal(t, "/images/park.png", *resp.ImageURL)

	// Новое изображение попало в кэш под ключом категория+сцена.
	cached, ok := f.cache.Get(image.CacheKey{Category: models.CategoryPositive, Scene: models.ScenePark})
	assert.True(t, ok)
	assert.Equal(t, "/images/park.png", cached.URL)

	f.affinityRepo.AssertExpectations(t)
	f.aiClient.AssertExpectations(t)
	f.generator.AssertExpectations(t)
	f.sessionRepo.AssertExpectations(t)
	f.historyRepo.AssertExpectations(t)
	f.publisher.AssertNotCalled(t, "PublishMemoryFact", mock.Anything, mock.Anything)
}

// TestProcessTurn_DaysSinceLastVisit проверяет, что давность визита попадает
// в заголовок состояния только от одного дня.
func TestProcessTurn_DaysSinceLastVisit(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	f.affinityRepo.On("Get", mock.Anything, "u1").
		Return(&models.AffinityRecord{UserID: "u1", AffinityLevel: 30, UpdatedAt: time.Now().Add(-49 * time.Hour)}, nil).Once()
	f.affinityRepo.On("Touch", mock.Anything, "u1").Return(nil).Once()

	f.aiClient.On("Converse", mock.Anything, "u1", mock.Anything, mock.Anything, mock.MatchedBy(func(msg string) bool {
		assert.Contains(t, msg, "days since last conversation: 2")
		return true
	})).Return("", ai.UsageInfo{}, errors.New("boom: "+models.ErrModelUnavailable.Error())).Once()

	// Ответ модели здесь не важен, проверяется только заголовок.
	_, _ = f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "snova privet"})

	f.aiClient.AssertExpectations(t)
}

// TestProcessTurn_ExistingSession проверяет, что при известной сессии
// привязанность не перечитывается и берется контекст из хранилища.
func TestProcessTurn_ExistingSession(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	existingSession(f, "sess-1", &models.SessionContext{
		Emotion:       models.EmotionHappy,
		Scene:         models.ScenePark,
		AffinityLevel: 52,
		ImageURL:      "/images/park.png",
	})

	// Эмоция в той же категории, та же сцена, малая дельта: без побочных эффектов.
	raw := `{"dialogue": "Ага!", "narration": "", "emotion": "excited", "scene": "park", "affinity_level": 54, "needs_image_update": false, "is_important_event": false, "event_summary": ""}`
	f.aiClient.On("Converse", mock.Anything, "u1", "sess-1", mock.Anything, mock.Anything).
		Return(raw, ai.UsageInfo{}, nil).Once()

	f.affinityRepo.On("Upsert", mock.Anything, "u1", 54).Return(nil).Once()
	f.sessionRepo.On("Save", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()
	f.historyRepo.On("Append", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

	resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "hi", SessionID: strPtr("sess-1")})

	require.NoError(t, err)
	assert.Equal(t, "sess-1", resp.SessionID)
	require.NotNil(t, resp.ImageURL)
	assert.Equal(t, "/images/park.png", *resp.ImageURL)

	f.affinityRepo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	f.affinityRepo.AssertNotCalled(t, "Touch", mock.Anything, mock.Anything)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "PublishMemoryFact", mock.Anything, mock.Anything)
}

// TestProcessTurn_UnknownSession проверяет переинициализацию состояния при
// неизвестном идентификаторе сессии с сохранением переданного id.
func TestProcessTurn_UnknownSession(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	f.sessionRepo.On("Get", mock.Anything, "ghost").Return(nil, models.ErrSessionNotFound).Once()
	f.affinityRepo.On("Get", mock.Anything, "u1").Return(nil, models.ErrAffinityNotFound).Once()
	f.affinityRepo.On("Touch", mock.Anything, "u1").Return(nil).Once()

	raw := `{"dialogue": "hi", "narration": "", "emotion": "neutral", "scene": "indoor", "affinity_level": 2, "needs_image_update": false, "is_important_event": false, "event_summary": ""}`
	f.aiClient.On("Converse", mock.Anything, "u1", "ghost", mock.Anything, mock.Anything).
		Return(raw, ai.UsageInfo{}, nil).Once()

	f.affinityRepo.On("Upsert", mock.Anything, "u1", 2).Return(nil).Once()
	f.sessionRepo.On("Save", mock.Anything, "ghost", mock.Anything).Return(nil).Once()
	f.historyRepo.On("Append", mock.Anything, "ghost", mock.Anything).Return(nil).Once()

	resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "hi", SessionID: strPtr("ghost")})

	require.NoError(t, err)
	assert.Equal(t, "ghost", resp.SessionID)
}

// TestProcessTurn_ModelUnavailable проверяет единственный фатальный сценарий:
// ошибка модели прерывает ход без побочных эффектов.
func TestProcessTurn_ModelUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	existingSession(f, "sess-1", &models.SessionContext{
		Emotion:       models.EmotionNeutral,
		Scene:         models.SceneCafe,
		AffinityLevel: 40,
	})

	callErr := errors.New("api down: " + models.ErrModelUnavailable.Error())
	wrapped := errors.Join(models.ErrModelUnavailable, callErr)
	f.aiClient.On("Converse", mock.Anything, "u1", "sess-1", mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, wrapped).Once()

	resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "hi", SessionID: strPtr("sess-1")})

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, models.ErrModelUnavailable)

	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "PublishMemoryFact", mock.Anything, mock.Anything)
	f.affinityRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
	f.sessionRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
	f.historyRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
}

// TestProcessTurn_DegradedTurn проверяет устойчивость к мусорному ответу
// модели: ход завершается с дефолтами, побочные эффекты не запускаются.
func TestProcessTurn_DegradedTurn(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	existingSession(f, "sess-1", &models.SessionContext{
		Emotion:       models.EmotionHappy,
		Scene:         models.SceneCafe,
		AffinityLevel: 60,
		ImageURL:      "/images/cafe.png",
	})

	f.aiClient.On("Converse", mock.Anything, "u1", "sess-1", mock.Anything, mock.Anything).
		Return("So sorry, I can't do JSON today", ai.UsageInfo{}, nil).Once()

	f.sessionRepo.On("Save", mock.Anything, "sess-1", mock.MatchedBy(func(state *models.SessionContext) bool {
		// Подставленные дефолты сохраняются, но изображение остается прежним.
		assert.Equal(t, models.DefaultEmotion, state.Emotion)
		assert.Equal(t, models.DefaultScene, state.Scene)
		assert.Equal(t, 60, state.AffinityLevel)
		assert.Equal(t, "/images/cafe.png", state.ImageURL)
		return true
	})).Return(nil).Once()
	f.historyRepo.On("Append", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

	resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "hi", SessionID: strPtr("sess-1")})

	require.NoError(t, err)
	assert.Equal(t, models.DefaultEmotion, resp.Emotion)
	assert.Equal(t, models.DefaultScene, resp.Scene)
	assert.Equal(t, 60, resp.AffinityLevel)
	assert.Empty(t, resp.Dialogue)

	// Дефолтные значения не считаются наблюдаемой сменой состояния.
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "PublishMemoryFact", mock.Anything, mock.Anything)
	f.affinityRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

// TestProcessTurn_ImageGenerationFailure проверяет, что две неудачные попытки
// генерации оставляют предыдущее изображение, а ход завершается успешно.
func TestProcessTurn_ImageGenerationFailure(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	existingSession(f, "sess-1", &models.SessionContext{
		Emotion:       models.EmotionNeutral,
		Scene:         models.SceneCafe,
		AffinityLevel: 50,
		ImageURL:      "/images/old.png",
	})

	f.aiClient.On("Converse", mock.Anything, "u1", "sess-1", mock.Anything, mock.Anything).
		Return(rawReplySceneChange, ai.UsageInfo{}, nil).Once()

	f.generator.On("Generate", mock.Anything, mock.Anything).
		Return("", models.ErrImageGenerationFailed).Twice()

	f.affinityRepo.On("Upsert", mock.Anything, "u1", 52).Return(nil).Once()
	f.sessionRepo.On("Save", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()
	f.historyRepo.On("Append", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

	resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "hi", SessionID: strPtr("sess-1")})

	require.NoError(t, err)
	require.NotNil(t, resp.ImageURL)
	assert.Equal(t, "/images/old.png", *resp.ImageURL)

	f.generator.AssertExpectations(t)
	// Неудачная генерация не засоряет кэш.
	assert.Equal(t, 0, f.cache.Len())
}

// TestProcessTurn_ImageCacheHit проверяет консультацию кэша перед генерацией.
func TestProcessTurn_ImageCacheHit(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	f.cache.Put(
		image.CacheKey{Category: models.CategoryPositive, Scene: models.ScenePark},
		image.CachedImage{URL: "/images/cached.png", Emotion: models.EmotionExcited, Scene: models.ScenePark},
	)

	existingSession(f, "sess-1", &models.SessionContext{
		Emotion:       models.EmotionNeutral,
		Scene:         models.SceneCafe,
		AffinityLevel: 50,
	})

	f.aiClient.On("Converse", mock.Anything, "u1", "sess-1", mock.Anything, mock.Anything).
		Return(rawReplySceneChange, ai.UsageInfo{}, nil).Once()
	f.affinityRepo.On("Upsert", mock.Anything, "u1", 52).Return(nil).Once()
	f.sessionRepo.On("Save", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()
	f.historyRepo.On("Append", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

	resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "hi", SessionID: strPtr("sess-1")})

	require.NoError(t, err)
	require.NotNil(t, resp.ImageURL)
	assert.Equal(t, "/images/cached.png", *resp.ImageURL)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

// TestProcessTurn_MemoryFact проверяет публикацию факта при важном событии.
func TestProcessTurn_MemoryFact(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	existingSession(f, "sess-1", &models.SessionContext{
		Emotion:       models.EmotionNeutral,
		Scene:         models.SceneCafe,
		AffinityLevel: 50,
	})

	raw := `{"dialogue": "Запомню!", "narration": "", "emotion": "neutral", "scene": "cafe", "affinity_level": 51, "needs_image_update": false, "is_important_event": true, "event_summary": "User's birthday is June 3rd"}`
	f.aiClient.On("Converse", mock.Anything, "u1", "sess-1", mock.Anything, mock.Anything).
		Return(raw, ai.UsageInfo{}, nil).Once()
	f.affinityRepo.On("Upsert", mock.Anything, "u1", 51).Return(nil).Once()
	f.sessionRepo.On("Save", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()
	f.historyRepo.On("Append", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

	published := make(chan messaging.MemoryFactPayload, 1)
	f.publisher.On("PublishMemoryFact", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			published <- args.Get(1).(messaging.MemoryFactPayload)
		}).Return(nil).Once()

	resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "у меня день рождения 3 июня", SessionID: strPtr("sess-1")})
	require.NoError(t, err)
	assert.Nil(t, resp.ImageURL)

	// Публикация выполняется вне критического пути, дожидаемся горутины.
	select {
	case payload := <-published:
		assert.Equal(t, "u1", payload.UserID)
		assert.Equal(t, "sess-1", payload.SessionID)
		assert.Equal(t, "User's birthday is June 3rd", payload.Fact)
		assert.NotEmpty(t, payload.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("memory fact was not published")
	}
}

// TestProcessTurn_PersistenceFailuresNonFatal проверяет, что ошибки записи
// привязанности, сессии и истории не ломают ответ пользователю.
func TestProcessTurn_PersistenceFailuresNonFatal(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	existingSession(f, "sess-1", &models.SessionContext{
		Emotion:       models.EmotionNeutral,
		Scene:         models.SceneCafe,
		AffinityLevel: 50,
	})

	raw := `{"dialogue": "ok", "narration": "", "emotion": "neutral", "scene": "cafe", "affinity_level": 53, "needs_image_update": false, "is_important_event": false, "event_summary": ""}`
	f.aiClient.On("Converse", mock.Anything, "u1", "sess-1", mock.Anything, mock.Anything).
		Return(raw, ai.UsageInfo{}, nil).Once()

	dbErr := errors.New("pg down")
	f.affinityRepo.On("Upsert", mock.Anything, "u1", 53).Return(dbErr).Once()
	f.sessionRepo.On("Save", mock.Anything, "sess-1", mock.Anything).Return(dbErr).Once()
	f.historyRepo.On("Append", mock.Anything, "sess-1", mock.Anything).Return(dbErr).Once()

	resp, err := f.svc.ProcessTurn(ctx, models.TurnRequest{UserID: "u1", Message: "hi", SessionID: strPtr("sess-1")})

	require.NoError(t, err)
	assert.Equal(t, 53, resp.AffinityLevel)
}

func TestGetHistory(t *testing.T) {
	ctx := context.Background()
	f := newTurnServiceFixture(t)

	msgs := []models.Message{
		{Role: "user", Dialogue: "hi"},
		{Role: "agent", Dialogue: "hello"},
	}
	f.historyRepo.On("List", mock.Anything, "sess-1", 10).Return(msgs, nil).Once()

	got, err := f.svc.GetHistory(ctx, "sess-1", 10)

	require.NoError(t, err)
	assert.Equal(t, msgs, got)
}
