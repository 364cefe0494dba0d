package repository

import (
	"context"

	"companion-server/internal/models"
)

// AffinityRepository - долговременное хранилище уровня привязанности.
// Одна запись на пользователя; читается в начале хода, пишется в конце.
type AffinityRepository interface {
	// Get возвращает запись привязанности. При отсутствии записи
	// возвращается models.ErrAffinityNotFound.
	Get(ctx context.Context, userID string) (*models.AffinityRecord, error)
	// Upsert сохраняет уровень, предварительно ограничивая его [0, 100].
	Upsert(ctx context.Context, userID string, level int) error
	// Touch обновляет отметку последнего визита, создавая запись с уровнем 0
	// при её отсутствии.
	Touch(ctx context.Context, userID string) error
}

// SessionStateRepository - состояние сессии, переносимое между ходами.
type SessionStateRepository interface {
	// Get возвращает контекст сессии. При отсутствии ключа возвращается
	// models.ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*models.SessionContext, error)
	// Save сохраняет контекст сессии с TTL.
	Save(ctx context.Context, sessionID string, state *models.SessionContext) error
}

// HistoryRepository - история сообщений сессии.
type HistoryRepository interface {
	// Append добавляет сообщения в конец истории сессии.
	Append(ctx context.Context, sessionID string, msgs ...models.Message) error
	// List возвращает сообщения истории, новые в конце.
	// limit 0 означает "все" (в пределах хранимого максимума).
	List(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}
