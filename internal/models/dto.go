package models

import "time"

// MaxMessageLength - максимальная длина пользовательского сообщения.
const MaxMessageLength = 2000

// TurnRequest - входящий запрос одного хода диалога.
type TurnRequest struct {
	UserID    string  `json:"user_id"`
	Message   string  `json:"message"`
	SessionID *string `json:"session_id,omitempty"`
}

// TurnResponse - ответ, возвращаемый фронтенду после обработки хода.
// Содержит только то, что нужно для отображения.
type TurnResponse struct {
	SessionID     string    `json:"session_id"`
	Dialogue      string    `json:"dialogue"`
	Narration     string    `json:"narration"`
	Emotion       Emotion   `json:"emotion"`
	Scene         Scene     `json:"scene"`
	ImageURL      *string   `json:"image_url,omitempty"`
	AffinityLevel int       `json:"affinity_level"`
	Timestamp     time.Time `json:"timestamp"`
}

// StructuredReply - структурированный ответ модели за один ход.
// Живет только внутри обработки хода и никогда не сохраняется целиком:
// наружу переживают только производные поля (affinity, факт для памяти).
type StructuredReply struct {
	Dialogue         string  `json:"dialogue"`
	Narration        string  `json:"narration"`
	Emotion          Emotion `json:"emotion"`
	Scene            Scene   `json:"scene"`
	AffinityLevel    int     `json:"affinity_level"`
	NeedsImageUpdate bool    `json:"needs_image_update"`
	IsImportantEvent bool    `json:"is_important_event"`
	EventSummary     string  `json:"event_summary"`
}

// SessionContext - состояние, переносимое между ходами одной сессии:
// предыдущая эмоция/сцена/привязанность и последняя показанная картинка.
type SessionContext struct {
	Emotion       Emotion   `json:"emotion"`
	Scene         Scene     `json:"scene"`
	AffinityLevel int       `json:"affinity_level"`
	ImageURL      string    `json:"image_url,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// AffinityRecord - долговременная запись привязанности пользователя.
type AffinityRecord struct {
	UserID        string    `db:"user_id"`
	AffinityLevel int       `db:"affinity_level"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Message - одно сообщение истории диалога.
type Message struct {
	Role      string    `json:"role"` // user или agent
	Dialogue  string    `json:"dialogue"`
	Narration string    `json:"narration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClampAffinity ограничивает уровень привязанности диапазоном [0, 100].
func ClampAffinity(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}
