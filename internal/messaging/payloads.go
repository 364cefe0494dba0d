package messaging

import "time"

// MemoryFactPayload - задача записи факта в долговременную память.
// Публикуется оркестратором вне критического пути ответа и доставляется
// консьюмером с ограниченным числом попыток.
type MemoryFactPayload struct {
	TaskID     string    `json:"task_id"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	Fact       string    `json:"fact"`
	OccurredAt time.Time `json:"occurred_at"`
}
