package ai

import (
	"encoding/json"
	"strings"

	"companion-server/internal/models"
)

// FallbackReply возвращает запись по умолчанию для degraded-хода:
// нейтральная эмоция, дефолтная сцена, пустой диалог, прежний уровень
// привязанности, никаких предложений от модели.
func FallbackReply(prevAffinity int) models.StructuredReply {
	return models.StructuredReply{
		Dialogue:      "",
		Narration:     "",
		Emotion:       models.DefaultEmotion,
		Scene:         models.DefaultScene,
		AffinityLevel: models.ClampAffinity(prevAffinity),
	}
}

// ParseStructuredReply парсит сырой ответ модели в StructuredReply.
// Возвращает (reply, true) при успешном разборе, иначе - запись по умолчанию
// и false. Любая малформация (невалидный JSON, отсутствующие обязательные поля,
// значения вне перечислений) приводит к fallback, а не к ошибке: диалог должен
// продолжаться.
func ParseStructuredReply(raw string, prevAffinity int) (models.StructuredReply, bool) {
	cleaned := CleanJSONResponse(raw)
	if cleaned == "" {
		return FallbackReply(prevAffinity), false
	}

	var reply models.StructuredReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return FallbackReply(prevAffinity), false
	}

	if reply.Dialogue == "" {
		return FallbackReply(prevAffinity), false
	}
	if !reply.Emotion.IsValid() {
		return FallbackReply(prevAffinity), false
	}
	if !reply.Scene.IsValid() {
		return FallbackReply(prevAffinity), false
	}

	reply.AffinityLevel = models.ClampAffinity(reply.AffinityLevel)
	return reply, true
}

// CleanJSONResponse убирает markdown-ограждения и обрамляющие пробелы,
// которые модели периодически добавляют вокруг JSON.
func CleanJSONResponse(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}
	return cleaned
}
