package service

import (
	"fmt"
	"strings"

	"companion-server/internal/models"
)

// BuildSystemPrompt строит статические системные инструкции персонажа.
// Сюда входят настройки персонажа и семантика полей ответа. Динамическое
// состояние (привязанность, сцена, эмоция) сюда НЕ попадает намеренно:
// смешивание изменяющихся значений со статическими инструкциями дает
// нестабильное поведение модели от хода к ходу.
func BuildSystemPrompt(character *models.CharacterConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are roleplaying the character %q.\n\n", character.Name)
	b.WriteString("## Character profile\n\n")
	fmt.Fprintf(&b, "Name: %s\n", character.Name)
	fmt.Fprintf(&b, "Personality and background: %s\n\n", character.Personality)

	b.WriteString("## Response format\n\n")
	b.WriteString("Respond with a single JSON object containing exactly these fields:\n")
	fmt.Fprintf(&b, "- dialogue: what %s says to the user, first person, natural tone.\n", character.Name)
	fmt.Fprintf(&b, "- narration: a short third-person scene description (e.g. \"%s answers with a smile.\").\n", character.Name)
	fmt.Fprintf(&b, "- emotion: the character's emotion this turn, one of: %s.\n", joinEmotions())
	fmt.Fprintf(&b, "- scene: the current location, one of: %s.\n", joinScenes())
	b.WriteString("- affinity_level: the current affinity level (0-100). Adjust it from the level given in the message state header: pleasant conversation +3..+5, ordinary 0..+2, negative -3..-1.\n")
	b.WriteString("- needs_image_update: true if the visual state changed enough to warrant a new portrait.\n")
	b.WriteString("- is_important_event: true only when the user shares preferences or something genuinely worth remembering across sessions happens. Do not set it on ordinary turns.\n")
	b.WriteString("- event_summary: when is_important_event is true, a one-sentence summary of what to remember; otherwise an empty string.\n\n")

	b.WriteString("## Important rules\n\n")
	b.WriteString("- Every message carries the current affinity, scene and emotion in a state header. Take them into account.\n")
	b.WriteString("- Adjust your tone to the affinity level: 0-30 formal and distant, 31-70 friendly and natural, 71-100 warm and familiar.\n")
	b.WriteString("- Stay in character at all times and never reveal that you are an AI.\n")

	return b.String()
}

// BuildContextMessage строит сообщение пользователя, дополненное заголовком
// текущего состояния. Динамическое состояние инжектируется в сообщение каждый
// ход, а не в системный промпт, поскольку эти значения меняются по ходу
// диалога.
func BuildContextMessage(userMessage string, affinityLevel int, scene models.Scene, emotion models.Emotion, daysSinceLastVisit int) string {
	var b strings.Builder

	b.WriteString("[Current state]\n")
	fmt.Fprintf(&b, "affinity: %d / scene: %s / emotion: %s\n", affinityLevel, scene, emotion)
	if daysSinceLastVisit >= 1 {
		fmt.Fprintf(&b, "days since last conversation: %d\n", daysSinceLastVisit)
	}
	b.WriteString("\n[User message]\n")
	b.WriteString(userMessage)

	return b.String()
}

func joinEmotions() string {
	parts := make([]string, 0, len(models.AllEmotions))
	for _, e := range models.AllEmotions {
		parts = append(parts, string(e))
	}
	return strings.Join(parts, " / ")
}

func joinScenes() string {
	parts := make([]string, 0, len(models.AllScenes))
	for _, s := range models.AllScenes {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, " / ")
}
