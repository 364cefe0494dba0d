package service_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"companion-server/internal/models"
	"companion-server/internal/service"
)

func testCharacter() *models.CharacterConfig {
	return &models.CharacterConfig{
		Name:             "Mira",
		Personality:      "cheerful and curious",
		AppearancePrompt: "young woman with chestnut hair",
	}
}

// TestBuildSystemPrompt проверяет, что системный промпт статичен и содержит
// настройки персонажа и семантику полей ответа, но не текущее состояние.
func TestBuildSystemPrompt(t *testing.T) {
	prompt := service.BuildSystemPrompt(testCharacter())

	assert.Contains(t, prompt, "Mira")
	assert.Contains(t, prompt, "cheerful and curious")
	assert.Contains(t, prompt, "affinity_level")
	assert.Contains(t, prompt, "needs_image_update")
	assert.Contains(t, prompt, "is_important_event")
	assert.Contains(t, prompt, "never reveal that you are an AI")

	for _, emotion := range models.AllEmotions {
		assert.Contains(t, prompt, string(emotion))
	}
	for _, scene := range models.AllScenes {
		assert.Contains(t, prompt, string(scene))
	}

	// Промпт детерминирован для одного персонажа.
	assert.Equal(t, prompt, service.BuildSystemPrompt(testCharacter()))
}

// TestBuildContextMessage проверяет заголовок состояния перед сообщением.
func TestBuildContextMessage(t *testing.T) {
	msg := service.BuildContextMessage("Привет!", 55, models.SceneCafe, models.EmotionHappy, 0)

	assert.True(t, strings.HasPrefix(msg, "[Current state]\n"))
	assert.Contains(t, msg, "affinity: 55 / scene: cafe / emotion: happy")
	assert.Contains(t, msg, "[User message]\nПривет!")
	assert.NotContains(t, msg, "days since last conversation")
}

// TestBuildContextMessage_DaysSince проверяет, что строка давности визита
// появляется только от одного дня и больше.
func TestBuildContextMessage_DaysSince(t *testing.T) {
	withDays := service.BuildContextMessage("hi", 10, models.SceneIndoor, models.EmotionNeutral, 3)
	assert.Contains(t, withDays, "days since last conversation: 3")

	sameDay := service.BuildContextMessage("hi", 10, models.SceneIndoor, models.EmotionNeutral, 0)
	assert.NotContains(t, sameDay, "days since last conversation")
}
