package image

import (
	"fmt"
	"strings"

	"companion-server/internal/models"
)

// Встроенные описания для промпта генерации. Переопределяются картами
// emotion_prompts / scene_prompts / affinity_prompts из конфига персонажа.
var emotionPrompts = map[models.Emotion]string{
	models.EmotionHappy:       "happy expression, bright smile",
	models.EmotionSad:         "sad expression, downcast eyes",
	models.EmotionNeutral:     "neutral expression, calm",
	models.EmotionSurprised:   "surprised expression, wide eyes",
	models.EmotionThoughtful:  "thoughtful expression, looking away",
	models.EmotionEmbarrassed: "embarrassed expression, blushing cheeks",
	models.EmotionExcited:     "excited expression, sparkling eyes",
	models.EmotionAngry:       "angry expression, furrowed brows",
}

var scenePrompts = map[models.Scene]string{
	models.SceneIndoor:  "indoor background, cozy room",
	models.SceneOutdoor: "outdoor background, clear sky",
	models.SceneCafe:    "cafe background, warm lighting",
	models.ScenePark:    "park background, green trees",
	models.SceneSchool:  "school background, classroom",
	models.SceneHome:    "home room background, comfortable",
}

// affinityPrompt возвращает описание атмосферы по уровню привязанности.
// Пороги 30/70 соответствуют тональным диапазонам персонажа.
func affinityPrompt(character *models.CharacterConfig, level int) string {
	band := "high"
	desc := "solo, close and intimate, warm smile directed at viewer, soft gaze"
	switch {
	case level <= 30:
		band = "low"
		desc = "solo, formal atmosphere, reserved, shy"
	case level <= 70:
		band = "medium"
		desc = "solo, friendly and warm atmosphere, natural smile"
	}
	if custom, ok := character.AffinityPrompts[band]; ok && custom != "" {
		return custom
	}
	return desc
}

// BuildPrompt собирает промпт генерации из конфига персонажа и состояния хода.
func BuildPrompt(character *models.CharacterConfig, req GenerationRequest) string {
	emotionDesc := emotionPrompts[req.Emotion]
	if custom, ok := character.EmotionPrompts[string(req.Emotion)]; ok && custom != "" {
		emotionDesc = custom
	}
	sceneDesc := scenePrompts[req.Scene]
	if custom, ok := character.ScenePrompts[string(req.Scene)]; ok && custom != "" {
		sceneDesc = custom
	}
	affinityDesc := affinityPrompt(character, req.AffinityLevel)

	parts := []string{character.AppearancePrompt, emotionDesc, sceneDesc, affinityDesc}
	return strings.Join(parts, ", ")
}

// Ratio генерируемых портретов фиксированный.
const portraitRatio = "2:3"

func imageFileName(id string) string {
	return fmt.Sprintf("%s.png", id)
}
