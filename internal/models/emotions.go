package models

// Emotion - эмоция персонажа в текущем ходе.
type Emotion string

const (
	EmotionHappy       Emotion = "happy"
	EmotionSad         Emotion = "sad"
	EmotionNeutral     Emotion = "neutral"
	EmotionSurprised   Emotion = "surprised"
	EmotionThoughtful  Emotion = "thoughtful"
	EmotionEmbarrassed Emotion = "embarrassed"
	EmotionExcited     Emotion = "excited"
	EmotionAngry       Emotion = "angry"
)

// Scene - локация, в которой находится персонаж.
type Scene string

const (
	SceneIndoor  Scene = "indoor"
	SceneOutdoor Scene = "outdoor"
	SceneCafe    Scene = "cafe"
	ScenePark    Scene = "park"
	SceneSchool  Scene = "school"
	SceneHome    Scene = "home"
)

// EmotionCategory - грубая категория эмоции. Смена категории (а не самой эмоции)
// является основным триггером перегенерации изображения: мелкие колебания внутри
// категории намеренно подавляются для контроля стоимости генерации.
type EmotionCategory string

const (
	CategoryPositive   EmotionCategory = "positive"
	CategoryNeutral    EmotionCategory = "neutral"
	CategoryNegative   EmotionCategory = "negative"
	CategoryExpressive EmotionCategory = "expressive"
)

// Значения по умолчанию для degraded-ходов (невалидный ответ модели).
const (
	DefaultEmotion = EmotionNeutral
	DefaultScene   = SceneIndoor
)

var emotionCategories = map[Emotion]EmotionCategory{
	EmotionHappy:       CategoryPositive,
	EmotionExcited:     CategoryPositive,
	EmotionNeutral:     CategoryNeutral,
	EmotionThoughtful:  CategoryNeutral,
	EmotionSad:         CategoryNegative,
	EmotionAngry:       CategoryNegative,
	EmotionSurprised:   CategoryExpressive,
	EmotionEmbarrassed: CategoryExpressive,
}

// AllEmotions - полный перечень допустимых эмоций.
var AllEmotions = []Emotion{
	EmotionHappy, EmotionSad, EmotionNeutral, EmotionSurprised,
	EmotionThoughtful, EmotionEmbarrassed, EmotionExcited, EmotionAngry,
}

// AllScenes - полный перечень допустимых сцен.
var AllScenes = []Scene{
	SceneIndoor, SceneOutdoor, SceneCafe, ScenePark, SceneSchool, SceneHome,
}

// InitialScenes - сцены, допустимые при старте новой сессии.
var InitialScenes = []Scene{SceneIndoor, SceneOutdoor, SceneCafe, ScenePark}

// InitialEmotions - взвешенный набор стартовых эмоций. Neutral встречается чаще,
// чтобы сессия начиналась в спокойном состоянии; surprised / thoughtful исключены
// как неестественные для первого хода.
var InitialEmotions = []Emotion{
	EmotionNeutral, EmotionNeutral, EmotionNeutral,
	EmotionHappy, EmotionSad, EmotionEmbarrassed, EmotionExcited, EmotionAngry,
}

// Category возвращает категорию эмоции. Для неизвестной эмоции возвращается
// neutral, чтобы отображение было тотальным.
func (e Emotion) Category() EmotionCategory {
	if cat, ok := emotionCategories[e]; ok {
		return cat
	}
	return CategoryNeutral
}

// IsValid проверяет, что эмоция входит в перечисление.
func (e Emotion) IsValid() bool {
	_, ok := emotionCategories[e]
	return ok
}

// IsValid проверяет, что сцена входит в перечисление.
func (s Scene) IsValid() bool {
	for _, known := range AllScenes {
		if s == known {
			return true
		}
	}
	return false
}
