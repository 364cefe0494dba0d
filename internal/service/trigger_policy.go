package service

import "companion-server/internal/models"

// TriggerMode - стратегия учета предложения модели при решении о
// перегенерации изображения.
type TriggerMode string

const (
	// TriggerModePolicy - решение принимает только числовая политика,
	// предложение модели игнорируется. Режим по умолчанию.
	TriggerModePolicy TriggerMode = "policy"
	// TriggerModeStrict - перегенерация требует согласия обеих сторон:
	// и политики, и предложения модели. Заметно снижает частоту генераций.
	TriggerModeStrict TriggerMode = "strict"
)

// PolicyConfig - пороги и режим политики триггеров.
type PolicyConfig struct {
	AffinityImageThreshold  int
	AffinityMemoryThreshold int
	Mode                    TriggerMode
}

// DefaultPolicyConfig возвращает конфигурацию политики по умолчанию.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		AffinityImageThreshold:  10,
		AffinityMemoryThreshold: 10,
		Mode:                    TriggerModePolicy,
	}
}

// TriggerState - наблюдаемое состояние хода, участвующее в решениях политики.
type TriggerState struct {
	Emotion       models.Emotion
	Scene         models.Scene
	AffinityLevel int
}

// ModelProposal - предложения, пришедшие от самой модели.
type ModelProposal struct {
	NeedsImageUpdate bool
	IsImportantEvent bool
}

// TriggerDecision - результат оценки политики. Оба действия независимы
// и могут сработать на одном ходе одновременно.
type TriggerDecision struct {
	RegenerateImage bool
	WriteMemory     bool
}

// EvaluateTriggers - чистая детерминированная функция политики триггеров.
//
// Перегенерация изображения: смена категории эмоции, смена сцены или скачок
// привязанности не меньше порога. Модель может только *предлагать* обновление;
// в режиме strict её предложение дополнительно обязано подтвердить решение
// политики, в режиме policy оно игнорируется.
//
// Запись в память: скачок привязанности не меньше порога либо флаг важного
// события от модели. В отличие от картинки, флаг важности доверяется напрямую:
// политика не пересматривает доменные суждения о важности, только числовые
// дельты.
func EvaluateTriggers(prev, curr TriggerState, proposal ModelProposal, cfg PolicyConfig) TriggerDecision {
	affinityDelta := curr.AffinityLevel - prev.AffinityLevel
	if affinityDelta < 0 {
		affinityDelta = -affinityDelta
	}

	regenerate := curr.Emotion.Category() != prev.Emotion.Category() ||
		curr.Scene != prev.Scene ||
		affinityDelta >= cfg.AffinityImageThreshold

	if cfg.Mode == TriggerModeStrict {
		regenerate = regenerate && proposal.NeedsImageUpdate
	}

	writeMemory := affinityDelta >= cfg.AffinityMemoryThreshold || proposal.IsImportantEvent

	return TriggerDecision{
		RegenerateImage: regenerate,
		WriteMemory:     writeMemory,
	}
}
