package models

import (
	"encoding/json"
	"fmt"
	"os"
)

// CharacterConfig - конфигурация персонажа, загружаемая из JSON-файла.
// Карты промптов могут быть пустыми: тогда используются встроенные описания.
type CharacterConfig struct {
	Name             string            `json:"name"`
	Personality      string            `json:"personality"`
	AppearancePrompt string            `json:"appearance_prompt"`
	EmotionPrompts   map[string]string `json:"emotion_prompts,omitempty"`
	ScenePrompts     map[string]string `json:"scene_prompts,omitempty"`
	AffinityPrompts  map[string]string `json:"affinity_prompts,omitempty"`
}

// LoadCharacterConfig читает и валидирует конфигурацию персонажа из файла.
func LoadCharacterConfig(path string) (*CharacterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read character config %s: %w", path, err)
	}
	var cfg CharacterConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse character config %s: %w", path, err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("character config %s: name is required", path)
	}
	if cfg.AppearancePrompt == "" {
		return nil, fmt.Errorf("character config %s: appearance_prompt is required", path)
	}
	return &cfg, nil
}
