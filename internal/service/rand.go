package service

import (
	"math/rand"
	"time"
)

// RandSource - инжектируемый источник случайности для инициализации сессии.
// Тесты подставляют детерминированную реализацию и проверяют конкретный
// выбор стартовой сцены/эмоции.
type RandSource interface {
	Intn(n int) int
}

// NewDefaultRandSource возвращает источник на базе math/rand с текущим
// временем в качестве seed.
func NewDefaultRandSource() RandSource {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
