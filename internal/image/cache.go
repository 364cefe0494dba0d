package image

import (
	"sync"

	"companion-server/internal/models"
)

// CacheKey - ключ кэша изображений: категория эмоции и сцена, а не сырая
// эмоция. Колебания эмоций внутри одной категории не приводят к новой
// генерации.
type CacheKey struct {
	Category models.EmotionCategory
	Scene    models.Scene
}

// CachedImage - значение кэша: публичный URL и конкретная пара
// эмоция/сцена, использованная при построении промпта.
type CachedImage struct {
	URL     string
	Emotion models.Emotion
	Scene   models.Scene
}

// Cache - потокобезопасный кэш сгенерированных изображений на время жизни
// процесса. Вытеснения нет: пространство ключей ограничено произведением
// числа категорий на число сцен (несколько десятков записей максимум).
// Сброс при рестарте процесса - принятый компромисс стоимость/свежесть.
type Cache struct {
	mu      sync.RWMutex
	entries map[CacheKey]CachedImage
}

// NewCache создает пустой кэш изображений.
func NewCache() *Cache {
	return &Cache{entries: make(map[CacheKey]CachedImage)}
}

// Get возвращает закэшированное изображение для ключа.
func (c *Cache) Get(key CacheKey) (CachedImage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.entries[key]
	return img, ok
}

// Put сохраняет изображение для ключа, перезаписывая предыдущее значение.
func (c *Cache) Put(key CacheKey, img CachedImage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = img
}

// Len возвращает текущее число записей (для health/debug).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
