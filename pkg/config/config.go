// Package config загружает конфигурацию шлюза из YAML файла.
//
// Конфиг зеркалит структуру config.yaml. Все секреты (пути, адреса)
// поддерживают подстановку переменных окружения через ${VAR}.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig — корневая структура конфигурации.
type AppConfig struct {
	API   APIConfig   `yaml:"api"`
	Cache CacheConfig `yaml:"cache"`
	Creds CredsConfig `yaml:"creds"`
	Log   LogConfig   `yaml:"log"`
}

// APIConfig — настройки HTTP шлюза и очереди запросов.
type APIConfig struct {
	BaseURL              string `yaml:"base_url"`                // Базовый URL backend API
	Timeout              string `yaml:"timeout"`                 // Timeout HTTP запроса (например, "30s")
	MaxConcurrent        int    `yaml:"max_concurrent"`          // Макс. одновременных запросов
	MinInterval          string `yaml:"min_interval"`            // Мин. интервал между отправками
	MaxRequestsPerWindow int    `yaml:"max_requests_per_window"` // Бюджет запросов на окно (0 = выключено)
	Window               string `yaml:"window"`                  // Длина окна бюджета
	DefaultRetryAfter    string `yaml:"default_retry_after"`     // Пауза при 429 без Retry-After
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *APIConfig) GetDefaults() APIConfig {
	result := *c

	if result.Timeout == "" {
		result.Timeout = "30s"
	}
	if result.MaxConcurrent == 0 {
		result.MaxConcurrent = 5
	}
	if result.MinInterval == "" {
		result.MinInterval = "100ms"
	}
	if result.Window == "" {
		result.Window = "60s"
	}
	if result.DefaultRetryAfter == "" {
		result.DefaultRetryAfter = "1s"
	}

	return result
}

// CacheConfig — настройки кеша справочных данных.
//
// Backend выбирает хранилище: "memory" (по умолчанию) или "redis".
// TTL задаются по классам данных: справочники живут долго,
// пагинированные списки — коротко.
type CacheConfig struct {
	Backend   string            `yaml:"backend"`    // "memory" или "redis"
	RedisAddr string            `yaml:"redis_addr"` // Адрес redis (host:port)
	TTL       map[string]string `yaml:"ttl"`        // Класс данных → TTL ("categories: 12h")
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *CacheConfig) GetDefaults() CacheConfig {
	result := *c

	if result.Backend == "" {
		result.Backend = "memory"
	}
	if result.TTL == nil {
		result.TTL = map[string]string{}
	}
	if _, ok := result.TTL["categories"]; !ok {
		result.TTL["categories"] = "12h"
	}
	if _, ok := result.TTL["cities"]; !ok {
		result.TTL["cities"] = "24h"
	}
	if _, ok := result.TTL["listings"]; !ok {
		result.TTL["listings"] = "60s"
	}

	return result
}

// TTLFor возвращает TTL для класса данных или дефолт 5 минут.
func (c *CacheConfig) TTLFor(class string) time.Duration {
	if s, ok := c.TTL[class]; ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return 5 * time.Minute
}

// CredsConfig — настройки хранилища учётных данных.
type CredsConfig struct {
	DBPath string `yaml:"db_path"` // Путь к sqlite файлу с токенами
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *CredsConfig) GetDefaults() CredsConfig {
	result := *c

	if result.DBPath == "" {
		result.DBPath = "credentials.db"
	}

	return result
}

// LogConfig — настройки логирования.
type LogConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load читает YAML файл, подставляет ENV переменные и возвращает готовую структуру.
func Load(path string) (*AppConfig, error) {
	// 1. Проверяем существование файла
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found at: %s", path)
	}

	// 2. Читаем файл целиком
	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 3. Подставляем переменные окружения.
	// os.ExpandEnv заменяет ${VAR} или $VAR на значение из системы.
	contentWithEnv := os.ExpandEnv(string(rawBytes))

	// 4. Парсим YAML в структуру
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(contentWithEnv), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	// 5. Применяем дефолты и валидируем критические настройки
	cfg.API = cfg.API.GetDefaults()
	cfg.Cache = cfg.Cache.GetDefaults()
	cfg.Creds = cfg.Creds.GetDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate проверяет обязательные поля.
func (c *AppConfig) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if _, err := time.ParseDuration(c.API.Timeout); err != nil {
		return fmt.Errorf("invalid api.timeout format: %w", err)
	}
	if _, err := time.ParseDuration(c.API.MinInterval); err != nil {
		return fmt.Errorf("invalid api.min_interval format: %w", err)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
	}
	return nil
}
