package refcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore — хранилище кеша в redis.
//
// Для случая когда несколько процессов клиента (воркеры, CLI утилиты)
// делят один кеш справочников. TTL записей нативный: redis сам удаляет
// истекшие ключи, поэтому Get не возвращает устаревших записей.
type RedisStore struct {
	rdb       *redis.Client
	keyPrefix string
}

// redisEntry — сериализованная форма Entry для redis.
type redisEntry struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
	TTLMs    int64     `json:"ttl_ms"`
}

// NewRedisStore создаёт хранилище поверх redis по адресу addr.
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		rdb:       redis.NewClient(&redis.Options{Addr: addr}),
		keyPrefix: "refcache:",
	}
}

// Get возвращает запись по ключу.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := s.rdb.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var re redisEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		// Битая запись — считаем промахом, перезапишется при fetch
		return nil, false, nil
	}

	return &Entry{
		Value:    re.Value,
		StoredAt: re.StoredAt,
		TTL:      time.Duration(re.TTLMs) * time.Millisecond,
	}, true, nil
}

// Set сохраняет запись с нативным TTL redis.
func (s *RedisStore) Set(ctx context.Context, key string, e *Entry) error {
	raw, err := json.Marshal(redisEntry{
		Value:    e.Value,
		StoredAt: e.StoredAt,
		TTLMs:    e.TTL.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.rdb.Set(ctx, s.keyPrefix+key, raw, e.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет запись.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close закрывает соединение с redis.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
