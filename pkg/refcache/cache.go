// Package refcache — сквозной (read-through) TTL кеш для медленно меняющихся
// справочных данных: категории услуг, города, подборки.
//
// Кеш никогда не инвалидируется записями в других частях системы —
// устаревание ограничено только TTL. Это осознанное приближение: справочники
// меняются редко, а лишний сетевой запрос дороже чуть устаревшего списка
// городов.
package refcache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Entry — одна запись кеша.
type Entry struct {
	Value    []byte        // Сырой JSON ответа
	StoredAt time.Time     // Момент записи
	TTL      time.Duration // Срок жизни
}

// IsStale сообщает что запись пережила свой TTL.
func (e *Entry) IsStale(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL
}

// Store — контракт хранилища записей кеша.
//
// Get возвращает запись (возможно истекшую — проверка TTL на уровне Cache,
// кроме backend'ов с нативным TTL, которые могут отдавать ok=false сразу).
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// FetchFunc выполняет реальный запрос при промахе кеша.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache — сквозной кеш поверх Store.
//
// Одновременные запросы холодного ключа дедуплицируются: реальный fetch
// выполняется один раз, остальные ждут его результат.
type Cache struct {
	store Store

	mu       sync.Mutex
	inflight map[string]*fetchCall

	now func() time.Time
}

// fetchCall — один выполняющийся fetch, результат которого разделяют
// все ожидающие.
type fetchCall struct {
	done  chan struct{}
	value []byte
	err   error
}

// New создаёт кеш поверх указанного хранилища.
func New(store Store) *Cache {
	return &Cache{
		store:    store,
		inflight: make(map[string]*fetchCall),
		now:      time.Now,
	}
}

// GetOrFetch возвращает живое значение из кеша или выполняет fetch.
//
// Живая запись возвращается без сетевого вызова и без входа в очередь
// запросов. Промах (или истекшая запись) вызывает fetch, результат
// сохраняется со StoredAt=now и возвращается.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	if e, ok, err := c.store.Get(ctx, key); err == nil && ok && !e.IsStale(c.now()) {
		return e.Value, nil
	}

	// Дедупликация: если fetch этого ключа уже идёт — ждём его
	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.value, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	call.value, call.err = fetch(ctx)

	if call.err == nil {
		// Ошибка записи в кеш не фатальна: значение уже получено,
		// следующий вызов просто сходит в сеть ещё раз
		_ = c.store.Set(ctx, key, &Entry{
			Value:    call.value,
			StoredAt: c.now(),
			TTL:      ttl,
		})
	}

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	return call.value, call.err
}

// Key строит ключ кеша из endpoint'а и параметров.
func Key(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// NewStoreFromConfig выбирает backend по имени.
func NewStoreFromConfig(backend, redisAddr string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(redisAddr), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}
