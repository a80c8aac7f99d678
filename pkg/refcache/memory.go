package refcache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore — хранилище кеша в памяти процесса.
//
// Истекшие записи вычищаются фоновой горутиной (janitor), чтобы кеш
// долгоживущего клиента не рос бесконечно на редких ключах.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	cleanupEvery time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

// MemoryStoreOption настраивает MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupEvery задаёт период фоновой очистки.
func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

// NewMemoryStore создаёт хранилище и запускает janitor.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*Entry),
		cleanupEvery: 2 * time.Minute,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupEvery > 0 {
		go s.janitor()
	}
	return s
}

// Get возвращает запись по ключу.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	return e, ok, nil
}

// Set сохраняет запись.
func (s *MemoryStore) Set(_ context.Context, key string, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = e
	return nil
}

// Delete удаляет запись.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Close останавливает janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) janitor() {
	t := time.NewTicker(s.cleanupEvery)
	defer t.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.cleanup(time.Now())
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		if e.IsStale(now) {
			delete(s.entries, k)
		}
	}
}
