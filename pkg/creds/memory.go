package creds

import (
	"sync"
	"time"
)

// MemoryStore — хранилище в памяти.
//
// Для тестов и одноразовых утилит, где персистентность не нужна.
// Семантика та же что у SQLiteStore, но "сессия" = время жизни процесса,
// поэтому persistent влияет только на срок истечения.
type MemoryStore struct {
	mu        sync.Mutex
	creds     Credentials
	set       bool
	expiresAt time.Time // нулевое = без срока (сессионная запись)

	now func() time.Time
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Get возвращает текущие учётные данные или ok=false.
func (s *MemoryStore) Get() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set {
		return Credentials{}, false
	}
	if !s.expiresAt.IsZero() && s.now().After(s.expiresAt) {
		s.set = false
		s.creds = Credentials{}
		return Credentials{}, false
	}
	return s.creds, true
}

// Set записывает учётные данные.
func (s *MemoryStore) Set(c Credentials, persistent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = TokenExpiry(c.AccessToken)
	}

	s.creds = c
	s.set = true
	s.expiresAt = time.Time{}
	if persistent {
		s.expiresAt = s.now().Add(PersistentTTL)
	}
	return nil
}

// Clear удаляет учётные данные.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = Credentials{}
	s.set = false
	s.expiresAt = time.Time{}
	return nil
}
