package creds

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Именованные слоты хранилища.
const (
	slotAccessToken  = "access_token"
	slotRefreshToken = "refresh_token"
	slotUserRole     = "user_role"
	slotRememberMe   = "remember_me"
)

// SQLiteStore — хранилище учётных данных в sqlite файле.
//
// Каждый слот — отдельная строка таблицы со scope ("session" или
// "persistent") и сроком жизни. Сессионные записи вычищаются при следующем
// открытии хранилища: новый процесс = новая сессия. Персистентные записи
// живут ~30 дней и считаются отсутствующими после истечения срока.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB

	now func() time.Time // подменяется в тестах
}

// NewSQLiteStore открывает (или создаёт) хранилище по указанному пути.
//
// При открытии удаляются записи предыдущей сессии и истекшие
// персистентные записи.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open credentials db: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			slot       TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			scope      TEXT NOT NULL,
			expires_at INTEGER
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init credentials schema: %w", err)
	}

	// Новая сессия: прошлые сессионные записи больше не действительны
	if _, err := db.Exec(`DELETE FROM credentials WHERE scope = 'session'`); err != nil {
		db.Close()
		return nil, fmt.Errorf("purge session credentials: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM credentials WHERE expires_at IS NOT NULL AND expires_at < ?`,
		s.now().Unix()); err != nil {
		db.Close()
		return nil, fmt.Errorf("purge expired credentials: %w", err)
	}

	return s, nil
}

// Get возвращает текущие учётные данные.
//
// ok=false если access токен отсутствует или все записи истекли.
func (s *SQLiteStore) Get() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := s.readSlots()

	access, ok := slots[slotAccessToken]
	if !ok {
		return Credentials{}, false
	}

	c := Credentials{
		AccessToken:  access,
		RefreshToken: slots[slotRefreshToken],
		UserRole:     slots[slotUserRole],
		RememberMe:   slots[slotRememberMe] == "1",
		ExpiresAt:    TokenExpiry(access),
	}
	return c, true
}

// Set записывает учётные данные, перезаписывая все слоты.
func (s *SQLiteStore) Set(c Credentials, persistent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope := "session"
	var expiresAt interface{} // NULL для сессионных записей
	if persistent {
		scope = "persistent"
		expiresAt = s.now().Add(PersistentTTL).Unix()
	}

	remember := "0"
	if c.RememberMe {
		remember = "1"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin credentials write: %w", err)
	}
	defer tx.Rollback()

	for slot, value := range map[string]string{
		slotAccessToken:  c.AccessToken,
		slotRefreshToken: c.RefreshToken,
		slotUserRole:     c.UserRole,
		slotRememberMe:   remember,
	} {
		if value == "" && slot != slotRememberMe {
			// Пустой слот не храним — Get трактует отсутствие как "нет значения"
			if _, err := tx.Exec(`DELETE FROM credentials WHERE slot = ?`, slot); err != nil {
				return fmt.Errorf("clear slot %s: %w", slot, err)
			}
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO credentials (slot, value, scope, expires_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(slot) DO UPDATE SET value = ?, scope = ?, expires_at = ?`,
			slot, value, scope, expiresAt,
			value, scope, expiresAt); err != nil {
			return fmt.Errorf("write slot %s: %w", slot, err)
		}
	}

	return tx.Commit()
}

// Clear удаляет все учётные данные (полный logout).
func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close закрывает базу.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// readSlots читает живые слоты в map. Вызывается под мьютексом.
func (s *SQLiteStore) readSlots() map[string]string {
	slots := make(map[string]string)

	rows, err := s.db.Query(`
		SELECT slot, value FROM credentials
		WHERE expires_at IS NULL OR expires_at >= ?`, s.now().Unix())
	if err != nil {
		return slots
	}
	defer rows.Close()

	for rows.Next() {
		var slot, value string
		if err := rows.Scan(&slot, &value); err == nil {
			slots[slot] = value
		}
	}
	return slots
}
