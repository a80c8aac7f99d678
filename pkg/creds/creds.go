// Package creds хранит учётные данные пользователя (access/refresh токены)
// между сессиями.
//
// Единственный компонент, который пишет секреты на диск. Никаких сетевых
// вызовов и бизнес-логики — только хранение с учётом срока жизни.
//
// Семантика "запомнить меня": режим персистентности выбирается один раз
// при логине и переприменяется при каждой последующей записи (включая
// обновление токена), чтобы галочка "remember me" не сбрасывалась молча.
package creds

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PersistentTTL — срок жизни персистентных записей (~30 дней).
const PersistentTTL = 30 * 24 * time.Hour

// Credentials — учётные данные пользователя.
//
// Создаются при логине или подтверждении регистрации, обновляются при
// refresh токена, уничтожаются при logout или невосстановимой ошибке refresh.
type Credentials struct {
	AccessToken  string // Короткоживущий токен для Authorization заголовка
	RefreshToken string // Долгоживущий токен для обновления access токена
	UserRole     string // Роль пользователя для быстрых клиентских проверок
	RememberMe   bool   // Режим персистентности, выбранный при логине

	// ExpiresAt — подсказка о сроке жизни access токена (claim exp).
	// Нулевое значение = подсказки нет. Только подсказка, не гарантия:
	// сервер остаётся источником истины через 401.
	ExpiresAt time.Time
}

// Store — контракт хранилища учётных данных.
//
// Get возвращает текущие данные или ok=false если их нет (или они истекли).
// Set записывает данные; persistent=true даёт запись срок жизни ~30 дней,
// persistent=false — только до конца сессии.
// Clear удаляет всё (полный logout).
type Store interface {
	Get() (Credentials, bool)
	Set(c Credentials, persistent bool) error
	Clear() error
}

// TokenExpiry извлекает срок жизни из JWT access токена без проверки подписи.
//
// Подпись не проверяется намеренно: клиент не владеет ключом, ему нужна
// только подсказка когда токен протухнет. Не-JWT токены дают нулевое время.
func TokenExpiry(token string) time.Time {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
