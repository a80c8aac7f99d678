package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Ошибки уровня транспорта и авторизации.

// ErrNoRefreshToken возвращается когда refresh токен отсутствует.
//
// Восстановление невозможно — вызывающий слой обязан отправить
// пользователя на повторный логин.
var ErrNoRefreshToken = fmt.Errorf("no refresh token")

// ErrRefreshRejected возвращается когда backend отверг refresh токен
// (истёк или отозван). Учётные данные при этом уже очищены — сессия
// пользователя закончилась.
var ErrRefreshRejected = fmt.Errorf("refresh token rejected")

// ErrRateLimited возвращается когда запрос упёрся в 429 и единственный
// разрешённый повтор тоже не прошёл. Вызывающему остаётся подождать.
var ErrRateLimited = fmt.Errorf("rate limit exceeded")

// ErrQueueClosed возвращается при попытке поставить запрос в закрытую очередь.
var ErrQueueClosed = fmt.Errorf("request queue closed")

// APIError — любой не-2xx ответ backend'а.
//
// Несёт статус и структурированное тело ошибки как есть: этот слой не
// интерпретирует бизнес-ошибки (валидация форм и т.п.), только пробрасывает.
type APIError struct {
	StatusCode int
	Body       []byte

	// RetryAfter — распарсенный заголовок Retry-After для 429.
	// Ноль = заголовка не было.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d, body: %s", e.StatusCode, string(e.Body))
}

// IsStatus сообщает что ошибка — это APIError с данным статусом.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// ErrorType представляет класс ошибки для диагностики.
type ErrorType int

const (
	ErrUnknown ErrorType = iota
	ErrAuthFailed
	ErrTimeout
	ErrNetwork
	ErrRateLimit
)

// String возвращает строковое представление класса ошибки.
func (e ErrorType) String() string {
	switch e {
	case ErrAuthFailed:
		return "authentication_failed"
	case ErrTimeout:
		return "timeout"
	case ErrNetwork:
		return "network_error"
	case ErrRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// HumanMessage возвращает человекочитаемое сообщение для класса ошибки.
func (e ErrorType) HumanMessage() string {
	switch e {
	case ErrAuthFailed:
		return "Сессия истекла или доступ запрещён. Войдите заново."
	case ErrTimeout:
		return "Превышено время ожидания. Сервер не отвечает или проблемы с сетью."
	case ErrNetwork:
		return "Сервер недоступен. Проверьте подключение к интернету."
	case ErrRateLimit:
		return "Превышен лимит запросов. Подождите перед следующей попыткой."
	default:
		return "Неизвестная ошибка при обращении к API."
	}
}

// ClassifyError классифицирует ошибку по типу для лучшей диагностики.
//
//   - ErrAuthFailed: 401/403, отвергнутый или отсутствующий refresh токен
//   - ErrRateLimit: 429, исчерпанный лимит
//   - ErrTimeout: timeout, deadline exceeded
//   - ErrNetwork: connection refused, no such host
//   - ErrUnknown: всё остальное
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrUnknown
	}

	if errors.Is(err, ErrNoRefreshToken) || errors.Is(err, ErrRefreshRejected) {
		return ErrAuthFailed
	}
	if errors.Is(err, ErrRateLimited) {
		return ErrRateLimit
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrAuthFailed
		case http.StatusTooManyRequests:
			return ErrRateLimit
		}
		return ErrUnknown
	}

	errMsg := err.Error()
	errMsgLower := strings.ToLower(errMsg)

	if strings.Contains(errMsgLower, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return ErrTimeout
	}
	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") {
		return ErrNetwork
	}

	return ErrUnknown
}
