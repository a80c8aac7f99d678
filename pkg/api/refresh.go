package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/remeslo-app/gateway/pkg/creds"
)

// refreshPath — endpoint обмена refresh токена на новый access токен.
const refreshPath = "/auth/refresh/"

// refreshCall — один выполняющийся refresh. Все конкурентные вызовы
// разделяют его исход.
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// Refresher обменивает refresh токен на новый access токен.
//
// Гарантия single-flight: в процессе существует максимум один refresh
// в полёте. Запросы, прибежавшие во время обновления, ждут общий
// результат вместо второго сетевого вызова.
//
// Запрос к refresh endpoint'у идёт напрямую, мимо очереди и навешивания
// Authorization заголовка — иначе 401 на сам refresh зациклил бы
// обработку.
type Refresher struct {
	baseURL    string
	httpClient HTTPClient
	store      creds.Store
	log        zerolog.Logger

	mu       sync.Mutex
	inflight *refreshCall
}

// NewRefresher создаёт Refresher.
func NewRefresher(baseURL string, httpClient HTTPClient, store creds.Store, log zerolog.Logger) *Refresher {
	return &Refresher{
		baseURL:    baseURL,
		httpClient: httpClient,
		store:      store,
		log:        log,
	}
}

// Refresh возвращает новый access токен.
//
// Ошибки:
//   - ErrNoRefreshToken: refresh токена нет, учётные данные очищены,
//     нужен повторный логин
//   - ErrRefreshRejected: backend отверг refresh токен, учётные данные
//     очищены (полный logout)
//
// При успехе новый access токен записан в хранилище с тем же режимом
// персистентности, что был выбран при логине.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	if call := r.inflight; call != nil {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	r.inflight = call
	r.mu.Unlock()

	call.token, call.err = r.doRefresh(ctx)

	// Состояние "refresh в полёте" снимается всегда, независимо от исхода
	r.mu.Lock()
	r.inflight = nil
	r.mu.Unlock()
	close(call.done)

	return call.token, call.err
}

func (r *Refresher) doRefresh(ctx context.Context) (string, error) {
	current, ok := r.store.Get()
	if !ok || current.RefreshToken == "" {
		// Без refresh токена попытка бессмысленна; чистим остатки чтобы
		// вызывающий слой однозначно ушёл на логин
		if err := r.store.Clear(); err != nil {
			r.log.Error().Err(err).Msg("failed to clear credentials")
		}
		return "", ErrNoRefreshToken
	}

	r.log.Debug().Msg("refreshing access token")

	payload, err := json.Marshal(map[string]string{"refresh": current.RefreshToken})
	if err != nil {
		return "", fmt.Errorf("marshal refresh payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+refreshPath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		// Сетевая ошибка — не приговор refresh токену, данные не трогаем
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		// Backend отверг refresh токен — сессия закончилась
		if err := r.store.Clear(); err != nil {
			r.log.Error().Err(err).Msg("failed to clear credentials")
		}
		r.log.Warn().Int("status", resp.StatusCode).Msg("refresh token rejected")
		return "", fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	var parsed struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal refresh response: %w", err)
	}
	if parsed.Access == "" {
		return "", fmt.Errorf("refresh response without access token")
	}

	// Переприменяем режим персистентности, выбранный при логине
	current.AccessToken = parsed.Access
	current.ExpiresAt = creds.TokenExpiry(parsed.Access)
	if err := r.store.Set(current, current.RememberMe); err != nil {
		return "", fmt.Errorf("store refreshed token: %w", err)
	}

	r.log.Debug().Msg("access token refreshed")
	return parsed.Access, nil
}
