package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/remeslo-app/gateway/pkg/creds"
)

// Endpoints авторизации.
const (
	loginPath  = "/auth/login/"
	verifyPath = "/auth/registration/verify/"
	logoutPath = "/auth/logout/"
)

// tokenPairResponse — ответ backend'а на логин и подтверждение регистрации.
type tokenPairResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Role    string `json:"role"`
}

// Login аутентифицирует пользователя и сохраняет учётные данные.
//
// remember выбирает режим персистентности один раз и навсегда для этой
// сессии: все последующие записи (включая refresh) используют его же.
func (c *Client) Login(ctx context.Context, email, password string, remember bool) error {
	var resp tokenPairResponse
	err := c.Post(ctx, loginPath, map[string]string{
		"email":    email,
		"password": password,
	}, false, &resp)
	if err != nil {
		return err
	}

	return c.storeTokens(resp, remember)
}

// VerifyRegistration подтверждает регистрацию по токену из письма и,
// как и логин, сохраняет выданную пару токенов.
func (c *Client) VerifyRegistration(ctx context.Context, token string, remember bool) error {
	var resp tokenPairResponse
	err := c.Post(ctx, verifyPath, map[string]string{"token": token}, false, &resp)
	if err != nil {
		return err
	}

	return c.storeTokens(resp, remember)
}

// Logout завершает сессию.
//
// Вызов backend'а — best effort: даже если сеть легла, локальные
// учётные данные очищаются обязательно.
func (c *Client) Logout(ctx context.Context) error {
	if current, ok := c.store.Get(); ok && current.RefreshToken != "" {
		req := NewRequest(http.MethodPost, logoutPath,
			WithBody(map[string]string{"refresh": current.RefreshToken}),
			WithAuth())
		if _, err := c.Do(ctx, req); err != nil {
			c.log.Warn().Err(err).Msg("logout request failed, clearing credentials anyway")
		}
	}
	return c.store.Clear()
}

// UserRole возвращает роль текущего пользователя для быстрых клиентских
// проверок (показывать ли кабинет исполнителя и т.п.). Источник истины —
// всегда backend.
func (c *Client) UserRole() (string, bool) {
	current, ok := c.store.Get()
	if !ok {
		return "", false
	}
	return current.UserRole, true
}

func (c *Client) storeTokens(resp tokenPairResponse, remember bool) error {
	if resp.Access == "" {
		return fmt.Errorf("auth response without access token")
	}

	return c.store.Set(creds.Credentials{
		AccessToken:  resp.Access,
		RefreshToken: resp.Refresh,
		UserRole:     resp.Role,
		RememberMe:   remember,
		ExpiresAt:    creds.TokenExpiry(resp.Access),
	}, remember)
}
