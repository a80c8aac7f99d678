package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remeslo-app/gateway/pkg/creds"
)

func newTestRefresher(fn func(req *http.Request) (*http.Response, error), store creds.Store) *Refresher {
	return NewRefresher("http://backend.test", &mockHTTP{fn: fn}, store, zerolog.Nop())
}

// TestRefresher_SingleFlight: N конкурентных вызовов → один сетевой запрос,
// все получают общий результат.
func TestRefresher_SingleFlight(t *testing.T) {
	store := creds.NewMemoryStore()
	require.NoError(t, store.Set(creds.Credentials{AccessToken: "old", RefreshToken: "ref"}, false))

	var calls int32
	r := newTestRefresher(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return httpResp(200, `{"access":"new"}`), nil
	}, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := r.Refresh(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "new", token)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestRefresher_StateClearedAfterSettle: после расчёта refresh'а состояние
// "в полёте" снято — следующий вызов делает новый сетевой запрос.
func TestRefresher_StateClearedAfterSettle(t *testing.T) {
	store := creds.NewMemoryStore()
	require.NoError(t, store.Set(creds.Credentials{AccessToken: "old", RefreshToken: "ref"}, false))

	var calls int32
	r := newTestRefresher(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return httpResp(200, `{"access":"new"}`), nil
	}, store)

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)
	_, err = r.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestRefresher_NoRefreshToken: без refresh токена — ни одного сетевого
// вызова, данные очищены.
func TestRefresher_NoRefreshToken(t *testing.T) {
	store := creds.NewMemoryStore()
	require.NoError(t, store.Set(creds.Credentials{AccessToken: "old"}, false))

	var calls int32
	r := newTestRefresher(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return httpResp(200, `{"access":"new"}`), nil
	}, store)

	_, err := r.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Zero(t, atomic.LoadInt32(&calls), "no network call without a refresh token")

	_, ok := store.Get()
	assert.False(t, ok)
}

// TestRefresher_Rejected: backend отверг refresh токен → полный logout,
// все ожидающие получают ErrRefreshRejected.
func TestRefresher_Rejected(t *testing.T) {
	store := creds.NewMemoryStore()
	require.NoError(t, store.Set(creds.Credentials{AccessToken: "old", RefreshToken: "revoked"}, false))

	r := newTestRefresher(func(req *http.Request) (*http.Response, error) {
		time.Sleep(30 * time.Millisecond)
		return httpResp(401, `{"detail":"token revoked"}`), nil
	}, store)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Refresh(context.Background())
			assert.ErrorIs(t, err, ErrRefreshRejected)
		}()
	}
	wg.Wait()

	_, ok := store.Get()
	assert.False(t, ok, "rejection clears all credentials")
}

// TestRefresher_NetworkErrorKeepsCredentials: сетевая ошибка — не приговор
// refresh токену.
func TestRefresher_NetworkErrorKeepsCredentials(t *testing.T) {
	store := creds.NewMemoryStore()
	require.NoError(t, store.Set(creds.Credentials{AccessToken: "old", RefreshToken: "ref"}, false))

	r := newTestRefresher(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}, store)

	_, err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRefreshRejected)

	_, ok := store.Get()
	assert.True(t, ok, "credentials survive transient network failures")
}

// TestRefresher_PersistenceModePreserved: режим "запомнить меня" не
// сбрасывается при записи нового токена.
func TestRefresher_PersistenceModePreserved(t *testing.T) {
	store := creds.NewMemoryStore()
	require.NoError(t, store.Set(creds.Credentials{
		AccessToken:  "old",
		RefreshToken: "ref",
		UserRole:     "provider",
		RememberMe:   true,
	}, true))

	r := newTestRefresher(func(req *http.Request) (*http.Response, error) {
		return httpResp(200, `{"access":"new"}`), nil
	}, store)

	token, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", token)

	current, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "new", current.AccessToken)
	assert.Equal(t, "ref", current.RefreshToken)
	assert.Equal(t, "provider", current.UserRole)
	assert.True(t, current.RememberMe)
}
