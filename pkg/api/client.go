// Package api — клиентский шлюз к REST backend'у маркетплейса услуг.
//
// Это слой оркестрации запросов, а не «тупой» HTTP клиент:
//   - ограниченная FIFO очередь с min-интервалом и паузой по 429
//   - прозрачное обновление access токена по 401 с повтором запроса
//   - single-flight refresh: конкурентные 401 дают один сетевой вызов
//   - сквозной TTL кеш для справочных данных (см. catalog.go)
//
// UI и бизнес-модули отдают логический запрос (метод, путь, тело, признак
// авторизации) и получают типизированный ответ или ошибку. Очередь,
// повторы и токены им не видны.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/remeslo-app/gateway/pkg/config"
	"github.com/remeslo-app/gateway/pkg/creds"
)

// HTTPClient интерфейс для выполнения HTTP запросов.
//
// Позволяет мокировать HTTP клиент в тестах.
// Стандартный *http.Client реализует этот интерфейс.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client — фасад шлюза.
//
// Создаётся один раз на конфигурацию и передаётся явно — никакого
// глобального состояния, несколько независимых клиентов в одном процессе
// (и в тестах) не мешают друг другу.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	queue      *Queue
	refresher  *Refresher
	store      creds.Store

	defaultRetryAfter time.Duration

	log zerolog.Logger
}

// New создаёт клиент из явных составляющих. Для тестов и нестандартной
// сборки; обычный путь — NewFromConfig.
func New(baseURL string, httpClient HTTPClient, store creds.Store, qcfg QueueConfig, log zerolog.Logger) *Client {
	qcfg = qcfg.withDefaults()
	return &Client{
		baseURL:           baseURL,
		httpClient:        httpClient,
		queue:             NewQueue(qcfg, log),
		refresher:         NewRefresher(baseURL, httpClient, store, log),
		store:             store,
		defaultRetryAfter: qcfg.DefaultRetryAfter,
		log:               log,
	}
}

// NewFromConfig создаёт клиент из конфигурации.
func NewFromConfig(cfg config.APIConfig, store creds.Store, log zerolog.Logger) (*Client, error) {
	cfg = cfg.GetDefaults()

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url is required")
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid api.timeout format: %w", err)
	}
	minInterval, err := time.ParseDuration(cfg.MinInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid api.min_interval format: %w", err)
	}
	window, err := time.ParseDuration(cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("invalid api.window format: %w", err)
	}
	retryAfter, err := time.ParseDuration(cfg.DefaultRetryAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid api.default_retry_after format: %w", err)
	}

	return New(cfg.BaseURL, &http.Client{Timeout: timeout}, store, QueueConfig{
		MaxConcurrent:        cfg.MaxConcurrent,
		MinInterval:          minInterval,
		MaxRequestsPerWindow: cfg.MaxRequestsPerWindow,
		Window:               window,
		DefaultRetryAfter:    retryAfter,
	}, log), nil
}

// Close останавливает очередь клиента.
func (c *Client) Close() {
	c.queue.Close()
}

// Do выполняет логический запрос через очередь.
//
// Протокол:
//  1. При requiresAuth текущий access токен навешивается Bearer заголовком;
//     отсутствие токена не фатально — backend сам ответит 401.
//  2. Запрос уходит через очередь (может ждать слот/интервал/паузу).
//  3. 401 → single-flight refresh → та же заявка ещё один раз, в хвост
//     очереди. Второй 401 — жёсткий отказ.
//  4. 429 гасится внутри очереди (один повтор); сюда доходит только
//     исчерпанный лимит.
//  5. Остальные статусы отдаются как есть вместе с телом ошибки backend'а.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Transition(StateQueued); err != nil {
		return nil, err
	}

	resp, err := c.submit(ctx, req)
	if err == nil {
		_ = req.Transition(StateSettled)
		return resp, nil
	}

	if IsStatus(err, http.StatusUnauthorized) && req.RequiresAuth && !req.AuthRetried() {
		if terr := req.Transition(StateRetryAuth); terr == nil {
			c.log.Debug().Str("request_id", req.ID).Msg("401, refreshing token and replaying")

			if _, rerr := c.refresher.Refresh(ctx); rerr != nil {
				_ = req.Transition(StateSettled)
				return nil, rerr
			}

			if terr := req.Transition(StateQueued); terr != nil {
				return nil, terr
			}
			resp, err = c.submit(ctx, req)
			if err == nil {
				_ = req.Transition(StateSettled)
				return resp, nil
			}
		}
	}

	_ = req.Transition(StateSettled)
	return nil, err
}

// submit проводит запрос через очередь, синхронизируя жизненный цикл
// заявки с событиями планировщика.
func (c *Client) submit(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	err := c.queue.Enqueue(ctx, func() error {
		var sendErr error
		resp, sendErr = c.send(ctx, req)
		return sendErr
	},
		OnDispatch(func() {
			_ = req.Transition(StateInFlight)
		}),
		OnRateRetry(func() {
			_ = req.Transition(StateRetryRate)
			_ = req.Transition(StateQueued)
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DoDirect выполняет запрос мимо очереди.
//
// Для редких вызовов, которым нельзя ждать (health check при старте).
// Раз очередь не гасит 429 за нас, та же политика одного повтора
// применяется локально.
func (c *Client) DoDirect(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.send(ctx, req)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = c.defaultRetryAfter
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		resp, err = c.send(ctx, req)
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Error())
		}
	}
	return resp, err
}

// send выполняет один физический HTTP вызов.
func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	u, err := url.Parse(c.baseURL + req.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if req.Params != nil {
		u.RawQuery = req.Params.Encode()
	}

	var body io.Reader
	contentType := ""
	if req.Body != nil {
		switch b := req.Body.(type) {
		case *MultipartBody:
			// Байты собраны заранее — повтор запроса читает их заново
			body = bytes.NewReader(b.Data)
			contentType = b.ContentType
		default:
			data, err := json.Marshal(req.Body)
			if err != nil {
				return nil, fmt.Errorf("marshal body: %w", err)
			}
			body = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	if req.RequiresAuth {
		// Токен читается на каждую отправку: после refresh повтор уйдёт
		// уже с новым значением
		if current, ok := c.store.Get(); ok && current.AccessToken != "" {
			httpReq.Header.Set("Authorization", "Bearer "+current.AccessToken)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       data,
		}, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Body: data}
	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryAfter(resp.Header)
	}
	return nil, apiErr
}

// parseRetryAfter читает заголовок Retry-After (в секундах).
func parseRetryAfter(h http.Header) time.Duration {
	if s := h.Get("Retry-After"); s != "" {
		if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return 0
}

// Get выполняет GET запрос и раскладывает ответ в dest.
func (c *Client) Get(ctx context.Context, path string, params url.Values, auth bool, dest interface{}) error {
	opts := []RequestOption{WithParams(params)}
	if auth {
		opts = append(opts, WithAuth())
	}
	return c.do(ctx, NewRequest(http.MethodGet, path, opts...), dest)
}

// Post выполняет POST запрос с JSON телом и раскладывает ответ в dest.
func (c *Client) Post(ctx context.Context, path string, body interface{}, auth bool, dest interface{}) error {
	opts := []RequestOption{WithBody(body)}
	if auth {
		opts = append(opts, WithAuth())
	}
	return c.do(ctx, NewRequest(http.MethodPost, path, opts...), dest)
}

// Put выполняет PUT запрос с JSON телом и раскладывает ответ в dest.
func (c *Client) Put(ctx context.Context, path string, body interface{}, auth bool, dest interface{}) error {
	opts := []RequestOption{WithBody(body)}
	if auth {
		opts = append(opts, WithAuth())
	}
	return c.do(ctx, NewRequest(http.MethodPut, path, opts...), dest)
}

// Delete выполняет DELETE запрос.
func (c *Client) Delete(ctx context.Context, path string, auth bool) error {
	opts := []RequestOption{}
	if auth {
		opts = append(opts, WithAuth())
	}
	return c.do(ctx, NewRequest(http.MethodDelete, path, opts...), nil)
}

func (c *Client) do(ctx context.Context, req *Request, dest interface{}) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if dest != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
