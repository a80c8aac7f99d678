package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/remeslo-app/gateway/pkg/config"
	"github.com/remeslo-app/gateway/pkg/refcache"
)

// Category — категория услуг.
type Category struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID int    `json:"parent_id"`
}

// City — город из справочника.
type City struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// Listing — карточка услуги в подборке.
type Listing struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Category int    `json:"category"`
	City     int    `json:"city"`
	Price    string `json:"price"`
}

// Catalog — типизированный доступ к справочным данным через кеш.
//
// Категории и города меняются редко — живой кеш отвечает без сетевого
// вызова и без входа в очередь. Промах уходит в сеть обычным путём,
// через очередь.
type Catalog struct {
	client *Client
	cache  *refcache.Cache
	cfg    config.CacheConfig
}

// NewCatalog создаёт справочный слой поверх клиента и кеша.
func NewCatalog(client *Client, cache *refcache.Cache, cfg config.CacheConfig) *Catalog {
	return &Catalog{client: client, cache: cache, cfg: cfg.GetDefaults()}
}

// Categories возвращает дерево категорий услуг.
func (s *Catalog) Categories(ctx context.Context) ([]Category, error) {
	return cached[[]Category](ctx, s, refcache.Key("catalog", "categories"), "categories",
		func(ctx context.Context) ([]byte, error) {
			return s.fetch(ctx, "/catalog/categories/", nil)
		})
}

// Cities возвращает справочник городов.
func (s *Catalog) Cities(ctx context.Context) ([]City, error) {
	return cached[[]City](ctx, s, refcache.Key("catalog", "cities"), "cities",
		func(ctx context.Context) ([]byte, error) {
			return s.fetch(ctx, "/catalog/cities/", nil)
		})
}

// FeaturedListings возвращает подборку услуг для города.
//
// Пагинированные списки — короткоживущий класс кеша: ключ включает
// параметры, TTL из конфига ("listings").
func (s *Catalog) FeaturedListings(ctx context.Context, cityID, page int) ([]Listing, error) {
	params := url.Values{}
	params.Set("city", strconv.Itoa(cityID))
	params.Set("page", strconv.Itoa(page))

	key := refcache.Key("listings", "featured", strconv.Itoa(cityID), strconv.Itoa(page))
	return cached[[]Listing](ctx, s, key, "listings",
		func(ctx context.Context) ([]byte, error) {
			return s.fetch(ctx, "/listings/featured/", params)
		})
}

// fetch выполняет справочный GET через очередь и возвращает сырое тело.
func (s *Catalog) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	resp, err := s.client.Do(ctx, NewRequest("GET", path, WithParams(params)))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// cached — сквозное чтение через кеш с разбором JSON.
func cached[T any](ctx context.Context, s *Catalog, key, ttlClass string, fetch refcache.FetchFunc) (T, error) {
	var result T

	raw, err := s.cache.GetOrFetch(ctx, key, s.cfg.TTLFor(ttlClass), fetch)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal cached %s: %w", key, err)
	}
	return result, nil
}

// PingResponse — ответ health endpoint'а backend'а.
type PingResponse struct {
	Status string `json:"status"`
}

// Ping проверяет связь с backend API мимо очереди.
//
// Полезен для диагностики при старте: доступность сервиса, сетевые
// проблемы, валидность базового URL.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	httpResp, err := c.DoDirect(ctx, NewRequest("GET", "/ping/"))
	if err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	var resp PingResponse
	if err := json.Unmarshal(httpResp.Body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal ping response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("ping status not ok: %s", resp.Status)
	}
	return &resp, nil
}
