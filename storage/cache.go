package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"storyboard/domain"
)

type backend interface {
	FetchCards(ctx context.Context, product, sprint string) (map[string]domain.Card, error)
	FetchCard(ctx context.Context, id string) (domain.Card, error)
	FetchSprints(ctx context.Context, product string) ([]string, error)
	FetchSettings(ctx context.Context) (domain.BoardSettings, error)
	FetchUserHash(ctx context.Context, username string) (string, error)
	LastChange(ctx context.Context) (domain.Marker, error)
	MoveCard(ctx context.Context, id, status string) (domain.Marker, error)
	UpdateCard(ctx context.Context, id string, fields map[string]string) (map[string]string, domain.Marker, error)
	AddCard(ctx context.Context, card domain.Card) (domain.Marker, error)
}

// Cache wraps a Storage instance with Redis-backed caching for read
// operations. Every mutation evicts the board reads and pins the new
// change marker, so the poll endpoint rarely reaches table storage.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchCards(ctx context.Context, product, sprint string) (map[string]domain.Card, error) {
	key := cardsCacheKey(product, sprint)
	if cards, ok := loadCached[map[string]domain.Card](ctx, c, key); ok {
		return cards, nil
	}

	cards, err := c.base.FetchCards(ctx, product, sprint)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, cards)
	return cards, nil
}

// FetchCard is an id lookup used for validation; it always hits the
// backing storage so move checks see the latest status.
func (c *Cache) FetchCard(ctx context.Context, id string) (domain.Card, error) {
	return c.base.FetchCard(ctx, id)
}

func (c *Cache) FetchSprints(ctx context.Context, product string) ([]string, error) {
	key := sprintsCacheKey(product)
	if sprints, ok := loadCached[[]string](ctx, c, key); ok {
		return sprints, nil
	}

	sprints, err := c.base.FetchSprints(ctx, product)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, sprints)
	return sprints, nil
}

func (c *Cache) FetchSettings(ctx context.Context) (domain.BoardSettings, error) {
	if settings, ok := loadCached[domain.BoardSettings](ctx, c, settingsCacheKey); ok {
		return settings, nil
	}

	settings, err := c.base.FetchSettings(ctx)
	if err != nil {
		return domain.BoardSettings{}, err
	}
	c.store(ctx, settingsCacheKey, settings)
	return settings, nil
}

func (c *Cache) FetchUserHash(ctx context.Context, username string) (string, error) {
	return c.base.FetchUserHash(ctx, username)
}

// LastChange serves the polling hot path from Redis when a recent
// mutation pinned the marker there.
func (c *Cache) LastChange(ctx context.Context) (domain.Marker, error) {
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, lastChangeCacheKey).Result()
		if err == nil {
			if marker, perr := domain.ParseMarker(raw); perr == nil {
				return marker, nil
			}
			_ = c.redis.Del(ctx, lastChangeCacheKey).Err()
		}
	}

	marker, err := c.base.LastChange(ctx)
	if err != nil {
		return domain.MarkerZero, err
	}
	c.pinMarker(ctx, marker)
	return marker, nil
}

func (c *Cache) MoveCard(ctx context.Context, id, status string) (domain.Marker, error) {
	marker, err := c.base.MoveCard(ctx, id, status)
	if err != nil {
		return domain.MarkerZero, err
	}
	c.evictBoard(ctx)
	c.pinMarker(ctx, marker)
	return marker, nil
}

func (c *Cache) UpdateCard(ctx context.Context, id string, fields map[string]string) (map[string]string, domain.Marker, error) {
	applied, marker, err := c.base.UpdateCard(ctx, id, fields)
	if err != nil {
		return nil, domain.MarkerZero, err
	}
	c.evictBoard(ctx)
	c.pinMarker(ctx, marker)
	return applied, marker, nil
}

func (c *Cache) AddCard(ctx context.Context, card domain.Card) (domain.Marker, error) {
	marker, err := c.base.AddCard(ctx, card)
	if err != nil {
		return domain.MarkerZero, err
	}
	c.evictBoard(ctx)
	c.pinMarker(ctx, marker)
	return marker, nil
}

func loadCached[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	if c.redis == nil {
		return zero, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage
			// without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return zero, false
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return zero, false
	}
	return value, true
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) pinMarker(ctx context.Context, marker domain.Marker) {
	if c.redis == nil || c.ttl == 0 || marker.IsZero() {
		return
	}
	_ = c.redis.Set(ctx, lastChangeCacheKey, marker.String(), c.ttl).Err()
}

// evictBoard drops every cached board read. Mutations are rare next to
// reads, so a board-wide eviction keeps the key bookkeeping trivial.
func (c *Cache) evictBoard(ctx context.Context) {
	if c.redis == nil {
		return
	}
	for _, pattern := range []string{"cards:*", "sprints:*"} {
		keys, err := c.redis.Keys(ctx, pattern).Result()
		if err != nil || len(keys) == 0 {
			continue
		}
		_ = c.redis.Del(ctx, keys...).Err()
	}
	_ = c.redis.Del(ctx, settingsCacheKey).Err()
}

const (
	settingsCacheKey   = "settings"
	lastChangeCacheKey = "lastchange"
)

func cardsCacheKey(product, sprint string) string {
	if sprint == "" {
		sprint = "all"
	}
	return "cards:" + product + ":" + sprint
}

func sprintsCacheKey(product string) string {
	return "sprints:" + product
}
