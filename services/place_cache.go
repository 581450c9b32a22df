package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PageCache speichert verarbeitete Gazetteer-Seiten und Gesamtläufe mit TTL.
type PageCache interface {
	Get(ctx context.Context, key string) (*BulkPage, bool)
	Set(ctx context.Context, key string, page *BulkPage)
	Delete(ctx context.Context, key string)
	Flush(ctx context.Context) error
	Len(ctx context.Context) int
}

// MemoryPageCache ist der prozesslokale PageCache.
type MemoryPageCache struct {
	c *cache.Cache
}

// NewMemoryPageCache erstellt einen go-cache-basierten PageCache.
func NewMemoryPageCache(ttl time.Duration) *MemoryPageCache {
	return &MemoryPageCache{c: cache.New(ttl, 2*ttl)}
}

func (m *MemoryPageCache) Get(_ context.Context, key string) (*BulkPage, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*BulkPage), true
}

func (m *MemoryPageCache) Set(_ context.Context, key string, page *BulkPage) {
	m.c.SetDefault(key, page)
}

func (m *MemoryPageCache) Delete(_ context.Context, key string) {
	m.c.Delete(key)
}

func (m *MemoryPageCache) Flush(context.Context) error {
	m.c.Flush()
	return nil
}

func (m *MemoryPageCache) Len(context.Context) int {
	return m.c.ItemCount()
}

// RedisPageCache teilt verarbeitete Seiten zwischen mehreren Instanzen.
type RedisPageCache struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Logger *zap.Logger
}

// NewRedisPageCache verbindet sich mit REDIS_URL.
func NewRedisPageCache(redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisPageCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisPageCache{Client: redis.NewClient(opts), Prefix: "gazetteer:", TTL: ttl, Logger: logger}, nil
}

func (r *RedisPageCache) Get(ctx context.Context, key string) (*BulkPage, bool) {
	raw, err := r.Client.Get(ctx, r.Prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.Logger.Warn("Redis-Lesezugriff fehlgeschlagen", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var page BulkPage
	if err := json.Unmarshal(raw, &page); err != nil {
		r.Logger.Warn("Defekter Cache-Eintrag", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &page, true
}

func (r *RedisPageCache) Set(ctx context.Context, key string, page *BulkPage) {
	raw, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := r.Client.Set(ctx, r.Prefix+key, raw, r.TTL).Err(); err != nil {
		r.Logger.Warn("Redis-Schreibzugriff fehlgeschlagen", zap.String("key", key), zap.Error(err))
	}
}

func (r *RedisPageCache) Delete(ctx context.Context, key string) {
	r.Client.Del(ctx, r.Prefix+key)
}

func (r *RedisPageCache) Flush(ctx context.Context) error {
	keys, err := r.keys(ctx)
	if err != nil || len(keys) == 0 {
		return err
	}
	return r.Client.Del(ctx, keys...).Err()
}

func (r *RedisPageCache) Len(ctx context.Context) int {
	keys, _ := r.keys(ctx)
	return len(keys)
}

func (r *RedisPageCache) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.Client.Scan(ctx, 0, r.Prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// TargetBlacklist merkt sich Target-IDs, deren Abruf fehlgeschlagen ist.
type TargetBlacklist struct {
	c *cache.Cache
}

// NewTargetBlacklist erstellt eine Blacklist mit TTL.
func NewTargetBlacklist(ttl time.Duration) *TargetBlacklist {
	return &TargetBlacklist{c: cache.New(ttl, 2*ttl)}
}

func (b *TargetBlacklist) Add(id string) {
	b.c.SetDefault(id, struct{}{})
}

func (b *TargetBlacklist) Contains(id string) bool {
	_, ok := b.c.Get(id)
	return ok
}

func (b *TargetBlacklist) Len() int {
	return b.c.ItemCount()
}

func (b *TargetBlacklist) Clear() {
	b.c.Flush()
}
