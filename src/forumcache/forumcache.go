/*
Package forumcache keeps rendered thread-list pages in Redis. Entries are keyed
by the forum's cache_version, so bumping the version (which every stats
recompute does) makes old entries unreachable; they simply age out.
*/
package forumcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/models"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack"
)

type PageKey struct {
	ForumID      int
	CacheVersion int
	Page         int
	Bodies       bool
}

type Cache interface {
	GetThreadPage(ctx context.Context, key PageKey) (*models.MessageList, bool)
	PutThreadPage(ctx context.Context, key PageKey, list *models.MessageList)
}

// Caches nothing.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) GetThreadPage(ctx context.Context, key PageKey) (*models.MessageList, bool) {
	return nil, false
}

func (Nop) PutThreadPage(ctx context.Context, key PageKey, list *models.MessageList) {}

type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ Cache = &RedisCache{}

// Returns Nop when Redis is not configured.
func New(cfg config.RedisConfig, tablePrefix string) Cache {
	if !cfg.Enabled() {
		return Nop{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return NewWithClient(client, tablePrefix, cfg.TTL)
}

func NewWithClient(client *redis.Client, tablePrefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: "forumdb:" + tablePrefix + ":",
		ttl:       ttl,
	}
}

func (c *RedisCache) key(k PageKey) string {
	bodies := 0
	if k.Bodies {
		bodies = 1
	}
	return fmt.Sprintf("%sthreads:%d:v%d:p%d:b%d", c.keyPrefix, k.ForumID, k.CacheVersion, k.Page, bodies)
}

type cachedPage struct {
	Order    []int
	Messages []*models.Message
	UserIDs  []int
}

// Redis trouble is logged and treated as a miss; the database is always the
// source of truth.
func (c *RedisCache) GetThreadPage(ctx context.Context, key PageKey) (*models.MessageList, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.ExtractLogger(ctx).Warn().Err(err).Msg("failed to read thread page from cache")
		}
		return nil, false
	}

	var page cachedPage
	if err := msgpack.Unmarshal(data, &page); err != nil {
		logging.ExtractLogger(ctx).Warn().Err(err).Msg("discarding undecodable cached thread page")
		return nil, false
	}

	list := models.NewMessageList()
	list.Order = page.Order
	list.UserIDs = page.UserIDs
	for _, m := range page.Messages {
		list.Messages[m.ID] = m
	}
	return list, true
}

func (c *RedisCache) PutThreadPage(ctx context.Context, key PageKey, list *models.MessageList) {
	data, err := msgpack.Marshal(cachedPage{
		Order:    list.Order,
		Messages: list.Slice(),
		UserIDs:  list.UserIDs,
	})
	if err != nil {
		logging.ExtractLogger(ctx).Warn().Err(err).Msg("failed to encode thread page for cache")
		return
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		logging.ExtractLogger(ctx).Warn().Err(err).Msg("failed to write thread page to cache")
	}
}
