package forumcache

import (
	"context"
	"testing"
	"time"

	"git.handmade.network/hmn/forumdb/src/blob"
	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	server, err := miniredis.Run()
	require.Nil(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return server, NewWithClient(client, "phorum", time.Minute)
}

func samplePage() *models.MessageList {
	list := models.NewMessageList()
	list.Add(&models.Message{ID: 4, Thread: 4, Subject: "root", Datestamp: time.Unix(1700000000, 0).UTC(), Meta: blob.Payload{}})
	list.Add(&models.Message{ID: 5, Thread: 4, ParentID: 4, Subject: "reply"})
	list.UserIDs = []int{7}
	return list
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, cache := startTestRedis(t)
	key := PageKey{ForumID: 1, CacheVersion: 3, Page: 0}

	_, ok := cache.GetThreadPage(ctx, key)
	assert.False(t, ok)

	cache.PutThreadPage(ctx, key, samplePage())

	got, ok := cache.GetThreadPage(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []int{4, 5}, got.Order)
	assert.Equal(t, "reply", got.Messages[5].Subject)
	assert.True(t, got.Messages[4].Datestamp.Equal(time.Unix(1700000000, 0)))
	assert.Equal(t, []int{7}, got.UserIDs)
}

func TestVersionBumpMisses(t *testing.T) {
	ctx := context.Background()
	_, cache := startTestRedis(t)

	cache.PutThreadPage(ctx, PageKey{ForumID: 1, CacheVersion: 3}, samplePage())

	_, ok := cache.GetThreadPage(ctx, PageKey{ForumID: 1, CacheVersion: 4})
	assert.False(t, ok)
	_, ok = cache.GetThreadPage(ctx, PageKey{ForumID: 1, CacheVersion: 3, Bodies: true})
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	server, cache := startTestRedis(t)
	key := PageKey{ForumID: 2, CacheVersion: 1}

	cache.PutThreadPage(ctx, key, samplePage())
	server.FastForward(2 * time.Minute)

	_, ok := cache.GetThreadPage(ctx, key)
	assert.False(t, ok)
}

func TestGarbageIsAMiss(t *testing.T) {
	ctx := context.Background()
	server, cache := startTestRedis(t)
	key := PageKey{ForumID: 2, CacheVersion: 1}

	require.Nil(t, server.Set(cache.key(key), "not msgpack at all"))
	_, ok := cache.GetThreadPage(ctx, key)
	assert.False(t, ok)
}

func TestNewWithoutRedis(t *testing.T) {
	assert.IsType(t, Nop{}, New(config.RedisConfig{}, "phorum"))
}
