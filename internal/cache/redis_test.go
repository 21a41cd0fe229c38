package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return NewRedisStoreWithClient(client, "farm:test:"), mr
}

func TestNewRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), Prefix: "p:"})
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, "redis", store.Name())
}

func TestNewRedisStore_ConnectionError(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: "localhost:99999"})
	assert.Error(t, err)
}

func TestRedisStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t)

	doc, entry := testEntry(t)
	entry.Hash = Hash(doc)

	_, err := store.Load(ctx, entry.Hash)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, entry))
	assert.True(t, mr.Exists("farm:test:"+entry.Hash))
	assert.Zero(t, mr.TTL("farm:test:"+entry.Hash))

	got, err := store.Load(ctx, entry.Hash)
	require.NoError(t, err)
	assert.True(t, doc.Equal(got.Schema))
	assert.Equal(t, entry.Artifacts, got.Artifacts)
}

func TestRedisStore_ClearOnlyOwnPrefix(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("other:key", "keep"))

	doc, entry := testEntry(t)
	entry.Hash = Hash(doc)
	require.NoError(t, store.Save(ctx, entry))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	removed, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, mr.Exists("other:key"))
}

func TestRedisStore_ServerDownIsMiss(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t)
	c, err := New(store)
	require.NoError(t, err)

	mr.Close()

	doc, entry := testEntry(t)
	c.Set(ctx, Hash(doc), entry)
	_, ok := c.Get(ctx, Hash(doc))
	assert.False(t, ok)
}

func TestRedisStore_Latest(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t)

	_, err := store.LoadLatest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	doc, entry := testEntry(t)
	entry.Hash = Hash(doc)
	require.NoError(t, store.Save(ctx, entry))
	require.NoError(t, store.SaveLatest(ctx, entry.Hash))

	got, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, entry.Hash, got)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	removed, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, mr.Exists("farm:test:@latest"))
}
