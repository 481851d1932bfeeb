package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-trace-auth/cache/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisstore.New(client, redisstore.WithPrefix("test")), mr
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	hit, err := store.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, store.MarkBlacklisted(ctx, "jti-1", time.Minute))

	hit, err = store.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.True(t, mr.Exists("test:blacklist:jti-1"))

	t.Run("entry expires with the token", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		hit, err := store.IsBlacklisted(ctx, "jti-1")
		require.NoError(t, err)
		assert.False(t, hit)
	})
}

func TestClaimNonce(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	ok, err := store.ClaimNonce(ctx, "abc123", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ClaimNonce(ctx, "abc123", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ClaimNonce(ctx, "other", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := redisstore.Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = redisstore.Connect(context.Background(), mr.Addr(), "", 0)
	assert.Error(t, err)
}
