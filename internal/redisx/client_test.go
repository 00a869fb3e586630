package redisx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-rifa/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a live Redis; set REDIS_TEST_ADDR to run them.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := New(addr)
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestAvailabilityCache(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := &AvailabilityCache{R: rdb, Log: logging.Discard()}
	id := uuid.NewString()

	v, ok := c.Version(ctx, id)
	require.True(t, ok)
	assert.Equal(t, int64(0), v)
	_, ok = c.Get(ctx, id, v)
	assert.False(t, ok)

	c.Set(ctx, id, v, []int{1, 2, 5})
	got, ok := c.Get(ctx, id, v)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 5}, got)

	c.Invalidate(ctx, id)
	next, ok := c.Version(ctx, id)
	require.True(t, ok)
	assert.Equal(t, v+1, next)
	_, ok = c.Get(ctx, id, next)
	assert.False(t, ok)

	// a snapshot computed under the old version stays unreachable
	c.Set(ctx, id, v, []int{1, 2, 3, 4, 5})
	_, ok = c.Get(ctx, id, next)
	assert.False(t, ok)
}

func TestStatusCache(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := &StatusCache{R: rdb, Log: logging.Discard()}
	ref := uuid.NewString()

	c.Set(ctx, ref, []byte(`{"status":"PENDING"}`))
	b, ok := c.Get(ctx, ref)
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"PENDING"}`, string(b))

	c.Forget(ctx, ref)
	_, ok = c.Get(ctx, ref)
	assert.False(t, ok)
}

func TestMarkOnce(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	key := "dedup:test:" + uuid.NewString()

	first, err := MarkOnce(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := MarkOnce(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	ok, err := Exists(ctx, rdb, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, Release(ctx, rdb, key))
	first, err = MarkOnce(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
}
