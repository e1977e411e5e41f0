package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := s.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreSortedSetSlidingWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := "rate_limit:user:1"

	require.NoError(t, s.ZAdd(ctx, key, 1.0, "1.0"))
	require.NoError(t, s.ZAdd(ctx, key, 2.0, "2.0"))
	require.NoError(t, s.ZAdd(ctx, key, 3.0, "3.0"))

	n, err := s.ZCard(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, s.ZRemRangeByScore(ctx, key, 0, 2.0))
	n, err = s.ZCard(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStoreSetOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := "ws_connections:user:1"

	require.NoError(t, s.SAdd(ctx, key, "conn-a", "conn-b"))
	n, err := s.SCard(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.SRem(ctx, key, "conn-a"))
	n, err = s.SCard(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
