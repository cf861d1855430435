package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestQuantityServedFromCache(t *testing.T) {
	mr, client := newTestCache(t)
	reader := NewReader(nil, client, time.Minute)

	mr.Set(levelCacheKey(5, 2), "12.5")

	qty, err := reader.Quantity(context.Background(), 5, 2)
	require.NoError(t, err)
	require.InDelta(t, 12.5, qty, 1e-9)
}

func TestInvalidateDropsCachedLevels(t *testing.T) {
	mr, client := newTestCache(t)
	reader := NewReader(nil, client, time.Minute)

	mr.Set(levelCacheKey(5, 2), "12.5")
	mr.Set(levelCacheKey(6, 2), "3")

	reader.Invalidate(context.Background(), LevelKey{VariantID: 5, BranchID: 2})

	require.False(t, mr.Exists(levelCacheKey(5, 2)))
	require.True(t, mr.Exists(levelCacheKey(6, 2)))
}
