package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, nil)
}

func TestLimiterAllowsWithinCapacity(t *testing.T) {
	l := newTestLimiter(t)
	res, err := l.Check(context.Background(), "user-1", TierFree, ClassLogin)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestLimiterRejectsOnceCapacityExhausted(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	cfg := DefaultTierConfigs[TierFree][ClassLogin]
	var lastAllowed bool
	for i := 0; i < int(cfg.Capacity)+1; i++ {
		res, err := l.Check(ctx, "user-2", TierFree, ClassLogin)
		require.NoError(t, err)
		lastAllowed = res.Allowed
	}
	require.False(t, lastAllowed, "capacity+1 requests in the same instant should exhaust the bucket")
}

func TestLimiterEnterpriseTierIsUnlimited(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		res, err := l.Check(ctx, "enterprise-user", TierEnterprise, ClassExecute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}

func TestStreamOpenEnforcesConcurrentCap(t *testing.T) {
	l := newTestLimiter(t)
	limit := DefaultTierConfigs[TierFree][ClassExecute].MaxConcurrentStreams
	for i := 0; i < limit; i++ {
		require.True(t, l.StreamOpen("user-3", TierFree))
	}
	require.False(t, l.StreamOpen("user-3", TierFree), "cap-exceeded open should be rejected")

	l.StreamClose("user-3")
	require.True(t, l.StreamOpen("user-3", TierFree), "closing one slot should free capacity")
}
