package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/internal/cache"
	"github.com/customeros/mailsync/internal/logger"
)

func newTestGate(now *time.Time) *gate {
	log := logger.NewAppLogger(&logger.Config{LogLevel: "error"})
	log.InitLogger()
	return NewRateLimitGateWithClock(cache.NewMemoryCache(100, time.Hour), log, func() time.Time { return *now }).(*gate)
}

func TestGate_NoCooldownByDefault(t *testing.T) {
	now := time.Now().UTC()
	g := newTestGate(&now)

	require.Zero(t, g.IsCoolingDown(context.Background(), "acc-1"))
}

func TestGate_CooldownExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := newTestGate(&now)

	g.SetCooldown(ctx, "acc-1", 60)
	require.Equal(t, 60*time.Second, g.IsCoolingDown(ctx, "acc-1"))

	now = now.Add(59 * time.Second)
	require.Equal(t, time.Second, g.IsCoolingDown(ctx, "acc-1"))

	now = now.Add(time.Second)
	require.Zero(t, g.IsCoolingDown(ctx, "acc-1"))
}

func TestGate_NeverShortensLaterBoundary(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := newTestGate(&now)

	g.SetCooldown(ctx, "acc-1", 120)
	g.SetCooldown(ctx, "acc-1", 10)

	require.Equal(t, 120*time.Second, g.IsCoolingDown(ctx, "acc-1"))

	g.SetCooldown(ctx, "acc-1", 300)
	require.Equal(t, 300*time.Second, g.IsCoolingDown(ctx, "acc-1"))
}

func TestGate_MinimumOneSecond(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := newTestGate(&now)

	g.SetCooldown(ctx, "acc-1", 0)
	require.Equal(t, time.Second, g.IsCoolingDown(ctx, "acc-1"))
}

func TestGate_AccountsAreIsolated(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := newTestGate(&now)

	g.SetCooldown(ctx, "acc-1", 60)

	require.NotZero(t, g.IsCoolingDown(ctx, "acc-1"))
	require.Zero(t, g.IsCoolingDown(ctx, "acc-2"))
}
