package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

const keyPrefix = "gmail-rate-limit:"

// gate keeps one cooldown boundary per account in a TTL cache. The stored value is the
// boundary in unix nanoseconds; the entry expires together with the boundary.
type gate struct {
	cache interfaces.TTLCache
	log   logger.Logger
	now   func() time.Time
}

func NewRateLimitGate(cache interfaces.TTLCache, log logger.Logger) interfaces.RateLimitGate {
	return NewRateLimitGateWithClock(cache, log, utils.Now)
}

// NewRateLimitGateWithClock measures cooldowns against now instead of the wall clock.
func NewRateLimitGateWithClock(cache interfaces.TTLCache, log logger.Logger, now func() time.Time) interfaces.RateLimitGate {
	return &gate{cache: cache, log: log, now: now}
}

// IsCoolingDown returns the remaining wait, zero when the account may call the API.
// Cache failures read as "not cooling down".
func (g *gate) IsCoolingDown(ctx context.Context, accountID string) time.Duration {
	until, ok := g.boundary(ctx, accountID)
	if !ok {
		return 0
	}
	remaining := until.Sub(g.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

func (g *gate) SetCooldown(ctx context.Context, accountID string, seconds int) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RateLimitGate.SetCooldown")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if seconds < 1 {
		seconds = 1
	}
	span.SetTag("seconds", seconds)

	now := g.now()
	until := now.Add(time.Duration(seconds) * time.Second)
	if current, ok := g.boundary(ctx, accountID); ok && current.After(until) {
		span.LogKV("result", "kept later boundary")
		return
	}

	value := strconv.FormatInt(until.UnixNano(), 10)
	if err := g.cache.Set(ctx, keyPrefix+accountID, value, until.Sub(now)); err != nil {
		tracing.TraceErr(span, err)
		g.log.Errorf("Failed to store rate limit cooldown for account %s: %v", accountID, err)
		return
	}
	g.log.Warnf("Gmail rate limit hit for account %s, cooling down for %ds", accountID, seconds)
}

func (g *gate) boundary(ctx context.Context, accountID string) (time.Time, bool) {
	value, ok, err := g.cache.Get(ctx, keyPrefix+accountID)
	if err != nil {
		g.log.Warnf("Failed to read rate limit cooldown for account %s: %v", accountID, err)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}
