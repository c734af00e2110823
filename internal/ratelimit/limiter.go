// Package ratelimit throttles WebSocket connection attempts, per IP and per user.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/Congyuwang/wuziqi/internal/config"
	"github.com/Congyuwang/wuziqi/internal/logging"
	"github.com/Congyuwang/wuziqi/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// Limiter holds the rate limiter instances guarding the single WebSocket
// upgrade endpoint this server exposes.
type Limiter struct {
	wsIP   *limiter.Limiter
	wsUser *limiter.Limiter
}

// New builds a Limiter from the given config. Only an in-memory store is
// used: this server is single-process by design (spec Non-goals exclude
// cross-instance room listing/matchmaking), so there is no Redis-backed
// store to share limiter state across instances.
func New(cfg *config.Config) (*Limiter, error) {
	ipRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWSIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	userRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWSUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS user rate: %w", err)
	}

	store := memory.NewStore()
	return &Limiter{
		wsIP:   limiter.New(store, ipRate),
		wsUser: limiter.New(store, userRate),
	}, nil
}

// CheckIP enforces the per-IP connection-attempt limit. Returns true if the
// connection is allowed; on rejection, it writes the 429 response itself.
func (l *Limiter) CheckIP(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	result, err := l.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (ip)", zap.Error(err))
		return true // fail open: availability over strictness
	}

	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_ip").Inc()
		c.JSON(429, gin.H{"error": "too many connection attempts from this address"})
		return false
	}
	return true
}

// CheckUser enforces the per-username connection-attempt limit, called once
// the client's UserName message has been read.
func (l *Limiter) CheckUser(ctx context.Context, userName string) error {
	result, err := l.wsUser.Get(ctx, userName)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (user)", zap.Error(err))
		return nil // fail open
	}
	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_user").Inc()
		return fmt.Errorf("rate limit exceeded for user %q", userName)
	}
	return nil
}
