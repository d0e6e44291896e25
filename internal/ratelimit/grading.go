package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gradewise/internal/config"
)

const keyGradingAccount = "grading:account:%s"

// GradingLimiter throttles AI grading requests per credit account.
type GradingLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewGradingLimiter returns nil when limiting is disabled or redis is absent;
// a nil limiter allows everything.
func NewGradingLimiter(cfg config.Config, client *redis.Client) *GradingLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil
	}
	if limitCfg.GradingRate <= 0 || limitCfg.GradingBurst <= 0 {
		return nil
	}
	return &GradingLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.GradingRate,
		burst:  limitCfg.GradingBurst,
	}
}

func (l *GradingLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowAccount spends one grading request from the account's bucket.
func (l *GradingLimiter) AllowAccount(ctx context.Context, accountID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.AllowN(ctx, fmt.Sprintf(keyGradingAccount, strings.TrimSpace(accountID)), l.rate, l.burst, 1)
}
