package limiters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited      = errors.New("recovery rate limited")
	ErrRedisUnavailable = errors.New("recovery limiter redis unavailable")
)

// RecoveryConfig sets the per-window budgets. A zero budget disables that
// throttle.
type RecoveryConfig struct {
	Window              time.Duration
	MaxRequestsPerEmail int
	MaxRequestsPerIP    int
	MaxVerifiesPerEmail int
	MaxVerifiesPerIP    int
	MaxCommitsPerIP     int
	Prefix              string
}

type RecoveryLimiter struct {
	redis  redis.UniversalClient
	config RecoveryConfig
}

func NewRecoveryLimiter(redisClient redis.UniversalClient, cfg RecoveryConfig) *RecoveryLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "arl"
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &RecoveryLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRequest counts one code request for email and ip.
func (l *RecoveryLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	if err := l.enforce(ctx, "req:e:"+emailKey(email), l.config.MaxRequestsPerEmail); err != nil {
		return err
	}
	if ip != "" {
		return l.enforce(ctx, "req:ip:"+ip, l.config.MaxRequestsPerIP)
	}
	return nil
}

// CheckVerify counts one code check for email and ip.
func (l *RecoveryLimiter) CheckVerify(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	if err := l.enforce(ctx, "ver:e:"+emailKey(email), l.config.MaxVerifiesPerEmail); err != nil {
		return err
	}
	if ip != "" {
		return l.enforce(ctx, "ver:ip:"+ip, l.config.MaxVerifiesPerIP)
	}
	return nil
}

// CheckCommit counts one password commit from ip.
func (l *RecoveryLimiter) CheckCommit(ctx context.Context, ip string) error {
	if l == nil || ip == "" {
		return nil
	}
	return l.enforce(ctx, "com:ip:"+ip, l.config.MaxCommitsPerIP)
}

func (l *RecoveryLimiter) enforce(ctx context.Context, suffix string, max int) error {
	if max <= 0 {
		return nil
	}
	key := l.config.Prefix + ":" + suffix

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(max) {
		return ErrRateLimited
	}

	return nil
}

// emailKey hashes the normalized email so addresses do not appear in key names.
func emailKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:12])
}
