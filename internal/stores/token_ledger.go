package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenReplayed          = errors.New("reset token already used")
	ErrLedgerRedisUnavailable = errors.New("token ledger redis unavailable")
)

// TokenLedger records consumed reset token ids until the token would have
// expired anyway.
type TokenLedger struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTokenLedger(redisClient redis.UniversalClient, prefix string) *TokenLedger {
	if prefix == "" {
		prefix = "art"
	}
	return &TokenLedger{redis: redisClient, prefix: prefix}
}

// MarkUsed records jti. It returns ErrTokenReplayed when jti was already
// recorded. ttl should cover the remaining token lifetime; a non-positive
// ttl is raised to one second so the entry still outlives clock skew.
func (l *TokenLedger) MarkUsed(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("empty token id")
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := l.redis.SetNX(ctx, l.prefix+":"+jti, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerRedisUnavailable, err)
	}
	if !ok {
		return ErrTokenReplayed
	}
	return nil
}

// Release forgets jti so the token can be presented again. Used when the
// commit fails after the token was marked.
func (l *TokenLedger) Release(ctx context.Context, jti string) error {
	if err := l.redis.Del(ctx, l.prefix+":"+jti).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerRedisUnavailable, err)
	}
	return nil
}
