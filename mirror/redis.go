package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix  = "arm"
	defaultRedisTimeout = 2 * time.Second
)

// RedisOptions tunes a Redis backend. Zero values select the defaults.
type RedisOptions struct {
	Prefix  string
	Timeout time.Duration
}

// Redis stores mirror entries under <prefix>:<scope>:<key> without expiry.
// The scope isolates one client (device, browser profile) from another.
type Redis struct {
	redis   redis.UniversalClient
	prefix  string
	scope   string
	timeout time.Duration
}

func NewRedis(client redis.UniversalClient, scope string, opts RedisOptions) (*Redis, error) {
	if client == nil {
		return nil, errors.New("nil redis client")
	}
	if scope == "" {
		return nil, errors.New("mirror scope is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRedisTimeout
	}
	return &Redis{
		redis:   client,
		prefix:  opts.Prefix,
		scope:   scope,
		timeout: opts.Timeout,
	}, nil
}

func (r *Redis) key(k string) string {
	return r.prefix + ":" + r.scope + ":" + k
}

func (r *Redis) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	v, err := r.redis.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return v, true, nil
}

func (r *Redis) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.redis.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Redis) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, r.key(k))
	}
	if err := r.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
