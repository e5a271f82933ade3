// Package startup connects the goRecover binaries to their backing services.
package startup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goRecover/internal/logger"
)

const pingTimeout = 5 * time.Second

// ConnectRedisWithRetry dials redisURL and pings it, retrying with
// exponential backoff until maxWait has passed.
func ConnectRedisWithRetry(ctx context.Context, redisURL string, maxWait time.Duration) (redis.UniversalClient, error) {
	if redisURL == "" {
		return nil, errors.New("redis url is empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	deadline := time.Now().Add(maxWait)
	backoff := 500 * time.Millisecond
	for {
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return client, nil
		}
		_ = client.Close()
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("redis (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}

// StartMiniredis runs an in-process Redis for -dev mode. The returned stop
// closes the client and the server.
func StartMiniredis() (redis.UniversalClient, func(), error) {
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	stop := func() {
		_ = client.Close()
		mr.Close()
	}
	return client, stop, nil
}
