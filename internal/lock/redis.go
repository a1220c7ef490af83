package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type RedisConfig struct {
	Client *redis.Client
	Prefix string        // key prefix, default "wabridge:lock:"
	TTL    time.Duration // lock expiry, guards against crashed holders
	Retry  time.Duration // poll interval while contended
	Logger *slog.Logger
}

// Redis is a cross-process keyed lock using SET NX with a random owner token
// and a compare-and-delete release.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

func NewRedis(cfg RedisConfig) *Redis {
	r := &Redis{
		client: cfg.Client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		retry:  cfg.Retry,
		logger: cfg.Logger,
	}
	if r.prefix == "" {
		r.prefix = "wabridge:lock:"
	}
	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	if r.retry <= 0 {
		r.retry = defaultRetry
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}
	token := hex.EncodeToString(b)
	fullKey := r.prefix + key

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", fullKey, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(r.retry)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return func() {
		// Release must outlive a cancelled request context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil {
			r.logger.Warn("lock release failed", "key", fullKey, "err", err)
		}
	}, nil
}
