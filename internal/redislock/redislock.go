// Package redislock implements alerting.Locker on Redis so that several API
// instances serialize mutations of the same alert.
//
// A lock is a key set with SET NX PX holding a random token. Release deletes
// the key only while it still holds that token, so a holder whose lease ran
// out cannot free a lock that has since been taken by someone else.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL    = 10 * time.Second
	DefaultPrefix = "watchpost:lock:alert:"

	releaseTimeout = 2 * time.Second
)

var errHeld = errors.New("lock held")

var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a lease-based distributed lock.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger log.Logger

	// newBackOff returns a fresh policy per acquisition; BackOff values are stateful.
	newBackOff func() backoff.BackOff
}

// Option configures a Locker.
type Option func(*Locker)

// WithPrefix sets the key prefix.
func WithPrefix(p string) Option {
	return func(l *Locker) { l.prefix = p }
}

// WithRetry sets the polling interval bounds while waiting for a held lock.
func WithRetry(initial, maxInterval time.Duration) Option {
	return func(l *Locker) {
		l.newBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = initial
			bo.MaxInterval = maxInterval
			bo.MaxElapsedTime = 0 // bounded by the caller's context
			return bo
		}
	}
}

// New creates a Locker. A non-positive ttl uses DefaultTTL.
func New(client redis.UniversalClient, ttl time.Duration, logger log.Logger, opts ...Option) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &Locker{
		client: client,
		prefix: DefaultPrefix,
		ttl:    ttl,
		logger: logger,
	}
	WithRetry(5*time.Millisecond, 250*time.Millisecond)(l)
	for _, o := range opts {
		o(l)
	}
	return l
}

// Lock blocks until the lock for key is acquired or ctx is done. Redis
// errors fail immediately; only a held lock is retried.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := ulid.Make().String()

	acquire := func() error {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("redis setnx %s: %w", k, err))
		}
		if !ok {
			return errHeld
		}
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(l.newBackOff(), ctx)); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(ctx, k, token) })
	}, nil
}

func (l *Locker) release(ctx context.Context, key, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	n, err := release.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		l.logger.Warn(ctx, "failed to release alert lock", "key", key, "error", err)
		return
	}
	if n == 0 {
		l.logger.Warn(ctx, "alert lock expired before release", "key", key, "ttl", l.ttl.String())
	}
}
