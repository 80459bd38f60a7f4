// Package lock provides leader leases so periodic jobs run in one process
// at a time.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Locker acquires named, expiring leases.
type Locker interface {
	// TryAcquire returns a lease when name is free, or ok=false when
	// another holder has it.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

func newToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate lease token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Local is an in-process locker for single-instance deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]localHold
	now  func() time.Time
}

type localHold struct {
	token   string
	expires time.Time
}

// NewLocal builds an in-process locker.
func NewLocal() *Local {
	return &Local{held: map[string]localHold{}, now: time.Now}
}

func (l *Local) TryAcquire(_ context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if hold, ok := l.held[name]; ok && now.Before(hold.expires) {
		return nil, false, nil
	}
	l.held[name] = localHold{token: token, expires: now.Add(ttl)}
	return &localLease{locker: l, name: name, token: token}, true, nil
}

type localLease struct {
	locker *Local
	name   string
	token  string
}

func (l *localLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if hold, ok := l.locker.held[l.name]; ok && hold.token == l.token {
		delete(l.locker.held, l.name)
	}
	return nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a locker shared by every process using the same Redis.
type Redis struct {
	rdb    goredis.UniversalClient
	prefix string
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string `env:"COPARENT_REDIS_ADDR"`
	Password string `env:"COPARENT_REDIS_PASSWORD"`
	DB       int    `env:"COPARENT_REDIS_DB" envDefault:"0"`
}

// DialRedis connects and pings Redis.
func DialRedis(ctx context.Context, cfg RedisConfig) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewRedis builds a locker on rdb with keys under prefix.
func NewRedis(rdb goredis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "coparent:lock:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	key := r.prefix + name
	ok, err := r.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{rdb: r.rdb, key: key, token: token}, true, nil
}

type redisLease struct {
	rdb   goredis.UniversalClient
	key   string
	token string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

var (
	_ Locker = (*Local)(nil)
	_ Locker = (*Redis)(nil)
)
