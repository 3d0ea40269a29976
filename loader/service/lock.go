package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

// Locker makes indexing runs single-flight per key. Lock returns
// types.ErrIndexingInProgress when the key is held elsewhere and waiting is
// not possible.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type keyedMutex struct {
	ch   chan struct{}
	refs int
}

// LocalLocker serializes holders of the same key within the process.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*keyedMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: make(map[string]*keyedMutex)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.keys[key]
	if !ok {
		m = &keyedMutex{ch: make(chan struct{}, 1)}
		l.keys[key] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, m, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, m, true) })
	}, nil
}

func (l *LocalLocker) release(key string, m *keyedMutex, held bool) {
	if held {
		<-m.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(l.keys, key)
	}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker adds a cross-replica SET NX PX lock on top of a LocalLocker.
// The TTL bounds how long a crashed holder blocks the key.
type RedisLocker struct {
	client *redis.Client
	local  *LocalLocker
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		local:  NewLocalLocker(),
		ttl:    ttl,
		prefix: "knowledge:index-lock:",
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("error acquiring redis lock: %w", err)
	}
	if !ok {
		unlockLocal()
		return nil, fmt.Errorf("%w: %s locked by another worker", types.ErrIndexingInProgress, key)
	}

	return func() {
		// The run context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
		unlockLocal()
	}, nil
}

// NewRedisClient connects and pings; it returns nil when no address is configured.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, err
	}
	if pong != "PONG" {
		client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// NewLocker picks the Redis locker when a client is available.
func NewLocker(client *redis.Client, cfg config.RedisConfig) Locker {
	if client == nil {
		return NewLocalLocker()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return NewRedisLocker(client, ttl)
}
