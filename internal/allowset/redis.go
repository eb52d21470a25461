package allowset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matst80/portgate/internal/obs"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the SET holding authorized IPs when no key is configured.
const DefaultRedisKey = "portgate:allowed"

// Redis keeps the allow-set in a Redis SET so several relay instances can share it.
// Members are never removed, so a positive answer is cached locally forever;
// misses always consult Redis.
type Redis struct {
	client *redis.Client
	key    string

	mu    sync.RWMutex
	known map[string]struct{}
}

var _ Store = (*Redis)(nil)

func NewRedis(addr, password string, db int, key string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: rdb, key: key, known: make(map[string]struct{})}, nil
}

func (r *Redis) remember(ip string) {
	r.mu.Lock()
	r.known[ip] = struct{}{}
	r.mu.Unlock()
}

func (r *Redis) Insert(ctx context.Context, ip string) error {
	if err := r.client.SAdd(ctx, r.key, ip).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	r.remember(ip)
	return nil
}

func (r *Redis) Contains(ctx context.Context, ip string) bool {
	r.mu.RLock()
	_, ok := r.known[ip]
	r.mu.RUnlock()
	if ok {
		return true
	}
	ok, err := r.client.SIsMember(ctx, r.key, ip).Result()
	if err != nil {
		obs.Error("redis.contains", obs.Fields{"err": err.Error(), "ip": ip})
		obs.ErrorsTotal.WithLabelValues("redis_contains").Inc()
		return false
	}
	if ok {
		r.remember(ip)
	}
	return ok
}

func (r *Redis) Snapshot(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return members, nil
}

func (r *Redis) Len(ctx context.Context) int {
	n, err := r.client.SCard(ctx, r.key).Result()
	if err != nil {
		obs.Error("redis.len", obs.Fields{"err": err.Error()})
		return 0
	}
	return int(n)
}

func (r *Redis) Close() error { return r.client.Close() }
