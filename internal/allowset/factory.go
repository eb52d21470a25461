package allowset

import "github.com/matst80/portgate/internal/obs"

// RedisConfig selects the Redis backend; an empty Addr means in-memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// New creates either an in-memory or Redis-backed store.
func New(rc RedisConfig) (Store, error) {
	if rc.Addr == "" {
		obs.Info("allowset.backend", obs.Fields{"type": "in-memory"})
		return NewMemory(), nil
	}
	obs.Info("allowset.backend", obs.Fields{"type": "redis", "addr": rc.Addr})
	return NewRedis(rc.Addr, rc.Password, rc.DB, rc.Key)
}
