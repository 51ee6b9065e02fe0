// Package cache is the small key/value surface the service needs: entitlement
// snapshots and webhook dedup markers.
package cache

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/entitler/pkg/config"
)

type Store interface {
	// Get returns ok=false when the key does not exist.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// NewStore uses Redis when redis.url is configured and an in-process map
// otherwise.
func NewStore(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config) (Store, error) {
	if cfg.Redis.URL == "" {
		l.Infow("redis url not configured, using in-memory cache")
		return NewMemory(), nil
	}
	r, err := NewRedis(cfg.Redis.URL, cfg.Redis.KeyPrefix)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := r.Ping(ctx); err != nil {
				return err
			}
			l.Infow("connected to redis")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			l.Infow("closing redis client")
			return r.Close()
		},
	})
	return r, nil
}

var Module = fx.Options(
	fx.Provide(NewStore),
)
