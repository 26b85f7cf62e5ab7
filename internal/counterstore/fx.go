package counterstore

import (
	"time"

	"github.com/gosuraksha/entitlements/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewClient builds the shared redis client with short timeouts so degraded
// infrastructure surfaces quickly instead of stalling request workers.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

var Module = fx.Module("counter.store",
	fx.Provide(
		NewClient,
		New,
	),
)
