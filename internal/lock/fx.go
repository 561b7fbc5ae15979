package lock

import (
	"github.com/clinidesk/caja/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewClient builds a redis client when the guard is enabled, otherwise nil.
// All consumers tolerate a nil client.
func NewClient(cfg config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled || cfg.Redis.Addr == "" {
		return nil
	}

	log.Info("redis issuance guard enabled", zap.String("addr", cfg.Redis.Addr))
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

var Module = fx.Module("lock",
	fx.Provide(NewClient),
	fx.Provide(NewLocker),
)
