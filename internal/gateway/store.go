package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
	"github.com/vyrodovalexey/krestgw/internal/config"
)

// buildStore constructs the credential store named by the config. The
// returned reload function is nil for backends that cannot re-read
// their source (memory, redis).
func buildStore(
	ctx context.Context,
	cfg config.StoreConfig,
	logger *zap.Logger,
) (basic.Store, func(context.Context) error, error) {
	switch cfg.Type {
	case config.StoreTypeMemory:
		return basic.NewMemoryStore(), nil, nil

	case config.StoreTypeFile:
		store, err := basic.NewFileStore(cfg.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("file store: %w", err)
		}
		reload := func(context.Context) error {
			return store.Reload()
		}
		return store, reload, nil

	case config.StoreTypeRedis:
		if cfg.Redis == nil {
			return nil, nil, fmt.Errorf("redis store selected but not configured")
		}
		store, err := basic.NewRedisStore(ctx, basic.RedisConfig{
			Address:     cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			DialTimeout: cfg.Redis.DialTimeout.Duration(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return store, nil, nil

	case config.StoreTypeVault:
		if cfg.Vault == nil {
			return nil, nil, fmt.Errorf("vault store selected but not configured")
		}
		store, err := basic.NewVaultStore(ctx, basic.VaultConfig{
			Address:    cfg.Vault.Address,
			Token:      cfg.Vault.Token,
			MountPath:  cfg.Vault.MountPath,
			SecretPath: cfg.Vault.SecretPath,
			Timeout:    cfg.Vault.Timeout.Duration(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("vault store: %w", err)
		}
		return store, store.Reload, nil

	default:
		return nil, nil, fmt.Errorf("unknown credential store type %q", cfg.Type)
	}
}

// closeStore closes stores that hold connections.
func closeStore(store basic.Store, logger *zap.Logger) {
	type closer interface {
		Close() error
	}
	if c, ok := store.(closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("closing credential store", zap.Error(err))
		}
	}
}
