package credential

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/adminconsole/internal/infrastructure/config"
)

// StorageFactory creates the configured storage backend
type StorageFactory struct {
	cfg                   config.StorageConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StorageFactoryOption is a functional option for configuring the factory
type StorageFactoryOption func(*StorageFactory)

// WithFactoryLogger sets the logger for the factory
func WithFactoryLogger(logger *zap.Logger) StorageFactoryOption {
	return func(f *StorageFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to
// in-memory storage. Default is true.
func WithInMemoryFallback(allow bool) StorageFactoryOption {
	return func(f *StorageFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStorageFactory creates a new factory
func NewStorageFactory(cfg config.StorageConfig, opts ...StorageFactoryOption) *StorageFactory {
	f := &StorageFactory{
		cfg:                   cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns the backend named by the configuration.
func (f *StorageFactory) Create(ctx context.Context) (Storage, error) {
	switch f.cfg.Backend {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		if f.cfg.Path == "" {
			return nil, fmt.Errorf("file credential storage requires a path")
		}
		return NewFileStorage(f.cfg.Path), nil
	case "redis":
		store, err := NewRedisStorage(ctx, RedisStorageConfig{
			Addr:      f.cfg.Redis.Addr,
			Password:  f.cfg.Redis.Password,
			DB:        f.cfg.Redis.DB,
			KeyPrefix: f.cfg.Redis.KeyPrefix,
		})
		if err == nil {
			f.logger.Info("using Redis credential storage", zap.String("addr", f.cfg.Redis.Addr))
			return store, nil
		}
		if !f.allowInMemoryFallback {
			return nil, err
		}
		f.logger.Warn("Redis unavailable, credentials will not outlive this process",
			zap.String("addr", f.cfg.Redis.Addr),
			zap.Error(err),
		)
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown credential storage backend %q", f.cfg.Backend)
	}
}
