package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"fintrack/internal/config"
)

// Backend names a Store implementation.
type Backend string

const (
	MemoryBackend Backend = "memory"
	FileBackend   Backend = "file"
	SQLiteBackend Backend = "sqlite"
	RedisBackend  Backend = "redis"
)

// String implements fmt.Stringer
func (b Backend) String() string {
	return string(b)
}

// IsValid returns true if the backend is known
func (b Backend) IsValid() bool {
	switch b {
	case MemoryBackend, FileBackend, SQLiteBackend, RedisBackend:
		return true
	default:
		return false
	}
}

// CleanupFunc releases whatever the store holds open.
type CleanupFunc func() error

// Config selects and parameterizes a session backend.
type Config struct {
	Backend Backend

	// File backend
	FilePath string

	// SQLite backend
	SQLiteDBPath string

	// Redis backend
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

// FromAppConfig converts the application config to a session config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backend := Backend(appConfig.SessionBackend)
	if !backend.IsValid() {
		return Config{}, fmt.Errorf("invalid session backend in config: %s", appConfig.SessionBackend)
	}

	return Config{
		Backend:        backend,
		FilePath:       appConfig.SessionFile,
		SQLiteDBPath:   appConfig.SQLiteDBPath,
		RedisAddr:      appConfig.RedisAddr,
		RedisPassword:  appConfig.RedisPassword,
		RedisDB:        appConfig.RedisDB,
		RedisKeyPrefix: appConfig.RedisKeyPrefix,
	}, nil
}

// NewStore opens the configured backend. The returned cleanup is never nil.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (Store, CleanupFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() error { return nil }

	switch cfg.Backend {
	case MemoryBackend:
		logger.Info("Initialized memory session store")
		return NewMemoryStore(), noop, nil

	case FileBackend:
		store, err := NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize file session store: %w", err)
		}
		logger.Info("Initialized file session store", "path", cfg.FilePath)
		return store, noop, nil

	case SQLiteBackend:
		store, err := NewSQLiteStore(cfg.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite session store: %w", err)
		}
		logger.Info("Initialized SQLite session store", "db_path", cfg.SQLiteDBPath)
		return store, store.Close, nil

	case RedisBackend:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("Initialized Redis session store",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"prefix", cfg.RedisKeyPrefix)
		return NewRedisStore(client, cfg.RedisKeyPrefix), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported session backend: %s", cfg.Backend)
	}
}
