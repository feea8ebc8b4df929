package session

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Backend is a Store that owns a connection or file handle.
type Backend interface {
	Store
	io.Closer
}

// New builds the backend selected by cfg.Backend. An empty backend selects memory.
func New(cfg Config, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", memoryBackend:
		logger.Info("Using in-memory session store",
			zap.Duration("ttl", cfg.TTL),
			zap.Int("max_sessions", cfg.CacheSize))
		return NewMemoryStore(cfg.TTL, cfg.CacheSize), nil
	case redisBackend:
		return NewRedisStore(cfg, logger)
	case sqliteBackend:
		return NewSQLiteStore(cfg.SQLitePath, cfg.TTL, logger)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
