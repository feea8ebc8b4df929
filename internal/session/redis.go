package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/circuitbreaker"
	"github.com/shre-db/linked-squad/go/assistant/internal/metrics"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

const redisBackend = "redis"

// RedisStore persists sessions in Redis behind a circuit breaker, with a local
// read-through cache.
type RedisStore struct {
	client      *circuitbreaker.RedisWrapper
	logger      *zap.Logger
	ttl         time.Duration
	mu          sync.RWMutex
	localCache  map[string][]byte    // encoded states
	cacheAccess map[string]time.Time // Track last access time for LRU
	maxSessions int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg Config, logger *zap.Logger) (*RedisStore, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	store := NewRedisStoreWithClient(redisClient, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return store, nil
}

// NewRedisStoreWithClient wraps an existing client without pinging it.
func NewRedisStoreWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	maxSessions := cfg.CacheSize
	if maxSessions <= 0 {
		maxSessions = defaultCacheSize
	}
	return &RedisStore{
		client:      circuitbreaker.NewRedisWrapper(client, logger),
		logger:      logger,
		ttl:         ttl,
		localCache:  make(map[string][]byte),
		cacheAccess: make(map[string]time.Time),
		maxSessions: maxSessions,
	}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*state.ConversationState, error) {
	// Check local cache first
	s.mu.RLock()
	data, ok := s.localCache[sessionID]
	s.mu.RUnlock()
	if ok {
		metrics.SessionCacheHits.Inc()
		s.mu.Lock()
		s.cacheAccess[sessionID] = time.Now()
		s.mu.Unlock()
		return decode(sessionID, data)
	}
	metrics.SessionCacheMisses.Inc()

	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordSessionOp(redisBackend, "load", nil)
		return nil, ErrSessionNotFound
	} else if err != nil {
		metrics.RecordSessionOp(redisBackend, "load", err)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	st, err := decode(sessionID, data)
	metrics.RecordSessionOp(redisBackend, "load", err)
	if err != nil {
		return nil, err
	}

	s.cache(sessionID, data)
	return st, nil
}

// Save implements Store. Each save refreshes the TTL.
func (s *RedisStore) Save(ctx context.Context, st *state.ConversationState) error {
	data, err := encode(st)
	if err != nil {
		metrics.RecordSessionOp(redisBackend, "save", err)
		return err
	}

	err = s.client.Set(ctx, sessionKey(st.SessionID), data, s.ttl).Err()
	metrics.RecordSessionOp(redisBackend, "save", err)
	if err != nil {
		// drop the cached copy so the next load sees what Redis holds
		s.evict(st.SessionID)
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.cache(st.SessionID, data)
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	err := s.client.Del(ctx, sessionKey(sessionID)).Err()
	metrics.RecordSessionOp(redisBackend, "delete", err)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.evict(sessionID)

	s.logger.Info("Deleted session", zap.String("session_id", sessionID))
	return nil
}

// Extend refreshes the TTL of a stored session without rewriting it.
func (s *RedisStore) Extend(ctx context.Context, sessionID string) error {
	ok, err := s.client.Expire(ctx, sessionKey(sessionID), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// RedisWrapper returns the underlying Redis circuit breaker wrapper for health checks and monitoring
func (s *RedisStore) RedisWrapper() *circuitbreaker.RedisWrapper {
	return s.client
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (s *RedisStore) cache(sessionID string, data []byte) {
	s.mu.Lock()
	s.localCache[sessionID] = data
	s.cacheAccess[sessionID] = time.Now()
	s.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()
}

func (s *RedisStore) evict(sessionID string) {
	s.mu.Lock()
	delete(s.localCache, sessionID)
	delete(s.cacheAccess, sessionID)
	metrics.SessionCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()
}

// cleanupLocalCache drops the least recently used half once the cache is full.
func (s *RedisStore) cleanupLocalCache() {
	if len(s.localCache) <= s.maxSessions {
		return
	}
	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(s.localCache))
	for id := range s.localCache {
		entries = append(entries, accessEntry{id: id, time: s.cacheAccess[id]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].time.Before(entries[j].time) })

	toRemove := len(entries) - s.maxSessions/2
	for i := 0; i < toRemove; i++ {
		delete(s.localCache, entries[i].id)
		delete(s.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}
