// Package session keeps short-lived conversational continuity in Redis with
// a small local cache in front. Session state is advisory: when Redis is
// unreachable, requests proceed without history rather than failing.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/contentive/orchestrator/internal/metrics"
	"github.com/contentive/orchestrator/internal/models"
)

const (
	keyPrefix = "contentive:session:"

	// DefaultTTL is how long a quiet session stays resumable.
	DefaultTTL = 10 * time.Minute

	// maxExchanges bounds the stored history per session.
	maxExchanges = 20

	// maxCacheEntries bounds the local cache before LRU eviction.
	maxCacheEntries = 5000
)

// Manager is the Redis-backed session store.
type Manager struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time

	mu          sync.RWMutex
	localCache  map[string]*Entry
	cacheAccess map[string]time.Time
}

// NewManager connects to Redis and verifies the connection.
func NewManager(addr, password string, ttl time.Duration, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return newManager(client, ttl, logger), nil
}

// NewManagerWithClient wraps an existing client, for tests.
func NewManagerWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Manager {
	return newManager(client, ttl, logger)
}

func newManager(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         ttl,
		now:         time.Now,
		localCache:  make(map[string]*Entry),
		cacheAccess: make(map[string]time.Time),
	}
}

// History returns up to limit most recent exchanges, oldest first. Lookup
// failures degrade to no history.
func (m *Manager) History(ctx context.Context, sessionKey string, limit int) []models.Exchange {
	entry := m.get(ctx, sessionKey)
	if entry == nil || len(entry.Exchanges) == 0 {
		return nil
	}
	exchanges := entry.Exchanges
	if limit > 0 && len(exchanges) > limit {
		exchanges = exchanges[len(exchanges)-limit:]
	}
	return exchanges
}

// Record appends one completed exchange, folds the exchange's context fields
// into the session snapshot, and refreshes the session TTL.
func (m *Manager) Record(ctx context.Context, sessionKey, tenantID string, ex models.Exchange, fields map[string]string) error {
	now := m.now()
	entry := m.get(ctx, sessionKey)
	if entry == nil {
		entry = &Entry{SessionKey: sessionKey, TenantID: tenantID}
	}

	entry.Exchanges = append(entry.Exchanges, ex)
	if len(entry.Exchanges) > maxExchanges {
		entry.Exchanges = entry.Exchanges[len(entry.Exchanges)-maxExchanges:]
	}
	if len(fields) > 0 {
		if entry.Context == nil {
			entry.Context = make(map[string]string, len(fields))
		}
		for name, value := range fields {
			entry.Context[name] = value
		}
	}
	entry.UpdatedAt = now
	entry.ExpiresAt = now.Add(m.ttl)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal session entry: %w", err)
	}
	if err := m.client.Set(ctx, keyPrefix+sessionKey, data, m.ttl).Err(); err != nil {
		m.logger.Warn("session write failed",
			zap.String("session_key", sessionKey),
			zap.Error(err),
		)
		return fmt.Errorf("save session entry: %w", err)
	}

	m.mu.Lock()
	m.localCache[sessionKey] = entry
	m.cacheAccess[sessionKey] = now
	m.evictLocked()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the context fields accumulated for the session,
// or nil when the session is absent or unavailable.
func (m *Manager) Snapshot(ctx context.Context, sessionKey string) map[string]string {
	entry := m.get(ctx, sessionKey)
	if entry == nil || len(entry.Context) == 0 {
		return nil
	}
	snapshot := make(map[string]string, len(entry.Context))
	for name, value := range entry.Context {
		snapshot[name] = value
	}
	return snapshot
}

// get returns the entry for the key, or nil when absent or unavailable.
func (m *Manager) get(ctx context.Context, sessionKey string) *Entry {
	now := m.now()

	m.mu.RLock()
	cached, ok := m.localCache[sessionKey]
	m.mu.RUnlock()
	if ok && !cached.expired(now) {
		m.mu.Lock()
		m.cacheAccess[sessionKey] = now
		m.mu.Unlock()
		metrics.SessionCacheHits.Inc()
		return cached
	}
	metrics.SessionCacheMisses.Inc()

	data, err := m.client.Get(ctx, keyPrefix+sessionKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			m.logger.Warn("session lookup failed, proceeding without history",
				zap.String("session_key", sessionKey),
				zap.Error(err),
			)
		}
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		m.logger.Warn("session entry corrupt, discarding",
			zap.String("session_key", sessionKey),
			zap.Error(err),
		)
		return nil
	}
	if entry.expired(now) {
		return nil
	}

	m.mu.Lock()
	m.localCache[sessionKey] = &entry
	m.cacheAccess[sessionKey] = now
	m.evictLocked()
	m.mu.Unlock()
	return &entry
}

// evictLocked drops least recently used entries over the cache bound.
// Caller holds the write lock.
func (m *Manager) evictLocked() {
	for len(m.localCache) > maxCacheEntries {
		var oldestKey string
		var oldestAt time.Time
		for key, at := range m.cacheAccess {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey = key
				oldestAt = at
			}
		}
		delete(m.localCache, oldestKey)
		delete(m.cacheAccess, oldestKey)
		metrics.SessionCacheEvictions.Inc()
	}
}

// Close releases the Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}
