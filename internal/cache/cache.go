// Package cache provides caching for rendered frames and upstream payloads.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	FrameCacheSizeMB int
	FrameTTL         time.Duration
	PayloadCacheSize int
	PayloadTTL       time.Duration
}

// Manager manages the frame and payload caches.
type Manager struct {
	frameCache   *bigcache.BigCache
	payloadCache *lru.Cache[string, payloadEntry]
	payloadTTL   time.Duration
}

// payloadEntry stamps cached upstream responses with their expiry so the LRU
// never serves stale data.
type payloadEntry struct {
	data    []byte
	expires time.Time
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.FrameTTL <= 0 {
		cfg.FrameTTL = 5 * time.Minute
	}
	if cfg.PayloadTTL <= 0 {
		cfg.PayloadTTL = 30 * time.Second
	}
	if cfg.PayloadCacheSize <= 0 {
		cfg.PayloadCacheSize = 256
	}

	// Configure frame cache
	frameCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.FrameTTL,
		CleanWindow:        cfg.FrameTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // 512KB per frame
		HardMaxCacheSize:   cfg.FrameCacheSizeMB,
		Verbose:            false,
	}

	frameCache, err := bigcache.New(context.Background(), frameCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}

	payloadCache, err := lru.New[string, payloadEntry](cfg.PayloadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create payload cache: %w", err)
	}

	return &Manager{
		frameCache:   frameCache,
		payloadCache: payloadCache,
		payloadTTL:   cfg.PayloadTTL,
	}, nil
}

// GetFrame retrieves an encoded frame from cache.
func (m *Manager) GetFrame(key string) ([]byte, bool) {
	data, err := m.frameCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFrame stores an encoded frame in cache.
func (m *Manager) SetFrame(key string, data []byte) error {
	return m.frameCache.Set(key, data)
}

// GetPayload retrieves an upstream payload from cache. Expired entries are
// evicted on read.
func (m *Manager) GetPayload(key string) ([]byte, bool) {
	entry, ok := m.payloadCache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		m.payloadCache.Remove(key)
		return nil, false
	}
	return entry.data, true
}

// SetPayload stores an upstream payload in cache.
func (m *Manager) SetPayload(key string, data []byte) {
	m.payloadCache.Add(key, payloadEntry{
		data:    data,
		expires: time.Now().Add(m.payloadTTL),
	})
}

// FrameKey generates a cache key for a rendered frame. The view state string
// carries camera, filter, selection and render mode; it is hashed so the key
// stays short regardless of state size.
func FrameKey(viewID string, version uint64, width, height int, state string) string {
	base := fmt.Sprintf("frame:%s:%d:%dx%d", viewID, version, width, height)
	if state == "" {
		return base
	}
	h := sha256.Sum256([]byte(state))
	return base + ":" + hex.EncodeToString(h[:])[:16]
}

// PayloadKey generates a cache key for an upstream payload.
func PayloadKey(path, query string) string {
	if query == "" {
		return "payload:" + path
	}
	return fmt.Sprintf("payload:%s?%s", path, query)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frame_cache_len":   m.frameCache.Len(),
		"frame_cache_cap":   m.frameCache.Capacity(),
		"payload_cache_len": m.payloadCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.frameCache.Close()
}
