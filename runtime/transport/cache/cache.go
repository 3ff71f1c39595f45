// Package cache provides a TTL cache for history pages so handlers paging
// through conversation context do not hammer the backend. A memory
// implementation serves single-process deployments; a Redis implementation
// shares entries across workers.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

// Cache stores history pages keyed by workflow, participant and page.
type Cache interface {
	// Get retrieves a cached page. Returns nil, nil when the key is not
	// present or expired.
	Get(ctx context.Context, key string) ([]*messaging.DbMessage, error)
	// Set stores a page with the given TTL.
	Set(ctx context.Context, key string, page []*messaging.DbMessage, ttl time.Duration) error
	// Invalidate removes every entry whose key starts with prefix. Used after
	// a send, which appends to the history behind those pages.
	Invalidate(ctx context.Context, prefix string) error
}

// Key builds the cache key for one history page. The workflow/participant
// prefix (everything before the page number) is the unit of invalidation.
func Key(q *messaging.HistoryQuery) string {
	return fmt.Sprintf("%s|%s/%d:%d", KeyPrefix(q.TenantID, q.WorkflowID, q.ParticipantID), q.Scope, q.Page, q.PageSize)
}

// KeyPrefix builds the invalidation prefix covering all pages of one
// participant's history within one workflow instance.
func KeyPrefix(tenantID, workflowID, participantID string) string {
	return fmt.Sprintf("history|%s|%s|%s", tenantID, workflowID, participantID)
}

// MemoryCache is an in-memory Cache with TTL support.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	page      []*messaging.DbMessage
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get retrieves a cached page, dropping it when expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]*messaging.DbMessage, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}
	return entry.page, nil
}

// Set stores a page with the given TTL. A non-positive TTL is a no-op.
func (c *MemoryCache) Set(_ context.Context, key string, page []*messaging.DbMessage, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{page: page, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Invalidate removes every entry whose key starts with prefix.
func (c *MemoryCache) Invalidate(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	return nil
}
