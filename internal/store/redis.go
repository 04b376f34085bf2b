package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/papertrader/internal/model"
)

// CachedArchive wraps a primary Archive (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary and invalidate the cache;
// reads check Redis first then fall back to the primary. Redis errors are
// never fatal: a dead cache degrades to primary-only.
type CachedArchive struct {
	primary Archive
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedArchive creates a cached wrapper around a primary archive.
func NewCachedArchive(primary Archive, rdb redis.Cmdable, ttl time.Duration) *CachedArchive {
	return &CachedArchive{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (a *CachedArchive) Append(ctx context.Context, sessionID string, entry model.LogEntry) error {
	if err := a.primary.Append(ctx, sessionID, entry); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	a.rdb.Del(ctx, sessionKey(sessionID))
	return nil
}

// --- Read-through (check cache first) ---

func (a *CachedArchive) Entries(ctx context.Context, sessionID string) ([]model.LogEntry, error) {
	data, err := a.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == nil {
		var entries []model.LogEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	// Cache miss.
	entries, err := a.primary.Entries(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(entries); err == nil {
		a.rdb.Set(ctx, sessionKey(sessionID), data, a.ttl)
	}
	return entries, nil
}

func sessionKey(id string) string { return fmt.Sprintf("papertrader:session:%s:logs", id) }
