package store

import (
	"context"
	"sync"

	"github.com/atmx/papertrader/internal/model"
)

// MemoryArchive implements Archive with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryArchive struct {
	mu       sync.RWMutex
	sessions map[string][]model.LogEntry
}

// NewMemoryArchive creates a new in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		sessions: make(map[string][]model.LogEntry),
	}
}

func (a *MemoryArchive) Append(_ context.Context, sessionID string, entry model.LogEntry) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sessions[sessionID] = append(a.sessions[sessionID], entry)
	return nil
}

func (a *MemoryArchive) Entries(_ context.Context, sessionID string) ([]model.LogEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	// Copy to avoid external mutation.
	src := a.sessions[sessionID]
	out := make([]model.LogEntry, len(src))
	copy(out, src)
	return out, nil
}
