// Package store defines the audit archive for the paper trader.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
//
// The archive is write-only from the simulator's point of view: entries are
// never read back to rebuild a portfolio, so a restart always begins from the
// initial balance.
package store

import (
	"context"
	"errors"

	"github.com/atmx/papertrader/internal/model"
)

// ErrEmptySession is returned when a session ID is blank.
var ErrEmptySession = errors.New("store: session id is required")

// Archive keeps a copy of every log entry, grouped by session. A session is
// the span between two portfolio resets.
type Archive interface {
	// Append stores one log entry under sessionID.
	Append(ctx context.Context, sessionID string, entry model.LogEntry) error

	// Entries returns the entries of a session ordered by entry ID.
	// Unknown sessions yield an empty slice.
	Entries(ctx context.Context, sessionID string) ([]model.LogEntry, error)
}
