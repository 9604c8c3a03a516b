// Package store defines the persistence contract for ledger entries,
// the tip pointer, checkpoints, and stream statistics. Backends must keep
// entries ordered by (timestamp, id) and never mutate a stored entry.
package store

import (
	"context"

	"github.com/onoal/nucleus/pkg/ledger"
)

// Query paging bounds. A zero limit means DefaultQueryLimit; requests above
// MaxQueryLimit are clamped.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// QueryFilters narrows a ledger scan. Zero values mean "no constraint".
type QueryFilters struct {
	Stream         string
	Status         ledger.Status
	StartTimestamp int64
	EndTimestamp   int64
	Limit          int
	// Cursor is the id of the last entry of the previous page. Opaque to
	// callers; backends resolve it to a (timestamp, id) position.
	Cursor string
}

// QueryResult is one page of a cursor walk. Total counts all matches
// regardless of paging.
type QueryResult struct {
	Entries    []*ledger.Entry `json:"entries"`
	Total      int64           `json:"total"`
	HasMore    bool            `json:"has_more"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Backend is the storage collaborator behind a ledger instance.
type Backend interface {
	SaveEntry(ctx context.Context, e *ledger.Entry) error
	LoadEntryByID(ctx context.Context, id string) (*ledger.Entry, error)
	LoadEntryByHash(ctx context.Context, hash string) (*ledger.Entry, error)
	LoadLatestEntry(ctx context.Context) (*ledger.Entry, error)

	// LoadEntriesInRange returns up to limit entries with timestamp >= startTS,
	// ordered ascending. startTS <= 0 means from genesis; limit <= 0 means
	// no bound.
	LoadEntriesInRange(ctx context.Context, startTS int64, limit int) ([]*ledger.Entry, error)
	// LoadEntriesBetween returns all entries with startTS <= timestamp <= endTS,
	// ordered ascending. Used by the checkpoint builder.
	LoadEntriesBetween(ctx context.Context, startTS, endTS int64) ([]*ledger.Entry, error)
	CountEntries(ctx context.Context) (int64, error)
	Query(ctx context.Context, f QueryFilters) (*QueryResult, error)

	GetTip(ctx context.Context) (*ledger.Tip, error)
	UpdateTip(ctx context.Context, tip ledger.Tip) error

	UpsertCheckpoint(ctx context.Context, cp *ledger.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*ledger.Checkpoint, error)
	ListCheckpoints(ctx context.Context, limit int) ([]*ledger.Checkpoint, error)

	UpsertStats(ctx context.Context, s ledger.StreamStats) error
	GetStats(ctx context.Context, stream string) (*ledger.StreamStats, error)
	ListStats(ctx context.Context) ([]*ledger.StreamStats, error)

	Close() error
}

// Tx is a write unit covering the full append (entry + tip + stats).
// Either Commit or Rollback must be called exactly once.
type Tx interface {
	SaveEntry(ctx context.Context, e *ledger.Entry) error
	UpdateTip(ctx context.Context, tip ledger.Tip) error
	UpsertStats(ctx context.Context, s ledger.StreamStats) error
	Commit() error
	Rollback() error
}

// Transactional is implemented by backends that can make the append
// all-or-nothing. Backends without it get best-effort sequential writes,
// and batch append is refused.
type Transactional interface {
	BeginTx(ctx context.Context) (Tx, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
