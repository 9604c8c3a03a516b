package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onoal/nucleus/pkg/ledger"
)

func testEntry(i int) *ledger.Entry {
	return &ledger.Entry{
		ID:        fmt.Sprintf("entry-%03d", i),
		Stream:    "proofs",
		Timestamp: int64(1000 + i),
		Payload:   json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		Hash:      fmt.Sprintf("hash-%03d", i),
		Status:    ledger.StatusActive,
		CreatedAt: time.Unix(int64(1000+i), 0).UTC(),
	}
}

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e := testEntry(1)
	require.NoError(t, s.SaveEntry(ctx, e))

	byID, err := s.LoadEntryByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Hash, byID.Hash)

	byHash, err := s.LoadEntryByHash(ctx, e.Hash)
	require.NoError(t, err)
	assert.Equal(t, e.ID, byHash.ID)

	_, err = s.LoadEntryByID(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemoryStoreRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveEntry(ctx, testEntry(1)))

	dupID := testEntry(1)
	dupID.Hash = "other-hash"
	assert.Error(t, s.SaveEntry(ctx, dupID))

	dupHash := testEntry(2)
	dupHash.Hash = "hash-001"
	assert.Error(t, s.SaveEntry(ctx, dupHash))
}

func TestMemoryStoreLatestAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// Insert out of order; the store must still scan ascending.
	for _, i := range []int{3, 1, 2} {
		require.NoError(t, s.SaveEntry(ctx, testEntry(i)))
	}

	latest, err := s.LoadLatestEntry(ctx)
	require.NoError(t, err)
	assert.Equal(t, "entry-003", latest.ID)

	entries, err := s.LoadEntriesInRange(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry-001", entries[0].ID)
	assert.Equal(t, "entry-003", entries[2].ID)

	entries, err = s.LoadEntriesInRange(ctx, 1002, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "entry-002", entries[0].ID)

	between, err := s.LoadEntriesBetween(ctx, 1001, 1002)
	require.NoError(t, err)
	assert.Len(t, between, 2)

	n, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMemoryStoreQueryFiltersAndPaging(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 1; i <= 5; i++ {
		e := testEntry(i)
		if i%2 == 0 {
			e.Stream = "assets"
		}
		require.NoError(t, s.SaveEntry(ctx, e))
	}

	res, err := s.Query(ctx, QueryFilters{Stream: "proofs"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	assert.Len(t, res.Entries, 3)
	assert.False(t, res.HasMore)

	res, err = s.Query(ctx, QueryFilters{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Total)
	require.Len(t, res.Entries, 2)
	assert.True(t, res.HasMore)
	require.Equal(t, "entry-002", res.NextCursor)

	res, err = s.Query(ctx, QueryFilters{Limit: 2, Cursor: res.NextCursor})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "entry-003", res.Entries[0].ID)
	assert.True(t, res.HasMore)

	res, err = s.Query(ctx, QueryFilters{Limit: 2, Cursor: res.NextCursor})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.False(t, res.HasMore)
	assert.Empty(t, res.NextCursor)
}

func TestMemoryStoreQueryTimestampWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 1; i <= 4; i++ {
		require.NoError(t, s.SaveEntry(ctx, testEntry(i)))
	}

	res, err := s.Query(ctx, QueryFilters{StartTimestamp: 1002, EndTimestamp: 1003})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "entry-002", res.Entries[0].ID)
}

func TestMemoryStoreTip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetTip(ctx)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, s.UpdateTip(ctx, ledger.Tip{EntryID: "e1", Hash: "h1", Timestamp: 1}))
	require.NoError(t, s.UpdateTip(ctx, ledger.Tip{EntryID: "e2", Hash: "h2", Timestamp: 2}))

	tip, err := s.GetTip(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e2", tip.EntryID)
}

func TestMemoryStoreCheckpointsAndStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	cp := &ledger.Checkpoint{ID: "cp1", RootHash: "root", EntriesCount: 3, EndTimestamp: 9}
	require.NoError(t, s.UpsertCheckpoint(ctx, cp))
	got, err := s.GetCheckpoint(ctx, "cp1")
	require.NoError(t, err)
	assert.Equal(t, "root", got.RootHash)

	list, err := s.ListCheckpoints(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.UpsertStats(ctx, ledger.StreamStats{Stream: "proofs", TotalEntries: 1}))
	require.NoError(t, s.UpsertStats(ctx, ledger.StreamStats{Stream: "proofs", TotalEntries: 2}))
	st, err := s.GetStats(ctx, "proofs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalEntries)
}

func TestMemoryStoreTxCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveEntry(ctx, testEntry(1)))
	require.NoError(t, tx.UpdateTip(ctx, ledger.Tip{EntryID: "entry-001", Hash: "hash-001", Timestamp: 1001}))
	require.NoError(t, tx.UpsertStats(ctx, ledger.StreamStats{Stream: "proofs", TotalEntries: 1}))

	// Staged writes are invisible until commit.
	_, err = s.LoadEntryByID(ctx, "entry-001")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, tx.Commit())

	_, err = s.LoadEntryByID(ctx, "entry-001")
	require.NoError(t, err)
	tip, err := s.GetTip(ctx)
	require.NoError(t, err)
	assert.Equal(t, "entry-001", tip.EntryID)
}

func TestMemoryStoreTxRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveEntry(ctx, testEntry(1)))
	require.NoError(t, tx.Rollback())

	_, err = s.LoadEntryByID(ctx, "entry-001")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.Error(t, tx.Commit(), "commit after rollback must fail")
}

func TestMemoryStoreTxDuplicateAborts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SaveEntry(ctx, testEntry(1)))

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveEntry(ctx, testEntry(2)))
	require.NoError(t, tx.SaveEntry(ctx, testEntry(1)))
	require.Error(t, tx.Commit())

	// Nothing from the failed batch landed.
	_, err = s.LoadEntryByID(ctx, "entry-002")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
