package store

import (
	"context"
	"sort"
	"sync"

	"github.com/onoal/nucleus/pkg/ledger"
)

// MemoryStore keeps the whole chain in process memory. Entries are held in
// (timestamp, id) order so range scans match the SQL backends exactly.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*ledger.Entry
	byID    map[string]*ledger.Entry
	byHash  map[string]*ledger.Entry
	tip     *ledger.Tip
	chkpts  map[string]*ledger.Checkpoint
	stats   map[string]*ledger.StreamStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*ledger.Entry),
		byHash: make(map[string]*ledger.Entry),
		chkpts: make(map[string]*ledger.Checkpoint),
		stats:  make(map[string]*ledger.StreamStats),
	}
}

func (s *MemoryStore) SaveEntry(_ context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(e)
}

func (s *MemoryStore) saveLocked(e *ledger.Entry) error {
	if _, ok := s.byID[e.ID]; ok {
		return &ledger.StorageError{Op: "save_entry", Err: errDuplicateID(e.ID)}
	}
	if _, ok := s.byHash[e.Hash]; ok {
		return &ledger.StorageError{Op: "save_entry", Err: errDuplicateHash(e.Hash)}
	}
	cp := *e
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp > cp.Timestamp ||
			(s.entries[i].Timestamp == cp.Timestamp && s.entries[i].ID > cp.ID)
	})
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = &cp
	s.byID[cp.ID] = &cp
	s.byHash[cp.Hash] = &cp
	return nil
}

func (s *MemoryStore) LoadEntryByID(_ context.Context, id string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) LoadEntryByHash(_ context.Context, hash string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byHash[hash]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) LoadLatestEntry(_ context.Context) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, ledger.ErrNotFound
	}
	cp := *s.entries[len(s.entries)-1]
	return &cp, nil
}

func (s *MemoryStore) LoadEntriesInRange(_ context.Context, startTS int64, limit int) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ledger.Entry
	for _, e := range s.entries {
		if startTS > 0 && e.Timestamp < startTS {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LoadEntriesBetween(_ context.Context, startTS, endTS int64) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ledger.Entry
	for _, e := range s.entries {
		if e.Timestamp < startTS || e.Timestamp > endTS {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) CountEntries(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func (s *MemoryStore) Query(_ context.Context, f QueryFilters) (*QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := clampLimit(f.Limit)

	// Resolve the cursor to a position; an unknown cursor reads as "from
	// the start" rather than an error.
	var afterTS int64
	var afterID string
	if f.Cursor != "" {
		if c, ok := s.byID[f.Cursor]; ok {
			afterTS, afterID = c.Timestamp, c.ID
		}
	}

	res := &QueryResult{Entries: make([]*ledger.Entry, 0, limit)}
	for _, e := range s.entries {
		if !matches(e, f) {
			continue
		}
		res.Total++
		if afterID != "" {
			if e.Timestamp < afterTS || (e.Timestamp == afterTS && e.ID <= afterID) {
				continue
			}
		}
		if len(res.Entries) < limit {
			cp := *e
			res.Entries = append(res.Entries, &cp)
		} else {
			res.HasMore = true
		}
	}
	if res.HasMore && len(res.Entries) > 0 {
		res.NextCursor = res.Entries[len(res.Entries)-1].ID
	}
	return res, nil
}

func matches(e *ledger.Entry, f QueryFilters) bool {
	if f.Stream != "" && e.Stream != f.Stream {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.StartTimestamp > 0 && e.Timestamp < f.StartTimestamp {
		return false
	}
	if f.EndTimestamp > 0 && e.Timestamp > f.EndTimestamp {
		return false
	}
	return true
}

func (s *MemoryStore) GetTip(_ context.Context) (*ledger.Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tip == nil {
		return nil, ledger.ErrNotFound
	}
	cp := *s.tip
	return &cp, nil
}

func (s *MemoryStore) UpdateTip(_ context.Context, tip ledger.Tip) error {
	s.mu.Lock()
	s.tip = &tip
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) UpsertCheckpoint(_ context.Context, cp *ledger.Checkpoint) error {
	s.mu.Lock()
	c := *cp
	s.chkpts[cp.ID] = &c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (*ledger.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.chkpts[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	c := *cp
	return &c, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context, limit int) ([]*ledger.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ledger.Checkpoint, 0, len(s.chkpts))
	for _, cp := range s.chkpts {
		c := *cp
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTimestamp > out[j].EndTimestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertStats(_ context.Context, st ledger.StreamStats) error {
	s.mu.Lock()
	cp := st
	s.stats[st.Stream] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetStats(_ context.Context, stream string) (*ledger.StreamStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[stream]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) ListStats(_ context.Context) ([]*ledger.StreamStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ledger.StreamStats, 0, len(s.stats))
	for _, st := range s.stats {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// BeginTx stages writes and applies them under the store lock on Commit,
// so a mid-batch failure leaves nothing behind.
func (s *MemoryStore) BeginTx(_ context.Context) (Tx, error) {
	return &memoryTx{store: s}, nil
}

type memoryTx struct {
	store   *MemoryStore
	entries []*ledger.Entry
	tip     *ledger.Tip
	stats   []ledger.StreamStats
	done    bool
}

func (tx *memoryTx) SaveEntry(_ context.Context, e *ledger.Entry) error {
	cp := *e
	tx.entries = append(tx.entries, &cp)
	return nil
}

func (tx *memoryTx) UpdateTip(_ context.Context, tip ledger.Tip) error {
	tx.tip = &tip
	return nil
}

func (tx *memoryTx) UpsertStats(_ context.Context, st ledger.StreamStats) error {
	tx.stats = append(tx.stats, st)
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// Pre-check duplicates so the apply below cannot half-succeed.
	for _, e := range tx.entries {
		if _, ok := s.byID[e.ID]; ok {
			return &ledger.StorageError{Op: "tx_commit", Err: errDuplicateID(e.ID)}
		}
		if _, ok := s.byHash[e.Hash]; ok {
			return &ledger.StorageError{Op: "tx_commit", Err: errDuplicateHash(e.Hash)}
		}
	}
	for _, e := range tx.entries {
		if err := s.saveLocked(e); err != nil {
			return err
		}
	}
	if tx.tip != nil {
		s.tip = tx.tip
	}
	for _, st := range tx.stats {
		cp := st
		s.stats[st.Stream] = &cp
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.entries, tx.tip, tx.stats = nil, nil, nil
	return nil
}
