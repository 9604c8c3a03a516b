package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onoal/nucleus/pkg/acl"
	"github.com/onoal/nucleus/pkg/cache"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
	"github.com/onoal/nucleus/pkg/store"
)

// ErrUnauthorized is returned when the ACL denies the requester.
var ErrUnauthorized = errors.New("requester not authorized")

// AppendRequest is the input of a single append.
type AppendRequest struct {
	Stream  string          `json:"stream"`
	Payload json.RawMessage `json:"payload"`
	Status  ledger.Status   `json:"status,omitempty"`
	Meta    json.RawMessage `json:"meta,omitempty"`
	// RequesterOID identifies the caller for ACL write checks. Empty
	// means no authorization is enforced.
	RequesterOID string `json:"requester_oid,omitempty"`
}

// Append appends one entry to the chain. It either fully succeeds or
// leaves no trace: a failed persist never updates the tip or caches.
func (e *Engine) Append(ctx context.Context, req AppendRequest) (*ledger.Entry, error) {
	start := time.Now()

	out, err := e.pipeline.RunBefore(ctx, hooks.OpAppend, &req)
	if err != nil {
		e.obs.RecordError(ctx, "append", err)
		return nil, err
	}
	if out.ShortCircuited {
		entry, ok := out.Result.(*ledger.Entry)
		if !ok {
			return nil, fmt.Errorf("append hook short-circuited with unexpected result type %T", out.Result)
		}
		result := e.pipeline.RunAfter(ctx, hooks.OpAppend, out.Input, entry)
		if replaced, ok := result.(*ledger.Entry); ok {
			return replaced, nil
		}
		return entry, nil
	}
	effective, ok := out.Input.(*AppendRequest)
	if !ok {
		return nil, fmt.Errorf("append hook replaced input with unexpected type %T", out.Input)
	}

	if err := e.authorizeWrite(ctx, effective.RequesterOID); err != nil {
		e.obs.RecordError(ctx, "append", err)
		return nil, err
	}

	entry, err := e.buildEntry(*effective)
	if err != nil {
		return nil, err
	}

	e.appendMu.Lock()
	persisted, err := e.appendLocked(ctx, entry)
	e.appendMu.Unlock()
	if err != nil {
		e.obs.RecordError(ctx, "append", err)
		return nil, err
	}

	e.obs.RecordAppend(ctx, persisted.Stream, time.Since(start))

	result := e.pipeline.RunAfter(ctx, hooks.OpAppend, effective, persisted)
	if replaced, ok := result.(*ledger.Entry); ok {
		return replaced, nil
	}
	return persisted, nil
}

// AppendBatch appends entries all-or-nothing. It requires transactional
// storage; entries are linked through an in-memory running prev_hash.
func (e *Engine) AppendBatch(ctx context.Context, reqs []AppendRequest) ([]*ledger.Entry, error) {
	if len(reqs) == 0 {
		return nil, &ledger.ValidationError{Msg: "batch cannot be empty"}
	}
	txBackend, ok := e.backend.(store.Transactional)
	if !ok {
		return nil, &ledger.ConfigurationError{Msg: "batch append requires transactional storage"}
	}

	effective := make([]*AppendRequest, 0, len(reqs))
	for i := range reqs {
		out, err := e.pipeline.RunBefore(ctx, hooks.OpAppend, &reqs[i])
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		if out.ShortCircuited {
			return nil, fmt.Errorf("batch entry %d: hooks cannot short-circuit a batch append", i)
		}
		req, ok := out.Input.(*AppendRequest)
		if !ok {
			return nil, fmt.Errorf("batch entry %d: hook replaced input with unexpected type %T", i, out.Input)
		}
		if err := e.authorizeWrite(ctx, req.RequesterOID); err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		effective = append(effective, req)
	}

	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	prevHash, prevTS, err := e.resolvePrev(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := txBackend.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]*ledger.Entry, 0, len(effective))
	statsByStream := make(map[string]*ledger.StreamStats)
	for i, req := range effective {
		entry, err := e.buildEntry(*req)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		if entry.Timestamp < prevTS {
			entry.Timestamp = prevTS
		}
		if err := e.sealEntry(entry, prevHash); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		if err := tx.SaveEntry(ctx, entry); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}

		st := statsByStream[entry.Stream]
		if st == nil {
			st = e.loadStats(ctx, entry.Stream)
			statsByStream[entry.Stream] = st
		}
		st.TotalEntries++
		st.LastEntryTimestamp = entry.Timestamp
		st.LastEntryHash = entry.Hash
		if err := tx.UpsertStats(ctx, *st); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}

		prevHash, prevTS = entry.Hash, entry.Timestamp
		entries = append(entries, entry)
	}

	last := entries[len(entries)-1]
	if err := tx.UpdateTip(ctx, ledger.Tip{EntryID: last.ID, Hash: last.Hash, Timestamp: last.Timestamp}); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// Cache is updated once, with the batch's last entry.
	e.latestCache.Set(ctx, cache.DefaultLatestKey, cache.LatestEntry{
		ID: last.ID, Hash: last.Hash, Timestamp: last.Timestamp,
	})
	for _, entry := range entries {
		e.payloadCache.Set(ctx, entry.ID, entry.Payload)
	}

	for i, entry := range entries {
		e.obs.RecordAppend(ctx, entry.Stream, 0)
		result := e.pipeline.RunAfter(ctx, hooks.OpAppend, effective[i], entry)
		if replaced, ok := result.(*ledger.Entry); ok {
			entries[i] = replaced
		}
	}
	return entries, nil
}

func (e *Engine) authorizeWrite(ctx context.Context, requesterOID string) error {
	if e.acl == nil || requesterOID == "" {
		return nil
	}
	allowed, err := e.acl.Check(ctx, requesterOID, acl.LedgerResource(e.name), acl.ActionWrite)
	if err != nil {
		return &ledger.StorageError{Op: "acl_check", Err: err}
	}
	if !allowed {
		return fmt.Errorf("%w: %s cannot write to ledger %s", ErrUnauthorized, requesterOID, e.name)
	}
	return nil
}

// buildEntry validates the request and fills identity and timestamp. Hash
// and signature are attached later, under the append lock.
func (e *Engine) buildEntry(req AppendRequest) (*ledger.Entry, error) {
	status := req.Status
	if status == "" {
		status = ledger.StatusActive
	}
	now := time.Now()
	entry := &ledger.Entry{
		ID:        uuid.NewString(),
		Stream:    req.Stream,
		Timestamp: now.UnixMilli(),
		Payload:   req.Payload,
		Status:    status,
		Meta:      req.Meta,
		CreatedAt: now.UTC(),
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

// sealEntry computes the hash and signature for an entry linked to prevHash.
func (e *Engine) sealEntry(entry *ledger.Entry, prevHash string) error {
	hash, err := ledger.ComputeHash(entry.Stream, entry.ID, entry.Payload)
	if err != nil {
		return err
	}
	entry.Hash = hash
	entry.PrevHash = prevHash

	sig, err := e.signer.Sign(ledger.SigningMessage(hash, prevHash))
	if err != nil {
		return fmt.Errorf("sign entry: %w", err)
	}
	entry.Signature = sig
	return nil
}

// resolvePrev returns the current chain tip's hash and timestamp, consulting
// the cache before storage. Empty hash means genesis. Must hold appendMu.
func (e *Engine) resolvePrev(ctx context.Context) (string, int64, error) {
	if le, ok := e.latestCache.Get(ctx, cache.DefaultLatestKey); ok {
		e.obs.RecordCacheHit(ctx, "latest")
		return le.Hash, le.Timestamp, nil
	}
	e.obs.RecordCacheMiss(ctx, "latest")

	latest, err := e.backend.LoadLatestEntry(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", 0, nil
		}
		return "", 0, err
	}
	return latest.Hash, latest.Timestamp, nil
}

func (e *Engine) loadStats(ctx context.Context, stream string) *ledger.StreamStats {
	st, err := e.backend.GetStats(ctx, stream)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			e.logger.Warn("stats read failed, restarting counter", "stream", stream, "error", err)
		}
		return &ledger.StreamStats{Stream: stream}
	}
	return st
}

// appendLocked performs the write critical section. Must hold appendMu.
func (e *Engine) appendLocked(ctx context.Context, entry *ledger.Entry) (*ledger.Entry, error) {
	prevHash, prevTS, err := e.resolvePrev(ctx)
	if err != nil {
		return nil, err
	}
	// Timestamps are non-decreasing along the chain even when the wall
	// clock steps backwards.
	if entry.Timestamp < prevTS {
		entry.Timestamp = prevTS
	}
	if err := e.sealEntry(entry, prevHash); err != nil {
		return nil, err
	}

	tip := ledger.Tip{EntryID: entry.ID, Hash: entry.Hash, Timestamp: entry.Timestamp}
	stats := e.loadStats(ctx, entry.Stream)
	stats.TotalEntries++
	stats.LastEntryTimestamp = entry.Timestamp
	stats.LastEntryHash = entry.Hash

	if txBackend, ok := e.backend.(store.Transactional); ok {
		tx, err := txBackend.BeginTx(ctx)
		if err != nil {
			return nil, err
		}
		if err := tx.SaveEntry(ctx, entry); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.UpdateTip(ctx, tip); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.UpsertStats(ctx, *stats); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
	} else {
		// Best-effort sequential writes for backends without
		// transactions. The entry write comes first so a partial
		// failure never yields a tip pointing at nothing.
		if err := e.backend.SaveEntry(ctx, entry); err != nil {
			return nil, err
		}
		if err := e.backend.UpdateTip(ctx, tip); err != nil {
			return nil, err
		}
		if err := e.backend.UpsertStats(ctx, *stats); err != nil {
			e.logger.Warn("stats update failed", "stream", entry.Stream, "error", err)
		}
	}

	e.latestCache.Set(ctx, cache.DefaultLatestKey, cache.LatestEntry{
		ID: entry.ID, Hash: entry.Hash, Timestamp: entry.Timestamp,
	})
	e.payloadCache.Set(ctx, entry.ID, entry.Payload)
	return entry, nil
}
