package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/onoal/nucleus/pkg/acl"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
	"github.com/onoal/nucleus/pkg/store"
)

// GetRequest is the input of a Get, as seen by before-hooks.
type GetRequest struct {
	ID           string `json:"id"`
	RequesterOID string `json:"requester_oid,omitempty"`
}

// Get loads one entry by id. With an ACL and a requester set, entries the
// requester may not read are reported as not found.
func (e *Engine) Get(ctx context.Context, id, requesterOID string) (*ledger.Entry, error) {
	req := &GetRequest{ID: id, RequesterOID: requesterOID}
	out, err := e.pipeline.RunBefore(ctx, hooks.OpGet, req)
	if err != nil {
		return nil, err
	}
	if out.ShortCircuited {
		entry, ok := out.Result.(*ledger.Entry)
		if !ok {
			return nil, fmt.Errorf("get hook short-circuited with unexpected result type %T", out.Result)
		}
		result := e.pipeline.RunAfter(ctx, hooks.OpGet, out.Input, entry)
		if replaced, ok := result.(*ledger.Entry); ok {
			return replaced, nil
		}
		return entry, nil
	}
	if effective, ok := out.Input.(*GetRequest); ok {
		req = effective
	}

	entry, err := e.backend.LoadEntryByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if cached, ok := e.payloadCache.Get(ctx, entry.ID); ok {
		e.obs.RecordCacheHit(ctx, "payload")
		entry.Payload = cached
	} else {
		e.obs.RecordCacheMiss(ctx, "payload")
		e.payloadCache.Set(ctx, entry.ID, entry.Payload)
	}

	visible := acl.FilterEntries(ctx, e.acl, e.name, req.RequesterOID, []*ledger.Entry{entry})
	if len(visible) == 0 {
		return nil, ledger.ErrNotFound
	}

	result := e.pipeline.RunAfter(ctx, hooks.OpGet, req, entry)
	if replaced, ok := result.(*ledger.Entry); ok {
		return replaced, nil
	}
	return entry, nil
}

// GetByHash loads one entry by its hash. Subject to the same ACL filtering
// as Get.
func (e *Engine) GetByHash(ctx context.Context, hash, requesterOID string) (*ledger.Entry, error) {
	entry, err := e.backend.LoadEntryByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	visible := acl.FilterEntries(ctx, e.acl, e.name, requesterOID, []*ledger.Entry{entry})
	if len(visible) == 0 {
		return nil, ledger.ErrNotFound
	}
	return entry, nil
}

// Query runs a cursor-paged scan. Before-hooks may rewrite the filters;
// the ACL then drops entries the requester may not see.
func (e *Engine) Query(ctx context.Context, filters store.QueryFilters, requesterOID string) (*store.QueryResult, error) {
	out, err := e.pipeline.RunBefore(ctx, hooks.OpQuery, &filters)
	if err != nil {
		return nil, err
	}
	if out.ShortCircuited {
		res, ok := out.Result.(*store.QueryResult)
		if !ok {
			return nil, fmt.Errorf("query hook short-circuited with unexpected result type %T", out.Result)
		}
		result := e.pipeline.RunAfter(ctx, hooks.OpQuery, out.Input, res)
		if replaced, ok := result.(*store.QueryResult); ok {
			return replaced, nil
		}
		return res, nil
	}
	effective := &filters
	if f, ok := out.Input.(*store.QueryFilters); ok {
		effective = f
	}

	res, err := e.backend.Query(ctx, *effective)
	if err != nil {
		e.obs.RecordError(ctx, "query", err)
		return nil, err
	}

	res.Entries = acl.FilterEntries(ctx, e.acl, e.name, requesterOID, res.Entries)

	result := e.pipeline.RunAfter(ctx, hooks.OpQuery, effective, res)
	if replaced, ok := result.(*store.QueryResult); ok {
		return replaced, nil
	}
	return res, nil
}

// Tip returns the latest-entry pointer, or ErrNotFound on an empty ledger.
func (e *Engine) Tip(ctx context.Context) (*ledger.Tip, error) {
	return e.backend.GetTip(ctx)
}

// Stats returns materialized counters for a stream. When the materialized
// row is missing it falls back to a direct count.
func (e *Engine) Stats(ctx context.Context, stream string) (*ledger.StreamStats, error) {
	st, err := e.backend.GetStats(ctx, stream)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	res, err := e.backend.Query(ctx, store.QueryFilters{Stream: stream, Limit: 1})
	if err != nil {
		return nil, err
	}
	return &ledger.StreamStats{Stream: stream, TotalEntries: res.Total}, nil
}

// CountEntries reports the total chain length.
func (e *Engine) CountEntries(ctx context.Context) (int64, error) {
	return e.backend.CountEntries(ctx)
}
