package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onoal/nucleus/pkg/acl"
	"github.com/onoal/nucleus/pkg/container"
	"github.com/onoal/nucleus/pkg/crypto"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
	"github.com/onoal/nucleus/pkg/store"
)

func newTestEngine(t *testing.T, opts ...func(*Options)) *Engine {
	t.Helper()
	o := Options{
		Name:    "main",
		Backend: store.NewMemoryStore(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	e, err := New(context.Background(), o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func payload(s string) json.RawMessage { return json.RawMessage(s) }

func TestAppendLinksChain(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	a, err := e.Append(ctx, AppendRequest{Stream: "proofs", Payload: payload(`{"k":1}`)})
	require.NoError(t, err)
	assert.Empty(t, a.PrevHash, "first entry is genesis")
	assert.NotEmpty(t, a.Hash)
	assert.NotEmpty(t, a.Signature)
	assert.Equal(t, ledger.StatusActive, a.Status)

	b, err := e.Append(ctx, AppendRequest{Stream: "proofs", Payload: payload(`{"k":2}`)})
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.PrevHash)
	assert.GreaterOrEqual(t, b.Timestamp, a.Timestamp)

	res, err := e.VerifyAll(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 2, res.EntriesChecked)

	tip, err := e.Tip(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, tip.EntryID)

	st, err := e.Stats(ctx, "proofs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalEntries)
	assert.Equal(t, b.Hash, st.LastEntryHash)
}

func TestAppendRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	var ve *ledger.ValidationError
	_, err := e.Append(ctx, AppendRequest{Stream: "", Payload: payload(`{}`)})
	require.ErrorAs(t, err, &ve)

	_, err = e.Append(ctx, AppendRequest{Stream: "proofs", Payload: payload(`"scalar"`)})
	require.ErrorAs(t, err, &ve)

	n, err := e.CountEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected appends leave no trace")
}

func TestConcurrentAppendsNeverForkChain(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	const workers = 8
	const perWorker = 20

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := e.Append(ctx, AppendRequest{
					Stream:  "proofs",
					Payload: payload(fmt.Sprintf(`{"worker":%d,"seq":%d}`, w, i)),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	n, err := e.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), n)

	res, err := e.VerifyAll(ctx)
	require.NoError(t, err)
	require.True(t, res.Valid, "concurrent appends must not fork: %s", res.Error)
	assert.Equal(t, workers*perWorker, res.EntriesChecked)
}

func TestAppendBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	entries, err := e.AppendBatch(ctx, []AppendRequest{
		{Stream: "proofs", Payload: payload(`{"n":1}`)},
		{Stream: "assets", Payload: payload(`{"n":2}`)},
		{Stream: "proofs", Payload: payload(`{"n":3}`)},
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Empty(t, entries[0].PrevHash)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, entries[1].Hash, entries[2].PrevHash)

	res, err := e.VerifyAll(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// A bad request anywhere in the batch aborts the whole batch.
	_, err = e.AppendBatch(ctx, []AppendRequest{
		{Stream: "proofs", Payload: payload(`{"n":4}`)},
		{Stream: "proofs", Payload: payload(`not json`)},
	})
	require.Error(t, err)

	n, err := e.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = e.AppendBatch(ctx, nil)
	assert.Error(t, err)
}

func TestGetAndQuery(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	a, err := e.Append(ctx, AppendRequest{Stream: "proofs", Payload: payload(`{"k":1}`)})
	require.NoError(t, err)
	_, err = e.Append(ctx, AppendRequest{Stream: "assets", Payload: payload(`{"k":2}`)})
	require.NoError(t, err)

	got, err := e.Get(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, a.Hash, got.Hash)
	assert.JSONEq(t, `{"k":1}`, string(got.Payload))

	// Second read comes from the payload cache.
	got, err = e.Get(ctx, a.ID, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":1}`, string(got.Payload))

	_, err = e.Get(ctx, "missing", "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	byHash, err := e.GetByHash(ctx, a.Hash, "")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byHash.ID)

	res, err := e.Query(ctx, store.QueryFilters{Stream: "proofs"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, a.ID, res.Entries[0].ID)
}

func TestACLGatesWritesAndFiltersReads(t *testing.T) {
	ctx := context.Background()
	backend := acl.NewInMemoryBackend()
	e := newTestEngine(t, func(o *Options) { o.ACL = backend })

	_, err := e.Append(ctx, AppendRequest{
		Stream: "proofs", Payload: payload(`{"k":1}`), RequesterOID: "oid:mallory",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, backend.Grant(ctx, acl.Grant{
		SubjectOID: "oid:alice",
		Resource:   acl.LedgerResource("main"),
		Action:     acl.ActionWrite,
	}))
	entry, err := e.Append(ctx, AppendRequest{
		Stream: "proofs", Payload: payload(`{"k":1}`), RequesterOID: "oid:alice",
	})
	require.NoError(t, err)

	// Alice has write but not read; the entry is invisible to her.
	_, err = e.Get(ctx, entry.ID, "oid:alice")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	res, err := e.Query(ctx, store.QueryFilters{}, "oid:alice")
	require.NoError(t, err)
	assert.Empty(t, res.Entries)

	// Without a requester there is no filtering.
	got, err := e.Get(ctx, entry.ID, "")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
}

func TestOpenTimeVerificationFailsOnCorruptChain(t *testing.T) {
	ctx := context.Background()
	signer, err := crypto.NewEd25519Signer("main")
	require.NoError(t, err)

	backend := store.NewMemoryStore()
	prevHash := ""
	for i := 1; i <= 3; i++ {
		p := payload(fmt.Sprintf(`{"n":%d}`, i))
		if i == 3 {
			p = payload(`{"tampered":true}`)
		}
		id := fmt.Sprintf("e%d", i)
		hash, err := ledger.ComputeHash("proofs", id, payload(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
		sig, err := signer.Sign(ledger.SigningMessage(hash, prevHash))
		require.NoError(t, err)
		require.NoError(t, backend.SaveEntry(ctx, &ledger.Entry{
			ID: id, Stream: "proofs", Timestamp: int64(1000 + i),
			Payload: p, Hash: hash, PrevHash: prevHash, Signature: sig,
			Status: ledger.StatusActive, CreatedAt: time.Now(),
		}))
		prevHash = hash
	}

	_, err = New(ctx, Options{Name: "main", Backend: backend, Signer: signer})
	require.Error(t, err)
	var ie *ledger.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ledger.CategoryHashMismatch, ie.Category)

	// The same chain opens when verification is skipped, and VerifyAll
	// then reports the corruption without throwing.
	e, err := New(ctx, Options{Name: "main", Backend: backend, Signer: signer, SkipOpenVerify: true})
	require.NoError(t, err)
	res, err := e.VerifyAll(ctx)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 1, res.HashMismatches)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "e3", res.Errors[0].EntryID)
}

func TestVerifyChainOptions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	var ids []string
	for i := 0; i < 5; i++ {
		entry, err := e.Append(ctx, AppendRequest{Stream: "proofs", Payload: payload(fmt.Sprintf(`{"n":%d}`, i))})
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}

	// Zero limit checks nothing.
	res, err := e.VerifyChain(ctx, VerifyOptions{Limit: 0})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Zero(t, res.EntriesChecked)

	// Mid-chain scan starting at the third entry.
	res, err = e.VerifyChain(ctx, VerifyOptions{StartID: ids[2], Limit: -1})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 3, res.EntriesChecked)

	_, err = e.VerifyChain(ctx, VerifyOptions{StartID: "missing", Limit: -1})
	assert.Error(t, err)

	valid, errs, err := e.VerifyEntry(ctx, ids[3])
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Empty(t, errs)
}

func TestCheckpointLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	var first, last *ledger.Entry
	for i := 0; i < 4; i++ {
		entry, err := e.Append(ctx, AppendRequest{Stream: "proofs", Payload: payload(fmt.Sprintf(`{"n":%d}`, i))})
		require.NoError(t, err)
		if first == nil {
			first = entry
		}
		last = entry
	}

	cp, err := e.CreateCheckpoint(ctx, first.Timestamp, last.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cp.EntriesCount)
	assert.NotEmpty(t, cp.RootHash)
	assert.NotEmpty(t, cp.Signature)

	ok, err := e.VerifyCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Empty ranges cannot be checkpointed.
	_, err = e.CreateCheckpoint(ctx, last.Timestamp+10_000, last.Timestamp+20_000)
	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = e.CreateCheckpoint(ctx, 100, 50)
	require.ErrorAs(t, err, &ve)
}

func TestEngineRequiresNameAndBackend(t *testing.T) {
	ctx := context.Background()
	var ce *ledger.ConfigurationError

	_, err := New(ctx, Options{Backend: store.NewMemoryStore()})
	require.ErrorAs(t, err, &ce)

	_, err = New(ctx, Options{Name: "main"})
	require.ErrorAs(t, err, &ce)
}

type gateModule struct {
	started bool
	stops   atomic.Int32
}

func (m *gateModule) Name() string               { return "gate" }
func (m *gateModule) Version() string            { return "1.0.0" }
func (m *gateModule) Load(context.Context) error { return nil }

func (m *gateModule) RegisterServices(*container.ServiceContainer) error { return nil }

func (m *gateModule) RegisterHooks(p *hooks.Pipeline) {
	p.RegisterBefore(hooks.OpAppend, "gate.deny-secrets", func(_ context.Context, input any) hooks.Decision {
		req, ok := input.(*AppendRequest)
		if ok && req.Stream == "secrets" {
			return hooks.Abort(fmt.Errorf("stream %q is not writable", req.Stream))
		}
		return hooks.Continue(nil)
	})
}

func (m *gateModule) Start(context.Context) error { m.started = true; return nil }
func (m *gateModule) Stop(context.Context) error  { m.stops.Add(1); return nil }

func TestAfterHooksRunOnShortCircuit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	canned := &ledger.Entry{ID: "cached-1", Stream: "proofs", Payload: payload(`{"k":1}`)}
	e.Pipeline().RegisterBefore(hooks.OpGet, "test.serve-cached", func(context.Context, any) hooks.Decision {
		return hooks.ShortCircuit(canned)
	})

	var observed *ledger.Entry
	e.Pipeline().RegisterAfter(hooks.OpGet, "test.observe", func(_ context.Context, _, result any) (any, error) {
		entry, ok := result.(*ledger.Entry)
		require.True(t, ok)
		observed = entry
		stamped := *entry
		stamped.Meta = payload(`{"served":"cache"}`)
		return &stamped, nil
	})

	got, err := e.Get(ctx, "anything", "")
	require.NoError(t, err)
	require.NotNil(t, observed, "after-hooks must run on a short-circuited get")
	assert.Equal(t, canned.ID, observed.ID)
	assert.JSONEq(t, `{"served":"cache"}`, string(got.Meta), "after-hook replacement must apply")

	e.Pipeline().RegisterBefore(hooks.OpQuery, "test.serve-empty", func(context.Context, any) hooks.Decision {
		return hooks.ShortCircuit(&store.QueryResult{})
	})
	queryAfterRan := false
	e.Pipeline().RegisterAfter(hooks.OpQuery, "test.observe-query", func(_ context.Context, _, result any) (any, error) {
		queryAfterRan = true
		return result, nil
	})
	_, err = e.Query(ctx, store.QueryFilters{}, "")
	require.NoError(t, err)
	assert.True(t, queryAfterRan, "after-hooks must run on a short-circuited query")
}

func TestCloseIsIdempotentUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	mod := &gateModule{}
	e, err := New(ctx, Options{
		Name:    "main",
		Backend: store.NewMemoryStore(),
		Modules: []hooks.Module{mod},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Close(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), mod.stops.Load(), "modules must stop exactly once")
}

func TestModuleHooksGateAppends(t *testing.T) {
	ctx := context.Background()
	mod := &gateModule{}
	e := newTestEngine(t, func(o *Options) { o.Modules = []hooks.Module{mod} })

	assert.True(t, mod.started)
	state, ok := e.ModuleState("gate")
	require.True(t, ok)
	assert.Equal(t, hooks.StateStarted, state)

	_, err := e.Append(ctx, AppendRequest{Stream: "secrets", Payload: payload(`{}`)})
	require.ErrorContains(t, err, "not writable")

	_, err = e.Append(ctx, AppendRequest{Stream: "proofs", Payload: payload(`{"k":1}`)})
	require.NoError(t, err)
}
