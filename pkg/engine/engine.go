// Package engine composes signer, storage, caches, service container, and
// the hook pipeline into the public ledger API. One Engine is one ledger:
// its state never leaks into process-wide globals.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onoal/nucleus/pkg/acl"
	"github.com/onoal/nucleus/pkg/archive"
	"github.com/onoal/nucleus/pkg/cache"
	"github.com/onoal/nucleus/pkg/container"
	"github.com/onoal/nucleus/pkg/crypto"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
	"github.com/onoal/nucleus/pkg/observability"
	"github.com/onoal/nucleus/pkg/store"
)

// Options configures an Engine. Name and Backend are required; everything
// else has working defaults.
type Options struct {
	// Name identifies the ledger. It is the issuer of exported proof
	// tokens and the id used in ACL resource names.
	Name    string
	Backend store.Backend
	Signer  *crypto.Ed25519Signer

	// Cache backs the latest-entry and payload caches. Defaults to an
	// in-process memory store.
	Cache cache.Store
	// ACL is the Unified Access Layer. Nil means no read filtering and
	// no write authorization.
	ACL acl.Backend
	// Archive receives created checkpoints. Nil disables archival.
	Archive archive.Store
	// Modules are started in order during New.
	Modules []hooks.Module

	Logger        *slog.Logger
	Observability *observability.Provider

	// SkipOpenVerify skips the full-chain re-verification at open time.
	// Only for tests that construct corrupt chains on purpose.
	SkipOpenVerify bool
}

// Engine is the ledger facade.
type Engine struct {
	name     string
	logger   *slog.Logger
	signer   *crypto.Ed25519Signer
	backend  store.Backend
	acl      acl.Backend
	archive  archive.Store
	obs      *observability.Provider
	verifier *ledger.ChainVerifier

	latestCache  *cache.LatestEntryCache
	payloadCache *cache.PayloadCache

	services *container.ServiceContainer
	pipeline *hooks.Pipeline
	registry *hooks.Registry

	// appendMu serializes read-tip/compute-hash/write so two concurrent
	// appends can never claim the same prev_hash.
	appendMu sync.Mutex

	closeOnce sync.Once
}

// New builds and opens a ledger. It re-verifies the full persisted chain
// before accepting appends; an integrity failure at open time is fatal.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Name == "" {
		return nil, &ledger.ConfigurationError{Msg: "ledger name cannot be empty"}
	}
	if opts.Backend == nil {
		return nil, &ledger.ConfigurationError{Msg: "storage backend is required"}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("ledger", opts.Name)

	signer := opts.Signer
	if signer == nil {
		var err error
		signer, err = crypto.NewEd25519Signer(opts.Name)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}

	cacheStore := opts.Cache
	if cacheStore == nil {
		cacheStore = cache.NewMemoryStore()
	}

	obs := opts.Observability
	if obs == nil {
		var err error
		obs, err = observability.New(ctx, nil)
		if err != nil {
			return nil, err
		}
	}

	e := &Engine{
		name:         opts.Name,
		logger:       logger,
		signer:       signer,
		backend:      opts.Backend,
		acl:          opts.ACL,
		archive:      opts.Archive,
		obs:          obs,
		verifier:     &ledger.ChainVerifier{PublicKey: signer.PublicKey()},
		latestCache:  cache.NewLatestEntryCache(cacheStore, cache.DefaultLatestTTL),
		payloadCache: cache.NewPayloadCache(cacheStore, cache.DefaultPayloadTTL),
		services:     container.New(),
		pipeline:     hooks.NewPipeline(logger),
		registry:     hooks.NewRegistry(logger),
	}

	if err := e.services.Register("signer", signer); err != nil {
		return nil, err
	}
	if err := e.services.Register("storage", opts.Backend); err != nil {
		return nil, err
	}
	if opts.ACL != nil {
		if err := e.services.Register("acl", opts.ACL); err != nil {
			return nil, err
		}
	}

	for _, m := range opts.Modules {
		if err := e.registry.Add(m); err != nil {
			return nil, err
		}
	}
	if err := e.registry.StartAll(ctx, e.services, e.pipeline); err != nil {
		return nil, err
	}

	if !opts.SkipOpenVerify {
		if err := e.verifyOnOpen(ctx); err != nil {
			e.registry.StopAll(ctx)
			return nil, err
		}
	}

	logger.Info("ledger opened", "public_key", signer.PublicKey())
	return e, nil
}

// verifyOnOpen re-verifies the whole persisted chain. A corrupt chain must
// prevent the ledger from opening.
func (e *Engine) verifyOnOpen(ctx context.Context) error {
	entries, err := e.backend.LoadEntriesInRange(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("load chain for open-time verification: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	result := e.verifier.VerifyEntries(derefEntries(entries), true)
	if !result.Valid {
		first := ""
		cat := ledger.ErrorCategory("")
		if len(result.Errors) > 0 {
			first = result.Errors[0].EntryID
			cat = result.Errors[0].Type
		}
		return &ledger.IntegrityError{
			EntryID:  first,
			Category: cat,
			Msg:      fmt.Sprintf("chain invalid at open after %d entries: %s", result.EntriesChecked, result.Error),
		}
	}
	e.logger.Info("chain verified at open", "entries_checked", result.EntriesChecked)
	return nil
}

// Name returns the ledger name.
func (e *Engine) Name() string { return e.name }

// Services exposes the per-ledger service container.
func (e *Engine) Services() *container.ServiceContainer { return e.services }

// Pipeline exposes the hook pipeline, for wiring done outside modules.
func (e *Engine) Pipeline() *hooks.Pipeline { return e.pipeline }

// Signer returns the ledger's signer.
func (e *Engine) Signer() *crypto.Ed25519Signer { return e.signer }

// PublicKeyJWK exports the verification key for external verifiers.
func (e *Engine) PublicKeyJWK() crypto.JWK { return e.signer.PublicKeyJWK() }

// ModuleState reports a module's lifecycle state.
func (e *Engine) ModuleState(name string) (hooks.ModuleState, bool) {
	return e.registry.State(name)
}

// Close stops modules (best-effort) and closes storage. Safe to call
// concurrently and more than once; only the first call does the work.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.registry.StopAll(ctx)
		if cerr := e.backend.Close(); cerr != nil {
			err = fmt.Errorf("close storage: %w", cerr)
			return
		}
		e.logger.Info("ledger closed")
	})
	return err
}

func derefEntries(entries []*ledger.Entry) []ledger.Entry {
	out := make([]ledger.Entry, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out
}
