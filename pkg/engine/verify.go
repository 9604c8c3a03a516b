package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onoal/nucleus/pkg/crypto"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
	"github.com/onoal/nucleus/pkg/merkle"
)

// VerifyOptions bounds a chain verification run.
type VerifyOptions struct {
	// StartID starts the scan at the given entry's position instead of
	// genesis.
	StartID string `json:"start_id,omitempty"`
	// Limit caps the number of entries scanned. Zero checks nothing
	// (trivially valid); negative means unbounded.
	Limit int `json:"limit"`
}

// VerifyChain re-derives hashes, signatures, ordering, and linkage over a
// range of entries. It always returns a structured result for detected
// integrity problems; the error return is reserved for unrecoverable
// preconditions such as unreachable storage.
func (e *Engine) VerifyChain(ctx context.Context, opts VerifyOptions) (*ledger.VerificationResult, error) {
	out, err := e.pipeline.RunBefore(ctx, hooks.OpVerifyChain, &opts)
	if err != nil {
		return nil, err
	}
	if out.ShortCircuited {
		res, ok := out.Result.(*ledger.VerificationResult)
		if !ok {
			return nil, fmt.Errorf("verify hook short-circuited with unexpected result type %T", out.Result)
		}
		result := e.pipeline.RunAfter(ctx, hooks.OpVerifyChain, out.Input, res)
		if replaced, ok := result.(*ledger.VerificationResult); ok {
			return replaced, nil
		}
		return res, nil
	}
	effective := &opts
	if o, ok := out.Input.(*VerifyOptions); ok {
		effective = o
	}

	if effective.Limit == 0 {
		return &ledger.VerificationResult{Valid: true}, nil
	}

	startTS := int64(0)
	fromGenesis := true
	if effective.StartID != "" {
		start, err := e.backend.LoadEntryByID(ctx, effective.StartID)
		if err != nil {
			return nil, fmt.Errorf("resolve verification start %q: %w", effective.StartID, err)
		}
		startTS = start.Timestamp
		fromGenesis = false
	}

	limit := effective.Limit
	if limit < 0 {
		limit = 0 // unbounded load
	}
	entries, err := e.backend.LoadEntriesInRange(ctx, startTS, limit)
	if err != nil {
		return nil, err
	}

	result := e.verifier.VerifyEntries(derefEntries(entries), fromGenesis)
	e.obs.RecordVerification(ctx, result.Valid, result.EntriesChecked)

	replaced := e.pipeline.RunAfter(ctx, hooks.OpVerifyChain, effective, result)
	if res, ok := replaced.(*ledger.VerificationResult); ok {
		return res, nil
	}
	return result, nil
}

// VerifyAll verifies the entire chain from genesis.
func (e *Engine) VerifyAll(ctx context.Context) (*ledger.VerificationResult, error) {
	return e.VerifyChain(ctx, VerifyOptions{Limit: -1})
}

// VerifyEntry re-checks a single entry: hash, signature, and that its
// predecessor exists and matches. Used for targeted re-verification.
func (e *Engine) VerifyEntry(ctx context.Context, id string) (bool, []ledger.VerificationError, error) {
	entry, err := e.backend.LoadEntryByID(ctx, id)
	if err != nil {
		return false, nil, err
	}

	var prev *ledger.Entry
	if entry.PrevHash != "" {
		prev, err = e.backend.LoadEntryByHash(ctx, entry.PrevHash)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return false, nil, err
		}
	}

	valid, errs := e.verifier.VerifyEntry(entry, prev)
	return valid, errs, nil
}

// CreateCheckpoint builds, signs, and persists a Merkle commitment over all
// entries with timestamps in [startTS, endTS]. An empty range is an error:
// a checkpoint must commit to something.
func (e *Engine) CreateCheckpoint(ctx context.Context, startTS, endTS int64) (*ledger.Checkpoint, error) {
	if endTS < startTS {
		return nil, &ledger.ValidationError{Msg: "checkpoint range end before start"}
	}

	entries, err := e.backend.LoadEntriesBetween(ctx, startTS, endTS)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &ledger.ValidationError{
			Msg: fmt.Sprintf("no entries in range [%d, %d]", startTS, endTS),
		}
	}

	hashes := make([]string, len(entries))
	for i, entry := range entries {
		hashes[i] = entry.Hash
	}
	root, err := merkle.Root(hashes)
	if err != nil {
		return nil, err
	}

	sig, err := e.signer.Sign([]byte(root))
	if err != nil {
		return nil, fmt.Errorf("sign checkpoint root: %w", err)
	}

	cp := &ledger.Checkpoint{
		ID:             uuid.NewString(),
		RootHash:       root,
		Signature:      sig,
		EntriesCount:   int64(len(entries)),
		StartTimestamp: startTS,
		EndTimestamp:   endTS,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.backend.UpsertCheckpoint(ctx, cp); err != nil {
		return nil, err
	}

	// Archival is best-effort; the checkpoint row is already durable.
	if e.archive != nil {
		if key, err := e.archive.Put(ctx, cp); err != nil {
			e.logger.Warn("checkpoint archival failed", "checkpoint", cp.ID, "error", err)
		} else {
			e.logger.Info("checkpoint archived", "checkpoint", cp.ID, "key", key)
		}
	}

	e.logger.Info("checkpoint created",
		"checkpoint", cp.ID, "root", root, "entries", cp.EntriesCount)
	return cp, nil
}

// VerifyCheckpoint recomputes a stored checkpoint's Merkle root from the
// chain and checks its signature against the ledger public key.
func (e *Engine) VerifyCheckpoint(ctx context.Context, id string) (bool, error) {
	cp, err := e.backend.GetCheckpoint(ctx, id)
	if err != nil {
		return false, err
	}

	entries, err := e.backend.LoadEntriesBetween(ctx, cp.StartTimestamp, cp.EndTimestamp)
	if err != nil {
		return false, err
	}
	if int64(len(entries)) != cp.EntriesCount {
		return false, nil
	}

	hashes := make([]string, len(entries))
	for i, entry := range entries {
		hashes[i] = entry.Hash
	}
	root, err := merkle.Root(hashes)
	if err != nil {
		return false, err
	}
	if root != cp.RootHash {
		return false, nil
	}

	ok, err := crypto.Verify(e.signer.PublicKey(), cp.Signature, []byte(root))
	if err != nil {
		return false, nil
	}
	return ok, nil
}
