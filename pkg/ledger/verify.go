package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/onoal/nucleus/pkg/crypto"
)

// ErrorCategory classifies a verification failure.
type ErrorCategory string

const (
	CategoryPayloadInvalid      ErrorCategory = "payload_invalid"
	CategoryHashMismatch        ErrorCategory = "hash_mismatch"
	CategorySignatureInvalid    ErrorCategory = "signature_invalid"
	CategoryTimestampOutOfOrder ErrorCategory = "timestamp_out_of_order"
	CategoryChainBroken         ErrorCategory = "chain_broken"
)

// VerificationError pinpoints one failed entry for operator diagnostics.
type VerificationError struct {
	EntryID string        `json:"entry_id"`
	Type    ErrorCategory `json:"type"`
	Message string        `json:"message"`
}

// VerificationWarning is a non-fatal observation, e.g. a large time gap
// between consecutive entries.
type VerificationWarning struct {
	EntryID string `json:"entry_id"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// VerificationResult reports a chain scan: overall validity, the first
// failure, and itemized counts per error category. It is always returned,
// success or failure, so operators never need a re-scan to diagnose.
type VerificationResult struct {
	Valid          bool                  `json:"valid"`
	Error          string                `json:"error,omitempty"`
	EntriesChecked int                   `json:"entries_checked"`
	HashMismatches int                   `json:"hash_mismatches"`
	SignatureFails int                   `json:"signature_fails"`
	TimestampFails int                   `json:"timestamp_fails"`
	ChainBreaks    int                   `json:"chain_breaks"`
	PayloadFails   int                   `json:"payload_fails"`
	Errors         []VerificationError   `json:"errors,omitempty"`
	Warnings       []VerificationWarning `json:"warnings,omitempty"`
	StartTimestamp int64                 `json:"start_timestamp,omitempty"`
	EndTimestamp   int64                 `json:"end_timestamp,omitempty"`
	Duration       time.Duration         `json:"duration"`
}

// DefaultTimestampGapWarn is the gap between consecutive entries beyond
// which the verifier records a warning. Gaps are never fatal.
const DefaultTimestampGapWarn = 24 * time.Hour

// ChainVerifier re-derives hashes and signatures over a range of entries.
// It is read-only and safe to run concurrently with appends; a snapshot
// slightly behind the true tip is acceptable.
type ChainVerifier struct {
	// PublicKey is the hex-encoded Ed25519 key signatures must verify
	// against. Empty skips signature checks entirely.
	PublicKey string

	// TimestampGapWarn overrides DefaultTimestampGapWarn when positive.
	TimestampGapWarn time.Duration
}

// VerifyEntries scans entries in timestamp order, stopping at the first
// failure. fromGenesis enforces that the first scanned entry has no
// prev_hash; a mid-chain scan cannot make that claim.
func (v *ChainVerifier) VerifyEntries(entries []Entry, fromGenesis bool) *VerificationResult {
	started := time.Now()
	result := &VerificationResult{Valid: true}
	defer func() { result.Duration = time.Since(started) }()

	if len(entries) == 0 {
		return result
	}
	result.StartTimestamp = entries[0].Timestamp
	result.EndTimestamp = entries[len(entries)-1].Timestamp

	gapWarn := v.TimestampGapWarn
	if gapWarn <= 0 {
		gapWarn = DefaultTimestampGapWarn
	}

	var prevHash string
	var prevTimestamp int64
	for i, entry := range entries {
		result.EntriesChecked++

		// 1. The payload must still deserialize.
		if !json.Valid(entry.Payload) {
			result.PayloadFails++
			return v.fail(result, entry.ID, CategoryPayloadInvalid, "payload is not valid JSON")
		}

		// 2. Recompute the hash from the logical identity.
		computed, err := ComputeHash(entry.Stream, entry.ID, entry.Payload)
		if err != nil {
			result.PayloadFails++
			return v.fail(result, entry.ID, CategoryPayloadInvalid, err.Error())
		}
		if computed != entry.Hash {
			result.HashMismatches++
			return v.fail(result, entry.ID, CategoryHashMismatch,
				fmt.Sprintf("expected %s, stored %s", computed, entry.Hash))
		}

		// 3. Verify the signature over the reconstructed message.
		if entry.Signature != "" && v.PublicKey != "" {
			ok, err := crypto.Verify(v.PublicKey, entry.Signature, SigningMessage(entry.Hash, entry.PrevHash))
			if err != nil || !ok {
				result.SignatureFails++
				msg := "signature does not verify"
				if err != nil {
					msg = err.Error()
				}
				return v.fail(result, entry.ID, CategorySignatureInvalid, msg)
			}
		}

		// 4. Timestamps must be non-decreasing across the scan.
		if i > 0 && entry.Timestamp < prevTimestamp {
			result.TimestampFails++
			return v.fail(result, entry.ID, CategoryTimestampOutOfOrder,
				fmt.Sprintf("timestamp %d precedes previous %d", entry.Timestamp, prevTimestamp))
		}
		if i > 0 {
			if gap := time.Duration(entry.Timestamp-prevTimestamp) * time.Millisecond; gap > gapWarn {
				result.Warnings = append(result.Warnings, VerificationWarning{
					EntryID: entry.ID,
					Type:    "timestamp_gap",
					Message: fmt.Sprintf("gap of %s since previous entry", gap),
				})
			}
		}

		// 5. Chain linkage.
		if i == 0 {
			if fromGenesis && entry.PrevHash != "" {
				result.ChainBreaks++
				return v.fail(result, entry.ID, CategoryChainBroken, "genesis entry has a prev_hash")
			}
		} else if entry.PrevHash != prevHash {
			result.ChainBreaks++
			return v.fail(result, entry.ID, CategoryChainBroken,
				fmt.Sprintf("prev_hash %s does not match predecessor hash %s", entry.PrevHash, prevHash))
		}

		prevHash = entry.Hash
		prevTimestamp = entry.Timestamp
	}

	return result
}

// VerifyEntry runs the hash, signature, and prev-link checks for one entry
// without scanning the whole chain. prev is the stored predecessor entry,
// or nil when the entry claims to be genesis.
func (v *ChainVerifier) VerifyEntry(entry *Entry, prev *Entry) (bool, []VerificationError) {
	var errs []VerificationError
	add := func(cat ErrorCategory, msg string) {
		errs = append(errs, VerificationError{EntryID: entry.ID, Type: cat, Message: msg})
	}

	computed, err := ComputeHash(entry.Stream, entry.ID, entry.Payload)
	switch {
	case err != nil:
		add(CategoryPayloadInvalid, err.Error())
	case computed != entry.Hash:
		add(CategoryHashMismatch, fmt.Sprintf("expected %s, stored %s", computed, entry.Hash))
	}

	if entry.Signature != "" && v.PublicKey != "" {
		ok, err := crypto.Verify(v.PublicKey, entry.Signature, SigningMessage(entry.Hash, entry.PrevHash))
		if err != nil || !ok {
			add(CategorySignatureInvalid, "signature does not verify")
		}
	}

	if entry.PrevHash != "" {
		switch {
		case prev == nil:
			add(CategoryChainBroken, "predecessor entry not found")
		case prev.Hash != entry.PrevHash:
			add(CategoryChainBroken,
				fmt.Sprintf("prev_hash %s does not match predecessor hash %s", entry.PrevHash, prev.Hash))
		}
	}

	return len(errs) == 0, errs
}

func (v *ChainVerifier) fail(result *VerificationResult, entryID string, cat ErrorCategory, msg string) *VerificationResult {
	result.Valid = false
	result.Error = fmt.Sprintf("%s at entry %s: %s", cat, entryID, msg)
	result.Errors = append(result.Errors, VerificationError{EntryID: entryID, Type: cat, Message: msg})
	return result
}
