// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing of ledger payloads.
//
// Entry hashes must be byte-for-byte reproducible across processes and
// languages, so every payload is reduced to its JCS form before hashing.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonical returns the RFC 8785 canonical form of a raw JSON document.
func Canonical(raw json.RawMessage) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// CanonicalValue marshals v to JSON and returns its canonical form.
// Struct json tags are respected; map key order is irrelevant.
func CanonicalValue(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}
	return Canonical(intermediate)
}

// HashBytes computes the SHA-256 hash of raw bytes and returns the hex digest.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// CanonicalHash returns the SHA-256 hex digest of the canonical form of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := CanonicalValue(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}
