// Package ledger defines the hash-chained entry model and the chain
// verification algorithm. Entries in different streams share one global
// chain ordered by timestamp; each entry's prev_hash must equal the hash
// of the chronologically previous entry.
package ledger

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/onoal/nucleus/pkg/canonicalize"
)

// Status is the lifecycle state of an entry. The hash does not cover it;
// domain modules may transition it out-of-band through an audited path.
type Status string

const (
	StatusActive    Status = "active"
	StatusRevoked   Status = "revoked"
	StatusUsed      Status = "used"
	StatusSuspended Status = "suspended"
)

// Entry is one immutable unit of the ledger.
type Entry struct {
	ID        string          `json:"id"`
	Stream    string          `json:"stream"`
	Timestamp int64           `json:"timestamp"` // ms since epoch at write time
	Payload   json.RawMessage `json:"payload"`
	Hash      string          `json:"hash"`
	PrevHash  string          `json:"prev_hash,omitempty"` // empty for the genesis entry
	Signature string          `json:"signature,omitempty"`
	Status    Status          `json:"status"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ComputeHash derives the entry hash from its logical identity:
// SHA256(stream + ":" + id + ":" + canonical(payload)).
// Byte-for-byte reproducible for a given logical input.
func ComputeHash(stream, id string, payload json.RawMessage) (string, error) {
	canonical, err := canonicalize.Canonical(payload)
	if err != nil {
		return "", &ValidationError{Msg: "payload is not valid JSON: " + err.Error()}
	}

	var buf bytes.Buffer
	buf.WriteString(stream)
	buf.WriteByte(':')
	buf.WriteString(id)
	buf.WriteByte(':')
	buf.Write(canonical)
	return canonicalize.HashBytes(buf.Bytes()), nil
}

// SigningMessage builds the chain-linkage message covered by the signature:
// the hash alone for genesis, hash + ":" + prev_hash otherwise.
func SigningMessage(hash, prevHash string) []byte {
	if prevHash == "" {
		return []byte(hash)
	}
	return []byte(hash + ":" + prevHash)
}

// Validate rejects malformed entries before any storage write.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return &ValidationError{Msg: "id cannot be empty"}
	}
	if e.Stream == "" {
		return &ValidationError{Msg: "stream cannot be empty"}
	}
	if e.Timestamp <= 0 {
		return &ValidationError{Msg: "timestamp must be positive"}
	}
	if !payloadIsStructured(e.Payload) {
		return &ValidationError{Msg: "payload must be a JSON object or array"}
	}
	return nil
}

// IsGenesis reports whether the entry claims to be the chain's first.
func (e *Entry) IsGenesis() bool {
	return e.PrevHash == ""
}

func payloadIsStructured(payload json.RawMessage) bool {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}
