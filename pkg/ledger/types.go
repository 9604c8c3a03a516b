package ledger

import "time"

// Tip is the singleton pointer to the most recent entry, updated atomically
// on every append. It makes "latest" an O(1) lookup instead of a scan.
type Tip struct {
	EntryID   string `json:"entry_id"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
}

// Checkpoint is a signed Merkle commitment over a contiguous hash range.
// Checkpoints are append-only and never recomputed once created.
type Checkpoint struct {
	ID             string    `json:"id"`
	RootHash       string    `json:"root_hash"`
	Signature      string    `json:"signature"`
	EntriesCount   int64     `json:"entries_count"`
	StartTimestamp int64     `json:"start_timestamp"`
	EndTimestamp   int64     `json:"end_timestamp"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamStats is a materialized per-stream counter row, updated incrementally
// on append. Best-effort: absence must not block appends; callers fall back
// to a direct count.
type StreamStats struct {
	Stream             string `json:"stream"`
	TotalEntries       int64  `json:"total_entries"`
	LastEntryTimestamp int64  `json:"last_entry_timestamp"`
	LastEntryHash      string `json:"last_entry_hash"`
}
