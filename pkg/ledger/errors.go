package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an entry, service, or module does not exist.
// Never retried automatically.
var ErrNotFound = errors.New("not found")

// ValidationError marks bad caller input, rejected before any storage write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// IntegrityError marks a detected chain inconsistency (hash mismatch, bad
// signature, broken link, timestamp regression). Always fatal to the
// operation that detects it; never silently repaired.
type IntegrityError struct {
	EntryID  string
	Category ErrorCategory
	Msg      string
}

func (e *IntegrityError) Error() string {
	if e.EntryID != "" {
		return fmt.Sprintf("integrity: %s at entry %s: %s", e.Category, e.EntryID, e.Msg)
	}
	return fmt.Sprintf("integrity: %s: %s", e.Category, e.Msg)
}

// StorageError wraps an I/O or transaction failure, propagated after the
// backend has ensured no partial state was committed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigurationError fails ledger construction outright (duplicate service
// registration, missing module dependency, invalid config).
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Msg
}
