// Package acl is the Unified Access Layer collaborator: it answers whether
// a principal may act on a ledger resource and filters read results down to
// what the requester is allowed to see. The ledger core never implements
// authorization itself; it only passes the requester context through.
package acl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onoal/nucleus/pkg/ledger"
)

// Well-known actions on ledger resources.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// Wildcard matches any resource or action in a grant.
const Wildcard = "*"

// LedgerResource names a whole ledger for grant purposes.
func LedgerResource(ledgerID string) string {
	return "oid:onoal:ledger:" + ledgerID
}

// StreamResource names a single stream within a ledger.
func StreamResource(ledgerID, stream string) string {
	return fmt.Sprintf("oid:onoal:ledger:%s:stream:%s", ledgerID, stream)
}

// Grant allows subject to perform action on resource until ExpiresAt
// (zero = never expires).
type Grant struct {
	SubjectOID string    `json:"subject_oid"`
	Resource   string    `json:"resource"`
	Action     string    `json:"action"`
	GrantedBy  string    `json:"granted_by,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Backend is the authorization store.
type Backend interface {
	Grant(ctx context.Context, g Grant) error
	Revoke(ctx context.Context, subjectOID, resource, action string) error
	// Check reports whether the subject may perform action on resource.
	// An expired grant reads as denied.
	Check(ctx context.Context, subjectOID, resource, action string) (bool, error)
	// ListGrants returns the subject's live grants.
	ListGrants(ctx context.Context, subjectOID string) ([]Grant, error)
}

type grantKey struct {
	subject  string
	resource string
	action   string
}

// InMemoryBackend keeps grants in a process-local map with lazy expiry.
type InMemoryBackend struct {
	mu     sync.RWMutex
	grants map[grantKey]Grant
	clock  func() time.Time
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		grants: make(map[grantKey]Grant),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (b *InMemoryBackend) WithClock(clock func() time.Time) *InMemoryBackend {
	b.clock = clock
	return b
}

func (b *InMemoryBackend) Grant(_ context.Context, g Grant) error {
	if g.SubjectOID == "" {
		return &ledger.ValidationError{Msg: "grant subject_oid cannot be empty"}
	}
	if g.Resource == "" || g.Action == "" {
		return &ledger.ValidationError{Msg: "grant resource and action cannot be empty"}
	}
	b.mu.Lock()
	b.grants[grantKey{g.SubjectOID, g.Resource, g.Action}] = g
	b.mu.Unlock()
	return nil
}

func (b *InMemoryBackend) Revoke(_ context.Context, subjectOID, resource, action string) error {
	b.mu.Lock()
	delete(b.grants, grantKey{subjectOID, resource, action})
	b.mu.Unlock()
	return nil
}

func (b *InMemoryBackend) Check(_ context.Context, subjectOID, resource, action string) (bool, error) {
	now := b.clock()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for key, g := range b.grants {
		if key.subject != subjectOID {
			continue
		}
		if key.resource != resource && key.resource != Wildcard {
			continue
		}
		if key.action != action && key.action != Wildcard {
			continue
		}
		if !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (b *InMemoryBackend) ListGrants(_ context.Context, subjectOID string) ([]Grant, error) {
	now := b.clock()
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Grant
	for key, g := range b.grants {
		if key.subject != subjectOID {
			continue
		}
		if !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt) {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// FilterEntries drops entries the requester may not read. A backend error
// on one entry denies that entry only.
func FilterEntries(ctx context.Context, b Backend, ledgerID, requesterOID string, entries []*ledger.Entry) []*ledger.Entry {
	if b == nil || requesterOID == "" {
		return entries
	}
	out := make([]*ledger.Entry, 0, len(entries))
	for _, e := range entries {
		ok, err := b.Check(ctx, requesterOID, LedgerResource(ledgerID), ActionRead)
		if err == nil && !ok {
			ok, err = b.Check(ctx, requesterOID, StreamResource(ledgerID, e.Stream), ActionRead)
		}
		if err != nil || !ok {
			continue
		}
		out = append(out, e)
	}
	return out
}
