package acl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onoal/nucleus/pkg/ledger"
)

func TestGrantCheckRevoke(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBackend()

	res := LedgerResource("main")
	require.NoError(t, b.Grant(ctx, Grant{SubjectOID: "oid:alice", Resource: res, Action: ActionWrite}))

	ok, err := b.Check(ctx, "oid:alice", res, ActionWrite)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Check(ctx, "oid:alice", res, ActionRead)
	require.NoError(t, err)
	assert.False(t, ok, "write grant does not imply read")

	ok, err = b.Check(ctx, "oid:bob", res, ActionWrite)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Revoke(ctx, "oid:alice", res, ActionWrite))
	ok, err = b.Check(ctx, "oid:alice", res, ActionWrite)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantValidation(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBackend()

	var ve *ledger.ValidationError
	require.ErrorAs(t, b.Grant(ctx, Grant{Resource: "r", Action: "a"}), &ve)
	require.ErrorAs(t, b.Grant(ctx, Grant{SubjectOID: "s", Action: "a"}), &ve)
	require.ErrorAs(t, b.Grant(ctx, Grant{SubjectOID: "s", Resource: "r"}), &ve)
}

func TestGrantExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	b := NewInMemoryBackend().WithClock(func() time.Time { return now })

	res := LedgerResource("main")
	require.NoError(t, b.Grant(ctx, Grant{
		SubjectOID: "oid:alice", Resource: res, Action: ActionRead,
		ExpiresAt: now.Add(time.Hour),
	}))

	ok, _ := b.Check(ctx, "oid:alice", res, ActionRead)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	ok, _ = b.Check(ctx, "oid:alice", res, ActionRead)
	assert.False(t, ok, "expired grant reads as denied")

	grants, err := b.ListGrants(ctx, "oid:alice")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestWildcardGrants(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBackend()

	require.NoError(t, b.Grant(ctx, Grant{SubjectOID: "oid:admin", Resource: Wildcard, Action: Wildcard}))

	ok, _ := b.Check(ctx, "oid:admin", LedgerResource("any"), ActionWrite)
	assert.True(t, ok)
	ok, _ = b.Check(ctx, "oid:admin", StreamResource("any", "proofs"), ActionRead)
	assert.True(t, ok)
}

func TestFilterEntries(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBackend()

	entries := []*ledger.Entry{
		{ID: "e1", Stream: "proofs"},
		{ID: "e2", Stream: "assets"},
	}

	// No backend or no requester means no filtering.
	assert.Len(t, FilterEntries(ctx, nil, "main", "oid:alice", entries), 2)
	assert.Len(t, FilterEntries(ctx, b, "main", "", entries), 2)

	// Requester with no grants sees nothing.
	assert.Empty(t, FilterEntries(ctx, b, "main", "oid:alice", entries))

	// A stream-scoped read grant reveals only that stream.
	require.NoError(t, b.Grant(ctx, Grant{
		SubjectOID: "oid:alice",
		Resource:   StreamResource("main", "proofs"),
		Action:     ActionRead,
	}))
	got := FilterEntries(ctx, b, "main", "oid:alice", entries)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)

	// A ledger-wide grant reveals everything.
	require.NoError(t, b.Grant(ctx, Grant{
		SubjectOID: "oid:bob",
		Resource:   LedgerResource("main"),
		Action:     ActionRead,
	}))
	assert.Len(t, FilterEntries(ctx, b, "main", "oid:bob", entries), 2)
}
