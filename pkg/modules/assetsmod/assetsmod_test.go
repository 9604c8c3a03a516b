package assetsmod

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onoal/nucleus/pkg/engine"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
	"github.com/onoal/nucleus/pkg/store"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(context.Background(), engine.Options{
		Name:    "main",
		Backend: store.NewMemoryStore(),
		Modules: []hooks.Module{New("")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestAssetRequiresOwner(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Append(ctx, engine.AppendRequest{
		Stream:  "assets",
		Payload: json.RawMessage(`{"owner_oid":"oid:onoal:user:1","name":"badge"}`),
	})
	require.NoError(t, err)

	_, err = e.Append(ctx, engine.AppendRequest{
		Stream:  "assets",
		Payload: json.RawMessage(`{"name":"badge"}`),
	})
	require.Error(t, err)
	var verr *ledger.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "owner_oid")
}

func TestTransferNamesBothSides(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Append(ctx, engine.AppendRequest{
		Stream:  "assets",
		Payload: json.RawMessage(`{"owner_oid":"oid:onoal:user:1","transfer_to":"oid:onoal:user:2"}`),
	})
	require.NoError(t, err)

	_, err = e.Append(ctx, engine.AppendRequest{
		Stream:  "assets",
		Payload: json.RawMessage(`{"owner_oid":"oid:onoal:user:1","transfer_to":""}`),
	})
	require.Error(t, err)

	_, err = e.Append(ctx, engine.AppendRequest{
		Stream:  "assets",
		Payload: json.RawMessage(`{"owner_oid":"oid:onoal:user:1","transfer_to":"oid:onoal:user:1"}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "differ from owner_oid")
}

func TestFilterByOwner(t *testing.T) {
	entries := []ledger.Entry{
		{ID: "a", Payload: json.RawMessage(`{"owner_oid":"oid:onoal:user:1"}`)},
		{ID: "b", Payload: json.RawMessage(`{"owner_oid":"oid:onoal:user:2"}`)},
		{ID: "c", Payload: json.RawMessage(`not json`)},
		{ID: "d", Payload: json.RawMessage(`{"owner_oid":"oid:onoal:user:1"}`)},
	}
	got := FilterByOwner(entries, "oid:onoal:user:1")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
}

func TestOtherStreamsUntouched(t *testing.T) {
	e := newEngine(t)

	_, err := e.Append(context.Background(), engine.AppendRequest{
		Stream:  "notes",
		Payload: json.RawMessage(`{"k":1}`),
	})
	require.NoError(t, err)
}
