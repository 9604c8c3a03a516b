package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onoal/nucleus/pkg/ledger"
)

func TestRegisterAndResolve(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("signer", "the-signer"))

	svc, err := c.Resolve("signer")
	require.NoError(t, err)
	assert.Equal(t, "the-signer", svc)
	assert.True(t, c.Has("signer"))
	assert.False(t, c.Has("other"))
}

func TestRegisterRejectsDuplicatesAndNil(t *testing.T) {
	c := New()
	require.NoError(t, c.RegisterOwned("signer", "a", "proofs"))

	err := c.Register("signer", "b")
	require.Error(t, err)
	var ce *ledger.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), `module "proofs"`)

	err = c.Register("cache", nil)
	require.ErrorAs(t, err, &ce)

	err = c.Register("", "x")
	require.ErrorAs(t, err, &ce)
}

func TestResolveMissListsRegisteredNames(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("signer", 1))
	require.NoError(t, c.Register("store", 2))

	_, err := c.Resolve("cache")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Contains(t, err.Error(), "signer")
	assert.Contains(t, err.Error(), "store")
}

func TestNamesOwnerClear(t *testing.T) {
	c := New()
	require.NoError(t, c.RegisterOwned("b", 1, "mod-b"))
	require.NoError(t, c.Register("a", 2))

	assert.Equal(t, []string{"a", "b"}, c.Names())

	owner, ok := c.Owner("b")
	require.True(t, ok)
	assert.Equal(t, "mod-b", owner)
	owner, ok = c.Owner("a")
	require.True(t, ok)
	assert.Empty(t, owner)

	c.Clear()
	assert.Empty(t, c.Names())
}
