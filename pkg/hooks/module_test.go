package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onoal/nucleus/pkg/container"
	"github.com/onoal/nucleus/pkg/ledger"
)

type fakeModule struct {
	name    string
	version string

	loadErr  error
	startErr error
	stopErr  error

	calls *[]string
}

func (m *fakeModule) Name() string    { return m.name }
func (m *fakeModule) Version() string { return m.version }

func (m *fakeModule) Load(context.Context) error {
	*m.calls = append(*m.calls, m.name+".load")
	return m.loadErr
}

func (m *fakeModule) RegisterServices(c *container.ServiceContainer) error {
	*m.calls = append(*m.calls, m.name+".services")
	return c.RegisterOwned("svc."+m.name, m, m.name)
}

func (m *fakeModule) RegisterHooks(*Pipeline) {
	*m.calls = append(*m.calls, m.name+".hooks")
}

func (m *fakeModule) Start(context.Context) error {
	*m.calls = append(*m.calls, m.name+".start")
	return m.startErr
}

func (m *fakeModule) Stop(context.Context) error {
	*m.calls = append(*m.calls, m.name+".stop")
	return m.stopErr
}

func TestRegistryLifecycleOrder(t *testing.T) {
	var calls []string
	r := NewRegistry(nil)
	require.NoError(t, r.Add(&fakeModule{name: "a", version: "1.0.0", calls: &calls}))
	require.NoError(t, r.Add(&fakeModule{name: "b", version: "0.2.1", calls: &calls}))

	c := container.New()
	p := NewPipeline(nil)
	require.NoError(t, r.StartAll(context.Background(), c, p))

	assert.Equal(t, []string{
		"a.load", "a.services", "a.hooks", "a.start",
		"b.load", "b.services", "b.hooks", "b.start",
	}, calls)

	state, ok := r.State("a")
	require.True(t, ok)
	assert.Equal(t, StateStarted, state)
	assert.True(t, c.Has("svc.a"))
	assert.True(t, c.Has("svc.b"))

	// Stop runs in reverse order and stops only started modules.
	calls = nil
	r.StopAll(context.Background())
	assert.Equal(t, []string{"b.stop", "a.stop"}, calls)
	state, _ = r.State("b")
	assert.Equal(t, StateStopped, state)
}

func TestRegistryRejectsDuplicateAndBadVersion(t *testing.T) {
	var calls []string
	r := NewRegistry(nil)
	require.NoError(t, r.Add(&fakeModule{name: "a", version: "1.0.0", calls: &calls}))

	var ce *ledger.ConfigurationError
	err := r.Add(&fakeModule{name: "a", version: "1.0.1", calls: &calls})
	require.ErrorAs(t, err, &ce)

	err = r.Add(&fakeModule{name: "b", version: "not-semver", calls: &calls})
	require.ErrorAs(t, err, &ce)
}

func TestRegistryStartFailureMarksFailed(t *testing.T) {
	var calls []string
	boom := errors.New("connect refused")
	r := NewRegistry(nil)
	require.NoError(t, r.Add(&fakeModule{name: "a", version: "1.0.0", calls: &calls}))
	require.NoError(t, r.Add(&fakeModule{name: "b", version: "1.0.0", startErr: boom, calls: &calls}))
	require.NoError(t, r.Add(&fakeModule{name: "c", version: "1.0.0", calls: &calls}))

	err := r.StartAll(context.Background(), container.New(), NewPipeline(nil))
	require.ErrorIs(t, err, boom)

	state, _ := r.State("b")
	assert.Equal(t, StateFailed, state)
	state, _ = r.State("c")
	assert.Equal(t, StateRegistered, state, "later modules never started")

	// Stop only touches the modules that actually started.
	calls = nil
	r.StopAll(context.Background())
	assert.Equal(t, []string{"a.stop"}, calls)
}

func TestRegistryStopErrorDoesNotBlockOthers(t *testing.T) {
	var calls []string
	r := NewRegistry(nil)
	require.NoError(t, r.Add(&fakeModule{name: "a", version: "1.0.0", calls: &calls}))
	require.NoError(t, r.Add(&fakeModule{name: "b", version: "1.0.0", stopErr: errors.New("stuck"), calls: &calls}))

	require.NoError(t, r.StartAll(context.Background(), container.New(), NewPipeline(nil)))
	calls = nil
	r.StopAll(context.Background())
	assert.Equal(t, []string{"b.stop", "a.stop"}, calls)

	state, _ := r.State("b")
	assert.Equal(t, StateFailed, state)
	state, _ = r.State("a")
	assert.Equal(t, StateStopped, state)
}
