package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "rebuybot/pkg/errors"
)

func TestRegistry_RegisterRejectsAliveHandle(t *testing.T) {
	reg := NewRegistry()
	h1 := newHandle(nil, "")
	h2 := newHandle(nil, "")

	require.NoError(t, reg.Register(1, h1))
	assert.ErrorIs(t, reg.Register(1, h2), apperrors.ErrAlreadyRunning)

	// a finished handle no longer blocks registration
	h1.finish()
	require.NoError(t, reg.Register(1, h2))
	got, ok := reg.Get(1)
	require.True(t, ok)
	assert.Same(t, h2, got)
}

func TestRegistry_IdentityGuard(t *testing.T) {
	reg := NewRegistry()
	stale := newHandle(nil, "gen-1")
	fresh := newHandle(nil, "gen-2")

	require.NoError(t, reg.Register(7, stale))
	reg.Replace(7, fresh)

	assert.False(t, reg.RemoveIf(7, stale), "stale handle must not remove its replacement")
	got, ok := reg.Get(7)
	require.True(t, ok)
	assert.Equal(t, "gen-2", got.Generation)

	assert.False(t, reg.Release(7, stale), "stale handle must not own the status of its replacement")
	got, ok = reg.Get(7)
	require.True(t, ok)
	assert.Same(t, fresh, got)

	assert.True(t, reg.Release(7, fresh))
	_, ok = reg.Get(7)
	assert.False(t, ok)
}

func TestRegistry_ReleaseWithoutEntryKeepsOwnership(t *testing.T) {
	reg := NewRegistry()
	h := newHandle(nil, "")

	assert.True(t, reg.Release(3, h))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_IDsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []int64{5, 1, 3} {
		require.NoError(t, reg.Register(id, newHandle(nil, "")))
	}
	assert.Equal(t, []int64{1, 3, 5}, reg.IDs())
	assert.Equal(t, 3, reg.Len())
}

func TestHandle_Alive(t *testing.T) {
	h := newHandle(nil, "")
	assert.True(t, h.Alive())
	assert.NotEmpty(t, h.Generation)

	h.finish()
	h.finish()
	assert.False(t, h.Alive())
	<-h.Done()
}
