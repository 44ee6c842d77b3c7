package identity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundHandle(t *testing.T) {
	var h Handle[planet]

	assert.False(t, h.Bound())

	_, err := h.Value()
	assert.ErrorIs(t, err, ErrUnboundHandle)

	_, err = h.State()
	assert.ErrorIs(t, err, ErrUnboundHandle)

	_, ok := h.ID()
	assert.False(t, ok)

	// Releasing an unbound handle is a no-op.
	h.Release()
	h.Release()

	// Cloning an unbound handle yields another unbound handle.
	clone, err := h.Clone()
	require.NoError(t, err)
	assert.False(t, clone.Bound())

	// The unbound check allocates nothing.
	allocs := testing.AllocsPerRun(100, func() {
		_, _ = h.Value()
	})
	assert.Zero(t, allocs)
}

func TestCloneTracksReferenceCount(t *testing.T) {
	_, m := newPlanetFixture(t)

	h1, err := m.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h1.rec.refs)

	h2, err := h1.Clone()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), h1.rec.refs)
	assert.True(t, h1.Same(h2))

	h3, err := m.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h1.rec.refs)

	h3.Release()
	assert.Equal(t, uint32(2), h1.rec.refs)
	h2.Release()
	assert.Equal(t, uint32(1), h1.rec.refs)

	// Double release of the same handle decrements only once.
	h2.Release()
	assert.Equal(t, uint32(1), h1.rec.refs)

	h1.Release()
	assert.Equal(t, 0, m.Len())
}

func TestStaleCopyReleasesNothing(t *testing.T) {
	_, m := newPlanetFixture(t)

	h, err := m.Get(1)
	require.NoError(t, err)

	alias, err := h.Clone()
	require.NoError(t, err)
	defer alias.Release()

	copied := h // value copy sharing h's acquisition
	h.Release()
	require.Equal(t, uint32(1), alias.rec.refs)

	// The copy's claim went with h; releasing it changes nothing.
	copied.Release()
	assert.Equal(t, uint32(1), alias.rec.refs)
	assert.Equal(t, 1, m.Len())

	// Nor can the stale copy mint a fresh claim.
	clone, err := copied.Clone()
	require.NoError(t, err)
	assert.False(t, clone.Bound())
	assert.Equal(t, uint32(1), alias.rec.refs)
}

func TestCloneOverflow(t *testing.T) {
	_, m := newPlanetFixture(t)

	h, err := m.Get(1)
	require.NoError(t, err)

	h.rec.refs = math.MaxUint32

	// The failed clone changes nothing on either side.
	clone, err := h.Clone()
	assert.ErrorIs(t, err, ErrOverflow)
	assert.False(t, clone.Bound())
	assert.Equal(t, uint32(math.MaxUint32), h.rec.refs)
	assert.True(t, h.Bound())

	h.rec.refs = 1
	h.Release()
}

func TestGetOverflowLeavesCacheIntact(t *testing.T) {
	_, m := newPlanetFixture(t)

	h, err := m.Get(1)
	require.NoError(t, err)
	h.rec.refs = math.MaxUint32

	_, err = m.Get(1)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 1, m.Len())

	h.rec.refs = 1
	h.Release()
}

func TestHandleEquality(t *testing.T) {
	_, m := newPlanetFixture(t)

	h1, err := m.Get(1)
	require.NoError(t, err)
	defer h1.Release()

	h2, err := m.Get(2)
	require.NoError(t, err)
	defer h2.Release()

	alias, err := h1.Clone()
	require.NoError(t, err)
	defer alias.Release()

	assert.True(t, h1.Same(alias))
	assert.False(t, h1.Same(h2))

	var unbound, unbound2 Handle[planet]
	assert.True(t, unbound.Same(unbound2))
	assert.False(t, h1.Same(unbound))
}

func TestPolymorphicAccess(t *testing.T) {
	_, m := newShapeFixture(t)

	hc, err := m.Get(1)
	require.NoError(t, err)
	defer hc.Release()

	hr, err := m.Get(2)
	require.NoError(t, err)
	defer hr.Release()

	// The base-typed handle exposes the polymorphic value.
	v, err := hc.Value()
	require.NoError(t, err)
	assert.InDelta(t, 12.566, (*v).Area(), 0.001)

	// ValueAs checks the concrete runtime type.
	circ, err := ValueAs[circle](hc)
	require.NoError(t, err)
	assert.Equal(t, 2.0, circ.Radius)

	rect, err := ValueAs[rectangle](hr)
	require.NoError(t, err)
	assert.Equal(t, 12.0, rect.Area())

	_, err = ValueAs[rectangle](hc)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	var unbound Handle[shape]
	_, err = ValueAs[circle](unbound)
	assert.ErrorIs(t, err, ErrUnboundHandle)
}

func TestPolymorphicSingleInstance(t *testing.T) {
	_, m := newShapeFixture(t)

	h1, err := m.Get(1)
	require.NoError(t, err)
	defer h1.Release()

	h2, err := m.GetUnchecked(1)
	require.NoError(t, err)
	defer h2.Release()

	assert.True(t, h1.Same(h2))
	assert.Equal(t, 1, m.Len())
}
