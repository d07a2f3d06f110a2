package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUReplacer_VictimOrder(t *testing.T) {
	r := newLRUReplacer()

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	require.Equal(t, 3, r.Size())

	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, r.Size())

	v, ok = r.Victim()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRUReplacer_PinRemoves(t *testing.T) {
	r := newLRUReplacer()
	r.Unpin(1)
	r.Unpin(2)

	r.Pin(1)
	assert.Equal(t, 1, r.Size())

	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRUReplacer_UnpinAgainIsNoop(t *testing.T) {
	r := newLRUReplacer()
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(1) // already present: position unchanged

	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestLRUReplacer_VictimOnEmpty(t *testing.T) {
	r := newLRUReplacer()
	_, ok := r.Victim()
	assert.False(t, ok)
}
