package bufferpool

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/storage"
)

// newTestPool creates a temporary on-disk file set and a buffer pool of
// the given capacity backed by it.
func newTestPool(t *testing.T, capacity int) (*Pool, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "novasql-bp-*")
	require.NoError(t, err)

	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "testtable"}

	pool, err := NewPoolFromFileSet(sm, fs, nil, capacity)
	require.NoError(t, err)

	return pool, func() { _ = os.RemoveAll(dir) }
}

func TestNewPool_DefaultCapacity(t *testing.T) {
	pool, cleanup := newTestPool(t, 0)
	defer cleanup()
	require.Len(t, pool.frames, DefaultCapacity)
}

func TestPool_NewPage_FetchAndPin(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	id, page, err := pool.NewPage()
	require.NoError(t, err)
	assert.Equal(t, id, page.PageID())

	again, err := pool.Fetch(id)
	require.NoError(t, err)
	assert.Same(t, page, again)
	assert.Equal(t, int32(2), pool.frames[pool.pageTable[id]].Pin)
}

func TestPool_Fetch_InvalidPageID(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	_, err := pool.Fetch(storage.InvalidPageID)
	assert.ErrorIs(t, err, ErrInvalidPageID)
}

func TestPool_AllPinned_NoFreeFrame(t *testing.T) {
	pool, cleanup := newTestPool(t, 1)
	defer cleanup()

	_, _, err := pool.NewPage()
	require.NoError(t, err)

	_, _, err = pool.NewPage()
	assert.ErrorIs(t, err, ErrNoFreeFrame)
}

func TestPool_UnpinBlocksThenAllowsEviction(t *testing.T) {
	pool, cleanup := newTestPool(t, 1)
	defer cleanup()

	id0, _, err := pool.NewPage()
	require.NoError(t, err)

	_, _, err = pool.NewPage()
	assert.ErrorIs(t, err, ErrNoFreeFrame)

	require.NoError(t, pool.Unpin(id0, false))

	id1, _, err := pool.NewPage()
	require.NoError(t, err)
	assert.NotEqual(t, id0, id1)
}

func TestPool_Unpin_AlreadyUnpinned(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	id, _, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(id, false))

	err = pool.Unpin(id, false)
	assert.ErrorIs(t, err, ErrAlreadyUnpinned)
}

func TestPool_Unpin_NotCached(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	err := pool.Unpin(999, false)
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestPool_DirtyWritebackOnEviction(t *testing.T) {
	pool, cleanup := newTestPool(t, 1)
	defer cleanup()

	id, page, err := pool.NewPage()
	require.NoError(t, err)
	page.Buf[0] = 0x42

	require.NoError(t, pool.Unpin(id, true))

	// Force eviction of the only frame.
	_, _, err = pool.NewPage()
	require.NoError(t, err)

	buf := make([]byte, storage.PageSize)
	require.NoError(t, pool.disk.ReadPage(id, buf))
	assert.Equal(t, byte(0x42), buf[0])
}

func TestPool_Flush_WritesDirtyPage(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	id, page, err := pool.NewPage()
	require.NoError(t, err)
	page.Buf[5] = 0x99

	require.NoError(t, pool.Unpin(id, true))
	require.NoError(t, pool.Flush(id))

	buf := make([]byte, storage.PageSize)
	require.NoError(t, pool.disk.ReadPage(id, buf))
	assert.Equal(t, byte(0x99), buf[5])
}

func TestPool_Flush_NotCached(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	err := pool.Flush(999)
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestPool_FlushAll_WritesDirtyFrames(t *testing.T) {
	pool, cleanup := newTestPool(t, 2)
	defer cleanup()

	id0, page0, err := pool.NewPage()
	require.NoError(t, err)
	id1, page1, err := pool.NewPage()
	require.NoError(t, err)

	page0.Buf[10] = 11
	page1.Buf[20] = 22

	require.NoError(t, pool.Unpin(id0, true))
	require.NoError(t, pool.Unpin(id1, true))

	require.NoError(t, pool.FlushAll())

	buf := make([]byte, storage.PageSize)
	require.NoError(t, pool.disk.ReadPage(id0, buf))
	assert.Equal(t, byte(11), buf[10])

	require.NoError(t, pool.disk.ReadPage(id1, buf))
	assert.Equal(t, byte(22), buf[20])
}

func TestPool_DeleteWhilePinned(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	id, _, err := pool.NewPage()
	require.NoError(t, err)

	err = pool.Delete(id)
	assert.ErrorIs(t, err, ErrStillPinned)

	require.NoError(t, pool.Unpin(id, false))
	require.NoError(t, pool.Delete(id))

	_, ok := pool.pageTable[id]
	assert.False(t, ok)
}

func TestPool_DeleteAbsent_NoOp(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	assert.NoError(t, pool.Delete(123))
}

func TestPool_LRUOrder(t *testing.T) {
	pool, cleanup := newTestPool(t, 3)
	defer cleanup()

	a, _, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(a, false))

	b, _, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(b, false))

	c, _, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(c, false))

	// Pool is full of unpinned frames; next NewPage evicts a (least
	// recently unpinned).
	d, _, err := pool.NewPage()
	require.NoError(t, err)

	_, aCached := pool.pageTable[a]
	assert.False(t, aCached)
	_, bCached := pool.pageTable[b]
	assert.True(t, bCached)
	_, cCached := pool.pageTable[c]
	assert.True(t, cCached)
	_, dCached := pool.pageTable[d]
	assert.True(t, dCached)
}
