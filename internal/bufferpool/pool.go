package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/novasql/internal/storage"
	"github.com/tuannm99/novasql/internal/wal"
)

var logDebugPrefix = "bufferpool: "

// DefaultCapacity is used when a caller asks for a pool of size <= 0.
var DefaultCapacity = 16

var (
	// ErrNoFreeFrame is returned when every frame is pinned and the
	// replacer has no victim to offer (Fetch, NewPage).
	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")

	// ErrNotCached is returned when an operation names a page id that
	// is not currently resident in the pool (Unpin, Flush).
	ErrNotCached = errors.New("bufferpool: page not in buffer pool")

	// ErrStillPinned is returned when Delete targets a page whose pin
	// count is above zero.
	ErrStillPinned = errors.New("bufferpool: page is still pinned")

	// ErrAlreadyUnpinned is returned when Unpin is called on a frame
	// whose pin count is already zero.
	ErrAlreadyUnpinned = errors.New("bufferpool: page is already unpinned")

	// ErrInvalidPageID is returned when the caller passes the reserved
	// invalid-page-id sentinel to an operation that needs a real id.
	ErrInvalidPageID = errors.New("bufferpool: invalid page id")
)

// IOError wraps a disk manager failure so callers can distinguish it
// from the pool's own contract-violation errors while still reaching
// the underlying cause with errors.Unwrap.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("bufferpool: io error during %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}

// Manager is the public surface consumed by callers above the buffer
// pool: higher-level access methods pin a page, mutate or read its
// bytes, then unpin.
type Manager interface {
	Fetch(pageID uint32) (*storage.Page, error)
	NewPage() (uint32, *storage.Page, error)
	Unpin(pageID uint32, isDirty bool) error
	Flush(pageID uint32) error
	FlushAll() error
	Delete(pageID uint32) error
}

// Frame holds a single page and its metadata inside the buffer pool.
// Frames are allocated once at construction and never reallocated;
// eviction and reuse repurpose the same slot in place.
type Frame struct {
	PageID uint32
	Page   *storage.Page
	Pin    int32
	Dirty  bool
}

var _ Manager = (*Pool)(nil)

// Pool is a fixed-size buffer pool manager: owns the frame array, the
// page table, the free list and the LRU replacer, and serializes every
// public operation under a single mutex.
type Pool struct {
	disk storage.DiskManager
	wal  *wal.Manager // may be nil; every write-through goes through it first when present

	// walDir/walBase identify the file set passed to wal.AppendPageImage
	// and, on recovery, to wal.PageWriter. Only meaningful when wal != nil.
	walDir  string
	walBase string

	mu        sync.Mutex
	frames    []*Frame
	pageTable map[uint32]int // page id -> frame index
	free      []int          // FIFO of frame indices never yet used or fully released
	replacer  *lruReplacer
}

// NewPool constructs a buffer pool of the given capacity backed by disk.
// walMgr may be nil, in which case pages are written straight through
// with no redo log. walDir/walBase are only consulted when walMgr is
// non-nil; they identify the file set for AppendPageImage/Recover.
func NewPool(disk storage.DiskManager, walMgr *wal.Manager, walDir, walBase string, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	frames := make([]*Frame, capacity)
	free := make([]int, capacity)
	for i := range frames {
		frames[i] = &Frame{PageID: storage.InvalidPageID}
		free[i] = i
	}

	return &Pool{
		disk:      disk,
		wal:       walMgr,
		walDir:    walDir,
		walBase:   walBase,
		frames:    frames,
		pageTable: make(map[uint32]int),
		free:      free,
		replacer:  newLRUReplacer(),
	}
}

// NewPoolFromFileSet is a convenience constructor for the common case of
// a pool backed by a single on-disk file set, wiring up a
// storage.FileDiskManager so callers don't have to. When walMgr is
// non-nil, its log is replayed first: every page image in it is written
// back to the file set recorded with that image, whether or not it is
// fs. Recovery runs before the
// disk manager's page-id counter is seeded, so a replayed page already
// counts toward "pages that exist" and AllocatePage never hands out an
// id the log just replayed.
func NewPoolFromFileSet(sm *storage.StorageManager, fs storage.LocalFileSet, walMgr *wal.Manager, capacity int) (*Pool, error) {
	if walMgr != nil {
		if err := walMgr.Recover(storage.NewWALWriter(sm)); err != nil {
			return nil, fmt.Errorf("bufferpool: wal recover: %w", err)
		}
	}

	disk, err := storage.NewFileDiskManager(sm, fs)
	if err != nil {
		return nil, err
	}
	return NewPool(disk, walMgr, fs.Dir, fs.Base, capacity), nil
}

// acquireFrameLocked returns a frame index ready for reuse: the
// free-list head if one exists, otherwise the replacer's victim. It
// writes back the victim's dirty bytes before handing it over. Returns
// ErrNoFreeFrame if neither source yields a frame.
func (p *Pool) acquireFrameLocked() (int, error) {
	if n := len(p.free); n > 0 {
		idx := p.free[0]
		p.free = p.free[1:]
		return idx, nil
	}

	idx, ok := p.replacer.Victim()
	if !ok {
		return 0, ErrNoFreeFrame
	}

	r := p.frames[idx]
	if r.Pin != 0 {
		// Invariant 1 says this cannot happen; guard against it rather
		// than silently corrupting a pinned caller's bytes.
		p.replacer.Unpin(idx)
		return 0, fmt.Errorf("bufferpool: replacer returned pinned frame %d", idx)
	}

	if r.Dirty {
		if err := p.writeThroughLocked("writeback", r.PageID, r.Page.Buf); err != nil {
			// Put the victim back so the pool is left as it was.
			p.replacer.Unpin(idx)
			return 0, err
		}
		r.Dirty = false
	}

	if r.PageID != storage.InvalidPageID {
		delete(p.pageTable, r.PageID)
	}
	return idx, nil
}

// writeThroughLocked logs a redo record for buf before writing it to
// disk, when the pool has a WAL attached. The record is flushed
// (fsync'd) before the page write so the log never lags the data it
// would need to redo.
func (p *Pool) writeThroughLocked(op string, pageID uint32, buf []byte) error {
	if p.wal != nil {
		lsn, err := p.wal.AppendPageImage(p.walDir, p.walBase, pageID, buf)
		if err != nil {
			return ioErr(op+":wal", err)
		}
		if err := p.wal.Flush(lsn); err != nil {
			return ioErr(op+":wal", err)
		}
	}
	if err := p.disk.WritePage(pageID, buf); err != nil {
		return ioErr(op, err)
	}
	return nil
}

// Fetch returns the page identified by pageID, loading it from disk on a
// miss. The returned page's pin count is incremented unconditionally,
// including on a cache hit, so the replacer is notified of every access.
func (p *Pool) Fetch(pageID uint32) (*storage.Page, error) {
	if pageID == storage.InvalidPageID {
		return nil, ErrInvalidPageID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[pageID]; ok {
		f := p.frames[idx]
		f.Pin++
		p.replacer.Pin(idx)
		slog.Debug(logDebugPrefix+"fetch hit", "pageID", pageID, "pin", f.Pin)
		return f.Page, nil
	}

	idx, err := p.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	f := p.frames[idx]
	if f.Page == nil {
		f.Page = &storage.Page{Buf: make([]byte, storage.PageSize)}
	}
	if err := p.disk.ReadPage(pageID, f.Page.Buf); err != nil {
		f.PageID = storage.InvalidPageID
		p.free = append(p.free, idx)
		return nil, ioErr("read", err)
	}

	p.pageTable[pageID] = idx
	f.PageID = pageID
	f.Dirty = false
	f.Pin = 1

	slog.Debug(logDebugPrefix+"fetch miss loaded", "pageID", pageID, "frameIdx", idx)
	return f.Page, nil
}

// NewPage allocates a fresh page id from the disk manager, binds it to a
// free or evicted frame zeroed in memory, and returns it pinned.
func (p *Pool) NewPage() (uint32, *storage.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err := p.acquireFrameLocked()
	if err != nil {
		return storage.InvalidPageID, nil, err
	}

	pageID := p.disk.AllocatePage()

	f := p.frames[idx]
	buf := make([]byte, storage.PageSize)
	page, err := storage.NewPage(buf, pageID)
	if err != nil {
		p.free = append(p.free, idx)
		return storage.InvalidPageID, nil, err
	}

	p.pageTable[pageID] = idx
	f.Page = page
	f.PageID = pageID
	f.Dirty = false
	f.Pin = 1

	slog.Debug(logDebugPrefix+"new page", "pageID", pageID, "frameIdx", idx)
	return pageID, page, nil
}

// Unpin decrements pageID's pin count. Once it reaches zero the frame
// becomes eviction-eligible and is handed to the replacer. isDirty only
// ever sets the dirty flag; it is never cleared here.
func (p *Pool) Unpin(pageID uint32, isDirty bool) error {
	if pageID == storage.InvalidPageID {
		return ErrInvalidPageID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[pageID]
	if !ok {
		return ErrNotCached
	}

	f := p.frames[idx]
	if f.Pin == 0 {
		return ErrAlreadyUnpinned
	}

	f.Pin--
	if isDirty {
		f.Dirty = true
	}
	if f.Pin == 0 {
		p.replacer.Unpin(idx)
	}

	slog.Debug(logDebugPrefix+"unpin", "pageID", pageID, "pin", f.Pin, "dirty", f.Dirty)
	return nil
}

// Flush writes pageID's frame to disk regardless of its dirty flag. The
// flag is left as-is; see the design notes on why this is intentional.
func (p *Pool) Flush(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(pageID)
}

func (p *Pool) flushLocked(pageID uint32) error {
	idx, ok := p.pageTable[pageID]
	if !ok {
		return ErrNotCached
	}
	f := p.frames[idx]
	return p.writeThroughLocked("flush", pageID, f.Page.Buf)
}

// FlushAll flushes every cached page. Each page's flush is independently
// linearized; a failure partway through leaves earlier flushes durable.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for pageID := range p.pageTable {
		if err := p.flushLocked(pageID); err != nil {
			return err
		}
		p.frames[p.pageTable[pageID]].Dirty = false
	}
	return nil
}

// Delete removes pageID from the pool and asks the disk manager to
// deallocate it. Deleting an id absent from the page table succeeds
// silently (idempotent absence). A pinned page cannot be deleted.
func (p *Pool) Delete(pageID uint32) error {
	if pageID == storage.InvalidPageID {
		return ErrInvalidPageID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[pageID]
	if !ok {
		return nil
	}

	f := p.frames[idx]
	if f.Pin > 0 {
		return ErrStillPinned
	}

	p.replacer.Pin(idx) // defensive: ensure out of the replacer
	delete(p.pageTable, pageID)
	p.disk.DeallocatePage(pageID)

	f.PageID = storage.InvalidPageID
	f.Dirty = false
	p.free = append(p.free, idx)

	slog.Debug(logDebugPrefix+"delete", "pageID", pageID, "frameIdx", idx)
	return nil
}

// Stats reports a point-in-time snapshot useful for the admin protocol
// and tests; it is not part of the core correctness contract.
type Stats struct {
	Capacity    int
	Cached      int
	Free        int
	Replaceable int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity:    len(p.frames),
		Cached:      len(p.pageTable),
		Free:        len(p.free),
		Replaceable: p.replacer.Size(),
	}
}

// Close releases any resources the pool's disk manager holds open (e.g.
// the guard that prevents another manager from opening the same file
// set). It does not flush pending writes; call FlushAll first.
func (p *Pool) Close() error {
	if c, ok := p.disk.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
