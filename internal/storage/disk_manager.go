package storage

import (
	"fmt"
	"sync"
)

// DiskManager is the external collaborator the buffer pool manager talks
// to for page-id allocation and raw block I/O. It knows nothing about
// pinning, dirty flags, or replacement — that is bufferpool's job.
type DiskManager interface {
	AllocatePage() uint32
	DeallocatePage(pageID uint32)
	ReadPage(pageID uint32, buf []byte) error
	WritePage(pageID uint32, buf []byte) error
}

var _ DiskManager = (*FileDiskManager)(nil)

// openFileSets guards against two FileDiskManager instances in the same
// process racing on the same segment files: each open LocalFileSet gets
// at most one live manager at a time.
var openFileSets sync.Map // FsKeyOf key -> struct{}

// FileDiskManager implements DiskManager on top of a StorageManager and a
// single LocalFileSet: pages are allocated sequentially, with deallocated
// ids recycled before the counter advances.
type FileDiskManager struct {
	mu sync.Mutex

	sm  *StorageManager
	fs  LocalFileSet
	key string // FsKeyOf(fs), empty if fs wasn't a LocalFileSet-shaped key

	nextID uint32
	free   []uint32
}

// NewFileDiskManager opens (creating as needed) the segment files under
// fs and seeds the page-id counter from however many pages already exist
// on disk, so reopening a previously populated store resumes allocation
// past the highest page written to the segment files. Ids handed out but
// never written, and the recycled-id list, are not remembered across a
// reopen. Returns an error if fs is already
// open under another FileDiskManager in this process.
func NewFileDiskManager(sm *StorageManager, fs LocalFileSet) (*FileDiskManager, error) {
	key, _, _ := FsKeyOf(fs)
	if key != "" {
		if _, loaded := openFileSets.LoadOrStore(key, struct{}{}); loaded {
			return nil, fmt.Errorf("storage: file set %s is already open", key)
		}
	}

	existing, err := sm.CountPages(fs)
	if err != nil {
		if key != "" {
			openFileSets.Delete(key)
		}
		return nil, err
	}
	return &FileDiskManager{sm: sm, fs: fs, key: key, nextID: existing}, nil
}

// Close releases the guard that prevents a second FileDiskManager from
// opening the same file set; it does not touch any on-disk bytes.
func (d *FileDiskManager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.key != "" {
		openFileSets.Delete(d.key)
		d.key = ""
	}
	return nil
}

// DestroyAll deletes every segment file backing this disk manager. The
// caller is responsible for ensuring no page from this file set is still
// resident in a buffer pool.
func (d *FileDiskManager) DestroyAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return RemoveAllSegments(d.fs)
}

// Relocate moves every segment file from this disk manager's file set to
// newFS and starts addressing newFS from then on.
func (d *FileDiskManager) Relocate(newFS LocalFileSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := RenameAllSegments(d.fs, newFS); err != nil {
		return err
	}

	if d.key != "" {
		openFileSets.Delete(d.key)
	}
	d.fs = newFS
	d.key, _, _ = FsKeyOf(newFS)
	if d.key != "" {
		openFileSets.Store(d.key, struct{}{})
	}
	return nil
}

func (d *FileDiskManager) AllocatePage() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.free); n > 0 {
		id := d.free[n-1]
		d.free = d.free[:n-1]
		return id
	}
	id := d.nextID
	d.nextID++
	return id
}

// DeallocatePage marks id reusable by a future AllocatePage. It does not
// truncate or punch a hole in the backing segment file; the bytes simply
// become eligible for overwrite once reallocated.
func (d *FileDiskManager) DeallocatePage(pageID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free = append(d.free, pageID)
}

func (d *FileDiskManager) ReadPage(pageID uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pageID > 1<<31-1 {
		return ErrInvalidPageID
	}
	return d.sm.ReadPage(d.fs, int32(pageID), buf)
}

func (d *FileDiskManager) WritePage(pageID uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pageID > 1<<31-1 {
		return ErrInvalidPageID
	}
	return d.sm.WritePage(d.fs, int32(pageID), buf)
}
