package storage

import "fmt"

// Page is the byte-for-byte representation of a single on-disk page: a
// slotted layout with a small fixed header, a line-pointer directory that
// grows downward from the header, and tuple bytes that grow upward from
// the end of the page.
//
//	+------------------+ 0
//	| flags | page_id   |
//	| lower | upper     |
//	| special           |
//	| LinePointers[]    | <-- lower
//	+------------------+
//	|   free space      |
//	+------------------+ <-- upper
//	|  Tuple Data       |
//	|  (grows down)     |
//	+------------------+ <-- special
//	|  Special Space    |
//	+------------------+ PageSize
//
// A Page never synchronizes itself; callers sharing the same Page (for
// example through a pinned buffer pool frame) coordinate their own access.
type Page struct {
	Buf []byte
}

// NewPage wraps buf (which must be exactly PageSize bytes) as a freshly
// initialized page carrying pageID.
func NewPage(buf []byte, pageID uint32) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWriteExceedPageSize
	}
	p := &Page{Buf: buf}
	p.init(pageID)
	return p, nil
}

func (p *Page) init(pageID uint32) {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	PutU16(p.Buf, 0, 0)          // flags
	PutU32(p.Buf, 2, pageID)     // page_id
	PutU16(p.Buf, 6, HeaderSize) // lower
	PutU16(p.Buf, 8, PageSize)   // upper
	PutU16(p.Buf, 10, PageSize)  // special (unused)
}

// Reset zeros the buffer and reinitializes it for pageID, so no stale
// bytes from a previous occupant of the buffer remain.
func (p *Page) Reset(pageID uint32) {
	p.init(pageID)
}

// DebugString summarizes the page header and slot directory in one line.
func (p *Page) DebugString() string {
	return fmt.Sprintf("page{id=%d lower=%d upper=%d slots=%d free=%d}",
		p.PageID(), p.lower(), p.upper(), p.NumSlots(), p.FreeSpace())
}

// IsUninitialized reports whether the page has never been through init:
// both flags and lower read as zero. StorageManager uses this to decide
// whether a page loaded from a sparse, zero-filled region of the file
// needs its header stamped in before first use.
func (p *Page) IsUninitialized() bool {
	return GetU16(p.Buf, 0) == 0 && GetU16(p.Buf, 6) == 0
}

func (p *Page) flags() uint16   { return GetU16(p.Buf, 0) }
func (p *Page) PageID() uint32  { return GetU32(p.Buf, 2) }
func (p *Page) lower() uint16   { return GetU16(p.Buf, 6) }
func (p *Page) setLower(v uint16) { PutU16(p.Buf, 6, v) }
func (p *Page) upper() uint16   { return GetU16(p.Buf, 8) }
func (p *Page) setUpper(v uint16) { PutU16(p.Buf, 8, v) }
func (p *Page) special() uint16 { return GetU16(p.Buf, 10) }

// NumSlots returns the number of line pointers in the directory,
// including ones whose tuple has since been deleted or moved.
func (p *Page) NumSlots() int {
	return (int(p.lower()) - HeaderSize) / SlotSize
}

// FreeSpace is the number of bytes available for a new tuple plus its
// line pointer.
func (p *Page) FreeSpace() int {
	return int(p.upper()) - int(p.lower())
}

type slot struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

func (p *Page) slotOff(idx int) int {
	return HeaderSize + idx*SlotSize
}

func (p *Page) getSlot(idx int) (slot, error) {
	if idx < 0 || idx >= p.NumSlots() {
		return slot{}, ErrBadSlot
	}
	o := p.slotOff(idx)
	return slot{
		Offset: GetU16(p.Buf, o),
		Length: GetU16(p.Buf, o+2),
		Flags:  GetU16(p.Buf, o+4),
	}, nil
}

func (p *Page) putSlot(idx int, s slot) {
	o := p.slotOff(idx)
	PutU16(p.Buf, o, s.Offset)
	PutU16(p.Buf, o+2, s.Length)
	PutU16(p.Buf, o+4, s.Flags)
}

func (p *Page) appendSlot(s slot) int {
	idx := p.NumSlots()
	p.putSlot(idx, s)
	p.setLower(p.lower() + SlotSize)
	return idx
}

// InsertTuple appends tup's bytes to the free space in the middle of the
// page and records a new line pointer for it, returning the new slot
// index. It fails with ErrPageFull if there isn't enough contiguous free
// space for both the tuple and its line pointer.
func (p *Page) InsertTuple(tup []byte) (int, error) {
	need := len(tup) + SlotSize
	if p.FreeSpace() < need {
		return -1, ErrPageFull
	}
	u := p.upper() - uint16(len(tup))
	copy(p.Buf[u:], tup)
	p.setUpper(u)
	return p.appendSlot(slot{Offset: u, Length: uint16(len(tup)), Flags: SlotFlagNormal}), nil
}

// ReadTuple returns the bytes for slot, following a MOVED redirect when
// UpdateTuple could not update the tuple in place.
func (p *Page) ReadTuple(idx int) ([]byte, error) {
	s, err := p.getSlot(idx)
	if err != nil {
		return nil, err
	}
	switch s.Flags {
	case SlotFlagNormal:
		return p.Buf[s.Offset : s.Offset+s.Length], nil
	case SlotFlagMoved:
		// Offset/Length were repurposed to store the redirect target.
		return p.ReadTuple(int(s.Offset))
	default:
		return nil, ErrBadSlot
	}
}

// UpdateTuple overwrites slot's tuple in place when the new value fits in
// the existing line-pointer length; otherwise it inserts the new value
// as a fresh tuple and turns the old slot into a MOVED redirect so
// existing TIDs referencing it keep resolving correctly.
func (p *Page) UpdateTuple(idx int, newTuple []byte) error {
	s, err := p.getSlot(idx)
	if err != nil {
		return err
	}
	if s.Flags != SlotFlagNormal {
		return ErrBadSlot
	}
	if len(newTuple) <= int(s.Length) {
		copy(p.Buf[s.Offset:], newTuple)
		p.putSlot(idx, slot{Offset: s.Offset, Length: uint16(len(newTuple)), Flags: SlotFlagNormal})
		return nil
	}
	moved, err := p.InsertTuple(newTuple)
	if err != nil {
		return err
	}
	p.putSlot(idx, slot{Offset: uint16(moved), Length: 0, Flags: SlotFlagMoved})
	return nil
}

// DeleteTuple marks slot as deleted; the bytes stay in place until the
// page is compacted (compaction is not implemented, matching the rest of
// this layer's Non-goals).
func (p *Page) DeleteTuple(idx int) error {
	s, err := p.getSlot(idx)
	if err != nil {
		return err
	}
	p.putSlot(idx, slot{Offset: s.Offset, Length: s.Length, Flags: SlotFlagDeleted})
	return nil
}
