// Package bufferpool implements the buffer manager the B-tree core consumes:
// Pin, PinNew, Unpin, MarkDirty, GetPageNumber, GetBuffer. One Pool binds to
// one FileSet (one index file); page replacement uses CLOCK.
package bufferpool

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/tuannm99/novasql/internal/storage"
)

const logDebugPrefix = "bufferpool: "

var (
	// ErrNoFreeFrame is returned when no unpinned frame is available for replacement.
	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")

	// ErrPagePinned is returned when trying to evict/delete a pinned page.
	ErrPagePinned = errors.New("bufferpool: page is pinned")

	// ErrBadHandle is returned when a PinHandle does not belong to this pool
	// or has already been unpinned.
	ErrBadHandle = errors.New("bufferpool: invalid or stale pin handle")
)

const DefaultCapacity = 128

// Replacer tracks which frame indices are eligible for eviction and chooses
// a victim among them. Frame indices range over [0, capacity).
type Replacer interface {
	RecordAccess(frameID int)
	SetEvictable(frameID int, evictable bool)
	Evict() (frameID int, ok bool)
	Remove(frameID int)
	Size() int
}

// Frame holds one page and its metadata inside the pool.
type Frame struct {
	PageID uint32
	Page   *storage.Page
	Dirty  bool
	Pin    int32
}

// PinHandle is an opaque reference to a pinned frame. The zero value is not
// valid; handles are only produced by Pin/PinNew.
type PinHandle struct {
	idx int
	gen uint64
}

// Manager is the buffer-manager interface the B-tree core is written
// against (spec section 6): Pin/PinNew/Unpin/MarkDirty plus the reflective
// accessors GetPageNumber/GetBuffer.
type Manager interface {
	Pin(pageID uint32) (PinHandle, []byte, error)
	PinNew() (PinHandle, uint32, []byte, error)
	Unpin(h PinHandle) error
	MarkDirty(h PinHandle) error
	GetPageNumber(h PinHandle) uint32
	GetBuffer(h PinHandle) []byte
	FlushAll() error
}

var _ Manager = (*Pool)(nil)

// Pool is a fixed-size buffer pool bound to one FileSet, backed by a CLOCK
// replacement policy.
type Pool struct {
	sm *storage.StorageManager
	fs storage.FileSet
	fm *storage.FileManager

	mu        sync.Mutex
	frames    []*Frame // fixed-size, nil == free slot
	pageTable map[uint32]int
	repl      Replacer
	capacity  int
	// gens lets a stale PinHandle (one whose frame has since been reused for
	// a different page) be rejected instead of silently corrupting state.
	gens []uint64
}

// NewPool creates a buffer pool of the given capacity (DefaultCapacity if <= 0)
// over fs, allocating new pages through fm.
func NewPool(sm *storage.StorageManager, fs storage.FileSet, fm *storage.FileManager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		sm:        sm,
		fs:        fs,
		fm:        fm,
		frames:    make([]*Frame, capacity),
		pageTable: make(map[uint32]int),
		repl:      newClockAdapter(capacity),
		capacity:  capacity,
		gens:      make([]uint64, capacity),
	}
}

// Pin borrows pageID's bytes, loading it from disk if not already resident.
func (p *Pool) Pin(pageID uint32) (PinHandle, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[pageID]; ok {
		f := p.frames[idx]
		wasZero := f.Pin == 0
		f.Pin++
		p.repl.RecordAccess(idx)
		if wasZero {
			p.repl.SetEvictable(idx, false)
		}
		slog.Debug(logDebugPrefix+"pin hit", "pageID", pageID, "pin", f.Pin)
		return PinHandle{idx: idx, gen: p.gens[idx]}, f.Page.Buf, nil
	}

	idx, err := p.acquireFrameLocked(pageID)
	if err != nil {
		return PinHandle{}, nil, err
	}

	page, err := p.sm.LoadPage(p.fs, pageID)
	if err != nil {
		return PinHandle{}, nil, err
	}
	p.frames[idx] = &Frame{PageID: pageID, Page: page, Pin: 1}
	p.pageTable[pageID] = idx
	p.repl.RecordAccess(idx)
	p.repl.SetEvictable(idx, false)

	slog.Debug(logDebugPrefix+"pin miss, loaded", "pageID", pageID, "frameIdx", idx)
	return PinHandle{idx: idx, gen: p.gens[idx]}, page.Buf, nil
}

// PinNew allocates a fresh page id through the file manager and pins a
// zero-filled buffer for it. The caller is responsible for formatting the
// page (e.g. slottedpage.InitializePage) before unpinning.
func (p *Pool) PinNew() (PinHandle, uint32, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pageID := p.fm.AllocatePage()

	idx, err := p.acquireFrameLocked(pageID)
	if err != nil {
		p.fm.FreePage(pageID)
		return PinHandle{}, 0, nil, err
	}

	buf := make([]byte, storage.PageSize)
	page := storage.NewPage(pageID, buf)
	p.frames[idx] = &Frame{PageID: pageID, Page: page, Pin: 1, Dirty: true}
	p.pageTable[pageID] = idx
	p.repl.RecordAccess(idx)
	p.repl.SetEvictable(idx, false)

	slog.Debug(logDebugPrefix+"pinned new page", "pageID", pageID, "frameIdx", idx)
	return PinHandle{idx: idx, gen: p.gens[idx]}, pageID, buf, nil
}

// acquireFrameLocked returns a frame index to use for a not-yet-resident
// page, evicting a victim if the pool has no free slot. Caller holds p.mu.
func (p *Pool) acquireFrameLocked(wantPageID uint32) (int, error) {
	for i, f := range p.frames {
		if f == nil {
			return i, nil
		}
	}

	victimIdx, ok := p.repl.Evict()
	if !ok {
		return -1, ErrNoFreeFrame
	}
	victim := p.frames[victimIdx]
	if victim.Dirty {
		if err := p.sm.SavePage(p.fs, victim.PageID, *victim.Page); err != nil {
			p.repl.RecordAccess(victimIdx)
			p.repl.SetEvictable(victimIdx, true)
			return -1, err
		}
	}
	delete(p.pageTable, victim.PageID)
	p.frames[victimIdx] = nil
	p.gens[victimIdx]++
	return victimIdx, nil
}

func (p *Pool) frameFor(h PinHandle) (*Frame, error) {
	if h.idx < 0 || h.idx >= p.capacity {
		return nil, ErrBadHandle
	}
	if p.gens[h.idx] != h.gen {
		return nil, ErrBadHandle
	}
	f := p.frames[h.idx]
	if f == nil {
		return nil, ErrBadHandle
	}
	return f, nil
}

// Unpin releases one pin on the page identified by h.
func (p *Pool) Unpin(h PinHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.frameFor(h)
	if err != nil {
		return err
	}
	if f.Pin > 0 {
		f.Pin--
	}
	if f.Pin == 0 {
		p.repl.SetEvictable(h.idx, true)
	}
	return nil
}

// MarkDirty marks the page behind h for write-back on eviction/flush.
func (p *Pool) MarkDirty(h PinHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.frameFor(h)
	if err != nil {
		return err
	}
	f.Dirty = true
	return nil
}

// GetPageNumber is a reflective accessor returning the page id behind h.
func (p *Pool) GetPageNumber(h PinHandle) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.frameFor(h)
	if err != nil {
		return 0
	}
	return f.PageID
}

// GetBuffer is a reflective accessor returning the byte slice behind h.
func (p *Pool) GetBuffer(h PinHandle) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.frameFor(h)
	if err != nil {
		return nil
	}
	return f.Page.Buf
}

// FlushAll writes every dirty frame back to disk.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range p.frames {
		if f == nil || !f.Dirty {
			continue
		}
		if err := p.sm.SavePage(p.fs, f.PageID, *f.Page); err != nil {
			return err
		}
		f.Dirty = false
	}
	return nil
}
