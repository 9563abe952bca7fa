package btree

import (
	"errors"

	"github.com/tuannm99/novasql/internal/alias/bx"
	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/slottedpage"
	"github.com/tuannm99/novasql/internal/storage"
)

// metaRootPIDOffset places root_pid right after the opaque file-manager
// header; the meta page carries no SlottedPage formatting of its own.
const metaRootPIDOffset = slottedpage.FileHeaderSize

var (
	ErrRecordTooLarge                = errors.New("btree: record exceeds MaxRecordSize")
	ErrRebalanceSeparatorUpdateFailed = errors.New("btree: rebalance could not update the parent separator in place")
	ErrInvalidTree                    = errors.New("btree: meta page does not point at a valid root")
)

// Tree is a B+-tree over one bufferpool.Manager-backed file. pool and fm
// must be bound to the same underlying FileSet.
type Tree struct {
	pool   bufferpool.Manager
	fm     *storage.FileManager
	sch    schema.KeySchema
	unique bool
}

// Create formats a brand new, empty tree: a meta page at page 0 and a
// single empty leaf root.
func Create(pool bufferpool.Manager, fm *storage.FileManager, sch schema.KeySchema, unique bool) (*Tree, error) {
	t := &Tree{pool: pool, fm: fm, sch: sch, unique: unique}

	metaH, metaBuf, err := pool.Pin(0)
	if err != nil {
		return nil, err
	}
	rootH, rootPID, rootBuf, err := pool.PinNew()
	if err != nil {
		_ = pool.Unpin(metaH)
		return nil, err
	}
	if err := slottedpage.InitializePage(rootBuf, PageHeaderSize); err != nil {
		_ = pool.Unpin(metaH)
		_ = pool.Unpin(rootH)
		return nil, err
	}
	setPageFlags(rootBuf, true, true)
	setTotrlen(rootBuf, 0)
	setPrevPID(rootBuf, 0)
	setNextPID(rootBuf, 0)
	setRootPID(metaBuf, rootPID)

	if err := pool.MarkDirty(rootH); err != nil {
		return nil, err
	}
	if err := pool.MarkDirty(metaH); err != nil {
		return nil, err
	}
	if err := pool.Unpin(rootH); err != nil {
		return nil, err
	}
	if err := pool.Unpin(metaH); err != nil {
		return nil, err
	}
	return t, nil
}

// Open wraps an already-formatted tree file without touching any page.
func Open(pool bufferpool.Manager, fm *storage.FileManager, sch schema.KeySchema, unique bool) *Tree {
	return &Tree{pool: pool, fm: fm, sch: sch, unique: unique}
}

func (t *Tree) GetKeySchema() schema.KeySchema { return t.sch }

func (t *Tree) readRootPID() (uint32, error) {
	h, buf, err := t.pool.Pin(0)
	if err != nil {
		return 0, err
	}
	defer t.pool.Unpin(h)
	return bx.U32(buf[metaRootPIDOffset:]), nil
}

func setRootPID(metaBuf []byte, pid uint32) {
	bx.PutU32(metaBuf[metaRootPIDOffset:], pid)
}

// IsEmpty reports whether the tree's root is a leaf with no records.
func (t *Tree) IsEmpty() (bool, error) {
	rootPID, err := t.readRootPID()
	if err != nil {
		return false, err
	}
	h, buf, err := t.pool.Pin(rootPID)
	if err != nil {
		return false, err
	}
	defer t.pool.Unpin(h)
	return isLeafPage(buf) && slottedpage.MaxSlotId(buf) == slottedpage.InvalidSlotID, nil
}

// GetTreeHeight walks the leftmost path from root to leaf and returns its length.
func (t *Tree) GetTreeHeight() (int, error) {
	rootPID, err := t.readRootPID()
	if err != nil {
		return 0, err
	}
	height := 1
	pid := rootPID
	for {
		h, buf, err := t.pool.Pin(pid)
		if err != nil {
			return 0, err
		}
		leaf := isLeafPage(buf)
		var childPID uint32
		if !leaf {
			childPID, _, _, err = internalChildAt(buf, slottedpage.MinSlotId(), t.sch)
		}
		if uerr := t.pool.Unpin(h); uerr != nil {
			return 0, uerr
		}
		if err != nil {
			return 0, err
		}
		if leaf {
			return height, nil
		}
		height++
		pid = childPID
	}
}

// Stats bundles height, distinct leaf count, and total record count — a
// full-scan pass, not an O(1) lookup.
type Stats struct {
	Height      int
	LeafCount   int
	RecordCount int
}

func (t *Tree) Stats() (Stats, error) {
	height, err := t.GetTreeHeight()
	if err != nil {
		return Stats{}, err
	}
	it, err := t.StartScan(nil, false, nil, false)
	if err != nil {
		return Stats{}, err
	}
	defer it.EndScan()

	leaves := map[uint32]struct{}{}
	count := 0
	for {
		ok, err := it.Next()
		if err != nil {
			return Stats{}, err
		}
		if !ok {
			break
		}
		leaves[it.leafPID] = struct{}{}
		count++
	}
	return Stats{Height: height, LeafCount: len(leaves), RecordCount: count}, nil
}


// Close flushes every dirty page belonging to the tree's pool and returns
// the pool's FlushAll error.
func (t *Tree) Close() error {
	return t.pool.FlushAll()
}
