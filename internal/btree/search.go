package btree

import (
	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/slottedpage"
)

// compareFields compares search against record field-by-field over their
// common prefix. If search is a strict prefix of record and they agree on
// every shared field, search compares LESS (used by range-scan bounds).
func compareFields(sch schema.KeySchema, search, record []schema.FieldValue) int {
	n := len(search)
	if len(record) < n {
		n = len(record)
	}
	for i := 0; i < n; i++ {
		if sch.Less(i, search[i], record[i]) {
			return -1
		}
		if sch.Less(i, record[i], search[i]) {
			return 1
		}
	}
	if len(search) < len(record) {
		return -1
	}
	return 0
}

// compareTuple compares a search key (search, searchRID) against an on-page
// record (record, recordRID). See SearchRID for how the sentinel recid
// kinds bias an equal-key comparison.
func compareTuple(sch schema.KeySchema, search []schema.FieldValue, searchRID SearchRID, record []schema.FieldValue, recordRID RID) int {
	if c := compareFields(sch, search, record); c != 0 {
		return c
	}
	switch searchRID.Kind {
	case RIDMinusInfinity:
		return -1
	case RIDPlusInfinity:
		return 1
	default:
		return compareRID(searchRID.RID, recordRID)
	}
}

// BinarySearchOnPage finds the largest slot id whose record compares <= the
// search key, or InvalidSlotID if even the first record is greater (leaf
// pages only — an internal page's first record has no key and always
// qualifies).
func BinarySearchOnPage(buf []byte, isLeaf bool, sch schema.KeySchema, search []schema.FieldValue, searchRID SearchRID) slottedpage.SlotID {
	hi := slottedpage.MaxSlotId(buf)
	if hi == slottedpage.InvalidSlotID {
		return slottedpage.InvalidSlotID
	}
	lo := slottedpage.MinSlotId()
	result := slottedpage.InvalidSlotID

	for lo <= hi {
		mid := lo + (hi-lo)/2

		var cmp int
		if !isLeaf && mid == slottedpage.MinSlotId() {
			cmp = 1 // headerless first internal record always qualifies
		} else {
			var fields []schema.FieldValue
			var rid RID
			var err error
			if isLeaf {
				fields, rid, err = leafRecordAt(buf, mid, sch)
			} else {
				_, fields, rid, err = internalChildAt(buf, mid, sch)
			}
			if err != nil {
				return result
			}
			cmp = compareTuple(sch, search, searchRID, fields, rid)
		}

		if cmp >= 0 {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}

// PathStep records, for one level of a descent, the page pinned and the
// slot id of the child pointer that was followed.
type PathStep struct {
	ParentPageID uint32
	Slot         slottedpage.SlotID
}

// findLeaf descends from the root to the leaf that would hold (search,
// searchRID), optionally recording the path taken for later ascent.
func (t *Tree) findLeaf(search []schema.FieldValue, searchRID SearchRID, path *[]PathStep) (bufferpool.PinHandle, uint32, error) {
	rootPID, err := t.readRootPID()
	if err != nil {
		return bufferpool.PinHandle{}, 0, err
	}

	h, buf, err := t.pool.Pin(rootPID)
	if err != nil {
		return bufferpool.PinHandle{}, 0, err
	}
	pid := rootPID

	for {
		if isLeafPage(buf) {
			return h, pid, nil
		}
		sid := BinarySearchOnPage(buf, false, t.sch, search, searchRID)
		childPID, _, _, err := internalChildAt(buf, sid, t.sch)
		if err != nil {
			_ = t.pool.Unpin(h)
			return bufferpool.PinHandle{}, 0, err
		}
		if path != nil {
			*path = append(*path, PathStep{ParentPageID: pid, Slot: sid})
		}
		if err := t.pool.Unpin(h); err != nil {
			return bufferpool.PinHandle{}, 0, err
		}
		h, buf, err = t.pool.Pin(childPID)
		if err != nil {
			return bufferpool.PinHandle{}, 0, err
		}
		pid = childPID
	}
}
