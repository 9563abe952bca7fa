package btree

import (
	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/slottedpage"
)

// Iterator walks leaf records in ascending key order, following next-page
// pointers, stopping once the optional upper bound is exceeded.
type Iterator struct {
	t    *Tree
	leafH   bufferpool.PinHandle
	leafPID uint32
	sid     slottedpage.SlotID

	upper       []schema.FieldValue
	upperStrict bool
	hasUpper    bool

	fields []schema.FieldValue
	rid    RID
	done   bool
}

// StartScan opens a forward iterator. A nil lower bound starts at the
// leftmost leaf; a nil upper bound scans to the end of the tree. lowerStrict
// selects exclusive (>) vs inclusive (>=) comparison against lower:
// RIDPlusInfinity sorts after every record sharing lower's key fields, so a
// strict lower bound skips them all; RIDMinusInfinity sorts before them, so
// an inclusive lower bound lands on the first match. upperStrict selects
// exclusive (<) vs inclusive (<=) comparison against upper.
func (t *Tree) StartScan(lower []schema.FieldValue, lowerStrict bool, upper []schema.FieldValue, upperStrict bool) (*Iterator, error) {
	var path []PathStep
	var searchRID SearchRID
	var leafH bufferpool.PinHandle
	var leafPID uint32
	var err error

	if lowerStrict {
		searchRID = SearchRID{Kind: RIDPlusInfinity}
	} else {
		searchRID = SearchRID{Kind: RIDMinusInfinity}
	}

	if lower == nil {
		// an empty field list compares less than any record under
		// compareFields' prefix rule, landing findLeaf on the leftmost leaf.
		leafH, leafPID, err = t.findLeaf(nil, searchRID, &path)
		if err != nil {
			return nil, err
		}
		return &Iterator{t: t, leafH: leafH, leafPID: leafPID, sid: slottedpage.MinSlotId() - 1, upper: upper, upperStrict: upperStrict, hasUpper: upper != nil}, nil
	}

	leafH, leafPID, err = t.findLeaf(lower, searchRID, &path)
	if err != nil {
		return nil, err
	}
	buf := t.pool.GetBuffer(leafH)
	sid := BinarySearchOnPage(buf, true, t.sch, lower, searchRID)
	// BinarySearchOnPage returns the largest slot <= (lower, searchRID); Next
	// advances past it to land on the first qualifying record. Under
	// MinusInfinity bias that slot sits just before the first equal-key
	// record (inclusive lower bound); under PlusInfinity bias it sits on the
	// last equal-key record, so Next skips every one of them (exclusive).
	return &Iterator{t: t, leafH: leafH, leafPID: leafPID, sid: sid, upper: upper, upperStrict: upperStrict, hasUpper: upper != nil}, nil
}

// Next advances to the next record, returning false once the scan is
// exhausted or the upper bound has been passed.
func (it *Iterator) Next() (bool, error) {
	if it.done {
		return false, nil
	}

	for {
		buf := it.t.pool.GetBuffer(it.leafH)
		max := maxSlotOrZero(buf)
		next := it.sid + 1
		if int32(next) > int32(max) {
			nextPage := nextPID(buf)
			if nextPage == 0 {
				it.done = true
				if err := it.t.pool.Unpin(it.leafH); err != nil {
					return false, err
				}
				return false, nil
			}
			nh, _, err := it.t.pool.Pin(nextPage)
			if err != nil {
				return false, err
			}
			if err := it.t.pool.Unpin(it.leafH); err != nil {
				return false, err
			}
			it.leafH = nh
			it.leafPID = nextPage
			it.sid = slottedpage.MinSlotId() - 1
			continue
		}

		fields, rid, err := leafRecordAt(buf, next, it.t.sch)
		if err != nil {
			return false, err
		}
		if it.hasUpper {
			cmp := compareFields(it.t.sch, fields, it.upper)
			if cmp > 0 || (it.upperStrict && cmp == 0) {
				it.done = true
				if err := it.t.pool.Unpin(it.leafH); err != nil {
					return false, err
				}
				return false, nil
			}
		}
		it.sid = next
		it.fields = fields
		it.rid = rid
		return true, nil
	}
}

func maxSlotOrZero(buf []byte) slottedpage.SlotID {
	m := slottedpage.MaxSlotId(buf)
	if m == slottedpage.InvalidSlotID {
		return 0
	}
	return m
}

// GetCurrentItem returns the key fields at the iterator's current position.
func (it *Iterator) GetCurrentItem() []schema.FieldValue { return it.fields }

// GetCurrentRecordId returns the heap record id at the iterator's current position.
func (it *Iterator) GetCurrentRecordId() RID { return it.rid }

// EndScan releases the iterator's pinned leaf, if any. Safe to call more
// than once or after Next has already unpinned on exhaustion.
func (it *Iterator) EndScan() error {
	if it.done {
		return nil
	}
	it.done = true
	return it.t.pool.Unpin(it.leafH)
}
