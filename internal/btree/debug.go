package btree

import (
	"fmt"
	"strings"

	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/slottedpage"
)

// Validate walks every page of the tree and checks the invariants a caller
// cannot verify with a single read: keys ascend within a page and stay
// inside the bounds set by the parent's separators, totrlen matches the sum
// of the page's record lengths, every non-root page meets MinPageUsage, and
// every leaf sits at the same depth. Sibling prev/next links are not checked.
func (t *Tree) Validate() error {
	rootPID, err := t.readRootPID()
	if err != nil {
		return err
	}
	h, buf, err := t.pool.Pin(rootPID)
	if err != nil {
		return err
	}
	defer t.pool.Unpin(h)
	if !isRootPage(buf) {
		return ErrInvalidTree
	}

	leafDepth := -1
	_, err = t.validateSubtree(rootPID, true, 0, &leafDepth, nil, nil)
	return err
}

// validateSubtree checks the subtree rooted at pid against lowBound/highBound
// and returns the page's lowest key and an error on the first violation. Its
// callers use only the error.
func (t *Tree) validateSubtree(pid uint32, isRoot bool, depth int, leafDepth *int, lowBound, highBound []schema.FieldValue) ([]schema.FieldValue, error) {
	h, buf, err := t.pool.Pin(pid)
	if err != nil {
		return nil, err
	}
	defer t.pool.Unpin(h)

	leaf := isLeafPage(buf)
	if isRootPage(buf) != isRoot {
		return nil, fmt.Errorf("btree: page %d root flag mismatch", pid)
	}

	recs, err := collectAllRecords(buf)
	if err != nil {
		return nil, err
	}

	sum := int32(0)
	for _, r := range recs {
		sum += int32(len(r))
	}
	if sum != totrlen(buf) {
		return nil, fmt.Errorf("btree: page %d totrlen=%d but records sum to %d", pid, totrlen(buf), sum)
	}

	if !isRoot {
		if pageUsageOf(buf) < MinPageUsage {
			return nil, fmt.Errorf("btree: page %d underfilled (%d < %d)", pid, pageUsageOf(buf), MinPageUsage)
		}
	}

	if leaf {
		if *leafDepth == -1 {
			*leafDepth = depth
		} else if *leafDepth != depth {
			return nil, fmt.Errorf("btree: leaf %d at depth %d, expected %d", pid, depth, *leafDepth)
		}
	}

	var prevFields []schema.FieldValue
	var lowest []schema.FieldValue
	for i, rec := range recs {
		var fields []schema.FieldValue
		if leaf {
			_, payload := decodeLeafRecord(rec)
			fields = t.sch.DissemblePayload(payload)
		} else {
			_, _, payload := decodeInternalRecord(rec)
			if len(payload) > 0 {
				fields = t.sch.DissemblePayload(payload)
			}
		}
		if i == 0 {
			lowest = fields
		}
		if fields != nil {
			if prevFields != nil && compareFields(t.sch, prevFields, fields) > 0 {
				return nil, fmt.Errorf("btree: page %d records out of order", pid)
			}
			if lowBound != nil && compareFields(t.sch, fields, lowBound) < 0 {
				return nil, fmt.Errorf("btree: page %d record below subtree lower bound", pid)
			}
			if highBound != nil && compareFields(t.sch, fields, highBound) >= 0 {
				return nil, fmt.Errorf("btree: page %d record at/above subtree upper bound", pid)
			}
			prevFields = fields
		}
	}

	if !leaf {
		for i, rec := range recs {
			childPID, _, payload := decodeInternalRecord(rec)
			var childLow, childHigh []schema.FieldValue
			if i > 0 {
				childLow = t.sch.DissemblePayload(payload)
			} else {
				childLow = lowBound
			}
			if i+1 < len(recs) {
				_, _, nextPayload := decodeInternalRecord(recs[i+1])
				childHigh = t.sch.DissemblePayload(nextPayload)
			} else {
				childHigh = highBound
			}
			if _, err := t.validateSubtree(childPID, false, depth+1, leafDepth, childLow, childHigh); err != nil {
				return nil, err
			}
		}
	}

	return lowest, nil
}

// DebugDump renders every page of the tree as a human-readable tree, for
// interactive inspection from the demo CLI's `dump` command.
func (t *Tree) DebugDump() (string, error) {
	rootPID, err := t.readRootPID()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.dumpPage(&b, rootPID, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (t *Tree) dumpPage(b *strings.Builder, pid uint32, depth int) error {
	h, buf, err := t.pool.Pin(pid)
	if err != nil {
		return err
	}
	defer t.pool.Unpin(h)

	indent := strings.Repeat("  ", depth)
	leaf := isLeafPage(buf)
	kind := "internal"
	if leaf {
		kind = "leaf"
	}
	fmt.Fprintf(b, "%spage %d (%s, totrlen=%d, prev=%d, next=%d)\n", indent, pid, kind, totrlen(buf), prevPID(buf), nextPID(buf))

	recs, err := collectAllRecords(buf)
	if err != nil {
		return err
	}

	var childPIDs []uint32
	for sidx, rec := range recs {
		sid := slottedpage.SlotID(sidx + 1)
		if leaf {
			rid, payload := decodeLeafRecord(rec)
			fields := t.sch.DissemblePayload(payload)
			fmt.Fprintf(b, "%s  [%d] key=%v -> %+v\n", indent, sid, fields, rid)
		} else {
			childPID, heapRID, payload := decodeInternalRecord(rec)
			childPIDs = append(childPIDs, childPID)
			if len(payload) == 0 {
				fmt.Fprintf(b, "%s  [%d] (-inf) -> child %d\n", indent, sid, childPID)
			} else {
				fields := t.sch.DissemblePayload(payload)
				fmt.Fprintf(b, "%s  [%d] key=%v heap=%+v -> child %d\n", indent, sid, fields, heapRID, childPID)
			}
		}
	}

	for _, childPID := range childPIDs {
		if err := t.dumpPage(b, childPID, depth+1); err != nil {
			return err
		}
	}
	return nil
}
