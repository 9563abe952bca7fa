package btree

import (
	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/slottedpage"
)

// InsertKey inserts (keyFields, heapRID). On a unique tree a duplicate key
// is rejected (returns false, nil); on a non-unique tree duplicates are
// always accepted, ordered by heapRID.
func (t *Tree) InsertKey(keyFields []schema.FieldValue, heapRID RID) (bool, error) {
	searchRID := SearchRID{Kind: RIDValid, RID: heapRID}
	if t.unique {
		searchRID = SearchRID{Kind: RIDPlusInfinity}
	}

	var path []PathStep
	leafH, leafPID, err := t.findLeaf(keyFields, searchRID, &path)
	if err != nil {
		return false, err
	}
	buf := t.pool.GetBuffer(leafH)

	sid := BinarySearchOnPage(buf, true, t.sch, keyFields, searchRID)
	if t.unique && sid != slottedpage.InvalidSlotID {
		fields, _, err := leafRecordAt(buf, sid, t.sch)
		if err != nil {
			_ = t.pool.Unpin(leafH)
			return false, err
		}
		if compareFields(t.sch, keyFields, fields) == 0 {
			_ = t.pool.Unpin(leafH)
			return false, nil
		}
	}
	insertSid := sid + 1

	rec := BuildLeafRecord(t.sch, keyFields, heapRID)
	if len(rec) > MaxRecordSize {
		_ = t.pool.Unpin(leafH)
		return false, ErrRecordTooLarge
	}

	out, err := slottedpage.InsertRecordAt(buf, insertSid, rec)
	if err != nil {
		_ = t.pool.Unpin(leafH)
		return false, err
	}
	if out.Kind == slottedpage.Inserted {
		setTotrlen(buf, totrlen(buf)+int32(len(rec)))
		if err := t.pool.MarkDirty(leafH); err != nil {
			return false, err
		}
		if err := t.pool.Unpin(leafH); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := t.splitAndPropagate(leafH, leafPID, true, insertSid, rec, path); err != nil {
		return false, err
	}
	return true, nil
}

// chooseSplit picks the split point minimizing the absolute difference
// between left and right page usage, skipping any point where either side
// would overflow PAGE_SIZE. For leaves the difference is convex in the
// split point, so the search stops at the first non-improving step.
func chooseSplit(recs [][]byte, isLeaf bool) (splitCount int, leftTot, rightTot int32) {
	n := len(recs)
	lens := make([]int32, n)
	total := int32(0)
	for i, r := range recs {
		lens[i] = int32(len(r))
		total += lens[i]
	}

	best := -1
	var bestDiff int32 = 1<<31 - 1
	running := int32(0)
	for k := 1; k < n; k++ {
		running += lens[k-1]
		leftUsage := ComputePageUsage(k, int(running))
		rightLen := total - running
		rightUsage := ComputePageUsage(n-k, int(rightLen))
		if leftUsage > slottedpage.PageSize || rightUsage > slottedpage.PageSize {
			continue
		}
		diff := leftUsage - rightUsage
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = k
			leftTot = running
			rightTot = rightLen
		} else if isLeaf && best != -1 {
			break
		}
	}
	if best == -1 {
		best = n / 2
		if best == 0 {
			best = 1
		}
		leftTot, rightTot = 0, 0
		for i := 0; i < best; i++ {
			leftTot += lens[i]
		}
		for i := best; i < n; i++ {
			rightTot += lens[i]
		}
	}
	return best, leftTot, rightTot
}

// splitAndPropagate splits the full page behind curH (which already
// conceptually contains insertRec at insertSid) into curH (left) and a
// fresh right sibling, then inserts the resulting separator into the
// parent — recursing into another split, or creating a new root, as needed.
func (t *Tree) splitAndPropagate(curH bufferpool.PinHandle, curPID uint32, isLeaf bool, insertSid slottedpage.SlotID, insertRec []byte, path []PathStep) error {
	buf := t.pool.GetBuffer(curH)
	recs, err := collectRecordsWithInsert(buf, insertSid, insertRec)
	if err != nil {
		_ = t.pool.Unpin(curH)
		return err
	}

	splitCount, leftTot, rightTot := chooseSplit(recs, isLeaf)
	leftRecs := recs[:splitCount]
	rightRecs := recs[splitCount:]

	wasRoot := isRootPage(buf)
	oldPrev := prevPID(buf)
	oldNext := nextPID(buf)

	rightH, rightPID, rightBuf, err := t.pool.PinNew()
	if err != nil {
		_ = t.pool.Unpin(curH)
		return err
	}
	if err := slottedpage.InitializePage(rightBuf, PageHeaderSize); err != nil {
		return err
	}

	var sepPayload []byte
	var sepHeapRID RID

	if isLeaf {
		sepHeapRID, sepPayload = decodeLeafParts(rightRecs[0], t.sch)
		for _, r := range rightRecs {
			if _, err := slottedpage.InsertRecord(rightBuf, r); err != nil {
				return err
			}
		}
	} else {
		childPID0, heapRID0, keyPayload0 := decodeInternalParts(rightRecs[0])
		sepHeapRID, sepPayload = heapRID0, keyPayload0
		headerless := BuildInternalRecord(childPID0, heapRID0, nil)
		rightTot = rightTot - int32(len(rightRecs[0])) + int32(len(headerless))
		if _, err := slottedpage.InsertRecord(rightBuf, headerless); err != nil {
			return err
		}
		for i := 1; i < len(rightRecs); i++ {
			if _, err := slottedpage.InsertRecord(rightBuf, rightRecs[i]); err != nil {
				return err
			}
		}
	}

	setPrevPID(rightBuf, curPID)
	setNextPID(rightBuf, oldNext)
	setPageFlags(rightBuf, isLeaf, false)
	setTotrlen(rightBuf, rightTot)
	if err := t.pool.MarkDirty(rightH); err != nil {
		return err
	}

	if err := slottedpage.InitializePage(buf, PageHeaderSize); err != nil {
		return err
	}
	for _, r := range leftRecs {
		if _, err := slottedpage.InsertRecord(buf, r); err != nil {
			return err
		}
	}
	setPrevPID(buf, oldPrev)
	setNextPID(buf, rightPID)
	setPageFlags(buf, isLeaf, false)
	setTotrlen(buf, leftTot)
	if err := t.pool.MarkDirty(curH); err != nil {
		return err
	}

	if oldNext != 0 {
		nh, nbuf, err := t.pool.Pin(oldNext)
		if err != nil {
			return err
		}
		setPrevPID(nbuf, rightPID)
		if err := t.pool.MarkDirty(nh); err != nil {
			return err
		}
		if err := t.pool.Unpin(nh); err != nil {
			return err
		}
	}

	if err := t.pool.Unpin(rightH); err != nil {
		return err
	}
	if err := t.pool.Unpin(curH); err != nil {
		return err
	}

	if wasRoot {
		return t.createNewRoot(curPID, rightPID, sepPayload, sepHeapRID)
	}
	parentStep := path[len(path)-1]
	return t.insertIntoInternal(parentStep.ParentPageID, path[:len(path)-1], sepPayload, sepHeapRID, rightPID)
}

func (t *Tree) insertIntoInternal(parentPID uint32, path []PathStep, sepPayload []byte, sepHeapRID RID, rightChildPID uint32) error {
	parentH, parentBuf, err := t.pool.Pin(parentPID)
	if err != nil {
		return err
	}

	fields := t.sch.DissemblePayload(sepPayload)
	sid := BinarySearchOnPage(parentBuf, false, t.sch, fields, SearchRID{Kind: RIDValid, RID: sepHeapRID})
	insertSid := sid + 1

	rec := BuildInternalRecord(rightChildPID, sepHeapRID, sepPayload)
	if len(rec) > MaxRecordSize {
		_ = t.pool.Unpin(parentH)
		return ErrRecordTooLarge
	}

	out, err := slottedpage.InsertRecordAt(parentBuf, insertSid, rec)
	if err != nil {
		_ = t.pool.Unpin(parentH)
		return err
	}
	if out.Kind == slottedpage.Inserted {
		setTotrlen(parentBuf, totrlen(parentBuf)+int32(len(rec)))
		if err := t.pool.MarkDirty(parentH); err != nil {
			return err
		}
		return t.pool.Unpin(parentH)
	}
	return t.splitAndPropagate(parentH, parentPID, false, insertSid, rec, path)
}

func (t *Tree) createNewRoot(leftPID, rightPID uint32, sepPayload []byte, sepHeapRID RID) error {
	metaH, metaBuf, err := t.pool.Pin(0)
	if err != nil {
		return err
	}
	rootH, rootPID, rootBuf, err := t.pool.PinNew()
	if err != nil {
		_ = t.pool.Unpin(metaH)
		return err
	}
	if err := slottedpage.InitializePage(rootBuf, PageHeaderSize); err != nil {
		return err
	}

	leftEntry := BuildInternalRecord(leftPID, sepHeapRID, nil)
	rightEntry := BuildInternalRecord(rightPID, sepHeapRID, sepPayload)
	if _, err := slottedpage.InsertRecord(rootBuf, leftEntry); err != nil {
		return err
	}
	if _, err := slottedpage.InsertRecord(rootBuf, rightEntry); err != nil {
		return err
	}

	setPageFlags(rootBuf, false, true)
	setTotrlen(rootBuf, int32(len(leftEntry)+len(rightEntry)))
	setPrevPID(rootBuf, 0)
	setNextPID(rootBuf, 0)
	setRootPID(metaBuf, rootPID)

	if err := t.pool.MarkDirty(rootH); err != nil {
		return err
	}
	if err := t.pool.MarkDirty(metaH); err != nil {
		return err
	}
	if err := t.pool.Unpin(rootH); err != nil {
		return err
	}
	return t.pool.Unpin(metaH)
}
