package btree

import (
	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/slottedpage"
)

// DeleteKey removes one record matching keyFields. If rid is non-nil, only
// the record with that exact heap recid is removed; otherwise the first
// matching key (in leaf order) is removed. Returns the removed record's
// heap recid and true, or false if nothing matched.
func (t *Tree) DeleteKey(keyFields []schema.FieldValue, rid *RID) (bool, RID, error) {
	var searchRID SearchRID
	if rid != nil {
		searchRID = SearchRID{Kind: RIDValid, RID: *rid}
	} else {
		searchRID = SearchRID{Kind: RIDMinusInfinity}
	}

	var path []PathStep
	leafH, leafPID, err := t.findLeaf(keyFields, searchRID, &path)
	if err != nil {
		return false, RID{}, err
	}

	sid, leafH, leafPID, path, err := t.findDeletionSlot(keyFields, rid, searchRID, leafH, leafPID, path)
	if err != nil {
		return false, RID{}, err
	}
	if sid == slottedpage.InvalidSlotID {
		_ = t.pool.Unpin(leafH)
		return false, RID{}, nil
	}

	buf := t.pool.GetBuffer(leafH)
	rec, err := slottedpage.GetRecord(buf, sid)
	if err != nil {
		_ = t.pool.Unpin(leafH)
		return false, RID{}, err
	}
	heapRID, _ := decodeLeafRecord(rec)
	recLen := int32(len(rec))

	if err := slottedpage.RemoveSlot(buf, sid); err != nil {
		_ = t.pool.Unpin(leafH)
		return false, RID{}, err
	}
	setTotrlen(buf, totrlen(buf)-recLen)

	if isRootPage(buf) {
		if err := t.pool.MarkDirty(leafH); err != nil {
			return false, RID{}, err
		}
		if err := t.pool.Unpin(leafH); err != nil {
			return false, RID{}, err
		}
		return true, heapRID, nil
	}

	if err := t.pool.MarkDirty(leafH); err != nil {
		return false, RID{}, err
	}
	if err := t.handleMinPageUsage(leafH, leafPID, path); err != nil {
		return false, RID{}, err
	}
	return true, heapRID, nil
}

// findDeletionSlot implements BTreeDelete's slot-finding rule: when rid is
// unknown, the candidate is the slot right after the binary-search result,
// falling through to the right sibling's first record when that overflows
// the page (the case where the separator key equals the deleted key and
// every matching record lives in the right leaf).
func (t *Tree) findDeletionSlot(keyFields []schema.FieldValue, rid *RID, searchRID SearchRID, leafH bufferpool.PinHandle, leafPID uint32, path []PathStep) (slottedpage.SlotID, bufferpool.PinHandle, uint32, []PathStep, error) {
	buf := t.pool.GetBuffer(leafH)
	sid := BinarySearchOnPage(buf, true, t.sch, keyFields, searchRID)

	if rid == nil {
		candidate := sid + 1
		max := slottedpage.MaxSlotId(buf)
		withinPage := max != slottedpage.InvalidSlotID && candidate <= max
		if withinPage {
			fields, _, err := leafRecordAt(buf, candidate, t.sch)
			if err != nil {
				return 0, leafH, leafPID, path, err
			}
			if compareFields(t.sch, keyFields, fields) != 0 {
				return slottedpage.InvalidSlotID, leafH, leafPID, path, nil
			}
			return candidate, leafH, leafPID, path, nil
		}

		next := nextPID(buf)
		if next == 0 {
			return slottedpage.InvalidSlotID, leafH, leafPID, path, nil
		}
		if err := t.pool.Unpin(leafH); err != nil {
			return 0, bufferpool.PinHandle{}, 0, nil, err
		}
		nh, nbuf, err := t.pool.Pin(next)
		if err != nil {
			return 0, bufferpool.PinHandle{}, 0, nil, err
		}
		if slottedpage.MaxSlotId(nbuf) == slottedpage.InvalidSlotID {
			_ = t.pool.Unpin(nh)
			return slottedpage.InvalidSlotID, bufferpool.PinHandle{}, 0, nil, nil
		}
		siblingFields, _, err := leafRecordAt(nbuf, slottedpage.MinSlotId(), t.sch)
		if err != nil {
			_ = t.pool.Unpin(nh)
			return 0, bufferpool.PinHandle{}, 0, nil, err
		}
		if compareFields(t.sch, keyFields, siblingFields) != 0 {
			_ = t.pool.Unpin(nh)
			return slottedpage.InvalidSlotID, bufferpool.PinHandle{}, 0, nil, nil
		}
		if err := t.pool.Unpin(nh); err != nil {
			return 0, bufferpool.PinHandle{}, 0, nil, err
		}
		// the sibling may belong to a different parent than leafPID's; a
		// fresh descent recomputes a correct path rather than patching the
		// old one. RIDPlusInfinity biases the descent to follow a separator
		// equal to the key into its right child, landing on the sibling
		// leaf that actually holds the match instead of its left neighbor.
		var newPath []PathStep
		nh2, nPID2, err := t.findLeaf(siblingFields, SearchRID{Kind: RIDPlusInfinity}, &newPath)
		if err != nil {
			return 0, bufferpool.PinHandle{}, 0, nil, err
		}
		nbuf2 := t.pool.GetBuffer(nh2)
		matchSid := BinarySearchOnPage(nbuf2, true, t.sch, siblingFields, SearchRID{Kind: RIDMinusInfinity}) + 1
		if matchSid > slottedpage.MaxSlotId(nbuf2) {
			_ = t.pool.Unpin(nh2)
			return slottedpage.InvalidSlotID, bufferpool.PinHandle{}, 0, nil, nil
		}
		return matchSid, nh2, nPID2, newPath, nil
	}

	if sid == slottedpage.InvalidSlotID {
		return slottedpage.InvalidSlotID, leafH, leafPID, path, nil
	}
	fields, foundRID, err := leafRecordAt(buf, sid, t.sch)
	if err != nil {
		return 0, leafH, leafPID, path, err
	}
	if compareFields(t.sch, keyFields, fields) == 0 && foundRID == *rid {
		return sid, leafH, leafPID, path, nil
	}
	return slottedpage.InvalidSlotID, leafH, leafPID, path, nil
}

// handleMinPageUsage cascades underflow handling up from curH: root
// collapse, or (in order) drop-if-empty, merge-or-rebalance with the right
// sibling, then merge-or-rebalance with the left sibling.
func (t *Tree) handleMinPageUsage(curH bufferpool.PinHandle, curPID uint32, path []PathStep) error {
	buf := t.pool.GetBuffer(curH)

	if isRootPage(buf) {
		return t.collapseRootIfNeeded(curH, curPID)
	}

	if pageUsageOf(buf) >= MinPageUsage {
		return t.pool.Unpin(curH)
	}

	if len(path) == 0 {
		return t.pool.Unpin(curH)
	}
	parentStep := path[len(path)-1]
	parentPath := path[:len(path)-1]

	parentH, parentBuf, err := t.pool.Pin(parentStep.ParentPageID)
	if err != nil {
		_ = t.pool.Unpin(curH)
		return err
	}

	if slottedpage.MaxSlotId(buf) == slottedpage.InvalidSlotID {
		dropped, err := slottedpage.GetRecord(parentBuf, parentStep.Slot)
		if err != nil {
			_ = t.pool.Unpin(curH)
			_ = t.pool.Unpin(parentH)
			return err
		}
		setTotrlen(parentBuf, totrlen(parentBuf)-int32(len(dropped)))
		if err := slottedpage.RemoveSlot(parentBuf, parentStep.Slot); err != nil {
			_ = t.pool.Unpin(curH)
			_ = t.pool.Unpin(parentH)
			return err
		}
		if err := t.pool.MarkDirty(parentH); err != nil {
			return err
		}
		t.fm.FreePage(curPID)
		if err := t.pool.Unpin(curH); err != nil {
			return err
		}
		return t.handleMinPageUsage(parentH, parentStep.ParentPageID, parentPath)
	}

	rightPID := nextPID(buf)
	merged, err := t.tryMergeOrRebalance(parentBuf, parentH, parentStep, curH, curPID, rightPID, true)
	if err != nil {
		_ = t.pool.Unpin(curH)
		_ = t.pool.Unpin(parentH)
		return err
	}
	if merged {
		return t.handleMinPageUsage(parentH, parentStep.ParentPageID, parentPath)
	}

	leftPID := prevPID(buf)
	merged, err = t.tryMergeOrRebalance(parentBuf, parentH, parentStep, curH, curPID, leftPID, false)
	if err != nil {
		_ = t.pool.Unpin(curH)
		_ = t.pool.Unpin(parentH)
		return err
	}
	if merged {
		return t.handleMinPageUsage(parentH, parentStep.ParentPageID, parentPath)
	}

	if err := t.pool.Unpin(curH); err != nil {
		return err
	}
	return t.pool.Unpin(parentH)
}

// collapseRootIfNeeded repeatedly replaces an internal root with its single
// child, freeing the old root, until the root is a leaf or has more than
// one child.
func (t *Tree) collapseRootIfNeeded(rootH bufferpool.PinHandle, rootPID uint32) error {
	buf := t.pool.GetBuffer(rootH)
	for !isLeafPage(buf) && slottedpage.MaxSlotId(buf) == slottedpage.SlotID(1) {
		childPID, _, _, err := internalChildAt(buf, slottedpage.MinSlotId(), t.sch)
		if err != nil {
			_ = t.pool.Unpin(rootH)
			return err
		}

		childH, childBuf, err := t.pool.Pin(childPID)
		if err != nil {
			_ = t.pool.Unpin(rootH)
			return err
		}

		if err := t.pool.Unpin(rootH); err != nil {
			return err
		}
		t.fm.FreePage(rootPID)

		setIsRoot(childBuf, true)
		if err := t.pool.MarkDirty(childH); err != nil {
			return err
		}

		metaH, metaBuf, err := t.pool.Pin(0)
		if err != nil {
			_ = t.pool.Unpin(childH)
			return err
		}
		setRootPID(metaBuf, childPID)
		if err := t.pool.MarkDirty(metaH); err != nil {
			return err
		}
		if err := t.pool.Unpin(metaH); err != nil {
			return err
		}

		rootH, rootPID, buf = childH, childPID, childBuf
	}
	return t.pool.Unpin(rootH)
}

// tryMergeOrRebalance pins siblingPID (if nonzero and actually adjacent to
// curPID under the same parent slot) and attempts merge, then rebalance. On
// failure of both, only the sibling pin is released — curH remains owned by
// the caller.
func (t *Tree) tryMergeOrRebalance(parentBuf []byte, parentH bufferpool.PinHandle, parentStep PathStep, curH bufferpool.PinHandle, curPID uint32, siblingPID uint32, isRight bool) (bool, error) {
	if siblingPID == 0 {
		return false, nil
	}

	var siblingSlot slottedpage.SlotID
	if isRight {
		siblingSlot = parentStep.Slot + 1
	} else {
		siblingSlot = parentStep.Slot - 1
	}
	maxParentSlot := slottedpage.MaxSlotId(parentBuf)
	if siblingSlot < slottedpage.MinSlotId() || maxParentSlot == slottedpage.InvalidSlotID || siblingSlot > maxParentSlot {
		return false, nil
	}
	childPID, _, _, err := internalChildAt(parentBuf, siblingSlot, t.sch)
	if err != nil {
		return false, err
	}
	if childPID != siblingPID {
		return false, nil
	}

	sibH, _, err := t.pool.Pin(siblingPID)
	if err != nil {
		return false, err
	}

	var leftH, rightH bufferpool.PinHandle
	var leftPID, rightPID uint32
	var lsid slottedpage.SlotID
	if isRight {
		leftH, rightH, leftPID, rightPID, lsid = curH, sibH, curPID, siblingPID, parentStep.Slot
	} else {
		leftH, rightH, leftPID, rightPID, lsid = sibH, curH, siblingPID, curPID, siblingSlot
	}

	ok, err := t.tryMerge(parentBuf, parentH, lsid, leftH, leftPID, rightH, rightPID)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	ok, err = t.rebalance(parentBuf, parentH, lsid, leftH, leftPID, rightH, rightPID)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	if err := t.pool.Unpin(sibH); err != nil {
		return false, err
	}
	return false, nil
}

// tryMerge attempts to fold right into left. On success it unpins both
// leftH and rightH and frees rightPID; on failure (would not fit) it
// leaves both pinned, untouched, for the caller to try rebalance.
func (t *Tree) tryMerge(parentBuf []byte, parentH bufferpool.PinHandle, lsid slottedpage.SlotID, leftH bufferpool.PinHandle, leftPID uint32, rightH bufferpool.PinHandle, rightPID uint32) (bool, error) {
	leftBuf := t.pool.GetBuffer(leftH)
	rightBuf := t.pool.GetBuffer(rightH)
	leaf := isLeafPage(leftBuf)

	leftRecs, err := collectAllRecords(leftBuf)
	if err != nil {
		return false, err
	}
	rightRecs, err := collectAllRecords(rightBuf)
	if err != nil {
		return false, err
	}

	sepRec, err := slottedpage.GetRecord(parentBuf, lsid+1)
	if err != nil {
		return false, err
	}

	numRecs := len(leftRecs) + len(rightRecs)
	totalLen := int32(0)
	for _, r := range leftRecs {
		totalLen += int32(len(r))
	}
	for _, r := range rightRecs {
		totalLen += int32(len(r))
	}

	var sepHeapRID RID
	var sepPayload []byte
	if !leaf {
		// the bridging record takes the place of right's first (key-less)
		// record, so the count is unchanged and only the lengths differ.
		_, sepHeapRID, sepPayload = decodeInternalParts(sepRec)
		totalLen += int32(InternalHeaderSize+len(sepPayload)) - int32(len(rightRecs[0]))
	}

	if ComputePageUsage(numRecs, int(totalLen)) > slottedpage.PageSize {
		return false, nil
	}

	leftPrev := prevPID(leftBuf)
	rightNext := nextPID(rightBuf)

	if err := slottedpage.InitializePage(leftBuf, PageHeaderSize); err != nil {
		return false, err
	}
	for _, r := range leftRecs {
		if _, err := slottedpage.InsertRecord(leftBuf, r); err != nil {
			return false, err
		}
	}
	if !leaf {
		firstRightChildPID, _, _, err := internalChildAt(rightBuf, slottedpage.MinSlotId(), t.sch)
		if err != nil {
			return false, err
		}
		bridging := BuildInternalRecord(firstRightChildPID, sepHeapRID, sepPayload)
		if _, err := slottedpage.InsertRecord(leftBuf, bridging); err != nil {
			return false, err
		}
		for i := 1; i < len(rightRecs); i++ {
			if _, err := slottedpage.InsertRecord(leftBuf, rightRecs[i]); err != nil {
				return false, err
			}
		}
	} else {
		for _, r := range rightRecs {
			if _, err := slottedpage.InsertRecord(leftBuf, r); err != nil {
				return false, err
			}
		}
	}

	setPrevPID(leftBuf, leftPrev)
	setNextPID(leftBuf, rightNext)
	setPageFlags(leftBuf, leaf, false)
	setTotrlen(leftBuf, totalLen)

	if rightNext != 0 {
		nh, nbuf, err := t.pool.Pin(rightNext)
		if err != nil {
			return false, err
		}
		setPrevPID(nbuf, leftPID)
		if err := t.pool.MarkDirty(nh); err != nil {
			return false, err
		}
		if err := t.pool.Unpin(nh); err != nil {
			return false, err
		}
	}

	setTotrlen(parentBuf, totrlen(parentBuf)-int32(len(sepRec)))
	if err := slottedpage.RemoveSlot(parentBuf, lsid+1); err != nil {
		return false, err
	}

	if err := t.pool.MarkDirty(leftH); err != nil {
		return false, err
	}
	if err := t.pool.MarkDirty(parentH); err != nil {
		return false, err
	}
	if err := t.pool.Unpin(leftH); err != nil {
		return false, err
	}
	if err := t.pool.Unpin(rightH); err != nil {
		return false, err
	}
	t.fm.FreePage(rightPID)
	return true, nil
}

// rebalance moves the single boundary record from the fuller of left/right
// into the emptier one and rewrites the parent separator in place. Internal
// pages fall back to merge-only (see DESIGN.md); only leaves rebalance here.
func (t *Tree) rebalance(parentBuf []byte, parentH bufferpool.PinHandle, lsid slottedpage.SlotID, leftH bufferpool.PinHandle, leftPID uint32, rightH bufferpool.PinHandle, rightPID uint32) (bool, error) {
	leftBuf := t.pool.GetBuffer(leftH)
	rightBuf := t.pool.GetBuffer(rightH)
	if !isLeafPage(leftBuf) {
		return false, nil
	}

	leftRecs, err := collectAllRecords(leftBuf)
	if err != nil {
		return false, err
	}
	rightRecs, err := collectAllRecords(rightBuf)
	if err != nil {
		return false, err
	}

	moveFromLeft := pageUsageOf(leftBuf) > pageUsageOf(rightBuf)

	var newLeft, newRight [][]byte
	var newSepHeapRID RID
	var newSepPayload []byte

	if moveFromLeft {
		if len(leftRecs) < 2 {
			return false, nil
		}
		moving := leftRecs[len(leftRecs)-1]
		newLeft = leftRecs[:len(leftRecs)-1]
		newRight = append(append([][]byte{}, moving), rightRecs...)
		newSepHeapRID, newSepPayload = decodeLeafParts(moving, t.sch)
	} else {
		if len(rightRecs) < 2 {
			return false, nil
		}
		moving := rightRecs[0]
		newRight = rightRecs[1:]
		newLeft = append(append([][]byte{}, leftRecs...), moving)
		newSepHeapRID, newSepPayload = decodeLeafParts(newRight[0], t.sch)
	}

	leftTot, rightTot := int32(0), int32(0)
	for _, r := range newLeft {
		leftTot += int32(len(r))
	}
	for _, r := range newRight {
		rightTot += int32(len(r))
	}

	leftUsage := ComputePageUsage(len(newLeft), int(leftTot))
	rightUsage := ComputePageUsage(len(newRight), int(rightTot))
	if leftUsage > slottedpage.PageSize || rightUsage > slottedpage.PageSize {
		return false, nil
	}
	if leftUsage < MinPageUsage || rightUsage < MinPageUsage {
		return false, nil
	}

	newSepRec := BuildInternalRecord(rightPID, newSepHeapRID, newSepPayload)
	if len(newSepRec) > MaxRecordSize {
		return false, nil
	}

	leftPrev := prevPID(leftBuf)
	rightNext := nextPID(rightBuf)

	if err := slottedpage.InitializePage(leftBuf, PageHeaderSize); err != nil {
		return false, err
	}
	for _, r := range newLeft {
		if _, err := slottedpage.InsertRecord(leftBuf, r); err != nil {
			return false, err
		}
	}
	setPrevPID(leftBuf, leftPrev)
	setNextPID(leftBuf, rightPID)
	setPageFlags(leftBuf, true, false)
	setTotrlen(leftBuf, leftTot)

	if err := slottedpage.InitializePage(rightBuf, PageHeaderSize); err != nil {
		return false, err
	}
	for _, r := range newRight {
		if _, err := slottedpage.InsertRecord(rightBuf, r); err != nil {
			return false, err
		}
	}
	setPrevPID(rightBuf, leftPID)
	setNextPID(rightBuf, rightNext)
	setPageFlags(rightBuf, true, false)
	setTotrlen(rightBuf, rightTot)

	oldSepRec, err := slottedpage.GetRecord(parentBuf, lsid+1)
	if err != nil {
		return false, err
	}
	oldSepLen := int32(len(oldSepRec))

	outcome, err := slottedpage.UpdateRecord(parentBuf, lsid+1, newSepRec)
	if err != nil {
		return false, err
	}
	if outcome != slottedpage.UpdateDone {
		return false, ErrRebalanceSeparatorUpdateFailed
	}
	setTotrlen(parentBuf, totrlen(parentBuf)-oldSepLen+int32(len(newSepRec)))

	if err := t.pool.MarkDirty(leftH); err != nil {
		return false, err
	}
	if err := t.pool.MarkDirty(rightH); err != nil {
		return false, err
	}
	if err := t.pool.MarkDirty(parentH); err != nil {
		return false, err
	}
	if err := t.pool.Unpin(leftH); err != nil {
		return false, err
	}
	if err := t.pool.Unpin(rightH); err != nil {
		return false, err
	}
	return true, nil
}
