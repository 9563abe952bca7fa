// Package slottedpage implements a fixed-size, slot-directory page format
// for variable-length records: pure in-memory manipulation of one page
// buffer, no I/O, no knowledge of B-tree semantics. The buffer manager owns
// the buffer's lifetime and dirty bit; this package only ever receives a
// borrowed []byte.
package slottedpage

import (
	"fmt"
	"sort"

	"github.com/tuannm99/novasql/internal/alias/bx"
	"github.com/tuannm99/novasql/internal/storage"
)

const (
	// PageSize is the size of every page buffer this package operates on.
	PageSize = storage.PageSize

	// FileHeaderSize is the opaque, file-manager-owned prefix every page
	// carries ahead of the slotted-page header. This package never reads or
	// writes those bytes.
	FileHeaderSize = 8

	// MaxAlign is the alignment boundary for both the header and every
	// record payload's storage.
	MaxAlign = 8

	// rawHeaderSize is ph_sz(i32) + fs_begin(i32) + flags(u32).
	rawHeaderSize = 12

	// SlottedHeaderSize is rawHeaderSize padded up to MaxAlign.
	SlottedHeaderSize = 16

	// SlotEntrySize is the on-disk size of one slot directory entry:
	// two i32 fields (offset, length).
	SlotEntrySize = 8
)

// SlotID is a 1-based, page-local slot identifier.
type SlotID int32

const (
	// MinSlotID is the smallest valid slot id on any non-empty page.
	MinSlotID SlotID = 1
	// InvalidSlotID is returned where no slot id applies (empty page, no match).
	InvalidSlotID SlotID = 0
)

var (
	// ErrSlotRange is a Range error: sid outside [MinSlotID, MaxSlotID].
	ErrSlotRange = fmt.Errorf("slottedpage: slot id out of range")
	// ErrHeaderTooLarge is a Capacity error raised by InitializePage.
	ErrHeaderTooLarge = fmt.Errorf("slottedpage: header and user data do not fit on an empty page")
	// ErrTombstoned is raised by operations that require an occupied slot.
	ErrTombstoned = fmt.Errorf("slottedpage: slot is tombstoned")
	// ErrBadBuffer is raised when buf is not exactly PageSize bytes.
	ErrBadBuffer = fmt.Errorf("slottedpage: buffer is not PageSize bytes")
)

// OutcomeKind classifies the result of InsertRecord / InsertRecordAt.
type OutcomeKind int

const (
	Inserted OutcomeKind = iota
	WontFit
	WontFitCompactable
)

// Outcome is the result of an insert attempt.
type Outcome struct {
	Kind OutcomeKind
	Slot SlotID
}

// UpdateOutcome classifies the result of UpdateRecord.
type UpdateOutcome int

const (
	UpdateDone UpdateOutcome = iota
	UpdateMovedOff
	UpdateWontFit
)

func alignUp(n int) int {
	return (n + MaxAlign - 1) &^ (MaxAlign - 1)
}

// --- header accessors ---

func phSz(buf []byte) int32      { return bx.I32(buf[FileHeaderSize:]) }
func setPhSz(buf []byte, v int32) { bx.PutU32(buf[FileHeaderSize:], uint32(v)) }

func fsBegin(buf []byte) int32      { return bx.I32(buf[FileHeaderSize+4:]) }
func setFsBegin(buf []byte, v int32) { bx.PutU32(buf[FileHeaderSize+4:], uint32(v)) }

func flagsWord(buf []byte) uint32      { return bx.U32(buf[FileHeaderSize+8:]) }
func setFlagsWord(buf []byte, w uint32) { bx.PutU32(buf[FileHeaderSize+8:], w) }

func hasHole(buf []byte) bool {
	return flagsWord(buf)&0x1 != 0
}

func setHasHole(buf []byte, b bool) {
	w := flagsWord(buf)
	if b {
		w |= 0x1
	} else {
		w &^= 0x1
	}
	setFlagsWord(buf, w)
}

func cntVal(buf []byte) int32 {
	return int32((flagsWord(buf) >> 2) & 0x3FFF)
}

func setCntVal(buf []byte, v int32) {
	w := flagsWord(buf)
	w = (w &^ (0x3FFF << 2)) | ((uint32(v) & 0x3FFF) << 2)
	setFlagsWord(buf, w)
}

func nslotsVal(buf []byte) int32 {
	return int32((flagsWord(buf) >> 18) & 0x3FFF)
}

func setNslotsVal(buf []byte, v int32) {
	w := flagsWord(buf)
	w = (w &^ (0x3FFF << 18)) | ((uint32(v) & 0x3FFF) << 18)
	setFlagsWord(buf, w)
}

// --- slot directory accessors ---

func slotBytePos(sid SlotID) int {
	return PageSize - int(sid)*SlotEntrySize
}

func readSlot(buf []byte, sid SlotID) (off, length int32) {
	pos := slotBytePos(sid)
	return bx.I32(buf[pos:]), bx.I32(buf[pos+4:])
}

func writeSlot(buf []byte, sid SlotID, off, length int32) {
	pos := slotBytePos(sid)
	bx.PutU32(buf[pos:], uint32(off))
	bx.PutU32(buf[pos+4:], uint32(length))
}

func validateSid(buf []byte, sid SlotID) error {
	n := nslotsVal(buf)
	if sid < MinSlotID || int32(sid) > n {
		return ErrSlotRange
	}
	return nil
}

func slotDirTop(buf []byte) int {
	return PageSize - int(nslotsVal(buf))*SlotEntrySize
}

func freeSpaceAvailable(buf []byte) int {
	return slotDirTop(buf) - int(fsBegin(buf))
}

// --- public API ---

// InitializePage formats buf as an empty page reserving userDataSize bytes
// of caller-owned user data between the header and the record area.
func InitializePage(buf []byte, userDataSize int) error {
	if len(buf) != PageSize {
		return ErrBadBuffer
	}
	ph := alignUp(FileHeaderSize + SlottedHeaderSize + userDataSize)
	if ph+SlotEntrySize > PageSize {
		return ErrHeaderTooLarge
	}
	for i := FileHeaderSize; i < PageSize; i++ {
		buf[i] = 0
	}
	setPhSz(buf, int32(ph))
	setFsBegin(buf, int32(ph))
	setHasHole(buf, false)
	setCntVal(buf, 0)
	setNslotsVal(buf, 0)
	return nil
}

// UserData returns the reserved user-data region, borrowed from buf.
func UserData(buf []byte) []byte {
	start := FileHeaderSize + SlottedHeaderSize
	end := int(phSz(buf))
	return buf[start:end]
}

func MinSlotId() SlotID { return MinSlotID }

// MaxSlotId returns nslots, or InvalidSlotID if the page has no slots at all.
func MaxSlotId(buf []byte) SlotID {
	n := nslotsVal(buf)
	if n == 0 {
		return InvalidSlotID
	}
	return SlotID(n)
}

func RecordCount(buf []byte) int32 { return cntVal(buf) }

func IsOccupied(buf []byte, sid SlotID) (bool, error) {
	if err := validateSid(buf, sid); err != nil {
		return false, err
	}
	off, _ := readSlot(buf, sid)
	return off != 0, nil
}

// GetRecord borrows the record bytes at sid. The slot must be occupied.
func GetRecord(buf []byte, sid SlotID) ([]byte, error) {
	if err := validateSid(buf, sid); err != nil {
		return nil, err
	}
	off, length := readSlot(buf, sid)
	if off == 0 {
		return nil, ErrTombstoned
	}
	return buf[off : int(off)+int(length)], nil
}

func findReuseSlot(buf []byte) (sid SlotID, isNew bool) {
	n := nslotsVal(buf)
	for s := int32(1); s <= n; s++ {
		off, _ := readSlot(buf, SlotID(s))
		if off == 0 {
			return SlotID(s), false
		}
	}
	return SlotID(n + 1), true
}

// InsertRecord chooses the smallest tombstoned slot id if any, else appends
// a new one.
func InsertRecord(buf []byte, rec []byte) (Outcome, error) {
	sid, isNew := findReuseSlot(buf)
	aligned := alignUp(len(rec))
	needed := aligned
	if isNew {
		needed += SlotEntrySize
	}
	if freeSpaceAvailable(buf) < needed {
		if hasHole(buf) {
			return Outcome{Kind: WontFitCompactable}, nil
		}
		return Outcome{Kind: WontFit}, nil
	}

	off := fsBegin(buf)
	copy(buf[off:int(off)+len(rec)], rec)
	writeSlot(buf, sid, off, int32(len(rec)))
	setFsBegin(buf, off+int32(aligned))
	if isNew {
		setNslotsVal(buf, nslotsVal(buf)+1)
	}
	setCntVal(buf, cntVal(buf)+1)
	return Outcome{Kind: Inserted, Slot: sid}, nil
}

// InsertRecordAt preserves slot ordering: sid must be in [1, nslots+1]. If
// sid <= nslots, all slots [sid, nslots] shift one to the right.
func InsertRecordAt(buf []byte, sid SlotID, rec []byte) (Outcome, error) {
	n := nslotsVal(buf)
	if sid < MinSlotID || int32(sid) > n+1 {
		return Outcome{}, ErrSlotRange
	}

	aligned := alignUp(len(rec))
	needed := aligned + SlotEntrySize // directory always grows by one entry
	if freeSpaceAvailable(buf) < needed {
		if hasHole(buf) {
			return Outcome{Kind: WontFitCompactable}, nil
		}
		return Outcome{Kind: WontFit}, nil
	}

	off := fsBegin(buf)
	copy(buf[off:int(off)+len(rec)], rec)
	setFsBegin(buf, off+int32(aligned))

	for s := n; s >= int32(sid); s-- {
		o, l := readSlot(buf, SlotID(s))
		writeSlot(buf, SlotID(s+1), o, l)
	}
	writeSlot(buf, sid, off, int32(len(rec)))
	setNslotsVal(buf, n+1)
	setCntVal(buf, cntVal(buf)+1)
	return Outcome{Kind: Inserted, Slot: sid}, nil
}

func trimTrailingTombstones(buf []byte) {
	n := nslotsVal(buf)
	for n > 0 {
		off, _ := readSlot(buf, SlotID(n))
		if off != 0 {
			break
		}
		n--
	}
	setNslotsVal(buf, n)
}

// EraseRecord tombstones sid, reclaiming its space immediately if it was
// the topmost record, else flagging the page as having a hole. Returns
// false if the slot was already tombstoned.
func EraseRecord(buf []byte, sid SlotID) (bool, error) {
	if err := validateSid(buf, sid); err != nil {
		return false, err
	}
	off, length := readSlot(buf, sid)
	if off == 0 {
		return false, nil
	}
	if int(off)+alignUp(int(length)) == int(fsBegin(buf)) {
		setFsBegin(buf, off)
	} else {
		setHasHole(buf, true)
	}
	writeSlot(buf, sid, 0, 0)
	setCntVal(buf, cntVal(buf)-1)
	trimTrailingTombstones(buf)
	return true, nil
}

// UpdateRecord rewrites the record at sid, relocating it (and marking a
// hole) or compacting the page if the new length does not fit in place.
func UpdateRecord(buf []byte, sid SlotID, rec []byte) (UpdateOutcome, error) {
	if err := validateSid(buf, sid); err != nil {
		return UpdateWontFit, err
	}
	capacity := PageSize - int(phSz(buf)) - SlotEntrySize
	newAligned := alignUp(len(rec))
	if newAligned > capacity {
		return UpdateWontFit, nil
	}

	off, length := readSlot(buf, sid)
	if off == 0 {
		return UpdateWontFit, ErrTombstoned
	}
	oldAligned := alignUp(int(length))

	if newAligned <= oldAligned {
		copy(buf[off:int(off)+len(rec)], rec)
		writeSlot(buf, sid, off, int32(len(rec)))
		return UpdateDone, nil
	}

	extra := newAligned - oldAligned
	isTop := int(off)+oldAligned == int(fsBegin(buf))
	if isTop && freeSpaceAvailable(buf) >= extra {
		copy(buf[off:int(off)+len(rec)], rec)
		writeSlot(buf, sid, off, int32(len(rec)))
		setFsBegin(buf, fsBegin(buf)+int32(extra))
		return UpdateDone, nil
	}

	if freeSpaceAvailable(buf) >= newAligned {
		relocate(buf, sid, rec, isTop, off, oldAligned)
		return UpdateDone, nil
	}

	Compact(buf)
	if freeSpaceAvailable(buf) >= newAligned {
		off2, length2 := readSlot(buf, sid)
		oldAligned2 := alignUp(int(length2))
		isTop2 := int(off2)+oldAligned2 == int(fsBegin(buf))
		relocate(buf, sid, rec, isTop2, off2, oldAligned2)
		return UpdateDone, nil
	}

	if _, err := EraseRecord(buf, sid); err != nil {
		return UpdateWontFit, err
	}
	return UpdateMovedOff, nil
}

func relocate(buf []byte, sid SlotID, rec []byte, wasTop bool, oldOff int32, oldAligned int) {
	if wasTop {
		setFsBegin(buf, oldOff)
	} else {
		setHasHole(buf, true)
	}
	newOff := fsBegin(buf)
	copy(buf[newOff:int(newOff)+len(rec)], rec)
	writeSlot(buf, sid, newOff, int32(len(rec)))
	setFsBegin(buf, newOff+int32(alignUp(len(rec))))
}

// RemoveSlot removes the slot id itself (unlike EraseRecord, which only
// tombstones it), shifting [sid+1, nslots] left by one.
func RemoveSlot(buf []byte, sid SlotID) error {
	if err := validateSid(buf, sid); err != nil {
		return err
	}
	off, length := readSlot(buf, sid)
	n := nslotsVal(buf)
	if off != 0 {
		if int(off)+alignUp(int(length)) == int(fsBegin(buf)) {
			setFsBegin(buf, off)
		} else {
			setHasHole(buf, true)
		}
		setCntVal(buf, cntVal(buf)-1)
	}
	for s := int32(sid); s < n; s++ {
		o, l := readSlot(buf, SlotID(s+1))
		writeSlot(buf, SlotID(s), o, l)
	}
	writeSlot(buf, SlotID(n), 0, 0)
	setNslotsVal(buf, n-1)
	trimTrailingTombstones(buf)
	return nil
}

// ShiftSlots drops the first n slot ids (truncate=true, remaining slots
// renumber from 1) or reserves n new tombstoned ids at the low end
// (truncate=false, existing slots renumber upward by n). Compacts if
// needed; panics if truncate=false and there is no room even after
// compaction — this is an invariant violation, not a recoverable error.
func ShiftSlots(buf []byte, n int, truncate bool) error {
	cur := nslotsVal(buf)
	if truncate {
		if int32(n) > cur {
			return ErrSlotRange
		}
		dropped := int32(0)
		for s := int32(1); s <= int32(n); s++ {
			off, _ := readSlot(buf, SlotID(s))
			if off != 0 {
				dropped++
			}
		}
		for s := int32(n) + 1; s <= cur; s++ {
			o, l := readSlot(buf, SlotID(s))
			writeSlot(buf, SlotID(s-int32(n)), o, l)
		}
		setNslotsVal(buf, cur-int32(n))
		setCntVal(buf, cntVal(buf)-dropped)
		Compact(buf)
		return nil
	}

	needed := n * SlotEntrySize
	if freeSpaceAvailable(buf) < needed {
		Compact(buf)
		if freeSpaceAvailable(buf) < needed {
			panic("slottedpage: ShiftSlots: no room to reserve new slots even after compaction")
		}
	}
	for s := cur; s >= 1; s-- {
		o, l := readSlot(buf, SlotID(s))
		writeSlot(buf, SlotID(s+int32(n)), o, l)
	}
	for s := int32(1); s <= int32(n); s++ {
		writeSlot(buf, SlotID(s), 0, 0)
	}
	setNslotsVal(buf, cur+int32(n))
	return nil
}

type occupiedSlot struct {
	sid    SlotID
	off    int32
	length int32
}

// Compact moves every occupied record adjacent to the next one, in
// ascending offset order, reclaiming any holes. Slot ids are preserved.
func Compact(buf []byte) {
	n := nslotsVal(buf)
	occ := make([]occupiedSlot, 0, n)
	for s := int32(1); s <= n; s++ {
		off, length := readSlot(buf, SlotID(s))
		if off != 0 {
			occ = append(occ, occupiedSlot{SlotID(s), off, length})
		}
	}
	sort.Slice(occ, func(i, j int) bool { return occ[i].off < occ[j].off })

	cursor := phSz(buf)
	for _, o := range occ {
		if o.off != cursor {
			copy(buf[cursor:int(cursor)+int(o.length)], buf[o.off:int(o.off)+int(o.length)])
			writeSlot(buf, o.sid, cursor, o.length)
		}
		cursor += int32(alignUp(int(o.length)))
	}
	setFsBegin(buf, cursor)
	setHasHole(buf, false)
}

// ComputeFreeSpace estimates the free space left on an otherwise-empty page
// reserving userDataSize bytes once it holds numRecs records totalling
// totalRecLen bytes, or -1 if that would not fit at all. The estimate
// ignores per-record alignment padding.
func ComputeFreeSpace(userDataSize, numRecs, totalRecLen int) int32 {
	capacity := PageSize - alignUp(FileHeaderSize+SlottedHeaderSize+userDataSize)
	needed := numRecs*SlotEntrySize + totalRecLen
	free := capacity - needed
	if free < 0 {
		return -1
	}
	return int32(free)
}
