// Package btree implements a B+-tree keyed by a schema.KeySchema and stored
// across slotted pages pinned through a bufferpool.Manager. Leaves hold the
// actual (key, heap-record-id) entries; internal pages hold (key, child
// page id) separators. Page 0 of every tree's file is a meta page holding
// only the root page id.
package btree

import (
	"github.com/tuannm99/novasql/internal/alias/bx"
	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/slottedpage"
)

// PageHeaderSize is the leaf/internal page header reserved as SlottedPage
// user-data: {flags u32, totrlen i32, prev_pid u32, next_pid u32}.
const PageHeaderSize = 16

// MaxRecordSize bounds the longest index record (leaf or internal) the tree
// will accept; chosen so several records always fit on an empty page.
const MaxRecordSize = slottedpage.PageSize / 4

// MinPageUsage is the underfill threshold for a non-root page: 40% of PageSize.
const MinPageUsage = int32(slottedpage.PageSize * 40 / 100)

const (
	flagIsLeaf = uint32(1) << 0
	flagIsRoot = uint32(1) << 1
)

func pageFlags(buf []byte) uint32       { return bx.U32(slottedpage.UserData(buf)[0:4]) }
func setPageFlagsRaw(buf []byte, f uint32) { bx.PutU32(slottedpage.UserData(buf)[0:4], f) }

func isLeafPage(buf []byte) bool { return pageFlags(buf)&flagIsLeaf != 0 }
func isRootPage(buf []byte) bool { return pageFlags(buf)&flagIsRoot != 0 }

func flagsFor(leaf, root bool) uint32 {
	var f uint32
	if leaf {
		f |= flagIsLeaf
	}
	if root {
		f |= flagIsRoot
	}
	return f
}

func setPageFlags(buf []byte, leaf, root bool) { setPageFlagsRaw(buf, flagsFor(leaf, root)) }
func setIsRoot(buf []byte, root bool) {
	f := pageFlags(buf)
	if root {
		f |= flagIsRoot
	} else {
		f &^= flagIsRoot
	}
	setPageFlagsRaw(buf, f)
}

func totrlen(buf []byte) int32       { return bx.I32(slottedpage.UserData(buf)[4:8]) }
func setTotrlen(buf []byte, v int32) { bx.PutU32(slottedpage.UserData(buf)[4:8], uint32(v)) }

func prevPID(buf []byte) uint32       { return bx.U32(slottedpage.UserData(buf)[8:12]) }
func setPrevPID(buf []byte, v uint32) { bx.PutU32(slottedpage.UserData(buf)[8:12], v) }

func nextPID(buf []byte) uint32       { return bx.U32(slottedpage.UserData(buf)[12:16]) }
func setNextPID(buf []byte, v uint32) { bx.PutU32(slottedpage.UserData(buf)[12:16], v) }

// ComputePageUsage returns PAGE_SIZE - free_space for the given record
// counts, or PageSize+1 (a deliberately out-of-range sentinel) if they would
// not fit on an empty page at all.
func ComputePageUsage(numRecs, totalRecLen int) int32 {
	free := slottedpage.ComputeFreeSpace(PageHeaderSize, numRecs, totalRecLen)
	if free < 0 {
		return slottedpage.PageSize + 1
	}
	return int32(slottedpage.PageSize) - free
}

func pageUsageOf(buf []byte) int32 {
	max := slottedpage.MaxSlotId(buf)
	n := 0
	if max != slottedpage.InvalidSlotID {
		n = int(max)
	}
	return ComputePageUsage(n, int(totrlen(buf)))
}

// --- leaf records: {heap_pid u32, heap_sid i32} + key payload ---

const LeafHeaderSize = 8

// BuildLeafRecord serializes a key and its heap record id into a leaf record.
func BuildLeafRecord(sch schema.KeySchema, keyFields []schema.FieldValue, heapRID RID) []byte {
	payloadSize := sch.PayloadSize(keyFields)
	buf := make([]byte, LeafHeaderSize+payloadSize)
	bx.PutU32(buf[0:], heapRID.PageID)
	bx.PutU32(buf[4:], uint32(heapRID.SlotID))
	sch.WritePayload(keyFields, buf[LeafHeaderSize:])
	return buf
}

func decodeLeafRecord(rec []byte) (RID, []byte) {
	rid := RID{PageID: bx.U32(rec[0:]), SlotID: bx.I32(rec[4:])}
	return rid, rec[LeafHeaderSize:]
}

func decodeLeafParts(rec []byte, sch schema.KeySchema) (RID, []byte) {
	rid, payload := decodeLeafRecord(rec)
	return rid, append([]byte(nil), payload...)
}

func leafRecordAt(buf []byte, sid slottedpage.SlotID, sch schema.KeySchema) ([]schema.FieldValue, RID, error) {
	rec, err := slottedpage.GetRecord(buf, sid)
	if err != nil {
		return nil, RID{}, err
	}
	rid, payload := decodeLeafRecord(rec)
	return sch.DissemblePayload(payload), rid, nil
}

// --- internal records: {child_pid u32, heap_pid u32, heap_sid i32} + optional key payload ---

const InternalHeaderSize = 12

// BuildInternalRecord serializes a child pointer and optional key payload
// (nil/empty for a page's headerless first record) into an internal record.
func BuildInternalRecord(childPID uint32, heapRID RID, keyPayload []byte) []byte {
	buf := make([]byte, InternalHeaderSize+len(keyPayload))
	bx.PutU32(buf[0:], childPID)
	bx.PutU32(buf[4:], heapRID.PageID)
	bx.PutU32(buf[8:], uint32(heapRID.SlotID))
	copy(buf[InternalHeaderSize:], keyPayload)
	return buf
}

func decodeInternalRecord(rec []byte) (childPID uint32, heapRID RID, payload []byte) {
	childPID = bx.U32(rec[0:])
	heapRID = RID{PageID: bx.U32(rec[4:]), SlotID: bx.I32(rec[8:])}
	return childPID, heapRID, rec[InternalHeaderSize:]
}

func decodeInternalParts(rec []byte) (childPID uint32, heapRID RID, payload []byte) {
	childPID, heapRID, p := decodeInternalRecord(rec)
	return childPID, heapRID, append([]byte(nil), p...)
}

func internalChildAt(buf []byte, sid slottedpage.SlotID, sch schema.KeySchema) (uint32, []schema.FieldValue, RID, error) {
	rec, err := slottedpage.GetRecord(buf, sid)
	if err != nil {
		return 0, nil, RID{}, err
	}
	childPID, heapRID, payload := decodeInternalRecord(rec)
	var fields []schema.FieldValue
	if len(payload) > 0 {
		fields = sch.DissemblePayload(payload)
	}
	return childPID, fields, heapRID, nil
}

func collectAllRecords(buf []byte) ([][]byte, error) {
	max := slottedpage.MaxSlotId(buf)
	n := int32(0)
	if max != slottedpage.InvalidSlotID {
		n = int32(max)
	}
	recs := make([][]byte, 0, n)
	for s := int32(1); s <= n; s++ {
		rec, err := slottedpage.GetRecord(buf, slottedpage.SlotID(s))
		if err != nil {
			return nil, err
		}
		recs = append(recs, append([]byte(nil), rec...))
	}
	return recs, nil
}

func collectRecordsWithInsert(buf []byte, insertSid slottedpage.SlotID, insertRec []byte) ([][]byte, error) {
	max := slottedpage.MaxSlotId(buf)
	n := int32(0)
	if max != slottedpage.InvalidSlotID {
		n = int32(max)
	}
	recs := make([][]byte, 0, n+1)
	for s := int32(1); s <= n; s++ {
		if int32(insertSid) == s {
			recs = append(recs, insertRec)
		}
		rec, err := slottedpage.GetRecord(buf, slottedpage.SlotID(s))
		if err != nil {
			return nil, err
		}
		recs = append(recs, append([]byte(nil), rec...))
	}
	if int32(insertSid) == n+1 {
		recs = append(recs, insertRec)
	}
	return recs, nil
}
