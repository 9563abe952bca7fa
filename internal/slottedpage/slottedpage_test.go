package slottedpage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newPage(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, PageSize)
	require.NoError(t, InitializePage(buf, 0))
	return buf
}

func TestInitializePageEmpty(t *testing.T) {
	buf := newPage(t)
	require.Equal(t, InvalidSlotID, MaxSlotId(buf))
	require.Equal(t, int32(0), RecordCount(buf))
}

func TestInsertAndGetRecord(t *testing.T) {
	buf := newPage(t)

	out, err := InsertRecord(buf, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, Inserted, out.Kind)
	require.Equal(t, MinSlotID, out.Slot)

	got, err := GetRecord(buf, out.Slot)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
	require.Equal(t, int32(1), RecordCount(buf))
}

func TestInsertReusesTombstonedSlot(t *testing.T) {
	buf := newPage(t)

	o1, _ := InsertRecord(buf, []byte("a"))
	o2, _ := InsertRecord(buf, []byte("bb"))
	_, _ = InsertRecord(buf, []byte("ccc"))

	ok, err := EraseRecord(buf, o2.Slot)
	require.NoError(t, err)
	require.True(t, ok)

	occ, err := IsOccupied(buf, o2.Slot)
	require.NoError(t, err)
	require.False(t, occ)

	o4, err := InsertRecord(buf, []byte("dddd"))
	require.NoError(t, err)
	require.Equal(t, o2.Slot, o4.Slot)

	got, err := GetRecord(buf, o1.Slot)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got)
}

func TestEraseTopmostReclaimsSpace(t *testing.T) {
	buf := newPage(t)

	o1, _ := InsertRecord(buf, []byte("aaaa"))
	before := freeSpaceAvailable(buf)

	ok, err := EraseRecord(buf, o1.Slot)
	require.NoError(t, err)
	require.True(t, ok)

	after := freeSpaceAvailable(buf)
	require.Greater(t, after, before)
	require.False(t, hasHole(buf))
	require.Equal(t, InvalidSlotID, MaxSlotId(buf))
}

func TestEraseNonTopmostFlagsHole(t *testing.T) {
	buf := newPage(t)

	o1, _ := InsertRecord(buf, []byte("aaaa"))
	_, _ = InsertRecord(buf, []byte("bbbb"))

	ok, err := EraseRecord(buf, o1.Slot)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, hasHole(buf))
}

func TestInsertRecordAtShiftsSlots(t *testing.T) {
	buf := newPage(t)

	o1, _ := InsertRecord(buf, []byte("x"))
	o2, _ := InsertRecord(buf, []byte("y"))

	out, err := InsertRecordAt(buf, o1.Slot+1, []byte("mid"))
	require.NoError(t, err)
	require.Equal(t, Inserted, out.Kind)

	gotMid, err := GetRecord(buf, out.Slot)
	require.NoError(t, err)
	require.Equal(t, []byte("mid"), gotMid)

	gotY, err := GetRecord(buf, o2.Slot+1)
	require.NoError(t, err)
	require.Equal(t, []byte("y"), gotY)

	require.Equal(t, int32(3), RecordCount(buf))
}

func TestUpdateRecordInPlaceShrink(t *testing.T) {
	buf := newPage(t)
	o, _ := InsertRecord(buf, []byte("aaaaaaaa"))

	outcome, err := UpdateRecord(buf, o.Slot, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, UpdateDone, outcome)

	got, err := GetRecord(buf, o.Slot)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), got)
}

func TestUpdateRecordGrowRelocates(t *testing.T) {
	buf := newPage(t)
	o1, _ := InsertRecord(buf, []byte("a"))
	_, _ = InsertRecord(buf, []byte("b"))

	big := make([]byte, 64)
	for i := range big {
		big[i] = 'z'
	}
	outcome, err := UpdateRecord(buf, o1.Slot, big)
	require.NoError(t, err)
	require.Equal(t, UpdateDone, outcome)

	got, err := GetRecord(buf, o1.Slot)
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestRemoveSlotShrinksDirectory(t *testing.T) {
	buf := newPage(t)
	o1, _ := InsertRecord(buf, []byte("a"))
	o2, _ := InsertRecord(buf, []byte("b"))
	o3, _ := InsertRecord(buf, []byte("c"))

	require.NoError(t, RemoveSlot(buf, o2.Slot))
	require.Equal(t, SlotID(2), MaxSlotId(buf))

	got, err := GetRecord(buf, o1.Slot)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got)

	got3, err := GetRecord(buf, o3.Slot-1)
	require.NoError(t, err)
	require.Equal(t, []byte("c"), got3)
}

func TestCompactRemovesHoles(t *testing.T) {
	buf := newPage(t)
	o1, _ := InsertRecord(buf, []byte("aaaa"))
	o2, _ := InsertRecord(buf, []byte("bbbb"))
	_, _ = InsertRecord(buf, []byte("cccc"))

	_, err := EraseRecord(buf, o1.Slot)
	require.NoError(t, err)
	require.True(t, hasHole(buf))

	Compact(buf)
	require.False(t, hasHole(buf))

	got, err := GetRecord(buf, o2.Slot)
	require.NoError(t, err)
	require.Equal(t, []byte("bbbb"), got)
}

func TestInsertRecordWontFitWhenRecordLargerThanPage(t *testing.T) {
	buf := newPage(t)
	big := make([]byte, PageSize)
	out, err := InsertRecord(buf, big)
	require.NoError(t, err)
	require.Equal(t, WontFit, out.Kind)
}

func TestShiftSlotsTruncate(t *testing.T) {
	buf := newPage(t)
	_, _ = InsertRecord(buf, []byte("a"))
	o2, _ := InsertRecord(buf, []byte("b"))
	o3, _ := InsertRecord(buf, []byte("c"))

	require.NoError(t, ShiftSlots(buf, 1, true))
	require.Equal(t, SlotID(2), MaxSlotId(buf))

	got, err := GetRecord(buf, o2.Slot-1)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), got)

	got3, err := GetRecord(buf, o3.Slot-1)
	require.NoError(t, err)
	require.Equal(t, []byte("c"), got3)
}

func TestUserDataReservedRegion(t *testing.T) {
	buf := make([]byte, PageSize)
	require.NoError(t, InitializePage(buf, 32))
	ud := UserData(buf)
	require.Len(t, ud, 32)

	ud[0] = 0xAB
	require.Equal(t, byte(0xAB), UserData(buf)[0])

	out, err := InsertRecord(buf, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, Inserted, out.Kind)
}
