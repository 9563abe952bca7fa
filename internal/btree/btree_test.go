package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/storage"
)

func newTestTree(t *testing.T, unique bool) *Tree {
	t.Helper()
	fs := storage.LocalFileSet{Dir: t.TempDir(), Base: "idx"}
	sm := storage.NewStorageManager()
	fm, err := storage.NewFileManager(sm, fs)
	require.NoError(t, err)
	pool := bufferpool.NewPool(sm, fs, fm, 32)
	tr, err := Create(pool, fm, schema.Int64Schema{}, unique)
	require.NoError(t, err)
	return tr
}

func key(v int64) []schema.FieldValue { return []schema.FieldValue{v} }

func TestInsertAndSearchSingleKey(t *testing.T) {
	tr := newTestTree(t, true)

	ok, err := tr.InsertKey(key(42), RID{PageID: 1, SlotID: 3})
	require.NoError(t, err)
	require.True(t, ok)

	it, err := tr.StartScan(key(42), false, key(42), false)
	require.NoError(t, err)
	defer it.EndScan()

	has, err := it.Next()
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, key(42), it.GetCurrentItem())
	require.Equal(t, RID{PageID: 1, SlotID: 3}, it.GetCurrentRecordId())

	has, err = it.Next()
	require.NoError(t, err)
	require.False(t, has)
}

func TestUniqueTreeRejectsDuplicateKey(t *testing.T) {
	tr := newTestTree(t, true)

	ok, err := tr.InsertKey(key(1), RID{PageID: 1, SlotID: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tr.InsertKey(key(1), RID{PageID: 2, SlotID: 1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNonUniqueTreeOrdersByRecid(t *testing.T) {
	tr := newTestTree(t, false)

	rids := []RID{{PageID: 5, SlotID: 1}, {PageID: 2, SlotID: 1}, {PageID: 9, SlotID: 1}}
	for _, r := range rids {
		ok, err := tr.InsertKey(key(7), r)
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tr.StartScan(key(7), false, key(7), false)
	require.NoError(t, err)
	defer it.EndScan()

	var seen []RID
	for {
		has, err := it.Next()
		require.NoError(t, err)
		if !has {
			break
		}
		seen = append(seen, it.GetCurrentRecordId())
	}
	require.Equal(t, []RID{{PageID: 2, SlotID: 1}, {PageID: 5, SlotID: 1}, {PageID: 9, SlotID: 1}}, seen)
}

func TestEmptyTreeIsEmptyAndHeightOne(t *testing.T) {
	tr := newTestTree(t, true)

	empty, err := tr.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	h, err := tr.GetTreeHeight()
	require.NoError(t, err)
	require.Equal(t, 1, h)
}

func TestManyInsertsCauseSplitsAndStayValid(t *testing.T) {
	tr := newTestTree(t, true)

	const n = 500
	for i := int64(0); i < n; i++ {
		ok, err := tr.InsertKey(key(i), RID{PageID: uint32(i) + 1, SlotID: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, tr.Validate())

	h, err := tr.GetTreeHeight()
	require.NoError(t, err)
	require.Greater(t, h, 1)

	st, err := tr.Stats()
	require.NoError(t, err)
	require.Equal(t, n, st.RecordCount)

	it, err := tr.StartScan(nil, false, nil, false)
	require.NoError(t, err)
	defer it.EndScan()
	var prev int64 = -1
	count := 0
	for {
		has, err := it.Next()
		require.NoError(t, err)
		if !has {
			break
		}
		cur := it.GetCurrentItem()[0].(int64)
		require.Greater(t, cur, prev)
		prev = cur
		count++
	}
	require.Equal(t, n, count)
}

func TestDeleteAllKeysEmptiesTree(t *testing.T) {
	tr := newTestTree(t, true)

	const n = 400
	for i := int64(0); i < n; i++ {
		ok, err := tr.InsertKey(key(i), RID{PageID: uint32(i) + 1, SlotID: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, tr.Validate())

	for i := int64(0); i < n; i++ {
		ok, _, err := tr.DeleteKey(key(i), nil)
		require.NoError(t, err)
		require.True(t, ok, "key %d should have been deleted", i)
	}

	empty, err := tr.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	h, err := tr.GetTreeHeight()
	require.NoError(t, err)
	require.Equal(t, 1, h)

	require.NoError(t, tr.Validate())
}

func TestDeleteReverseOrderStaysValid(t *testing.T) {
	tr := newTestTree(t, true)

	const n = 300
	for i := int64(0); i < n; i++ {
		ok, err := tr.InsertKey(key(i), RID{PageID: uint32(i) + 1, SlotID: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := int64(n - 1); i >= 0; i-- {
		ok, rid, err := tr.DeleteKey(key(i), nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint32(i)+1, rid.PageID)
		if i%50 == 0 {
			require.NoError(t, tr.Validate())
		}
	}

	empty, err := tr.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestDeleteMissingKeyReturnsFalse(t *testing.T) {
	tr := newTestTree(t, true)
	ok, err := tr.InsertKey(key(1), RID{PageID: 1, SlotID: 1})
	require.NoError(t, err)
	require.True(t, ok)

	found, _, err := tr.DeleteKey(key(99), nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestScanWithBounds(t *testing.T) {
	tr := newTestTree(t, true)

	for i := int64(0); i < 50; i++ {
		ok, err := tr.InsertKey(key(i), RID{PageID: uint32(i) + 1, SlotID: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tr.StartScan(key(10), false, key(20), true)
	require.NoError(t, err)
	defer it.EndScan()

	var got []int64
	for {
		has, err := it.Next()
		require.NoError(t, err)
		if !has {
			break
		}
		got = append(got, it.GetCurrentItem()[0].(int64))
	}
	require.Equal(t, int64(10), got[0])
	require.Equal(t, int64(19), got[len(got)-1])
	require.Len(t, got, 10)
}

func TestBulkLoad(t *testing.T) {
	tr := newTestTree(t, true)

	items := make([]BulkLoadItem, 100)
	for i := range items {
		items[i] = BulkLoadItem{Key: key(int64(i)), Rid: RID{PageID: uint32(i) + 1, SlotID: 1}}
	}

	n, err := tr.BulkLoad(NewBulkLoadSlice(items))
	require.NoError(t, err)
	require.Equal(t, 100, n)

	st, err := tr.Stats()
	require.NoError(t, err)
	require.Equal(t, 100, st.RecordCount)
}

func TestDebugDumpProducesNonEmptyOutput(t *testing.T) {
	tr := newTestTree(t, true)
	for i := int64(0); i < 10; i++ {
		_, err := tr.InsertKey(key(i), RID{PageID: uint32(i) + 1, SlotID: 1})
		require.NoError(t, err)
	}

	s, err := tr.DebugDump()
	require.NoError(t, err)
	require.Contains(t, s, "leaf")
}

func TestScenario200KeysSingleLeaf(t *testing.T) {
	tr := newTestTree(t, true)
	order := []int64{}
	for i := int64(200); i >= 1; i-- {
		order = append(order, i)
	}
	for _, k := range order {
		ok, err := tr.InsertKey(key(k), RID{PageID: uint32(k), SlotID: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	h, err := tr.GetTreeHeight()
	require.NoError(t, err)
	require.Equal(t, 1, h)

	it, err := tr.StartScan(nil, false, nil, false)
	require.NoError(t, err)
	defer it.EndScan()
	for want := int64(1); want <= 200; want++ {
		has, err := it.Next()
		require.NoError(t, err)
		require.True(t, has)
		require.Equal(t, want, it.GetCurrentItem()[0].(int64))
		require.Equal(t, uint32(want), it.GetCurrentRecordId().PageID)
	}
	has, err := it.Next()
	require.NoError(t, err)
	require.False(t, has)
}

func TestScenario203KeysSplitsRoot(t *testing.T) {
	tr := newTestTree(t, true)
	for i := int64(1); i <= 203; i++ {
		ok, err := tr.InsertKey(key(i), RID{PageID: uint32(i), SlotID: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	h, err := tr.GetTreeHeight()
	require.NoError(t, err)
	require.Equal(t, 2, h)

	it, err := tr.StartScan(nil, false, nil, false)
	require.NoError(t, err)
	defer it.EndScan()
	count := 0
	for {
		has, err := it.Next()
		require.NoError(t, err)
		if !has {
			break
		}
		count++
	}
	require.Equal(t, 203, count)
}

func TestScenarioUniqueIndexDuplicateKeepsFirst(t *testing.T) {
	tr := newTestTree(t, true)

	ok, err := tr.InsertKey(key(5), RID{PageID: 1, SlotID: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tr.InsertKey(key(5), RID{PageID: 2, SlotID: 1})
	require.NoError(t, err)
	require.False(t, ok)

	it, err := tr.StartScan(key(5), false, key(5), false)
	require.NoError(t, err)
	defer it.EndScan()

	has, err := it.Next()
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, RID{PageID: 1, SlotID: 1}, it.GetCurrentRecordId())

	has, err = it.Next()
	require.NoError(t, err)
	require.False(t, has)
}

func TestScenarioRangeScanInclusiveExclusiveBounds(t *testing.T) {
	tr := newTestTree(t, true)
	for i := int64(1); i <= 1000; i++ {
		ok, err := tr.InsertKey(key(i), RID{PageID: uint32(i), SlotID: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	// [250, 500) -> 250..499
	it, err := tr.StartScan(key(250), false, key(500), true)
	require.NoError(t, err)
	var got []int64
	for {
		has, err := it.Next()
		require.NoError(t, err)
		if !has {
			break
		}
		got = append(got, it.GetCurrentItem()[0].(int64))
	}
	require.NoError(t, it.EndScan())
	require.Equal(t, int64(250), got[0])
	require.Equal(t, int64(499), got[len(got)-1])
	require.Len(t, got, 250)

	// (250, 500] -> 251..500
	it2, err := tr.StartScan(key(250), true, key(500), false)
	require.NoError(t, err)
	got = nil
	for {
		has, err := it2.Next()
		require.NoError(t, err)
		if !has {
			break
		}
		got = append(got, it2.GetCurrentItem()[0].(int64))
	}
	require.NoError(t, it2.EndScan())
	require.Equal(t, int64(251), got[0])
	require.Equal(t, int64(500), got[len(got)-1])
	require.Len(t, got, 250)
}

func TestScenario4000RandomInsertThenDeleteAll(t *testing.T) {
	tr := newTestTree(t, true)

	r := newShuffler(4000)
	for _, k := range r {
		ok, err := tr.InsertKey(key(k), RID{PageID: uint32(k) + 1, SlotID: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, tr.Validate())

	deleteOrder := newShuffler(4000)
	for _, k := range deleteOrder {
		ok, _, err := tr.DeleteKey(key(k), nil)
		require.NoError(t, err)
		require.True(t, ok)
	}

	empty, err := tr.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	h, err := tr.GetTreeHeight()
	require.NoError(t, err)
	require.Equal(t, 1, h)
}

// newShuffler returns 0..n-1 in a fixed, deterministic, non-sorted order —
// a stand-in for "arbitrary/random order" that does not depend on
// math/rand's seeding behavior across Go versions.
func newShuffler(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i)
	}
	for i := len(out) - 1; i > 0; i-- {
		j := (i * 2654435761) % (i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func TestCloseFlushesPool(t *testing.T) {
	tr := newTestTree(t, true)
	_, err := tr.InsertKey(key(1), RID{PageID: 1, SlotID: 1})
	require.NoError(t, err)
	require.NoError(t, tr.Close())
}
