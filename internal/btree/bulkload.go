package btree

import "github.com/tuannm99/novasql/internal/schema"

// BulkLoadItem is one (key, heap record id) pair for BulkLoad.
type BulkLoadItem struct {
	Key []schema.FieldValue
	Rid RID
}

// BulkLoadIterator is the minimal iterator shape BulkLoad drains — anything
// with a Next-then-read protocol, including *Iterator itself when bulk
// loading one tree's contents into another with a different schema.
type BulkLoadIterator interface {
	Next() (bool, error)
	GetCurrentItem() []schema.FieldValue
	GetCurrentRecordId() RID
}

// BulkLoad inserts every item an iterator yields, one InsertKey call at a
// time. No sorted bottom-up leaf packing is attempted; a future builder that
// writes leaves directly and skips per-tuple descents is left open.
func (t *Tree) BulkLoad(it BulkLoadIterator) (int, error) {
	inserted := 0
	for {
		ok, err := it.Next()
		if err != nil {
			return inserted, err
		}
		if !ok {
			return inserted, nil
		}
		done, err := t.InsertKey(it.GetCurrentItem(), it.GetCurrentRecordId())
		if err != nil {
			return inserted, err
		}
		if done {
			inserted++
		}
	}
}

// BulkLoadSlice adapts a plain slice of items to BulkLoadIterator for
// callers that already have everything in memory (the demo CLI's `load`
// command, tests).
type BulkLoadSlice struct {
	items []BulkLoadItem
	pos   int
}

func NewBulkLoadSlice(items []BulkLoadItem) *BulkLoadSlice {
	return &BulkLoadSlice{items: items, pos: -1}
}

func (s *BulkLoadSlice) Next() (bool, error) {
	if s.pos+1 >= len(s.items) {
		return false, nil
	}
	s.pos++
	return true, nil
}

func (s *BulkLoadSlice) GetCurrentItem() []schema.FieldValue { return s.items[s.pos].Key }
func (s *BulkLoadSlice) GetCurrentRecordId() RID             { return s.items[s.pos].Rid }
