package storage

// Page is a fixed-size byte buffer loaded from or destined for one slot in a
// segment file. It carries no layout knowledge of its own — the slotted-page
// and B-tree packages interpret Buf according to their own formats. The
// page id it currently holds is recorded in the Page (PageID) and rebound
// by Reset.
type Page struct {
	id  uint32
	Buf []byte
}

// NewPage wraps buf (which must be exactly PageSize bytes) as page id.
func NewPage(id uint32, buf []byte) *Page {
	return &Page{id: id, Buf: buf}
}

func (p *Page) PageID() uint32 {
	return p.id
}

// Reset zero-fills the buffer and rebinds it to a new page id, for reuse of
// a frame's backing array across evictions.
func (p *Page) Reset(id uint32) {
	p.id = id
	for i := range p.Buf {
		p.Buf[i] = 0
	}
}
