package table

import (
	"sync"

	"github.com/keplerdb/kepler/store/types"
)

// PageSlots is the number of row slots per page. RowPointer reserves 16 bits
// for the slot, so this must stay <= 1<<16.
const PageSlots = 512

// Page holds up to PageSlots encoded rows. A nil slot is free.
type Page struct {
	slots [][]byte
	used  int
}

func newPage() *Page {
	return &Page{slots: make([][]byte, PageSlots)}
}

func (p *Page) row(slot types.PageSlot) []byte { return p.slots[slot] }

func (p *Page) set(slot types.PageSlot, row []byte) {
	if p.slots[slot] == nil {
		p.used++
	}
	p.slots[slot] = row
}

func (p *Page) clear(slot types.PageSlot) {
	if p.slots[slot] != nil {
		p.used--
	}
	p.slots[slot] = nil
}

func (p *Page) full() bool { return p.used == PageSlots }

func (p *Page) reset() {
	for i := range p.slots {
		p.slots[i] = nil
	}
	p.used = 0
}

// PagePool recycles pages across tables and across the tx/committed boundary.
// A transaction's insert tables draw pages from the same pool the committed
// tables use; pages freed by a truncate or a dropped table return here.
type PagePool struct {
	mu   sync.Mutex
	free []*Page
}

func NewPagePool() *PagePool {
	return &PagePool{}
}

// Take returns a cleared page, reusing a freed one when available.
func (pp *PagePool) Take() *Page {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if n := len(pp.free); n > 0 {
		pg := pp.free[n-1]
		pp.free = pp.free[:n-1]
		return pg
	}
	return newPage()
}

// Put returns a page to the pool.
func (pp *PagePool) Put(pg *Page) {
	pg.reset()
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.free = append(pp.free, pg)
}

// FreePages returns the number of pages currently pooled.
func (pp *PagePool) FreePages() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.free)
}
