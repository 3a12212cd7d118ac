package inode

import "container/list"

// Pokel is the dirty indirect/metadata block queue attached to a node
// (spec §3, "indir_pokel"): blocks that the block map dirtied while
// allocating are queued here so a subsequent sync can write them all out
// without the sync path needing to know which indirect blocks changed.
//
// Adapted from the teacher's fs.BlkList_t (biscuit/src/fs/blk.go), a thin
// container/list wrapper used there to batch disk blocks for one device
// request; here it batches dirty block numbers awaiting a metadata sync
// instead of an I/O request.
type Pokel struct {
	l *list.List
	// seen de-duplicates by block number so repeated allocations into the
	// same indirect block don't grow the queue unboundedly.
	seen map[int64]*list.Element
}

// NewPokel creates an empty dirty-block queue.
func NewPokel() *Pokel {
	return &Pokel{l: list.New(), seen: make(map[int64]*list.Element)}
}

// Add marks block dirty. Adding an already-queued block is a no-op.
func (p *Pokel) Add(block int64) {
	if _, ok := p.seen[block]; ok {
		return
	}
	e := p.l.PushBack(block)
	p.seen[block] = e
}

// Drain removes and returns every queued block number, in the order they
// were added, leaving the queue empty.
func (p *Pokel) Drain() []int64 {
	out := make([]int64, 0, p.l.Len())
	for e := p.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(int64))
	}
	p.l.Init()
	p.seen = make(map[int64]*list.Element)
	return out
}

// Len reports how many distinct blocks are currently queued.
func (p *Pokel) Len() int {
	return p.l.Len()
}
