package blockmap

import (
	"sync"

	"ext2pager/internal/ext2err"

	"github.com/pkg/errors"
)

// BitmapAllocator is a minimal free-block Allocator backed by an in-memory
// bitmap over a fixed block range [start, start+count). Real ext2 parses
// this bitmap out of each block group's descriptor on disk; that parsing
// is out of scope here (spec §1, "superblock/group parsing"), so this
// stands in as the free-space source blockmap.Resolve allocates against,
// grounded on the same next-fit free-list idiom as mem.Physmem_t
// (biscuit/src/mem/physmem.go) but over a bitmap instead of a linked
// free-page list, since block numbers need to persist inside on-disk
// pointers rather than live only in memory.
type BitmapAllocator struct {
	mu     sync.Mutex
	bits   []uint64
	start  int64
	count  int64
	cursor int64
}

// NewBitmapAllocator creates an allocator over `count` blocks numbered
// start..start+count-1, all initially free.
func NewBitmapAllocator(start, count int64) *BitmapAllocator {
	return &BitmapAllocator{
		bits:  make([]uint64, (count+63)/64),
		start: start,
		count: count,
	}
}

func (a *BitmapAllocator) isSet(i int64) bool {
	return a.bits[i/64]&(1<<uint(i%64)) != 0
}

func (a *BitmapAllocator) set(i int64) {
	a.bits[i/64] |= 1 << uint(i%64)
}

// AllocateBlock returns the next free block number, marking it used.
func (a *BitmapAllocator) AllocateBlock() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for n := int64(0); n < a.count; n++ {
		i := (a.cursor + n) % a.count
		if !a.isSet(i) {
			a.set(i)
			a.cursor = i + 1
			return a.start + i, nil
		}
	}
	return 0, errors.Wrap(ext2err.ErrOutOfSpace, "blockmap: no free blocks remain")
}

// Free marks a previously allocated block free again. Not part of the
// Allocator interface blockmap.Resolve consumes; exposed for callers
// (e.g. truncate, once implemented) that need to release blocks.
func (a *BitmapAllocator) Free(block int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := block - a.start
	a.bits[i/64] &^= 1 << uint(i%64)
}
