// Package inode holds the paging core's per-file data model (spec §3,
// "Node"): the allocation size, the reader/writer lock guarding it and the
// block map, the partial-last-page flag, the dirty indirect-block queue,
// and a weak back-reference to whichever pager currently represents this
// file's memory object.
//
// There is no single teacher file this is grounded on one-to-one; it
// generalizes biscuit's fs.Superblock_t field-accessor idiom (simple typed
// getters/setters over a backing buffer) to the node's block-pointer
// fields, and its blk.go BlkList_t (a container/list wrapper used to track
// groups of in-flight blocks) to the indirect-block dirty queue.
package inode

import (
	"sync"

	"github.com/google/uuid"
)

// DirectPointers is the number of direct block pointers ext2-style inodes
// carry before falling back to single/double/triple indirection.
const DirectPointers = 12

// PagerHandle is the minimal surface a pager registry's handle must offer
// so a Node can hold a weak reference to it without this package importing
// the registry (which itself must import inode). Upgrade attempts to turn
// the weak reference into a live one, returning ok == false if the pager
// is mid-deallocation (spec §9, "weak back-reference").
type PagerHandle interface {
	Upgrade() (ok bool)
}

// BlockPointers is the on-disk block-pointer portion of an inode: direct
// pointers plus single/double/triple indirect block numbers. Zero means
// unallocated (a hole).
type BlockPointers struct {
	Direct  [DirectPointers]int64
	Indir1  int64 // single indirect
	Indir2  int64 // double indirect
	Indir3  int64 // triple indirect
}

// Node is one live mapping's worth of state: the fields spec §3 names,
// plus the block-pointer map, the block size, and an ID used only for log
// correlation.
type Node struct {
	ID uuid.UUID

	// AllocLock guards AllocSize, Blocks, and LastPagePartiallyWritable.
	// Readers: pagein/pageout. Writer: unlock/grow. This is the single
	// per-node lock in the concurrency model of spec §5.
	AllocLock sync.RWMutex

	// AllocSize is the file length rounded up to whole filesystem
	// blocks; invariant: AllocSize % BlockSize == 0.
	AllocSize int64

	// LastPagePartiallyWritable is true iff the file's final page ends
	// mid-page and some, but not all, of its blocks have been allocated.
	LastPagePartiallyWritable bool

	// Blocks is the direct/indirect block-pointer map for this file.
	Blocks BlockPointers

	// Pager is a weak reference to this node's file-data pager, if any
	// mapping is currently live (spec §3 "Ownership"). nil means no
	// pager is currently associated.
	Pager PagerHandle

	// IndirPokel queues dirty indirect/metadata blocks for this node to
	// be synced alongside it.
	IndirPokel *Pokel

	BlockSize int
}

// New creates a Node for a file of the given initial allocated size
// (already block-aligned) and block size.
func New(allocSize int64, blockSize int) *Node {
	return &Node{
		ID:         uuid.New(),
		AllocSize:  allocSize,
		BlockSize:  blockSize,
		IndirPokel: NewPokel(),
	}
}
