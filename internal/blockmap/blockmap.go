// Package blockmap implements spec §4.2 (C2): resolving a (node,
// file-block) pair to a disk block, walking direct and single/double/
// triple indirect pointers, and allocating new blocks (both data blocks
// and the indirect blocks needed to reach them) on request.
//
// The field-accessor shape (fixed-width reads/writes into a block-sized
// buffer) is grounded on the teacher's fs.Superblock_t (biscuit/src/fs/
// super.go), which exposes typed getters/setters over a raw *mem.Bytepg_t
// using the same util.Readn/Writen primitives used here; this package
// extends that idiom from a handful of named superblock fields to an
// indirect block's array of pointers.
package blockmap

import (
	"ext2pager/internal/device"
	"ext2pager/internal/ext2err"
	"ext2pager/internal/inode"
	"ext2pager/internal/util"

	"github.com/pkg/errors"
)

const ptrSize = 8 // bytes per block pointer in an indirect block

// Allocator hands out fresh disk block numbers. It is the "one and only
// mutator of the inode's block map" in spec §6's sense one layer down:
// this package decides *which* pointer slots to fill in, Allocator decides
// *which block number* to fill them with. A real ext2 implementation
// backs this with the on-disk block-group bitmaps; superblock/group
// parsing is out of scope here (spec §1), so callers supply their own.
type Allocator interface {
	// AllocateBlock returns a fresh disk block number, or an error
	// wrapping ext2err.ErrOutOfSpace if the device is full.
	AllocateBlock() (int64, error)
}

// BlockMap resolves and allocates blocks for nodes sharing one device and
// geometry.
type BlockMap struct {
	dev       device.Device
	blockSize int
	alloc     Allocator
}

// New creates a BlockMap over dev, using blockSize-byte filesystem blocks
// and alloc to satisfy new block requests.
func New(dev device.Device, blockSize int, alloc Allocator) *BlockMap {
	return &BlockMap{dev: dev, blockSize: blockSize, alloc: alloc}
}

func (bm *BlockMap) pointersPerIndirectBlock() int64 {
	return int64(bm.blockSize) / ptrSize
}

func (bm *BlockMap) toDevBlock(fsBlock int64) int64 {
	return fsBlock * int64(bm.blockSize/bm.dev.BlockSize())
}

func (bm *BlockMap) readPtr(buf []byte, idx int64) int64 {
	return int64(util.Readn(buf, ptrSize, int(idx)*ptrSize))
}

func (bm *BlockMap) writePtr(buf []byte, idx int64, v int64) {
	util.Writen(buf, ptrSize, int(idx)*ptrSize, int(v))
}

// Resolve returns the disk block backing file-block fileBlock of node. If
// the block is unmapped and allocate is false, it returns (0, nil) — a
// hole (spec §4.2). If allocate is true, it walks and allocates direct/
// indirect pointers as needed, queuing any newly dirtied indirect blocks
// on node.IndirPokel.
func (bm *BlockMap) Resolve(node *inode.Node, fileBlock int64, allocate bool) (int64, error) {
	if fileBlock < 0 {
		return 0, errors.Wrap(ext2err.ErrOutOfRange, "blockmap: negative file block")
	}

	if fileBlock < inode.DirectPointers {
		ptr := node.Blocks.Direct[fileBlock]
		if ptr != 0 {
			return ptr, nil
		}
		if !allocate {
			return 0, nil
		}
		nb, err := bm.alloc.AllocateBlock()
		if err != nil {
			return 0, errors.Wrap(err, "blockmap: allocate direct block")
		}
		node.Blocks.Direct[fileBlock] = nb
		return nb, nil
	}
	fileBlock -= inode.DirectPointers

	ppib := bm.pointersPerIndirectBlock()
	single := ppib
	double := ppib * ppib
	triple := ppib * ppib * ppib

	switch {
	case fileBlock < single:
		return bm.walk(node, &node.Blocks.Indir1, fileBlock, 1, allocate)
	case fileBlock < single+double:
		return bm.walk(node, &node.Blocks.Indir2, fileBlock-single, 2, allocate)
	case fileBlock < single+double+triple:
		return bm.walk(node, &node.Blocks.Indir3, fileBlock-single-double, 3, allocate)
	default:
		return 0, errors.Wrap(ext2err.ErrOutOfRange, "blockmap: file block beyond triple indirection")
	}
}

// walk resolves fileBlock (relative to the start of this indirection
// level) through `level` layers of indirect blocks rooted at *root,
// allocating the root and intermediate blocks as needed when allocate is
// set.
func (bm *BlockMap) walk(node *inode.Node, root *int64, fileBlock int64, level int, allocate bool) (int64, error) {
	if *root == 0 {
		if !allocate {
			return 0, nil
		}
		nb, err := bm.allocateZeroed()
		if err != nil {
			return 0, errors.Wrap(err, "blockmap: allocate indirect block")
		}
		*root = nb
		node.IndirPokel.Add(nb)
	}

	buf := make([]byte, bm.blockSize)
	if err := bm.dev.ReadAt(bm.toDevBlock(*root), buf); err != nil {
		return 0, errors.Wrapf(ext2err.ErrIndirectFault, "blockmap: read indirect block %d: %v", *root, err)
	}

	divisor := int64(1)
	for i := 1; i < level; i++ {
		divisor *= bm.pointersPerIndirectBlock()
	}
	idx := fileBlock / divisor
	rem := fileBlock % divisor
	ptr := bm.readPtr(buf, idx)

	if level == 1 {
		if ptr != 0 {
			return ptr, nil
		}
		if !allocate {
			return 0, nil
		}
		nb, err := bm.alloc.AllocateBlock()
		if err != nil {
			return 0, errors.Wrap(err, "blockmap: allocate data block")
		}
		bm.writePtr(buf, idx, nb)
		if err := bm.dev.WriteAt(bm.toDevBlock(*root), buf); err != nil {
			return 0, errors.Wrapf(ext2err.ErrIndirectFault, "blockmap: write indirect block %d: %v", *root, err)
		}
		node.IndirPokel.Add(*root)
		return nb, nil
	}

	childRoot := ptr
	nb, err := bm.walk(node, &childRoot, rem, level-1, allocate)
	if err != nil {
		return 0, err
	}
	if childRoot != ptr {
		bm.writePtr(buf, idx, childRoot)
		if err := bm.dev.WriteAt(bm.toDevBlock(*root), buf); err != nil {
			return 0, errors.Wrapf(ext2err.ErrIndirectFault, "blockmap: write indirect block %d: %v", *root, err)
		}
		node.IndirPokel.Add(*root)
	}
	return nb, nil
}

func (bm *BlockMap) allocateZeroed() (int64, error) {
	nb, err := bm.alloc.AllocateBlock()
	if err != nil {
		return 0, err
	}
	zero := make([]byte, bm.blockSize)
	if err := bm.dev.WriteAt(bm.toDevBlock(nb), zero); err != nil {
		return 0, errors.Wrapf(ext2err.ErrIndirectFault, "blockmap: zero new indirect block %d: %v", nb, err)
	}
	return nb, nil
}
