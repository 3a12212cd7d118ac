package blockmap

import (
	"testing"

	"ext2pager/internal/device"
	"ext2pager/internal/ext2err"
	"ext2pager/internal/inode"

	"github.com/stretchr/testify/require"
)

const testBlockSize = 512 // -> 64 pointers per indirect block

func newTestBlockMap(t *testing.T, freeBlocks int64) (*BlockMap, *BitmapAllocator) {
	t.Helper()
	dir := t.TempDir()
	dev, err := device.OpenBoltDevice(dir+"/disk.bolt", testBlockSize, freeBlocks+1)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	alloc := NewBitmapAllocator(1, freeBlocks) // reserve block 0
	return New(dev, testBlockSize, alloc), alloc
}

func TestResolveDirectHoleWithoutAllocate(t *testing.T) {
	bm, _ := newTestBlockMap(t, 16)
	n := inode.New(0, testBlockSize)

	got, err := bm.Resolve(n, 0, false)
	require.NoError(t, err)
	require.Equal(t, int64(0), got)
}

func TestResolveDirectAllocates(t *testing.T) {
	bm, _ := newTestBlockMap(t, 16)
	n := inode.New(0, testBlockSize)

	got, err := bm.Resolve(n, 3, true)
	require.NoError(t, err)
	require.NotZero(t, got)
	require.Equal(t, got, n.Blocks.Direct[3])

	again, err := bm.Resolve(n, 3, false)
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestResolveSingleIndirectAllocatesIndirectBlock(t *testing.T) {
	bm, _ := newTestBlockMap(t, 16)
	n := inode.New(0, testBlockSize)

	fileBlock := int64(inode.DirectPointers) // first single-indirect block
	got, err := bm.Resolve(n, fileBlock, true)
	require.NoError(t, err)
	require.NotZero(t, got)
	require.NotZero(t, n.Blocks.Indir1)
	require.Equal(t, 1, n.IndirPokel.Len())

	again, err := bm.Resolve(n, fileBlock, false)
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestResolveDoubleIndirectRoundTrips(t *testing.T) {
	bm, _ := newTestBlockMap(t, 256)
	n := inode.New(0, testBlockSize)

	ppib := int64(testBlockSize / 8)
	fileBlock := int64(inode.DirectPointers) + ppib + 5 // sixth block reached through double indirection

	got, err := bm.Resolve(n, fileBlock, true)
	require.NoError(t, err)
	require.NotZero(t, got)
	require.NotZero(t, n.Blocks.Indir2)

	again, err := bm.Resolve(n, fileBlock, false)
	require.NoError(t, err)
	require.Equal(t, got, again)

	// A neighboring block within the same indirect page must resolve to a
	// hole, not alias the one we just allocated.
	neighbor, err := bm.Resolve(n, fileBlock+1, false)
	require.NoError(t, err)
	require.Equal(t, int64(0), neighbor)
}

func TestResolveOutOfRangeBeyondTripleIndirection(t *testing.T) {
	bm, _ := newTestBlockMap(t, 16)
	n := inode.New(0, testBlockSize)

	ppib := int64(testBlockSize / 8)
	beyond := int64(inode.DirectPointers) + ppib + ppib*ppib + ppib*ppib*ppib + 1

	_, err := bm.Resolve(n, beyond, true)
	require.Error(t, err)
	require.Equal(t, ext2err.ERANGE, ext2err.CodeOf(err))
}

func TestResolveOutOfSpacePropagates(t *testing.T) {
	bm, _ := newTestBlockMap(t, 1) // exactly one free block
	n := inode.New(0, testBlockSize)

	_, err := bm.Resolve(n, 0, true)
	require.NoError(t, err)

	_, err = bm.Resolve(n, 1, true)
	require.Error(t, err)
	require.Equal(t, ext2err.ENOSPC, ext2err.CodeOf(err))
}
