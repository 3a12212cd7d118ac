package filepager

import (
	"testing"

	"ext2pager/internal/blockmap"
	"ext2pager/internal/device"
	"ext2pager/internal/ext2err"
	"ext2pager/internal/inode"

	"github.com/stretchr/testify/require"
)

const testBlockSize = 512
const testPageSize = 2048 // 4 blocks per page

func newTestEngine(t *testing.T, freeBlocks int64) (*Engine, *blockmap.BlockMap) {
	t.Helper()
	dir := t.TempDir()
	dev, err := device.OpenBoltDevice(dir+"/disk.bolt", testBlockSize, freeBlocks+1)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	alloc := blockmap.NewBitmapAllocator(1, freeBlocks)
	bm := blockmap.New(dev, testBlockSize, alloc)
	return New(dev, bm, testBlockSize, testPageSize, nil), bm
}

func TestPageinFullyAllocatedPage(t *testing.T) {
	e, bm := newTestEngine(t, 16)
	n := inode.New(int64(testPageSize), testBlockSize)

	for i := int64(0); i < 4; i++ {
		db, err := bm.Resolve(n, i, true)
		require.NoError(t, err)
		buf := make([]byte, testBlockSize)
		for j := range buf {
			buf[j] = byte(i)
		}
		require.NoError(t, e.dev.WriteAt(db, buf))
	}

	data, writable, err := e.Pagein(n, 0)
	require.NoError(t, err)
	require.False(t, writable)
	require.Len(t, data, testPageSize)
	for i := 0; i < 4; i++ {
		for j := 0; j < testBlockSize; j++ {
			require.Equal(t, byte(i), data[i*testBlockSize+j])
		}
	}
}

func TestPageinHoleIsZeroFilledAndWritable(t *testing.T) {
	e, _ := newTestEngine(t, 16)
	n := inode.New(int64(testPageSize), testBlockSize)

	data, writable, err := e.Pagein(n, 0)
	require.NoError(t, err)
	require.True(t, writable)
	require.Equal(t, make([]byte, testPageSize), data)
}

func TestPageinPastEndOfFileFails(t *testing.T) {
	e, _ := newTestEngine(t, 16)
	n := inode.New(int64(testPageSize), testBlockSize)

	_, _, err := e.Pagein(n, int64(testPageSize))
	require.Error(t, err)
	require.Equal(t, ext2err.ERANGE, ext2err.CodeOf(err))
}

func TestPageoutHoleIsInvariantViolation(t *testing.T) {
	e, _ := newTestEngine(t, 16)
	n := inode.New(int64(testPageSize), testBlockSize)

	err := e.Pageout(n, 0, make([]byte, testPageSize))
	require.Error(t, err)
	require.Equal(t, ext2err.EINVAL, ext2err.CodeOf(err))
}

func TestUnlockAllocatesBlocksAndPageoutSucceeds(t *testing.T) {
	e, _ := newTestEngine(t, 16)
	n := inode.New(int64(testPageSize), testBlockSize)

	require.NoError(t, e.Unlock(n, 0))
	require.False(t, n.LastPagePartiallyWritable) // exact page, alloc_size == page_end

	page := make([]byte, testPageSize)
	for i := range page {
		page[i] = byte(i)
	}
	require.NoError(t, e.Pageout(n, 0, page))

	data, writable, err := e.Pagein(n, 0)
	require.NoError(t, err)
	require.False(t, writable)
	require.Equal(t, page, data)
}

func TestUnlockPartialPageSetsFlag(t *testing.T) {
	e, _ := newTestEngine(t, 16)
	// alloc_size covers only the first block of a 4-block page: partial
	// final page.
	n := inode.New(int64(testBlockSize), testBlockSize)

	require.NoError(t, e.Unlock(n, 0))
	require.True(t, n.LastPagePartiallyWritable)
}

func TestUnlockOutOfSpaceLeavesPartialFlagFalse(t *testing.T) {
	e, _ := newTestEngine(t, 1) // only one free block, page needs 4
	n := inode.New(int64(testPageSize), testBlockSize)

	err := e.Unlock(n, 0)
	require.Error(t, err)
	require.Equal(t, ext2err.ENOSPC, ext2err.CodeOf(err))
	require.False(t, n.LastPagePartiallyWritable)
}

func TestGrowAllocatesTailOfPreviouslyPartialPage(t *testing.T) {
	e, bm := newTestEngine(t, 16)
	n := inode.New(0, testBlockSize)
	n.AllocSize = int64(testBlockSize) // 1 block allocated, file is 1 block long
	n.LastPagePartiallyWritable = true // page 0 spans blocks [0,4), only block 0 allocated
	_, err := bm.Resolve(n, 0, true)
	require.NoError(t, err)

	require.NoError(t, e.Grow(n, int64(testPageSize)))
	require.Equal(t, int64(testPageSize), n.AllocSize)
	require.False(t, n.LastPagePartiallyWritable, "page is now fully allocated")

	for i := int64(0); i < 4; i++ {
		db, err := bm.Resolve(n, i, false)
		require.NoError(t, err)
		require.NotZero(t, db, "block %d should have been allocated by grow", i)
	}
}

func TestGrowPartiallyWithinSamePageLeavesFlagSet(t *testing.T) {
	e, bm := newTestEngine(t, 16)
	n := inode.New(0, testBlockSize)
	n.AllocSize = int64(testBlockSize) // 1 block allocated
	n.LastPagePartiallyWritable = true // page 0 spans blocks [0,4)

	require.NoError(t, e.Grow(n, int64(testBlockSize)*2))
	require.Equal(t, int64(testBlockSize)*2, n.AllocSize)
	require.True(t, n.LastPagePartiallyWritable, "page still short of its boundary")

	db, err := bm.Resolve(n, 1, false)
	require.NoError(t, err)
	require.NotZero(t, db)

	db, err = bm.Resolve(n, 2, false)
	require.NoError(t, err)
	require.Zero(t, db, "block beyond new_size should remain a hole")
}

func TestGrowToSmallerSizeIsNoOp(t *testing.T) {
	e, _ := newTestEngine(t, 16)
	n := inode.New(int64(testPageSize), testBlockSize)

	require.NoError(t, e.Grow(n, int64(testBlockSize)))
	require.Equal(t, int64(testPageSize), n.AllocSize)
}
