package diskpager

import (
	"bytes"
	"testing"

	"ext2pager/internal/device"

	"github.com/stretchr/testify/require"
)

const testBlockSize = 512
const testPageSize = 2048 // 4 blocks per page

func newTestDevice(t *testing.T, sizeBlocks int64) device.Device {
	t.Helper()
	dir := t.TempDir()
	dev, err := device.OpenBoltDevice(dir+"/disk.bolt", testBlockSize, sizeBlocks)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestPageinZeroFillsPastEndOfDevice(t *testing.T) {
	dev := newTestDevice(t, 2) // 1024 bytes, less than one page
	pattern := bytes.Repeat([]byte{0x7}, testBlockSize)
	require.NoError(t, dev.WriteAt(0, pattern))
	require.NoError(t, dev.WriteAt(1, pattern))

	e := New(dev, testBlockSize, testPageSize, nil)
	data, writable, err := e.Pagein(0)
	require.NoError(t, err)
	require.False(t, writable)
	require.Len(t, data, testPageSize)
	require.Equal(t, pattern, data[:testBlockSize])
	require.Equal(t, pattern, data[testBlockSize:2*testBlockSize])
	require.Equal(t, make([]byte, testPageSize-2*testBlockSize), data[2*testBlockSize:])
}

func TestPageinPastEndOfDeviceFails(t *testing.T) {
	dev := newTestDevice(t, 4)
	e := New(dev, testBlockSize, testPageSize, nil)
	_, _, err := e.Pagein(int64(4 * testBlockSize))
	require.Error(t, err)
}

func TestPageoutUnconditionalWritesWholePage(t *testing.T) {
	dev := newTestDevice(t, 4)
	e := New(dev, testBlockSize, testPageSize, nil)

	page := make([]byte, testPageSize)
	for i := range page {
		page[i] = byte(i)
	}
	require.NoError(t, e.Pageout(0, page))

	got := make([]byte, testPageSize)
	require.NoError(t, dev.ReadAt(0, got))
	require.Equal(t, page, got)
}

func TestPageoutUnconditionalClipsAtDeviceEnd(t *testing.T) {
	dev := newTestDevice(t, 2) // 1024 bytes, less than one page
	e := New(dev, testBlockSize, testPageSize, nil)

	page := make([]byte, testPageSize)
	for i := range page {
		page[i] = byte(i)
	}
	require.NoError(t, e.Pageout(0, page))

	got := make([]byte, 2*testBlockSize)
	require.NoError(t, dev.ReadAt(0, got))
	require.Equal(t, page[:2*testBlockSize], got)
}

func TestPageoutUnconditionalPastEndOfDeviceFails(t *testing.T) {
	dev := newTestDevice(t, 4)
	e := New(dev, testBlockSize, testPageSize, nil)

	err := e.Pageout(int64(4*testBlockSize), make([]byte, testPageSize))
	require.Error(t, err)
}

func TestPageoutSelectiveSkipsUnmodifiedBlocks(t *testing.T) {
	dev := newTestDevice(t, 4)
	bitmap := NewModifiedBitmap(4)
	bitmap.Set(1)
	bitmap.Set(3)
	e := New(dev, testBlockSize, testPageSize, bitmap)

	sentinel := bytes.Repeat([]byte{0xee}, testBlockSize)
	require.NoError(t, dev.WriteAt(0, sentinel))
	require.NoError(t, dev.WriteAt(2, sentinel))

	page := make([]byte, testPageSize)
	for i := range page {
		page[i] = byte(0x42)
	}
	require.NoError(t, e.Pageout(0, page))

	block0 := make([]byte, testBlockSize)
	require.NoError(t, dev.ReadAt(0, block0))
	require.Equal(t, sentinel, block0, "block 0 not in bitmap must be left untouched")

	block1 := make([]byte, testBlockSize)
	require.NoError(t, dev.ReadAt(1, block1))
	require.Equal(t, page[testBlockSize:2*testBlockSize], block1)

	block2 := make([]byte, testBlockSize)
	require.NoError(t, dev.ReadAt(2, block2))
	require.Equal(t, sentinel, block2, "block 2 not in bitmap must be left untouched")

	block3 := make([]byte, testBlockSize)
	require.NoError(t, dev.ReadAt(3, block3))
	require.Equal(t, page[3*testBlockSize:4*testBlockSize], block3)
}

func TestModifiedBitmapSetIsIdempotent(t *testing.T) {
	b := NewModifiedBitmap(128)
	require.False(t, b.IsSet(64))
	b.Set(64)
	b.Set(64)
	require.True(t, b.IsSet(64))
	require.False(t, b.IsSet(65))
}
