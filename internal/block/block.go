// Package block implements the block-run accumulator (spec §4.1, C1): a
// small state machine, shared by pagein and pageout, that coalesces
// consecutive filesystem blocks into a single device transfer.
//
// It has no direct teacher analogue (biscuit's block cache, fs.Bdev_block_t,
// batches whole cached blocks rather than runs within one page), but is
// grounded directly on the original ext2fs pager's pending_blocks_init/
// _add/_skip/_write helpers: add/skip/flush here are exactly that protocol,
// reimplemented as an explicit struct instead of C locals closed over by
// nested functions (spec §9, "Nested functions → explicit state").
package block

import (
	"ext2pager/internal/device"
	"ext2pager/internal/ext2err"
	"ext2pager/internal/pagebuf"

	"github.com/pkg/errors"
)

// FlushFunc performs one synchronous device transfer of count contiguous
// filesystem blocks starting at firstBlock, reading from or writing to the
// caller's buffer at byte offset bufOffset.
type FlushFunc func(firstBlock int64, count int64, bufOffset int) error

// Accumulator is the state machine of spec §4.1: { first_block, count, buf,
// buf_offset }, with buf and the actual transfer left to FlushFunc so the
// same struct serves pagein (which may not have a destination page yet),
// pageout (which always writes from a live page), and disk pageout's
// selective writeback (which must track buf_offset across both add and
// skip).
type Accumulator struct {
	FirstBlock int64
	Count      int64
	BufOffset  int

	// blockSize is how far BufOffset advances per flushed block; zero
	// for an accumulator built by New.
	blockSize int
	flush     FlushFunc
}

// New creates an accumulator with an empty run (count == 0). It does not
// know the block size, so its Flush leaves BufOffset where it is and only
// Skip moves it; NewReadRun and NewWriteRun build accumulators whose Flush
// also advances BufOffset past each transferred run.
func New(flush FlushFunc) *Accumulator {
	return &Accumulator{flush: flush}
}

// Add merges block into the pending run if it's contiguous with it;
// otherwise it flushes the pending run (if any) and starts a new one at
// block.
func (a *Accumulator) Add(block int64) error {
	if a.Count > 0 && block == a.FirstBlock+a.Count {
		a.Count++
		return nil
	}
	if err := a.Flush(); err != nil {
		return err
	}
	a.FirstBlock = block
	a.Count = 1
	return nil
}

// Skip flushes any pending run, then advances the buffer offset by one
// block without transferring anything — used to express holes in
// selective writeback (spec §4.3).
func (a *Accumulator) Skip(blockSize int) error {
	if err := a.Flush(); err != nil {
		return err
	}
	a.BufOffset += blockSize
	return nil
}

// Flush performs the pending transfer, if any, resets the run, and advances
// BufOffset by Count blocks. It is a no-op when Count == 0, matching spec
// §4.1 ("if count > 0, perform...").
func (a *Accumulator) Flush() error {
	if a.Count == 0 {
		return nil
	}
	firstBlock, count := a.FirstBlock, a.Count
	// Reset before calling out so a FlushFunc that itself calls Add/Skip
	// (none do today, but the contract should not forbid it) sees a clean
	// accumulator.
	a.Count = 0
	if err := a.flush(firstBlock, count, a.BufOffset); err != nil {
		return errors.Wrap(err, "block: flush")
	}
	a.BufOffset += int(count) * a.blockSize
	return nil
}

// devBlocksPerFSBlock returns how many device blocks make up one
// filesystem block, per spec's invariant that block_size is a multiple of
// device_block_size.
func devBlocksPerFSBlock(dev device.Device, blockSize int) int64 {
	return int64(blockSize / dev.BlockSize())
}

// NewReadRun builds an accumulator whose FlushFunc reads count contiguous
// filesystem blocks into *dst at the accumulator's buffer offset. If *dst
// is nil the first time Flush fires, a page-sized buffer is allocated and
// installed into *dst — mirroring file_pager_read_page's "first contiguous
// read determines the page's backing buffer" (spec §4.4); because *dst is
// a slice, subsequent reads land directly in it with no extra copy, which
// is the effect that optimization was chasing in a language without slices.
func NewReadRun(dev device.Device, blockSize int, pageSize int, dst *[]byte) *Accumulator {
	ratio := devBlocksPerFSBlock(dev, blockSize)
	acc := New(func(firstBlock, count int64, bufOffset int) error {
		if *dst == nil {
			*dst = make([]byte, pageSize)
		}
		length := int(count) * blockSize
		devBlock := firstBlock * ratio
		if err := dev.ReadAt(devBlock, (*dst)[bufOffset:bufOffset+length]); err != nil {
			return errors.Wrapf(ext2err.ErrDeviceIO, "read block %d[%d]: %v", firstBlock, count, err)
		}
		return nil
	})
	acc.blockSize = blockSize
	return acc
}

// NewWriteRun builds an accumulator whose FlushFunc writes count
// contiguous filesystem blocks from src at the accumulator's buffer
// offset. When the offset is non-zero, the source is first copied into a
// page-sized scratch buffer from pool, so the transfer starts at the
// beginning of its own buffer (pending_blocks_write's page_buf copy). The
// pool does not guarantee that buffer's page alignment.
func NewWriteRun(dev device.Device, blockSize int, src []byte, pool *pagebuf.Pool) *Accumulator {
	ratio := devBlocksPerFSBlock(dev, blockSize)
	acc := New(func(firstBlock, count int64, bufOffset int) error {
		length := int(count) * blockSize
		devBlock := firstBlock * ratio
		data := src[bufOffset : bufOffset+length]
		if bufOffset != 0 {
			scratch := pool.Get()
			copy(scratch[:length], data)
			err := dev.WriteAt(devBlock, scratch[:length])
			pool.Put(scratch)
			if err != nil {
				return errors.Wrapf(ext2err.ErrDeviceIO, "write block %d[%d]: %v", firstBlock, count, err)
			}
			return nil
		}
		if err := dev.WriteAt(devBlock, data); err != nil {
			return errors.Wrapf(ext2err.ErrDeviceIO, "write block %d[%d]: %v", firstBlock, count, err)
		}
		return nil
	})
	acc.blockSize = blockSize
	return acc
}
