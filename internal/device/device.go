// Package device abstracts the raw block device transport consumed by the
// paging core (spec §6, "Device transport"): synchronous reads and writes
// in device-block units, plus the device's reported geometry.
//
// The real ext2fs translator this spec is modeled on talks to a libstore
// device node; a userspace server instead needs a concrete transport, so
// this package supplies two: a real file/block-special device (FileDevice)
// and a bbolt-backed simulated device (BoltDevice) used by tests and the
// daemon's memory mode (the Memory config option).
package device

import "fmt"

// Device is the synchronous, no-retry block transport every component
// above it relies on. A failed ReadAt/WriteAt aborts the caller's request
// (spec §4.1, §7); this package never retries internally.
type Device interface {
	// ReadAt fills buf (a multiple of BlockSize() bytes) starting at
	// device block devBlock.
	ReadAt(devBlock int64, buf []byte) error
	// WriteAt writes buf (a multiple of BlockSize() bytes) starting at
	// device block devBlock.
	WriteAt(devBlock int64, buf []byte) error
	// Size reports the device size in device blocks.
	Size() int64
	// BlockSize reports the device block size in bytes.
	BlockSize() int
	// Close releases any resources held by the device.
	Close() error
}

// ErrShortTransfer is returned when a device backend is asked to move more
// bytes than it holds, and the caller did not pre-clip the request.
type ErrShortTransfer struct {
	Requested, Available int
}

func (e *ErrShortTransfer) Error() string {
	return fmt.Sprintf("device: short transfer: requested %d bytes, %d available", e.Requested, e.Available)
}
