package device

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FileDevice backs Device with a regular file or block-special device,
// issuing synchronous positioned reads/writes via golang.org/x/sys/unix
// (the same package mendersoftware-mender's installer uses to talk to
// block devices directly) rather than os.File's buffered-looking but
// still-synchronous ReadAt/WriteAt, so the offset arithmetic is explicit
// and in one place.
type FileDevice struct {
	f         *os.File
	blockSize int
	sizeBlks  int64
}

// OpenFileDevice opens path read-write and reports a device of the given
// block size. sizeBlocks, if positive, overrides the size derived from
// stat (useful for block-special devices whose Size() would otherwise be
// unreliable); if zero, the file's current size is used.
func OpenFileDevice(path string, blockSize int, sizeBlocks int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "device: open %s", path)
	}
	if sizeBlocks <= 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "device: stat %s", path)
		}
		sizeBlocks = info.Size() / int64(blockSize)
	}
	return &FileDevice{f: f, blockSize: blockSize, sizeBlks: sizeBlocks}, nil
}

func (d *FileDevice) ReadAt(devBlock int64, buf []byte) error {
	off := devBlock * int64(d.blockSize)
	n, err := unix.Pread(int(d.f.Fd()), buf, off)
	if err != nil {
		return errors.Wrapf(err, "device: pread at block %d", devBlock)
	}
	if n != len(buf) {
		return &ErrShortTransfer{Requested: len(buf), Available: n}
	}
	return nil
}

func (d *FileDevice) WriteAt(devBlock int64, buf []byte) error {
	off := devBlock * int64(d.blockSize)
	n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
	if err != nil {
		return errors.Wrapf(err, "device: pwrite at block %d", devBlock)
	}
	if n != len(buf) {
		return &ErrShortTransfer{Requested: len(buf), Available: n}
	}
	return nil
}

func (d *FileDevice) Size() int64    { return d.sizeBlks }
func (d *FileDevice) BlockSize() int { return d.blockSize }
func (d *FileDevice) Close() error   { return d.f.Close() }
