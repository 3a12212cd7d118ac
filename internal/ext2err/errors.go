// Package ext2err defines the error taxonomy of the paging core (spec §7):
// out-of-range pages, holes encountered where they must not occur, device
// I/O failures, and out-of-space allocation. Each has a stable numeric code
// (in the spirit of the teacher's defs.Err_t) for structured logging, and a
// sentinel value usable with errors.Is/errors.As.
package ext2err

import "github.com/pkg/errors"

// Code is a small errno-like classifier, carried alongside the wrapped
// error so log lines can group failures without parsing strings.
type Code int

const (
	_ Code = iota
	EIO
	ENOSPC
	EINVAL
	ERANGE
	EAGAIN
)

func (c Code) String() string {
	switch c {
	case EIO:
		return "EIO"
	case ENOSPC:
		return "ENOSPC"
	case EINVAL:
		return "EINVAL"
	case ERANGE:
		return "ERANGE"
	case EAGAIN:
		return "EAGAIN"
	default:
		return "EUNKNOWN"
	}
}

// Sentinel errors matched with errors.Is. Wrap with errors.Wrapf at package
// boundaries to attach context without losing the identity of the sentinel.
var (
	// ErrOutOfRange is returned when a pagein/pageout request names a page
	// that starts at or beyond alloc_size (or the device's end), and when a
	// file block lies outside what the block map can address. A page that
	// only straddles the end is clipped to its in-range prefix instead.
	ErrOutOfRange = errors.New("ext2pager: page out of range")

	// ErrHole is returned when pageout's block walk finds an unmapped
	// block; spec §4.4 treats this as an invariant violation, since unlock
	// must have allocated every block before the kernel permits a write.
	ErrHole = errors.New("ext2pager: unexpected hole during pageout")

	// ErrOutOfSpace is returned by the block allocator when no free block
	// remains; spec §4.4/§7 treat this as effectively fatal to the
	// filesystem (the unlock caller logs a terminal warning).
	ErrOutOfSpace = errors.New("ext2pager: device out of space")

	// ErrIndirectFault is returned when reading an indirect block during
	// allocation fails with a device I/O error.
	ErrIndirectFault = errors.New("ext2pager: i/o error reading indirect block")

	// ErrDeviceIO is returned by the block-run accumulator when the
	// underlying device transport fails; no retry is attempted (spec §4.1).
	ErrDeviceIO = errors.New("ext2pager: device i/o error")

	// ErrPagerDisabled is returned when a new pager is requested while the
	// registry's bucket is disabled for the pager_users/max_user_pager_prot
	// quiescence dance (spec §4.5); callers should retry shortly.
	ErrPagerDisabled = errors.New("ext2pager: pager bucket temporarily disabled")
)

// CodeOf maps a sentinel (or an error wrapping one) to its numeric Code,
// defaulting to EIO for anything unrecognized.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrOutOfSpace):
		return ENOSPC
	case errors.Is(err, ErrOutOfRange):
		return ERANGE
	case errors.Is(err, ErrHole):
		return EINVAL
	case errors.Is(err, ErrPagerDisabled):
		return EAGAIN
	default:
		return EIO
	}
}
