// Package util contains small helpers shared by the paging packages:
// alignment arithmetic for block/page geometry and fixed-width field
// access into on-disk buffers.
package util

import "unsafe"

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Readn reads n bytes from a block/indirect-block buffer a starting at
// byte offset off (an ext2 block pointer field is 8 bytes wide; smaller
// widths are supported for other fixed fields). It panics if the
// requested region is out of bounds or the width is unsupported — both
// indicate a corrupt on-disk structure or a caller bug, never a condition
// to recover from.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || off+n > len(a) {
		panic("util: Readn out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	var ret int
	switch n {
	case 8:
		ret = *(*int)(p)
	case 4:
		ret = int(*(*uint32)(p))
	case 2:
		ret = int(*(*uint16)(p))
	case 1:
		ret = int(*(*uint8)(p))
	default:
		panic("util: unsupported field width")
	}
	return ret
}

// Writen writes val as a sz-byte field into a block/indirect-block buffer
// a at byte offset off. It panics if the destination is out of bounds or
// the width is unsupported.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("util: Writen out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*int)(p) = val
	case 4:
		*(*uint32)(p) = uint32(val)
	case 2:
		*(*uint16)(p) = uint16(val)
	case 1:
		*(*uint8)(p) = uint8(val)
	default:
		panic("util: unsupported field width")
	}
}
