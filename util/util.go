// Package util holds the handful of helpers shared across the kernel:
// integer alignment math and the little-endian field accessors every
// on-disk structure is serialized with.
package util

import "encoding/binary"

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

// Readn decodes the little-endian n-byte field at off in a. It panics
// on an out-of-bounds region or an unsupported width; every caller
// passes a compile-time-constant width, so that is a programming error,
// not a runtime condition.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || off+n > len(a) {
		panic("Readn out of bounds")
	}
	f := a[off : off+n]
	switch n {
	case 8:
		return int(binary.LittleEndian.Uint64(f))
	case 4:
		return int(binary.LittleEndian.Uint32(f))
	case 2:
		return int(binary.LittleEndian.Uint16(f))
	case 1:
		return int(f[0])
	}
	panic("unsupported field width")
}

// Writen encodes val as a little-endian sz-byte field at off in a. Same
// panic rules as Readn.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	f := a[off : off+sz]
	switch sz {
	case 8:
		binary.LittleEndian.PutUint64(f, uint64(val))
	case 4:
		binary.LittleEndian.PutUint32(f, uint32(val))
	case 2:
		binary.LittleEndian.PutUint16(f, uint16(val))
	case 1:
		f[0] = uint8(val)
	default:
		panic("unsupported field width")
	}
}
