// Package binarycodec bridges the generic, bit-copyable host input type T
// used throughout internal/rollback and the root package to the plain
// []byte payloads internal/wire, internal/protocol, internal/peer and
// internal/transport operate on.
//
// T is never marshaled through reflection or an interface method the host
// must implement; instead this package reads T's own memory representation
// directly, the same technique real Go GGPO ports use for fixed structs of
// plain numeric fields. Hosts whose T contains pointers, slices or maps
// violate the bit-copyable contract and will not round-trip correctly; that
// is a contract violation on the host's part, not something this package
// can detect at compile time for arbitrary T.
package binarycodec

import "unsafe"

// Size returns the number of bytes T occupies in memory.
func Size[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Encode copies v's raw memory representation into a freshly allocated
// byte slice, safe to retain past v's lifetime (e.g. to hand to a
// background I/O goroutine).
func Encode[T any](v T) []byte {
	n := Size[T]()
	if n == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), n)
	dst := make([]byte, n)
	copy(dst, src)
	return dst
}

// Decode reconstructs a T from its raw memory representation. b must be at
// least Size[T]() bytes; shorter input decodes a zero-padded T.
func Decode[T any](b []byte) T {
	var v T
	n := Size[T]()
	if n == 0 {
		return v
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&v)), n)
	copy(dst, b)
	return v
}
