// Package nativebuf provides typed, bounds-checked views over a single raw
// memory allocation.
//
// A Buffer owns one contiguous allocation. Views interpret a region of it as a
// strided sequence of elements, and Field projects one struct field of an
// interleaved record out as its own sequence without copying. Writers add a
// monotonic cursor on top of a view for sequential filling.
//
// Out-of-range access is a programming error and panics.
package nativebuf

import (
	"errors"
	"fmt"
	"unsafe"
)

// MaxAllocSize is the largest allocation Alloc accepts (1 GiB).
const MaxAllocSize = 1 << 30

// Allocation errors.
var (
	ErrInvalidSize   = errors.New("nativebuf: invalid allocation size")
	ErrAllocTooLarge = errors.New("nativebuf: allocation exceeds limit")
)

// Buffer is a single contiguous raw allocation.
// The backing store is word-sized so every view base is 8-byte aligned.
type Buffer struct {
	words []uint64
	size  int
}

// Alloc allocates a zeroed buffer of size bytes.
func Alloc(size int) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if size > MaxAllocSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrAllocTooLarge, size, MaxAllocSize)
	}
	return &Buffer{
		words: make([]uint64, (size+7)/8),
		size:  size,
	}, nil
}

// AllocElems allocates a buffer large enough for count elements of T.
func AllocElems[T any](count int) (*Buffer, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: %d elements", ErrInvalidSize, count)
	}
	var zero T
	elem := int(unsafe.Sizeof(zero))
	if elem > 0 && count > MaxAllocSize/elem {
		return nil, fmt.Errorf("%w: %d elements of %d bytes", ErrAllocTooLarge, count, elem)
	}
	return Alloc(count * elem)
}

// Size returns the allocation size in bytes.
func (b *Buffer) Size() int {
	return b.size
}

// Bytes returns the raw allocation. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	if b.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.words[0])), b.size)
}

func (b *Buffer) base() unsafe.Pointer {
	if len(b.words) == 0 {
		return nil
	}
	return unsafe.Pointer(&b.words[0])
}

// IndexOutOfRangeError is the panic value for out-of-bounds element access.
type IndexOutOfRangeError struct {
	Index int
	Len   int
}

func (e IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("nativebuf: index %d out of range [0,%d)", e.Index, e.Len)
}
