package nativebuf

import (
	"fmt"
	"unsafe"
)

// View is a typed window of count elements spaced stride bytes apart.
type View[T any] struct {
	buf    *Buffer
	base   unsafe.Pointer
	stride uintptr
	count  int
}

// NewView creates a view over buf starting at offset bytes.
// Panics if the region does not fit in the buffer or stride is smaller than T.
func NewView[T any](buf *Buffer, offset, stride uintptr, count int) View[T] {
	var zero T
	size := unsafe.Sizeof(zero)
	if stride < size {
		panic(fmt.Sprintf("nativebuf: stride %d smaller than element size %d", stride, size))
	}
	if count < 0 {
		panic(fmt.Sprintf("nativebuf: negative count %d", count))
	}
	if count > 0 {
		end := offset + uintptr(count-1)*stride + size
		if end > uintptr(buf.size) {
			panic(fmt.Sprintf("nativebuf: view [%d,%d) exceeds buffer size %d", offset, end, buf.size))
		}
	}
	return View[T]{
		buf:    buf,
		base:   unsafe.Add(buf.base(), offset),
		stride: stride,
		count:  count,
	}
}

// ViewOf returns a tightly packed view covering the whole buffer.
func ViewOf[T any](buf *Buffer) View[T] {
	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 {
		return View[T]{buf: buf, base: buf.base(), stride: 0, count: 0}
	}
	return NewView[T](buf, 0, size, buf.size/int(size))
}

// Field projects the field at offset bytes inside each element of v as an
// independent view of F. The result shares memory and stride with v.
//
//	normals := nativebuf.Field[Vertex, Vec3](verts, unsafe.Offsetof(Vertex{}.Normal))
func Field[T, F any](v View[T], offset uintptr) View[F] {
	var zero F
	if offset+unsafe.Sizeof(zero) > v.stride {
		panic(fmt.Sprintf("nativebuf: field at %d (size %d) exceeds stride %d", offset, unsafe.Sizeof(zero), v.stride))
	}
	return View[F]{
		buf:    v.buf,
		base:   unsafe.Add(v.base, offset),
		stride: v.stride,
		count:  v.count,
	}
}

// Len returns the number of elements.
func (v View[T]) Len() int {
	return v.count
}

// Stride returns the distance in bytes between consecutive elements.
func (v View[T]) Stride() uintptr {
	return v.stride
}

// Buffer returns the backing allocation.
func (v View[T]) Buffer() *Buffer {
	return v.buf
}

// Ptr returns a pointer to element i.
func (v View[T]) Ptr(i int) *T {
	if i < 0 || i >= v.count {
		panic(IndexOutOfRangeError{Index: i, Len: v.count})
	}
	return (*T)(unsafe.Add(v.base, uintptr(i)*v.stride))
}

// At returns element i.
func (v View[T]) At(i int) T {
	return *v.Ptr(i)
}

// Set stores x at element i.
func (v View[T]) Set(i int, x T) {
	*v.Ptr(i) = x
}

// Slice returns a view of elements [from, to).
func (v View[T]) Slice(from, to int) View[T] {
	if from < 0 || to < from || to > v.count {
		panic(fmt.Sprintf("nativebuf: slice [%d:%d] out of range [0,%d]", from, to, v.count))
	}
	return View[T]{
		buf:    v.buf,
		base:   unsafe.Add(v.base, uintptr(from)*v.stride),
		stride: v.stride,
		count:  to - from,
	}
}

// CopyTo copies the view into dst and returns the number of elements copied.
func (v View[T]) CopyTo(dst []T) int {
	n := min(len(dst), v.count)
	for i := range n {
		dst[i] = v.At(i)
	}
	return n
}
