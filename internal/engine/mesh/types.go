// Package mesh converts streams of quads into deduplicated vertex and index
// data, split into draw ranges whose indices fit the chosen index width.
package mesh

import "unsafe"

// Index is an element type usable in an index buffer.
type Index interface {
	~uint16 | ~uint32
}

// MaxIndex returns the largest value representable by I.
func MaxIndex[I Index]() uint32 {
	var zero I
	if unsafe.Sizeof(zero) == 2 {
		return 1<<16 - 1
	}
	return 1<<32 - 1
}

// IndexWidth returns the size of I in bytes.
func IndexWidth[I Index]() int {
	var zero I
	return int(unsafe.Sizeof(zero))
}

// DrawRange is a contiguous slice of an index buffer issuable as one draw
// call. Indices in [StartIndex, EndIndex) are relative to BaseVertex.
type DrawRange struct {
	StartIndex int
	EndIndex   int
	BaseVertex int
}

// IndexCount returns the number of indices in the range.
func (r DrawRange) IndexCount() int {
	return r.EndIndex - r.StartIndex
}

// TriangleCount returns the number of triangles in the range.
func (r DrawRange) TriangleCount() int {
	return r.IndexCount() / 3
}

// ByteOffset returns the offset of the range's first index in a buffer of
// indexWidth-byte indices.
func (r DrawRange) ByteOffset(indexWidth int) uintptr {
	return uintptr(r.StartIndex * indexWidth)
}
