package mesh

import (
	"fmt"

	"github.com/Faultbox/midgard-terrain/pkg/math"
	"github.com/Faultbox/midgard-terrain/pkg/nativebuf"
)

// Triangulator writes quads into caller-provided vertex and index buffers.
//
// Vertices are deduplicated by exact position within the open batch. When a
// quad would push the batch-local vertex count to or past the index limit, the
// open DrawRange is closed, the dedup cache is reset, and the next batch starts
// at the first unused vertex slot. Every local index therefore fits in I.
type Triangulator[I Index] struct {
	vertices *nativebuf.Writer[math.Vec3]
	indices  *nativebuf.Writer[I]
	limit    uint32

	cache      map[math.Vec3]I
	baseVertex int
	startIndex int
	ranges     []DrawRange

	pending  [4]math.Vec3
	nPending int
}

// Option configures a Triangulator.
type Option func(*options)

type options struct {
	maxIndex uint32
}

// WithMaxIndex caps local indices below the width of I. Values larger than
// the representable maximum are ignored.
func WithMaxIndex(max uint32) Option {
	return func(o *options) {
		o.maxIndex = max
	}
}

// NewTriangulator creates a triangulator writing into the given buffers.
func NewTriangulator[I Index](vertices *nativebuf.Writer[math.Vec3], indices *nativebuf.Writer[I], opts ...Option) *Triangulator[I] {
	o := options{maxIndex: MaxIndex[I]()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxIndex > MaxIndex[I]() {
		o.maxIndex = MaxIndex[I]()
	}
	if o.maxIndex < 5 {
		panic(fmt.Sprintf("mesh: index limit %d cannot hold a quad", o.maxIndex))
	}
	return &Triangulator[I]{
		vertices: vertices,
		indices:  indices,
		limit:    o.maxIndex,
		cache:    make(map[math.Vec3]I),
	}
}

// Quad adds two triangles (p0,p1,p2) and (p2,p3,p0). Corner order is kept
// as given.
func (t *Triangulator[I]) Quad(p0, p1, p2, p3 math.Vec3) {
	corners := [4]math.Vec3{p0, p1, p2, p3}

	if uint32(t.localCount()+t.fresh(corners)) >= t.limit {
		t.closeRange()
	}

	var idx [4]I
	for i, p := range corners {
		idx[i] = t.vertex(p)
	}
	t.indices.WriteAll([]I{idx[0], idx[1], idx[2], idx[2], idx[3], idx[0]})
}

// PartialQuad accumulates one corner; every fourth call emits a quad.
func (t *Triangulator[I]) PartialQuad(p math.Vec3) {
	t.pending[t.nPending] = p
	t.nPending++
	if t.nPending == 4 {
		t.nPending = 0
		t.Quad(t.pending[0], t.pending[1], t.pending[2], t.pending[3])
	}
}

// Pending returns the number of buffered PartialQuad corners.
func (t *Triangulator[I]) Pending() int {
	return t.nPending
}

// Finish closes the last range and returns all ranges with the number of
// vertices written. Both writers are rewound for the next shape.
//
// Finishing with a partial quad pending, or with index capacity left unused,
// is a caller bug and panics.
func (t *Triangulator[I]) Finish() ([]DrawRange, int) {
	if t.nPending != 0 {
		panic(fmt.Sprintf("mesh: finish with %d partial quad corners pending", t.nPending))
	}
	if !t.indices.EOF() {
		panic(fmt.Sprintf("mesh: finish with %d unconsumed indices", t.indices.Remaining()))
	}
	t.closeRange()

	ranges := t.ranges
	vertexCount := t.vertices.Position()

	t.ranges = nil
	t.baseVertex = 0
	t.startIndex = 0
	clear(t.cache)
	t.vertices.Rewind()
	t.indices.Rewind()

	return ranges, vertexCount
}

func (t *Triangulator[I]) localCount() int {
	return t.vertices.Position() - t.baseVertex
}

// fresh counts the distinct corners not yet in the batch cache.
func (t *Triangulator[I]) fresh(corners [4]math.Vec3) int {
	n := 0
	for i, p := range corners {
		if _, ok := t.cache[p]; ok {
			continue
		}
		dup := false
		for _, q := range corners[:i] {
			if q == p {
				dup = true
				break
			}
		}
		if !dup {
			n++
		}
	}
	return n
}

func (t *Triangulator[I]) vertex(p math.Vec3) I {
	if i, ok := t.cache[p]; ok {
		return i
	}
	i := I(t.localCount())
	t.vertices.Write(p)
	t.cache[p] = i
	return i
}

// closeRange records the open batch, if it holds any index, and starts a new
// one at the next unused vertex.
func (t *Triangulator[I]) closeRange() {
	end := t.indices.Position()
	if end > t.startIndex {
		t.ranges = append(t.ranges, DrawRange{
			StartIndex: t.startIndex,
			EndIndex:   end,
			BaseVertex: t.baseVertex,
		})
	}
	t.startIndex = end
	t.baseVertex = t.vertices.Position()
	clear(t.cache)
}
