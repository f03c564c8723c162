package terrain

import (
	"errors"
	"fmt"
	gomath "math"
	"unsafe"

	"github.com/Faultbox/midgard-terrain/internal/engine/heightfield"
	"github.com/Faultbox/midgard-terrain/internal/engine/mesh"
	"github.com/Faultbox/midgard-terrain/internal/engine/quadtree"
	"github.com/Faultbox/midgard-terrain/pkg/math"
	"github.com/Faultbox/midgard-terrain/pkg/nativebuf"
)

// Mesh holds a chunk's vertex data and the shared index layout it is drawn
// with. Vertices is interleaved Vertex records; Indices is IndexWidth-byte
// indices, relative to each range's BaseVertex.
type Mesh struct {
	Vertices    *nativebuf.Buffer
	Indices     *nativebuf.Buffer
	VertexCount int
	IndexCount  int
	IndexWidth  int
	Ranges      []mesh.DrawRange

	Bounds     quadtree.Bounds
	Resolution int
	// Heights is the sampled grid, row-major with y as the row.
	Heights   []float32
	MinHeight float32
	MaxHeight float32
}

// VertexView returns the interleaved vertex records.
func (m *Mesh) VertexView() nativebuf.View[Vertex] {
	return nativebuf.ViewOf[Vertex](m.Vertices).Slice(0, m.VertexCount)
}

// Positions projects the position of every vertex.
func (m *Mesh) Positions() nativebuf.View[math.Vec3] {
	return nativebuf.Field[Vertex, math.Vec3](m.VertexView(), unsafe.Offsetof(Vertex{}.Position))
}

// Normals projects the normal of every vertex.
func (m *Mesh) Normals() nativebuf.View[math.Vec3] {
	return nativebuf.Field[Vertex, math.Vec3](m.VertexView(), unsafe.Offsetof(Vertex{}.Normal))
}

// Indices16 returns the index buffer of a 16-bit mesh.
func (m *Mesh) Indices16() nativebuf.View[uint16] {
	if m.IndexWidth != 2 {
		panic(fmt.Sprintf("terrain: Indices16 on a %d-byte index mesh", m.IndexWidth))
	}
	return nativebuf.ViewOf[uint16](m.Indices).Slice(0, m.IndexCount)
}

// Indices32 returns the index buffer of a 32-bit mesh.
func (m *Mesh) Indices32() nativebuf.View[uint32] {
	if m.IndexWidth != 4 {
		panic(fmt.Sprintf("terrain: Indices32 on a %d-byte index mesh", m.IndexWidth))
	}
	return nativebuf.ViewOf[uint32](m.Indices).Slice(0, m.IndexCount)
}

// IndexAt returns index i widened to 32 bits.
func (m *Mesh) IndexAt(i int) uint32 {
	if m.IndexWidth == 2 {
		return uint32(m.Indices16().At(i))
	}
	return m.Indices32().At(i)
}

// VertexBytes returns the raw vertex records.
func (m *Mesh) VertexBytes() []byte {
	return m.Vertices.Bytes()[:m.VertexCount*VertexStride]
}

// IndexBytes returns the raw index buffer.
func (m *Mesh) IndexBytes() []byte {
	return m.Indices.Bytes()[:m.IndexCount*m.IndexWidth]
}

// SampleAt returns the height and normal of vertex i.
func (m *Mesh) SampleAt(i int) HeightSample {
	v := m.VertexView().At(i)
	return HeightSample{Height: v.Position.Y, Normal: v.Normal}
}

// TriangleCount returns the number of triangles across all ranges.
func (m *Mesh) TriangleCount() int {
	n := 0
	for _, r := range m.Ranges {
		n += r.TriangleCount()
	}
	return n
}

// BuildMesh samples the heightfield over b and lays the result out with topo.
//
// Normals are accumulated per grid point from unnormalized face normals and
// then normalized, so vertices duplicated on a range seam share one normal.
// BuildMesh only reads topo and is safe to run on a worker.
func BuildMesh(sampler *heightfield.Sampler, b quadtree.Bounds, topo *Topology) (*Mesh, error) {
	if sampler == nil || topo == nil {
		return nil, errors.New("terrain: BuildMesh needs a sampler and a topology")
	}

	res := topo.Resolution
	side := res + 1
	step := b.Size / float64(res)
	minX, minY := b.Min()

	samples := sampler.SampleGrid(minX, minY, step, side)
	heights := make([]float32, len(samples))
	points := make([]math.Vec3, len(samples))
	minH, maxH := float32(gomath.Inf(1)), float32(gomath.Inf(-1))
	for row := range side {
		for col := range side {
			i := row*side + col
			h := float32(samples[i])
			heights[i] = h
			points[i] = math.TerrainPoint(float32(minX+float64(col)*step), float32(minY+float64(row)*step), h)
			minH = min(minH, h)
			maxH = max(maxH, h)
		}
	}

	normals := make([]math.Vec3, len(points))
	for _, r := range topo.Ranges {
		for i := r.StartIndex; i < r.EndIndex; i += 3 {
			a := topo.Lattice[r.BaseVertex+int(topo.IndexAt(i))]
			c1 := topo.Lattice[r.BaseVertex+int(topo.IndexAt(i+1))]
			c2 := topo.Lattice[r.BaseVertex+int(topo.IndexAt(i+2))]
			face := points[c1].Sub(points[a]).Cross(points[c2].Sub(points[a]))
			normals[a] = normals[a].Add(face)
			normals[c1] = normals[c1].Add(face)
			normals[c2] = normals[c2].Add(face)
		}
	}

	buf, err := nativebuf.AllocElems[Vertex](topo.VertexCount)
	if err != nil {
		return nil, fmt.Errorf("allocating chunk vertices: %w", err)
	}
	verts := nativebuf.ViewOf[Vertex](buf)
	pos := nativebuf.NewWriter(nativebuf.Field[Vertex, math.Vec3](verts, unsafe.Offsetof(Vertex{}.Position)))
	nrm := nativebuf.NewWriter(nativebuf.Field[Vertex, math.Vec3](verts, unsafe.Offsetof(Vertex{}.Normal)))
	for _, l := range topo.Lattice {
		pos.Write(points[l])
		nrm.Write(normals[l].NormalizeOr(math.Up))
	}

	return &Mesh{
		Vertices:    buf,
		Indices:     topo.Indices,
		VertexCount: topo.VertexCount,
		IndexCount:  topo.IndexCount,
		IndexWidth:  topo.IndexWidth,
		Ranges:      append([]mesh.DrawRange(nil), topo.Ranges...),
		Bounds:      b,
		Resolution:  res,
		Heights:     heights,
		MinHeight:   minH,
		MaxHeight:   maxH,
	}, nil
}
