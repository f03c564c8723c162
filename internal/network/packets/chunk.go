package packets

import (
	"fmt"
	gomath "math"

	"github.com/Faultbox/midgard-terrain/internal/engine/mesh"
	"github.com/Faultbox/midgard-terrain/internal/engine/quadtree"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/pkg/math"
	"github.com/Faultbox/midgard-terrain/pkg/nativebuf"
)

// KeyOf converts a chunk key to its wire form.
func KeyOf(k terrain.ChunkKey) ChunkKey {
	return ChunkKey{Level: uint8(k.Level), X: k.X, Y: k.Y}
}

// TerrainKey converts a wire key back to a chunk key.
func (k ChunkKey) TerrainKey() terrain.ChunkKey {
	return terrain.ChunkKey{Level: int(k.Level), X: k.X, Y: k.Y}
}

// NewChunkInstall builds an install packet from a ready chunk.
func NewChunkInstall(c *terrain.Chunk) (*ChunkInstall, error) {
	if !c.Ready() {
		return nil, fmt.Errorf("%w: chunk %s is %s", ErrFieldInvalid, c.Key, c.State)
	}
	m := c.Mesh

	p := &ChunkInstall{
		Key:        KeyOf(c.Key),
		CenterX:    c.Bounds.CenterX,
		CenterY:    c.Bounds.CenterY,
		Size:       c.Bounds.Size,
		Resolution: uint16(m.Resolution),
		IndexWidth: uint8(m.IndexWidth),
		Ranges:     make([]Range, len(m.Ranges)),
		Vertices:   make([]float32, 0, m.VertexCount*6),
		Indices:    make([]uint32, m.IndexCount),
	}
	for i, r := range m.Ranges {
		p.Ranges[i] = Range{Start: uint32(r.StartIndex), End: uint32(r.EndIndex), Base: uint32(r.BaseVertex)}
	}
	verts := m.VertexView()
	for i := range verts.Len() {
		v := verts.At(i)
		p.Vertices = append(p.Vertices,
			v.Position.X, v.Position.Y, v.Position.Z,
			v.Normal.X, v.Normal.Y, v.Normal.Z)
	}
	for i := range p.Indices {
		p.Indices[i] = m.IndexAt(i)
	}
	return p, nil
}

// Bounds returns the tile bounds carried by the packet.
func (p *ChunkInstall) Bounds() quadtree.Bounds {
	return quadtree.Bounds{CenterX: p.CenterX, CenterY: p.CenterY, Size: p.Size}
}

// Mesh rebuilds a terrain mesh from the packet. The height grid is
// recovered from vertex positions so HeightAt works on decoded meshes.
func (p *ChunkInstall) Mesh() (*terrain.Mesh, error) {
	res := int(p.Resolution)
	if res < 1 || !(p.Size > 0) || !finite(p.Size) || !finite(p.CenterX) || !finite(p.CenterY) {
		return nil, fmt.Errorf("%w: resolution %d bounds (%v, %v) size %v",
			ErrFieldInvalid, res, p.CenterX, p.CenterY, p.Size)
	}
	n := p.VertexCount()

	vbuf, err := nativebuf.AllocElems[terrain.Vertex](n)
	if err != nil {
		return nil, err
	}
	b := p.Bounds()
	minX, minY := b.Min()
	step := b.Size / float64(res)
	side := res + 1
	heights := make([]float32, side*side)
	minH, maxH := float32(gomath.Inf(1)), float32(gomath.Inf(-1))

	w := nativebuf.NewWriter(nativebuf.ViewOf[terrain.Vertex](vbuf))
	for i := range n {
		f := p.Vertices[i*6 : i*6+6]
		v := terrain.Vertex{
			Position: math.Vec3{X: f[0], Y: f[1], Z: f[2]},
			Normal:   math.Vec3{X: f[3], Y: f[4], Z: f[5]},
		}
		for _, c := range f {
			if !finite(float64(c)) {
				return nil, fmt.Errorf("%w: vertex %d is not finite", ErrFieldInvalid, i)
			}
		}
		w.Write(v)

		col := int(gomath.Round((float64(v.Position.X) - minX) / step))
		row := int(gomath.Round((float64(v.Position.Z) - minY) / step))
		if col < 0 || col > res || row < 0 || row > res {
			return nil, fmt.Errorf("%w: vertex %d outside tile", ErrFieldInvalid, i)
		}
		heights[row*side+col] = v.Position.Y
		minH = min(minH, v.Position.Y)
		maxH = max(maxH, v.Position.Y)
	}

	ibuf, err := p.indexBuffer()
	if err != nil {
		return nil, err
	}

	ranges := make([]mesh.DrawRange, len(p.Ranges))
	for i, r := range p.Ranges {
		ranges[i] = mesh.DrawRange{StartIndex: int(r.Start), EndIndex: int(r.End), BaseVertex: int(r.Base)}
	}

	return &terrain.Mesh{
		Vertices:    vbuf,
		Indices:     ibuf,
		VertexCount: n,
		IndexCount:  len(p.Indices),
		IndexWidth:  int(p.IndexWidth),
		Ranges:      ranges,
		Bounds:      b,
		Resolution:  res,
		Heights:     heights,
		MinHeight:   minH,
		MaxHeight:   maxH,
	}, nil
}

func (p *ChunkInstall) indexBuffer() (*nativebuf.Buffer, error) {
	switch p.IndexWidth {
	case 2:
		buf, err := nativebuf.AllocElems[uint16](len(p.Indices))
		if err != nil {
			return nil, err
		}
		w := nativebuf.NewWriter(nativebuf.ViewOf[uint16](buf))
		for _, idx := range p.Indices {
			w.Write(uint16(idx))
		}
		return buf, nil
	case 4:
		buf, err := nativebuf.AllocElems[uint32](len(p.Indices))
		if err != nil {
			return nil, err
		}
		nativebuf.NewWriter(nativebuf.ViewOf[uint32](buf)).WriteAll(p.Indices)
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: index width %d", ErrFieldInvalid, p.IndexWidth)
	}
}

func finite(f float64) bool {
	return !gomath.IsNaN(f) && !gomath.IsInf(f, 0)
}
