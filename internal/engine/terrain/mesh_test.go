package terrain

import (
	"errors"
	gomath "math"
	"testing"

	"github.com/Faultbox/midgard-terrain/internal/engine/heightfield"
	"github.com/Faultbox/midgard-terrain/internal/engine/quadtree"
	"github.com/Faultbox/midgard-terrain/pkg/math"
)

func hillySampler() *heightfield.Sampler {
	return heightfield.New(2024, heightfield.DefaultLayers(), heightfield.CellularLayer{Frequency: 1.0 / 64, Amplitude: 6, Jitter: 1})
}

func TestBuildTopology(t *testing.T) {
	topo, err := BuildTopology(4, 2, 0)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	if topo.VertexCount != 25 || topo.IndexCount != 96 || len(topo.Ranges) != 1 {
		t.Errorf("vertices=%d indices=%d ranges=%d", topo.VertexCount, topo.IndexCount, len(topo.Ranges))
	}
	seen := make(map[int32]bool)
	for _, l := range topo.Lattice {
		if seen[l] {
			t.Errorf("lattice point %d emitted twice in a single range", l)
		}
		seen[l] = true
	}

	if _, err := BuildTopology(0, 2, 0); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("resolution 0: %v", err)
	}
	if _, err := BuildTopology(4, 3, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("index width 3: %v", err)
	}
}

func TestBuildTopologySplitsRanges(t *testing.T) {
	const limit = 40
	topo, err := BuildTopology(8, 2, limit)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	if len(topo.Ranges) < 2 {
		t.Fatalf("expected several ranges, got %d", len(topo.Ranges))
	}
	if topo.VertexCount <= 81 {
		t.Errorf("seams should duplicate vertices, got %d slots", topo.VertexCount)
	}
	for _, r := range topo.Ranges {
		for i := r.StartIndex; i < r.EndIndex; i++ {
			if topo.IndexAt(i) >= limit {
				t.Fatalf("index %d at %d reaches limit", topo.IndexAt(i), i)
			}
		}
	}
	for _, l := range topo.Lattice {
		if l < 0 || l >= 81 {
			t.Fatalf("lattice point %d outside 9x9 grid", l)
		}
	}
}

func TestBuildTopologyAtUint16Limit(t *testing.T) {
	// 257x257 grid points do not fit one 16-bit range.
	const res = 256
	topo, err := BuildTopology(res, 2, 0)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	if len(topo.Ranges) < 2 {
		t.Fatalf("got %d ranges, want several", len(topo.Ranges))
	}
	if topo.VertexCount < (res+1)*(res+1) {
		t.Errorf("vertex count %d below grid point count", topo.VertexCount)
	}

	side := res + 1
	next := 0
	for _, r := range topo.Ranges {
		if r.StartIndex != next {
			t.Fatalf("range %+v starts after %d", r, next)
		}
		next = r.EndIndex
		for i := r.StartIndex; i < r.EndIndex; i += 3 {
			var pts [3]int32
			for k := range 3 {
				local := topo.IndexAt(i + k)
				if local >= 1<<16-1 {
					t.Fatalf("index %d: local %d reaches the 16-bit limit", i+k, local)
				}
				slot := r.BaseVertex + int(local)
				if slot >= topo.VertexCount {
					t.Fatalf("index %d: slot %d past %d vertices", i+k, slot, topo.VertexCount)
				}
				pts[k] = topo.Lattice[slot]
			}
			// All three corners lie on one grid cell.
			for k := range 3 {
				a, b := pts[k], pts[(k+1)%3]
				dr := int(a)/side - int(b)/side
				dc := int(a)%side - int(b)%side
				if a == b || dr < -1 || dr > 1 || dc < -1 || dc > 1 {
					t.Fatalf("triangle at index %d spans %d and %d", i, a, b)
				}
			}
		}
	}
	if next != topo.IndexCount || topo.IndexCount != res*res*6 {
		t.Errorf("ranges cover %d of %d indices", next, topo.IndexCount)
	}

	wide, err := BuildTopology(res, 4, 0)
	if err != nil {
		t.Fatalf("BuildTopology 32-bit: %v", err)
	}
	if len(wide.Ranges) != 1 || wide.VertexCount != side*side {
		t.Errorf("32-bit: %d ranges, %d vertices", len(wide.Ranges), wide.VertexCount)
	}
}

func TestTopologyCache(t *testing.T) {
	c := NewTopologyCache(0)
	a, err := c.Get(8, 4)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := c.Get(8, 4)
	if a != b {
		t.Error("cache returned a new topology for the same key")
	}
	c.Get(8, 2)
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestBuildMeshFlat(t *testing.T) {
	flat := heightfield.New(1, nil, heightfield.CellularLayer{})
	topo, _ := BuildTopology(4, 4, 0)
	b := quadtree.Bounds{CenterX: 100, CenterY: -50, Size: 16}

	m, err := BuildMesh(flat, b, topo)
	if err != nil {
		t.Fatalf("BuildMesh: %v", err)
	}
	if m.VertexCount != 25 || m.TriangleCount() != 32 {
		t.Errorf("vertices=%d triangles=%d", m.VertexCount, m.TriangleCount())
	}
	if len(m.VertexBytes()) != 25*VertexStride || len(m.IndexBytes()) != 96*4 {
		t.Errorf("raw sizes %d %d", len(m.VertexBytes()), len(m.IndexBytes()))
	}

	minX, minY := b.Min()
	maxX, maxY := b.Max()
	for i := range m.VertexCount {
		s := m.SampleAt(i)
		if s.Height != 0 || s.Normal != math.Up {
			t.Errorf("vertex %d sample %+v, want flat", i, s)
		}
		p := m.Positions().At(i)
		if float64(p.X) < minX || float64(p.X) > maxX || float64(p.Z) < minY || float64(p.Z) > maxY {
			t.Errorf("vertex %d at %v escapes bounds", i, p)
		}
	}
	if m.MinHeight != 0 || m.MaxHeight != 0 {
		t.Errorf("height range %v..%v", m.MinHeight, m.MaxHeight)
	}
}

func TestBuildMeshNormalsShareSeams(t *testing.T) {
	s := hillySampler()
	topo, _ := BuildTopology(8, 2, 40)
	m, err := BuildMesh(s, quadtree.Bounds{CenterX: 37, CenterY: 11, Size: 64}, topo)
	if err != nil {
		t.Fatalf("BuildMesh: %v", err)
	}

	normals := m.Normals()
	verts := m.VertexView()
	byLattice := make(map[int32]math.Vec3)
	for i, l := range topo.Lattice {
		n := normals.At(i)
		if n != verts.At(i).Normal {
			t.Fatalf("projected normal %d disagrees with record", i)
		}
		if length := n.Length(); gomath.Abs(float64(length)-1) > 1e-4 {
			t.Errorf("normal %d has length %v", i, length)
		}
		if n.Y <= 0 {
			t.Errorf("normal %d points down: %v", i, n)
		}
		if prev, ok := byLattice[l]; ok && prev != n {
			t.Errorf("lattice point %d has normals %v and %v", l, prev, n)
		}
		byLattice[l] = n
	}

	// Heights come from the sampler at grid points.
	side := 9
	step := 64.0 / 8
	minX, minY := m.Bounds.Min()
	for _, rc := range [][2]int{{0, 0}, {3, 5}, {8, 8}} {
		row, col := rc[0], rc[1]
		want := float32(s.Sample(minX+float64(col)*step, minY+float64(row)*step))
		if got := m.Heights[row*side+col]; got != want {
			t.Errorf("height[%d,%d] = %v, want %v", row, col, got, want)
		}
	}
}

func TestMeshIndexAccessors(t *testing.T) {
	flat := heightfield.New(1, nil, heightfield.CellularLayer{})
	topo16, _ := BuildTopology(2, 2, 0)
	m, _ := BuildMesh(flat, quadtree.Bounds{Size: 2}, topo16)
	if m.Indices16().Len() != 24 || m.IndexAt(5) != uint32(m.Indices16().At(5)) {
		t.Error("16-bit accessors disagree")
	}
	defer func() {
		if recover() == nil {
			t.Error("Indices32 on a 16-bit mesh should panic")
		}
	}()
	m.Indices32()
}

func TestHeightAt(t *testing.T) {
	s := hillySampler()
	topo, _ := BuildTopology(4, 4, 0)
	b := quadtree.Bounds{CenterX: 0, CenterY: 0, Size: 32}
	m, _ := BuildMesh(s, b, topo)

	// Grid points reproduce the samples exactly.
	for _, p := range [][2]float64{{-16, -16}, {0, 8}, {16, 16}} {
		h, ok := m.HeightAt(p[0], p[1])
		if !ok || h != float32(s.Sample(p[0], p[1])) {
			t.Errorf("HeightAt(%v) = %v,%v want %v", p, h, ok, s.Sample(p[0], p[1]))
		}
	}

	// Mid-cell values stay between the cell's corner heights.
	h, ok := m.HeightAt(-12, -12)
	lo := min(m.Heights[0], m.Heights[1], m.Heights[5], m.Heights[6])
	hi := max(m.Heights[0], m.Heights[1], m.Heights[5], m.Heights[6])
	if !ok || h < lo || h > hi {
		t.Errorf("HeightAt mid-cell = %v, outside [%v,%v]", h, lo, hi)
	}

	if _, ok := m.HeightAt(17, 0); ok {
		t.Error("expected ok=false outside bounds")
	}
}
