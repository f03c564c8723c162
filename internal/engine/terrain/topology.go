package terrain

import (
	"errors"
	"fmt"

	"github.com/Faultbox/midgard-terrain/internal/engine/mesh"
	"github.com/Faultbox/midgard-terrain/pkg/math"
	"github.com/Faultbox/midgard-terrain/pkg/nativebuf"
)

// MaxResolution bounds the cells per tile side.
const MaxResolution = 1024

// ErrInvalidResolution reports a resolution outside [1, MaxResolution].
var ErrInvalidResolution = errors.New("terrain: invalid resolution")

// Topology is the index layout of a resolution x resolution cell grid,
// shared by every chunk of that resolution and index width.
//
// Lattice maps each vertex slot to its grid point (row*(Resolution+1)+col).
// Slots outnumber grid points when the grid spans several draw ranges, since
// each range re-emits the vertices on its seam.
type Topology struct {
	Resolution  int
	IndexWidth  int
	Indices     *nativebuf.Buffer
	IndexCount  int
	Ranges      []mesh.DrawRange
	VertexCount int
	Lattice     []int32

	idx16 nativebuf.View[uint16]
	idx32 nativebuf.View[uint32]
}

// IndexAt returns index i widened to 32 bits.
func (t *Topology) IndexAt(i int) uint32 {
	if t.IndexWidth == 2 {
		return uint32(t.idx16.At(i))
	}
	return t.idx32.At(i)
}

// BuildTopology triangulates the grid of the given resolution. maxIndex caps
// local indices below the width limit; zero means no extra cap.
func BuildTopology(resolution, indexWidth int, maxIndex uint32) (*Topology, error) {
	if resolution < 1 || resolution > MaxResolution {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}
	switch indexWidth {
	case 2:
		return buildTopology[uint16](resolution, maxIndex)
	case 4:
		return buildTopology[uint32](resolution, maxIndex)
	default:
		return nil, fmt.Errorf("%w: index width %d", ErrInvalidConfig, indexWidth)
	}
}

func buildTopology[I mesh.Index](resolution int, maxIndex uint32) (*Topology, error) {
	quads := resolution * resolution

	vb, err := nativebuf.AllocElems[math.Vec3](quads * 4)
	if err != nil {
		return nil, fmt.Errorf("allocating lattice vertices: %w", err)
	}
	ib, err := nativebuf.AllocElems[I](quads * 6)
	if err != nil {
		return nil, fmt.Errorf("allocating indices: %w", err)
	}

	var opts []mesh.Option
	if maxIndex > 0 {
		opts = append(opts, mesh.WithMaxIndex(maxIndex))
	}
	vw := nativebuf.NewWriter(nativebuf.ViewOf[math.Vec3](vb))
	iw := nativebuf.NewWriter(nativebuf.ViewOf[I](ib))
	tri := mesh.NewTriangulator(vw, iw, opts...)

	// Corners run counter-clockwise seen from above so face normals point up.
	for row := range resolution {
		for col := range resolution {
			x, y := float32(col), float32(row)
			tri.Quad(
				math.TerrainPoint(x, y, 0),
				math.TerrainPoint(x, y+1, 0),
				math.TerrainPoint(x+1, y+1, 0),
				math.TerrainPoint(x+1, y, 0),
			)
		}
	}
	ranges, count := tri.Finish()

	side := resolution + 1
	lattice := make([]int32, count)
	verts := vw.View()
	for i := range count {
		p := verts.At(i)
		lattice[i] = int32(int(p.Z)*side + int(p.X))
	}

	t := &Topology{
		Resolution:  resolution,
		IndexWidth:  mesh.IndexWidth[I](),
		Indices:     ib,
		IndexCount:  quads * 6,
		Ranges:      ranges,
		VertexCount: count,
		Lattice:     lattice,
	}
	if t.IndexWidth == 2 {
		t.idx16 = nativebuf.ViewOf[uint16](ib)
	} else {
		t.idx32 = nativebuf.ViewOf[uint32](ib)
	}
	return t, nil
}

type topologyKey struct {
	resolution int
	indexWidth int
}

// TopologyCache memoizes topologies by resolution and index width.
// It is not safe for concurrent use; the orchestrator fills it before any
// build that needs an entry is scheduled.
type TopologyCache struct {
	maxIndex uint32
	entries  map[topologyKey]*Topology
}

// NewTopologyCache creates an empty cache. maxIndex is passed to BuildTopology.
func NewTopologyCache(maxIndex uint32) *TopologyCache {
	return &TopologyCache{
		maxIndex: maxIndex,
		entries:  make(map[topologyKey]*Topology),
	}
}

// Get returns the cached topology, building it on first use.
func (c *TopologyCache) Get(resolution, indexWidth int) (*Topology, error) {
	key := topologyKey{resolution, indexWidth}
	if t, ok := c.entries[key]; ok {
		return t, nil
	}
	t, err := BuildTopology(resolution, indexWidth, c.maxIndex)
	if err != nil {
		return nil, err
	}
	c.entries[key] = t
	return t, nil
}

// Len returns the number of cached topologies.
func (c *TopologyCache) Len() int {
	return len(c.entries)
}
