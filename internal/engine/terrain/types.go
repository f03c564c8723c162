// Package terrain streams procedurally generated terrain chunks around a
// viewer, choosing tile sizes from an LOD table and building meshes inline or
// on a background scheduler.
package terrain

import (
	"fmt"
	gomath "math"

	"github.com/Faultbox/midgard-terrain/internal/engine/quadtree"
	"github.com/Faultbox/midgard-terrain/pkg/math"
)

// Vertex is one interleaved mesh vertex.
type Vertex struct {
	Position math.Vec3
	Normal   math.Vec3
}

// VertexStride is the size of Vertex in bytes.
const VertexStride = 24

// HeightSample is the surface height and unit normal at a vertex.
type HeightSample struct {
	Height float32
	Normal math.Vec3
}

// State is the readiness of a chunk's mesh.
type State int

const (
	StateRequested State = iota
	StateGenerating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateGenerating:
		return "generating"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ChunkKey identifies a tile by level and the integer grid position of its
// bottom-left corner, in units of the level's tile size.
type ChunkKey struct {
	Level int
	X, Y  int64
}

// KeyFor returns the key of the tile with bounds b at level.
func KeyFor(level int, b quadtree.Bounds) ChunkKey {
	minX, minY := b.Min()
	return ChunkKey{
		Level: level,
		X:     int64(gomath.Round(minX / b.Size)),
		Y:     int64(gomath.Round(minY / b.Size)),
	}
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("L%d/%d,%d", k.Level, k.X, k.Y)
}

// Less orders keys by level, then row, then column.
func (k ChunkKey) Less(o ChunkKey) bool {
	if k.Level != o.Level {
		return k.Level < o.Level
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.X < o.X
}

// Chunk is one terrain tile and its generated mesh.
//
// Chunks are only mutated on the orchestrating goroutine. A background build
// works on its own buffers and hands them over in its completion callback.
type Chunk struct {
	Key        ChunkKey
	Level      int
	Bounds     quadtree.Bounds
	Resolution int
	State      State
	Mesh       *Mesh

	// Err is the last build failure; cleared on success.
	Err      error
	Attempts int

	node quadtree.NodeID
	gen  int
}

// Ready reports whether the chunk has a mesh.
func (c *Chunk) Ready() bool {
	return c.State == StateReady && c.Mesh != nil
}
