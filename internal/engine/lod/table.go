// Package lod holds the immutable table of terrain detail levels.
//
// Index 0 is the coarsest level; MaxLevel is the finest. Going from coarse to
// fine, both tile size and maximum view distance strictly decrease.
package lod

import (
	"errors"
	"fmt"
	"math"
)

// DefaultResolution is the number of mesh cells per tile side when a level
// does not set one.
const DefaultResolution = 32

// Table errors.
var (
	ErrEmpty        = errors.New("lod: no levels")
	ErrInvalidLevel = errors.New("lod: invalid level")
	ErrUnordered    = errors.New("lod: levels not strictly ordered")
)

// Level describes one detail level.
type Level struct {
	TileSize        float64 `yaml:"tile_size"`
	MaxViewDistance float64 `yaml:"max_view_distance"`
	Resolution      int     `yaml:"resolution,omitempty"`
}

// Table maps a level index to its Level.
type Table struct {
	levels []Level
}

// NewTable builds a table from levels listed finest first.
func NewTable(finestFirst []Level) (*Table, error) {
	if len(finestFirst) == 0 {
		return nil, ErrEmpty
	}

	levels := make([]Level, len(finestFirst))
	for i, l := range finestFirst {
		if !(l.TileSize > 0) || math.IsInf(l.TileSize, 0) || !(l.MaxViewDistance > 0) || l.Resolution < 0 {
			return nil, fmt.Errorf("%w: %d: %+v", ErrInvalidLevel, i, l)
		}
		if l.Resolution == 0 {
			l.Resolution = DefaultResolution
		}
		levels[len(levels)-1-i] = l
	}

	for i := 1; i < len(levels); i++ {
		coarse, fine := levels[i-1], levels[i]
		if fine.TileSize >= coarse.TileSize || fine.MaxViewDistance >= coarse.MaxViewDistance {
			return nil, fmt.Errorf("%w: level %d %+v is not finer than level %d %+v",
				ErrUnordered, i, fine, i-1, coarse)
		}
	}
	return &Table{levels: levels}, nil
}

// Len returns the number of levels.
func (t *Table) Len() int {
	return len(t.levels)
}

// MaxLevel returns the index of the finest level.
func (t *Table) MaxLevel() int {
	return len(t.levels) - 1
}

// Level returns level i. Panics if i is out of range.
func (t *Table) Level(i int) Level {
	if i < 0 || i >= len(t.levels) {
		panic(fmt.Sprintf("lod: level %d out of range [0,%d]", i, t.MaxLevel()))
	}
	return t.levels[i]
}

// Coarsest returns level 0.
func (t *Table) Coarsest() Level {
	return t.levels[0]
}

// Finest returns level MaxLevel.
func (t *Table) Finest() Level {
	return t.levels[len(t.levels)-1]
}

// SelectForDistance returns the finest level whose MaxViewDistance is at most
// d, or the coarsest level when none qualifies.
func (t *Table) SelectForDistance(d float64) int {
	for i := len(t.levels) - 1; i >= 0; i-- {
		if t.levels[i].MaxViewDistance <= d {
			return i
		}
	}
	return 0
}

// Halving reports whether every level's tile is exactly half the next
// coarser one, so finer tiles nest inside the quadtree.
func (t *Table) Halving() bool {
	for i := 1; i < len(t.levels); i++ {
		if t.levels[i].TileSize*2 != t.levels[i-1].TileSize {
			return false
		}
	}
	return true
}
