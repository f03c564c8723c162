// Package quadtree is a lazily grown forest of square tiles keyed by world
// position.
//
// Nodes live in a flat arena and are addressed by NodeID. Roots have the size
// given to New and are centered on multiples of it; each level below halves
// the tile size. Nodes are never removed.
package quadtree

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument reports a request that violates the tree's preconditions.
var ErrInvalidArgument = errors.New("quadtree: invalid argument")

// NodeID addresses a node in the arena.
type NodeID int32

// None is the absent-node sentinel.
const None NodeID = -1

type rootKey struct {
	x, y int64
}

type node[T any] struct {
	level    int
	bounds   Bounds
	parent   NodeID
	children [4]NodeID
	hasData  bool
	data     T
}

// Tree is the arena. It is not safe for concurrent use.
type Tree[T any] struct {
	rootSize float64
	maxLevel int
	alloc    func(Bounds, int) T

	nodes []node[T]
	roots map[rootKey]NodeID
}

// New creates an empty tree. alloc materializes a node's payload the first
// time RequestNode returns it; it may be nil, leaving the zero value.
func New[T any](rootSize float64, maxLevel int, alloc func(b Bounds, level int) T) (*Tree[T], error) {
	if !(rootSize > 0) || math.IsInf(rootSize, 0) {
		return nil, fmt.Errorf("%w: root size %v", ErrInvalidArgument, rootSize)
	}
	if maxLevel < 0 {
		return nil, fmt.Errorf("%w: max level %d", ErrInvalidArgument, maxLevel)
	}
	return &Tree[T]{
		rootSize: rootSize,
		maxLevel: maxLevel,
		alloc:    alloc,
		roots:    make(map[rootKey]NodeID),
	}, nil
}

// RootSize returns the side length of level 0 tiles.
func (t *Tree[T]) RootSize() float64 {
	return t.rootSize
}

// MaxLevel returns the deepest level the tree grows to.
func (t *Tree[T]) MaxLevel() int {
	return t.maxLevel
}

// RootBounds returns the bounds of the root tile that holds (x, y).
func (t *Tree[T]) RootBounds(x, y float64) Bounds {
	return Bounds{
		CenterX: math.Round(x/t.rootSize) * t.rootSize,
		CenterY: math.Round(y/t.rootSize) * t.rootSize,
		Size:    t.rootSize,
	}
}

// RequestNode returns the node at level (clamped to MaxLevel) whose bounds
// hold (x, y), creating the root, every node on the way down and the
// returned node's payload as needed. Identical arguments always return the
// same NodeID.
func (t *Tree[T]) RequestNode(x, y float64, level int) (NodeID, error) {
	if level < 0 {
		return None, fmt.Errorf("%w: level %d", ErrInvalidArgument, level)
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return None, fmt.Errorf("%w: point (%v, %v)", ErrInvalidArgument, x, y)
	}
	level = min(level, t.maxLevel)

	id := t.root(x, y)
	for t.nodes[id].level < level {
		n := &t.nodes[id]
		q := n.bounds.QuadrantOf(x, y)
		if n.children[q] == None {
			t.split(id)
		}
		id = t.nodes[id].children[q]
	}

	if n := &t.nodes[id]; !n.hasData {
		if t.alloc != nil {
			n.data = t.alloc(n.bounds, n.level)
		}
		n.hasData = true
	}
	return id, nil
}

func (t *Tree[T]) root(x, y float64) NodeID {
	b := t.RootBounds(x, y)
	key := rootKey{
		x: int64(math.Round(x / t.rootSize)),
		y: int64(math.Round(y / t.rootSize)),
	}
	if id, ok := t.roots[key]; ok {
		return id
	}
	id := t.add(node[T]{level: 0, bounds: b, parent: None})
	t.roots[key] = id
	return id
}

// split creates every missing child of id.
func (t *Tree[T]) split(id NodeID) {
	quads := t.nodes[id].bounds.Quadrants()
	for q, b := range quads {
		if t.nodes[id].children[q] != None {
			continue
		}
		child := t.add(node[T]{level: t.nodes[id].level + 1, bounds: b, parent: id})
		t.nodes[id].children[q] = child
	}
}

func (t *Tree[T]) add(n node[T]) NodeID {
	n.children = [4]NodeID{None, None, None, None}
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

func (t *Tree[T]) get(id NodeID) *node[T] {
	if id < 0 || int(id) >= len(t.nodes) {
		panic(fmt.Sprintf("quadtree: node %d out of range [0,%d)", id, len(t.nodes)))
	}
	return &t.nodes[id]
}

// Len returns the number of nodes created so far.
func (t *Tree[T]) Len() int {
	return len(t.nodes)
}

// Roots returns the root nodes in creation order.
func (t *Tree[T]) Roots() []NodeID {
	var ids []NodeID
	for i := range t.nodes {
		if t.nodes[i].parent == None {
			ids = append(ids, NodeID(i))
		}
	}
	return ids
}

// Level returns the depth of id; roots are level 0.
func (t *Tree[T]) Level(id NodeID) int { return t.get(id).level }

// Bounds returns the tile covered by id.
func (t *Tree[T]) Bounds(id NodeID) Bounds { return t.get(id).bounds }

// Parent returns the parent of id, or None for a root.
func (t *Tree[T]) Parent(id NodeID) NodeID { return t.get(id).parent }

// Children returns the children of id in Quadrant order; absent ones are None.
func (t *Tree[T]) Children(id NodeID) [4]NodeID { return t.get(id).children }

// IsLeaf reports whether id has no children.
func (t *Tree[T]) IsLeaf(id NodeID) bool {
	for _, c := range t.get(id).children {
		if c != None {
			return false
		}
	}
	return true
}

// HasData reports whether the payload of id has been materialized.
func (t *Tree[T]) HasData(id NodeID) bool { return t.get(id).hasData }

// Data returns the payload of id.
func (t *Tree[T]) Data(id NodeID) T { return t.get(id).data }

// SetData replaces the payload of id and marks it materialized.
func (t *Tree[T]) SetData(id NodeID, v T) {
	n := t.get(id)
	n.data = v
	n.hasData = true
}
