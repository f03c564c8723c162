package quadtree

import "math"

// Quadrant names one child of a square split at its center.
type Quadrant int

const (
	TopRight Quadrant = iota
	BottomRight
	BottomLeft
	TopLeft
)

func (q Quadrant) String() string {
	switch q {
	case TopRight:
		return "top-right"
	case BottomRight:
		return "bottom-right"
	case BottomLeft:
		return "bottom-left"
	case TopLeft:
		return "top-left"
	default:
		return "invalid"
	}
}

// Bounds is an axis-aligned square. Y grows towards the top.
type Bounds struct {
	CenterX float64
	CenterY float64
	Size    float64
}

// Half returns half the side length.
func (b Bounds) Half() float64 {
	return b.Size / 2
}

// Min returns the bottom-left corner.
func (b Bounds) Min() (x, y float64) {
	return b.CenterX - b.Half(), b.CenterY - b.Half()
}

// Max returns the top-right corner.
func (b Bounds) Max() (x, y float64) {
	return b.CenterX + b.Half(), b.CenterY + b.Half()
}

// Contains reports whether (x, y) lies inside b, edges included.
func (b Bounds) Contains(x, y float64) bool {
	h := b.Half()
	return math.Abs(x-b.CenterX) <= h && math.Abs(y-b.CenterY) <= h
}

// ContainsBounds reports whether o lies entirely inside b.
func (b Bounds) ContainsBounds(o Bounds) bool {
	d := b.Half() - o.Half()
	return d >= 0 && math.Abs(o.CenterX-b.CenterX) <= d && math.Abs(o.CenterY-b.CenterY) <= d
}

// Intersects reports whether b and o overlap with non-zero area.
func (b Bounds) Intersects(o Bounds) bool {
	reach := b.Half() + o.Half()
	return math.Abs(b.CenterX-o.CenterX) < reach && math.Abs(b.CenterY-o.CenterY) < reach
}

// Quadrant returns the child square in q. Children share b's center as a
// corner and have half its size.
func (b Bounds) Quadrant(q Quadrant) Bounds {
	off := b.Size / 4
	c := Bounds{CenterX: b.CenterX, CenterY: b.CenterY, Size: b.Half()}
	switch q {
	case TopRight:
		c.CenterX += off
		c.CenterY += off
	case BottomRight:
		c.CenterX += off
		c.CenterY -= off
	case BottomLeft:
		c.CenterX -= off
		c.CenterY -= off
	case TopLeft:
		c.CenterX -= off
		c.CenterY += off
	}
	return c
}

// Quadrants returns the four children in Quadrant order.
func (b Bounds) Quadrants() [4]Bounds {
	return [4]Bounds{
		b.Quadrant(TopRight),
		b.Quadrant(BottomRight),
		b.Quadrant(BottomLeft),
		b.Quadrant(TopLeft),
	}
}

// QuadrantOf returns the child of b that holds (x, y). Points on the center
// lines go to the right and top children.
func (b Bounds) QuadrantOf(x, y float64) Quadrant {
	right := x >= b.CenterX
	top := y >= b.CenterY
	switch {
	case right && top:
		return TopRight
	case right:
		return BottomRight
	case top:
		return TopLeft
	default:
		return BottomLeft
	}
}

// Distance returns the distance from (x, y) to the center of b.
func (b Bounds) Distance(x, y float64) float64 {
	return math.Hypot(x-b.CenterX, y-b.CenterY)
}
