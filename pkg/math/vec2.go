// Package math provides the small vector and matrix types shared by the
// terrain core and its render collaborators.
//
// Terrain is addressed by planar (x, y) coordinates. In 3D the plane maps to
// X/Z with height on Y, so a terrain point (x, y, h) is Vec3{x, h, y}.
package math

import "math"

// Vec2 is a planar point or direction.
type Vec2 struct {
	X, Y float32
}

// Add returns v + other.
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{v.X + other.X, v.Y + other.Y}
}

// Sub returns v - other.
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{v.X - other.X, v.Y - other.Y}
}

// Scale returns v * s.
func (v Vec2) Scale(s float32) Vec2 {
	return Vec2{v.X * s, v.Y * s}
}

// Dot returns the dot product.
func (v Vec2) Dot(other Vec2) float32 {
	return v.X*other.X + v.Y*other.Y
}

// Length returns the magnitude.
func (v Vec2) Length() float32 {
	return float32(math.Hypot(float64(v.X), float64(v.Y)))
}

// Normalize returns a unit vector, or the zero vector for zero input.
func (v Vec2) Normalize() Vec2 {
	l := v.Length()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// Distance returns the distance to another point.
func (v Vec2) Distance(other Vec2) float32 {
	return v.Sub(other).Length()
}

// AngleTo returns the unsigned angle in radians between v and other.
// Zero-length inputs yield 0.
func (v Vec2) AngleTo(other Vec2) float32 {
	a, b := v.Normalize(), other.Normalize()
	if a == (Vec2{}) || b == (Vec2{}) {
		return 0
	}
	d := float64(a.Dot(b))
	return float32(math.Acos(math.Max(-1, math.Min(1, d))))
}
