// Package camera provides the orbit camera used to explore terrain.
package camera

import (
	gomath "math"

	"github.com/Faultbox/midgard-terrain/pkg/math"
)

// OrbitCamera orbits a focus point on the terrain. The focus point is where
// chunks are streamed around; the eye only decides what is drawn.
type OrbitCamera struct {
	// Focus point in world space (Y is up)
	CenterX, CenterY, CenterZ float32

	// Spherical coordinates
	Distance  float32 // Distance from center
	RotationX float32 // Pitch (vertical angle, radians)
	RotationY float32 // Yaw (horizontal angle, radians)

	// Constraints
	MinDistance float32
	MaxDistance float32
	MinPitch    float32
	MaxPitch    float32

	// Projection
	FOVY float32 // Vertical field of view, radians
	Near float32
	Far  float32

	// Sensitivity
	DragSensitivity float32
	ZoomSensitivity float32
	MoveSpeed       float32 // World units per second at distance 100
}

// NewOrbitCamera creates an orbit camera with default settings.
func NewOrbitCamera() *OrbitCamera {
	return &OrbitCamera{
		Distance:        150.0,
		RotationX:       0.6,
		MinDistance:     10.0,
		MaxDistance:     2000.0,
		MinPitch:        0.05,
		MaxPitch:        1.5,
		FOVY:            gomath.Pi / 3,
		Near:            0.5,
		Far:             5000.0,
		DragSensitivity: 0.005,
		ZoomSensitivity: 0.1,
		MoveSpeed:       120.0,
	}
}

// Position returns the eye position in world space.
func (c *OrbitCamera) Position() math.Vec3 {
	x := c.Distance * float32(gomath.Cos(float64(c.RotationX))*gomath.Sin(float64(c.RotationY)))
	y := c.Distance * float32(gomath.Sin(float64(c.RotationX)))
	z := c.Distance * float32(gomath.Cos(float64(c.RotationX))*gomath.Cos(float64(c.RotationY)))

	return math.Vec3{
		X: c.CenterX + x,
		Y: c.CenterY + y,
		Z: c.CenterZ + z,
	}
}

// ViewMatrix returns the view matrix for this camera.
func (c *OrbitCamera) ViewMatrix() math.Mat4 {
	center := math.Vec3{X: c.CenterX, Y: c.CenterY, Z: c.CenterZ}
	return math.LookAt(c.Position(), center, math.Up)
}

// ProjectionMatrix returns the perspective projection for aspect.
func (c *OrbitCamera) ProjectionMatrix(aspect float32) math.Mat4 {
	return math.Perspective(c.FOVY, aspect, c.Near, c.Far)
}

// ViewProjection returns projection * view.
func (c *OrbitCamera) ViewProjection(aspect float32) math.Mat4 {
	return c.ProjectionMatrix(aspect).Mul(c.ViewMatrix())
}

// Ground returns the focus point in planar terrain coordinates.
func (c *OrbitCamera) Ground() (x, y float64) {
	return float64(c.CenterX), float64(c.CenterZ)
}

// Facing returns the planar look direction, from the eye toward the focus
// point, in terrain coordinates.
func (c *OrbitCamera) Facing() math.Vec2 {
	return math.Vec2{
		X: -float32(gomath.Sin(float64(c.RotationY))),
		Y: -float32(gomath.Cos(float64(c.RotationY))),
	}
}

// HorizontalFOV returns the horizontal field of view for aspect, in radians.
func (c *OrbitCamera) HorizontalFOV(aspect float32) float64 {
	return 2 * gomath.Atan(gomath.Tan(float64(c.FOVY)/2)*float64(aspect))
}

// HandleDrag updates rotation based on mouse drag delta.
func (c *OrbitCamera) HandleDrag(deltaX, deltaY float32) {
	c.RotationY -= deltaX * c.DragSensitivity
	c.RotationX += deltaY * c.DragSensitivity
	c.RotationX = min(max(c.RotationX, c.MinPitch), c.MaxPitch)
}

// HandleZoom updates distance based on scroll wheel delta.
func (c *OrbitCamera) HandleZoom(delta float32) {
	c.Distance -= delta * c.Distance * c.ZoomSensitivity
	c.Distance = min(max(c.Distance, c.MinDistance), c.MaxDistance)
}

// HandleMovement moves the focus point along the ground. forward and right
// are in [-1, 1]; dt is in seconds. Speed scales with distance.
func (c *OrbitCamera) HandleMovement(forward, right, dt float32) {
	speed := c.MoveSpeed * (c.Distance / 100) * dt
	f := c.Facing()

	// Right is the facing rotated a quarter turn clockwise
	c.CenterX += (f.X*forward - f.Y*right) * speed
	c.CenterZ += (f.Y*forward + f.X*right) * speed
}

// FollowGround sets the focus height, typically to the terrain height under
// the focus point.
func (c *OrbitCamera) FollowGround(height float32) {
	c.CenterY = height
}

// SetCenter sets the camera's focus point.
func (c *OrbitCamera) SetCenter(x, y, z float32) {
	c.CenterX = x
	c.CenterY = y
	c.CenterZ = z
}
