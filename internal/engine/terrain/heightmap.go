package terrain

import gomath "math"

// HeightAt returns the bilinearly interpolated mesh height at a world
// position. ok is false outside the mesh bounds.
func (m *Mesh) HeightAt(x, y float64) (h float32, ok bool) {
	if !m.Bounds.Contains(x, y) {
		return 0, false
	}

	side := m.Resolution + 1
	step := m.Bounds.Size / float64(m.Resolution)
	minX, minY := m.Bounds.Min()

	// Grid cell coordinates
	fx := (x - minX) / step
	fy := (y - minY) / step
	col := min(int(gomath.Floor(fx)), m.Resolution-1)
	row := min(int(gomath.Floor(fy)), m.Resolution-1)
	col = max(col, 0)
	row = max(row, 0)

	tx := float32(clamp01(fx - float64(col)))
	ty := float32(clamp01(fy - float64(row)))

	h00 := m.Heights[row*side+col]
	h10 := m.Heights[row*side+col+1]
	h01 := m.Heights[(row+1)*side+col]
	h11 := m.Heights[(row+1)*side+col+1]

	// Lerp along x on both rows, then along y
	bottom := h00*(1-tx) + h10*tx
	top := h01*(1-tx) + h11*tx
	return bottom*(1-ty) + top*ty, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
