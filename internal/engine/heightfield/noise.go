package heightfield

import "math"

// hash2 is a SplitMix64-style lattice hash, stable across runs and platforms.
func hash2(x, y int64, seed int64) uint64 {
	v := uint64(x)*0x9E3779B97F4A7C15 ^ uint64(y)*0xC2B2AE3D27D4EB4F ^ uint64(seed)*0x165667B19E3779F9
	v += 0x9E3779B97F4A7C15
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	return v ^ (v >> 31)
}

// unit maps a hash to [0,1].
func unit(h uint64) float64 {
	return float64(h>>11) / float64(1<<53)
}

// fade is the quintic smoothstep 6t^5 - 15t^4 + 10t^3.
func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// valueNoise returns smooth lattice noise in [0,1].
func valueNoise(x, y float64, seed int64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	ix, iy := int64(x0), int64(y0)

	fx := fade(x - x0)
	fy := fade(y - y0)

	v00 := unit(hash2(ix, iy, seed))
	v10 := unit(hash2(ix+1, iy, seed))
	v01 := unit(hash2(ix, iy+1, seed))
	v11 := unit(hash2(ix+1, iy+1, seed))

	return lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fy)
}

// worleyF1 returns the distance from (x, y) to the nearest jittered feature
// point, one point per unit cell. With jitter in [0,1] a feature point can
// sit up to two cells from the sample, so the search covers 5x5 cells.
func worleyF1(x, y float64, seed int64, jitter float64) float64 {
	ix, iy := int64(math.Floor(x)), int64(math.Floor(y))

	best := math.MaxFloat64
	for dy := int64(-2); dy <= 2; dy++ {
		for dx := int64(-2); dx <= 2; dx++ {
			px, py := featurePoint(ix+dx, iy+dy, seed, jitter)
			if d := math.Hypot(px-x, py-y); d < best {
				best = d
			}
		}
	}
	return best
}

// featurePoint returns the feature point of cell (ix, iy).
func featurePoint(ix, iy int64, seed int64, jitter float64) (x, y float64) {
	h := hash2(ix, iy, seed)
	// Two independent offsets from one hash.
	ox := 0.5 + jitter*(unit(h)-0.5)
	oy := 0.5 + jitter*(unit(h*0xD6E8FEB86659FD93+1)-0.5)
	return float64(ix) + ox, float64(iy) + oy
}
