// Package heightfield implements the deterministic procedural height function
// that terrain meshes are sampled from.
//
// A Sampler sums independently configured value-noise layers and one cellular
// layer. It holds no mutable state, so one instance can serve every
// generation worker concurrently.
package heightfield

import (
	"math"
)

// Layer is one weighted value-noise octave.
type Layer struct {
	Frequency float64 `yaml:"frequency"`
	Amplitude float64 `yaml:"amplitude"`
}

// CellularLayer is the Worley (F1) component.
type CellularLayer struct {
	Frequency float64 `yaml:"frequency"`
	Amplitude float64 `yaml:"amplitude"`
	// Jitter moves feature points inside their cell, 0 = regular grid, 1 = full.
	Jitter float64 `yaml:"jitter"`
}

// worleyMax is the largest F1 distance reachable with jitter <= 1.
const worleyMax = math.Sqrt2

// Sampler is a seeded height function.
type Sampler struct {
	seed     int64
	layers   []Layer
	cellular CellularLayer
}

// New creates a sampler. The layer slice is copied.
func New(seed int64, layers []Layer, cellular CellularLayer) *Sampler {
	s := &Sampler{
		seed:     seed,
		layers:   append([]Layer(nil), layers...),
		cellular: cellular,
	}
	s.cellular.Jitter = math.Max(0, math.Min(1, s.cellular.Jitter))
	return s
}

// DefaultLayers returns a fractal stack of four octaves.
func DefaultLayers() []Layer {
	return []Layer{
		{Frequency: 1.0 / 512, Amplitude: 64},
		{Frequency: 1.0 / 256, Amplitude: 32},
		{Frequency: 1.0 / 128, Amplitude: 12},
		{Frequency: 1.0 / 32, Amplitude: 3},
	}
}

// Seed returns the construction seed.
func (s *Sampler) Seed() int64 {
	return s.seed
}

// AmplitudeSum bounds |Sample(x, y)|.
func (s *Sampler) AmplitudeSum() float64 {
	sum := math.Abs(s.cellular.Amplitude)
	for _, l := range s.layers {
		sum += math.Abs(l.Amplitude)
	}
	return sum
}

// Sample returns the terrain height at (x, y).
func (s *Sampler) Sample(x, y float64) float64 {
	var h float64
	for i, l := range s.layers {
		if l.Amplitude == 0 {
			continue
		}
		n := valueNoise(x*l.Frequency, y*l.Frequency, s.seed+int64(i+1)*7919)
		h += (2*n - 1) * l.Amplitude
	}
	if c := s.cellular; c.Amplitude != 0 && c.Frequency != 0 {
		d := worleyF1(x*c.Frequency, y*c.Frequency, s.seed^0x5DEECE66D, c.Jitter)
		n := math.Min(d/worleyMax, 1)
		h += (2*n - 1) * c.Amplitude
	}
	return h
}

// SampleGrid samples an n x n grid starting at origin with the given spacing.
// The result is row-major with y as the row.
func (s *Sampler) SampleGrid(originX, originY, step float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n*n)
	for j := range n {
		y := originY + float64(j)*step
		for i := range n {
			out[j*n+i] = s.Sample(originX+float64(i)*step, y)
		}
	}
	return out
}
