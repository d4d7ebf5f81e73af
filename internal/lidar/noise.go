package lidar

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NoiseSource draws the random values used by the measurement model. Each
// source is deterministic for a given seed and stream, and must not be
// shared between goroutines.
type NoiseSource struct {
	src rand.Source
}

// NewNoiseSource returns a PCG-backed source. Different streams with the
// same seed produce independent sequences.
func NewNoiseSource(seed, stream uint64) *NoiseSource {
	return &NoiseSource{src: rand.NewPCG(seed, stream)}
}

// Normal draws from N(0, sigma). A non-positive sigma returns 0 without
// consuming randomness.
func (n *NoiseSource) Normal(sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	return distuv.Normal{Mu: 0, Sigma: sigma, Src: n.src}.Rand()
}

// Uniform draws from U(lo, hi).
func (n *NoiseSource) Uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return distuv.Uniform{Min: lo, Max: hi, Src: n.src}.Rand()
}

// Bernoulli reports success with probability p.
func (n *NoiseSource) Bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return distuv.Bernoulli{P: p, Src: n.src}.Rand() == 1
}

// RangeNoise draws a zero-mean range perturbation of the given kind.
// Uniform spans [-2σ, 2σ]; Rayleigh is the magnitude of two Gaussian draws
// with a random sign.
func (n *NoiseSource) RangeNoise(kind NoiseKind, sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	switch kind {
	case NoiseUniform:
		return n.Uniform(-2*sigma, 2*sigma)
	case NoiseRayleigh:
		a, b := n.Normal(sigma), n.Normal(sigma)
		mag := math.Sqrt(a*a + b*b)
		if n.Bernoulli(0.5) {
			return mag
		}
		return -mag
	default:
		return n.Normal(sigma)
	}
}
