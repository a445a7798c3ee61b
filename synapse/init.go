package synapse

import (
	"math"
	"math/rand"
)

// Initializer fills a freshly allocated parameter slice. Implementations
// draw from the supplied RNG so construction stays deterministic per seed.
type Initializer func(rng *rand.Rand, n int) []float32

// UniformInit draws values uniformly from [lo, hi).
func UniformInit(lo, hi float32) Initializer {
	return func(rng *rand.Rand, n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = lo + rng.Float32()*(hi-lo)
		}
		return out
	}
}

// GaussianInit draws values from a normal distribution.
func GaussianInit(mean, stddev float32) Initializer {
	return func(rng *rand.Rand, n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = mean + float32(rng.NormFloat64())*stddev
		}
		return out
	}
}

// ConstantInit fills every value with v.
func ConstantInit(v float32) Initializer {
	return func(rng *rand.Rand, n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
}

// fanInInit is the default kernel initializer: He initialization scaled by
// the kernel's fan-in.
func fanInInit(fanIn int) Initializer {
	stddev := float32(math.Sqrt(2.0 / float64(fanIn)))
	return GaussianInit(0, stddev)
}
