package tensor

import "math/rand"

// FillUniform fills t with values drawn uniformly from [lo, hi). The same
// rng state always produces the same values.
func FillUniform(t *Tensor, lo, hi float32, rng *rand.Rand) {
	span := hi - lo
	for i := range t.data {
		t.data[i] = lo + rng.Float32()*span
	}
}

// FillNormal fills t with values drawn from N(mean, std²).
func FillNormal(t *Tensor, mean, std float32, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = mean + float32(rng.NormFloat64())*std
	}
}

// Rand returns a tensor of the given shape with values in [0, 1) derived
// from seed.
func Rand(seed int64, shape ...int) *Tensor {
	t := New(shape...)
	FillUniform(t, 0, 1, rand.New(rand.NewSource(seed)))
	return t
}
