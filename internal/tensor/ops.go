package tensor

import (
	"fmt"
	"math"
	"slices"
)

// Add returns a + b with numpy-style broadcasting.
func Add(a, b *Tensor) *Tensor {
	return binary(a, b, func(x, y float32) float32 { return x + y })
}

// Mul returns a * b element-wise with numpy-style broadcasting.
func Mul(a, b *Tensor) *Tensor {
	return binary(a, b, func(x, y float32) float32 { return x * y })
}

// Scale returns t * s.
func Scale(t *Tensor, s float32) *Tensor {
	return Map(t, func(v float32) float32 { return v * s })
}

// Map applies fn to every element.
func Map(t *Tensor, fn func(float32) float32) *Tensor {
	out := New(t.shape...)
	for i, v := range t.data {
		out.data[i] = fn(v)
	}
	return out
}

// ReLU computes max(x, 0).
func ReLU(t *Tensor) *Tensor {
	return Map(t, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// GELU computes the exact (erf based) Gaussian Error Linear Unit.
func GELU(t *Tensor) *Tensor {
	return Map(t, func(v float32) float32 {
		x := float64(v)
		return float32(0.5 * x * (1 + math.Erf(x/math.Sqrt2)))
	})
}

// Softmax normalises the last axis into a probability distribution.
func Softmax(t *Tensor) *Tensor {
	out := t.Clone()
	if len(t.shape) == 0 {
		panic("tensor: softmax of a scalar")
	}
	n := t.shape[len(t.shape)-1]
	if n == 0 {
		return out
	}
	for r := 0; r < len(out.data); r += n {
		softmaxRow(out.data[r : r+n])
	}
	return out
}

func softmaxRow(x []float32) {
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// LayerNorm normalises the last axis to zero mean and unit variance and then
// applies the optional affine weight and bias (both of the last axis' size).
func LayerNorm(x, weight, bias *Tensor, eps float32) *Tensor {
	n := x.Dim(-1)
	if weight != nil && weight.Len() != n {
		panic(fmt.Sprintf("tensor: layer norm weight %v for input %v", weight.shape, x.shape))
	}
	if bias != nil && bias.Len() != n {
		panic(fmt.Sprintf("tensor: layer norm bias %v for input %v", bias.shape, x.shape))
	}
	out := New(x.shape...)
	if n == 0 {
		return out
	}
	for r := 0; r < len(x.data); r += n {
		src := x.data[r : r+n]
		dst := out.data[r : r+n]
		var mean float64
		for _, v := range src {
			mean += float64(v)
		}
		mean /= float64(n)
		var variance float64
		for _, v := range src {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(n)
		inv := 1 / math.Sqrt(variance+float64(eps))
		for i, v := range src {
			y := float32((float64(v) - mean) * inv)
			if weight != nil {
				y *= weight.data[i]
			}
			if bias != nil {
				y += bias.data[i]
			}
			dst[i] = y
		}
	}
	return out
}

// MeanAxis averages over one axis, keeping it as size one when keepDim is set.
func MeanAxis(t *Tensor, axis int, keepDim bool) *Tensor {
	axis = t.axis(axis)
	dim := t.shape[axis]
	outer, inner := splitAt(t.shape, axis)
	shape := slices.Clone(t.shape)
	if keepDim {
		shape[axis] = 1
	} else {
		shape = slices.Delete(shape, axis, axis+1)
	}
	out := New(shape...)
	if dim == 0 {
		return out
	}
	inv := 1 / float32(dim)
	for o := range outer {
		dst := out.data[o*inner : (o+1)*inner]
		for j := range dim {
			src := t.data[(o*dim+j)*inner : (o*dim+j+1)*inner]
			for i, v := range src {
				dst[i] += v
			}
		}
		for i := range dst {
			dst[i] *= inv
		}
	}
	return out
}

func binary(a, b *Tensor, op func(x, y float32) float32) *Tensor {
	if slices.Equal(a.shape, b.shape) {
		out := New(a.shape...)
		for i := range out.data {
			out.data[i] = op(a.data[i], b.data[i])
		}
		return out
	}

	shape := broadcastShape(a.shape, b.shape)
	nd := len(shape)
	as := broadcastStrides(a.shape, shape)
	bs := broadcastStrides(b.shape, shape)
	out := New(shape...)
	idx := make([]int, nd)
	ao, bo := 0, 0
	for i := range out.data {
		out.data[i] = op(a.data[ao], b.data[bo])
		for k := nd - 1; k >= 0; k-- {
			idx[k]++
			ao += as[k]
			bo += bs[k]
			if idx[k] < shape[k] {
				break
			}
			ao -= as[k] * shape[k]
			bo -= bs[k] * shape[k]
			idx[k] = 0
		}
	}
	return out
}

func broadcastShape(a, b []int) []int {
	nd := max(len(a), len(b))
	out := make([]int, nd)
	for k := range nd {
		da, db := 1, 1
		if i := k - (nd - len(a)); i >= 0 {
			da = a[i]
		}
		if i := k - (nd - len(b)); i >= 0 {
			db = b[i]
		}
		switch {
		case da == db:
			out[k] = da
		case da == 1:
			out[k] = db
		case db == 1:
			out[k] = da
		default:
			panic(fmt.Sprintf("tensor: shapes %v and %v do not broadcast", a, b))
		}
	}
	return out
}

// broadcastStrides returns per-output-axis strides into a tensor of shape in,
// with zero strides along broadcast axes.
func broadcastStrides(in, out []int) []int {
	s := strides(in)
	res := make([]int, len(out))
	off := len(out) - len(in)
	for k := range in {
		if in[k] != 1 {
			res[off+k] = s[k]
		}
	}
	return res
}
