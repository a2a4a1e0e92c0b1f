package nn

import (
	"math"
	"math/rand"

	"github.com/samcharles93/convtran/internal/tensor"
)

// Linear applies y = x·Wᵀ + b over the last axis.
type Linear struct {
	In, Out int
	Weight  *tensor.Tensor // (Out, In)
	Bias    *tensor.Tensor // (Out), nil when built without bias
}

// NewLinear builds a Linear layer with weights and bias drawn from
// U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(in, out int, bias bool, rng *rand.Rand) *Linear {
	l := &Linear{In: in, Out: out, Weight: tensor.New(out, in)}
	bound := fanInBound(in)
	tensor.FillUniform(l.Weight, -bound, bound, rng)
	if bias {
		l.Bias = tensor.New(out)
		tensor.FillUniform(l.Bias, -bound, bound, rng)
	}
	return l
}

func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Linear(x, l.Weight, l.Bias)
}

func (l *Linear) State() []Entry {
	s := []Entry{{Name: "weight", Tensor: l.Weight, Trainable: true}}
	if l.Bias != nil {
		s = append(s, Entry{Name: "bias", Tensor: l.Bias, Trainable: true})
	}
	return s
}

// Conv2d is a stride-one 2-D convolution.
type Conv2d struct {
	InChannels, OutChannels int
	KernelH, KernelW        int
	Padding                 tensor.Padding
	Weight                  *tensor.Tensor // (Out, In, KH, KW)
	Bias                    *tensor.Tensor // (Out)
}

// NewConv2d builds a convolution. With same set the spatial size is kept,
// otherwise no padding is applied.
func NewConv2d(in, out, kh, kw int, same bool, rng *rand.Rand) *Conv2d {
	c := &Conv2d{
		InChannels:  in,
		OutChannels: out,
		KernelH:     kh,
		KernelW:     kw,
		Weight:      tensor.New(out, in, kh, kw),
		Bias:        tensor.New(out),
	}
	if same {
		c.Padding = tensor.SamePadding(kh, kw)
	}
	bound := fanInBound(in * kh * kw)
	tensor.FillUniform(c.Weight, -bound, bound, rng)
	tensor.FillUniform(c.Bias, -bound, bound, rng)
	return c
}

func (c *Conv2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Conv2D(x, c.Weight, c.Bias, c.Padding)
}

func (c *Conv2d) State() []Entry {
	return []Entry{
		{Name: "weight", Tensor: c.Weight, Trainable: true},
		{Name: "bias", Tensor: c.Bias, Trainable: true},
	}
}

func fanInBound(fanIn int) float32 {
	if fanIn <= 0 {
		return 0
	}
	return float32(1 / math.Sqrt(float64(fanIn)))
}
