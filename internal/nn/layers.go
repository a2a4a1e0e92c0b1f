package nn

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/samcharles93/convtran/internal/tensor"
)

// Dropout zeroes elements with probability P in training mode and scales
// the survivors by 1/(1-P). In evaluation mode it is the identity.
type Dropout struct {
	P float32

	rng      *rand.Rand
	training bool
}

// NewDropout returns a Dropout layer whose mask stream is derived from rng.
func NewDropout(p float32, rng *rand.Rand) *Dropout {
	if p < 0 || p > 1 {
		panic(fmt.Sprintf("nn: dropout probability %v out of range", p))
	}
	return &Dropout{P: p, rng: rand.New(rand.NewSource(rng.Int63()))}
}

func (d *Dropout) SetTraining(training bool) { d.training = training }
func (d *Dropout) Training() bool             { return d.training }

func (d *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.P == 0 {
		return x
	}
	if d.P == 1 {
		return tensor.New(x.Shape()...)
	}
	keep := 1 / (1 - d.P)
	return tensor.Map(x, func(v float32) float32 {
		if d.rng.Float32() < d.P {
			return 0
		}
		return v * keep
	})
}

// Identity returns its input.
type Identity struct{}

func (Identity) Forward(x *tensor.Tensor) *tensor.Tensor { return x }

// GELU is the erf-based activation.
type GELU struct{}

func (GELU) Forward(x *tensor.Tensor) *tensor.Tensor { return tensor.GELU(x) }

// ReLU is max(x, 0).
type ReLU struct{}

func (ReLU) Forward(x *tensor.Tensor) *tensor.Tensor { return tensor.ReLU(x) }

// AdaptiveAvgPool1d averages (N, C, L) over L, producing (N, C, 1).
type AdaptiveAvgPool1d struct{}

func (AdaptiveAvgPool1d) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.MeanAxis(x, -1, true)
}

// Flatten collapses every axis after the batch axis.
type Flatten struct{}

func (Flatten) Forward(x *tensor.Tensor) *tensor.Tensor {
	return x.Reshape(x.Dim(0), -1)
}

// Reshape keeps the batch axis and reshapes the rest to Shape.
type Reshape struct {
	Shape []int
}

func (r Reshape) Forward(x *tensor.Tensor) *tensor.Tensor {
	return x.Reshape(append([]int{x.Dim(0)}, r.Shape...)...)
}

// Transpose swaps axes A and B.
type Transpose struct {
	A, B int
}

func (t Transpose) Forward(x *tensor.Tensor) *tensor.Tensor {
	return x.Transpose(t.A, t.B)
}

// Squeeze drops a size-one axis.
type Squeeze struct {
	Axis int
}

func (s Squeeze) Forward(x *tensor.Tensor) *tensor.Tensor {
	return x.Squeeze(s.Axis)
}

// Sequential chains modules. Children are named by position ("0", "1", ...).
type Sequential struct {
	Layers []Module
}

// NewSequential chains layers in order.
func NewSequential(layers ...Module) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Forward(x *tensor.Tensor) *tensor.Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x)
	}
	return x
}

func (s *Sequential) Children() []Child {
	out := make([]Child, len(s.Layers))
	for i, l := range s.Layers {
		out[i] = Child{Name: strconv.Itoa(i), Module: l}
	}
	return out
}
