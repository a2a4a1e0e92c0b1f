package nn

import (
	"fmt"
	"math"

	"github.com/samcharles93/convtran/internal/tensor"
)

// LayerNorm normalises the last axis and applies a learned scale and shift.
type LayerNorm struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
	Eps    float32
}

// NewLayerNorm returns a LayerNorm with scale 1 and shift 0.
func NewLayerNorm(dim int, eps float32) *LayerNorm {
	return &LayerNorm{
		Weight: tensor.Ones(dim),
		Bias:   tensor.New(dim),
		Eps:    eps,
	}
}

func (l *LayerNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.LayerNorm(x, l.Weight, l.Bias, l.Eps)
}

func (l *LayerNorm) State() []Entry {
	return []Entry{
		{Name: "weight", Tensor: l.Weight, Trainable: true},
		{Name: "bias", Tensor: l.Bias, Trainable: true},
	}
}

// BatchNorm normalises axis 1 of an (N, C, ...) input per channel.
//
// In training mode batch statistics are used and folded into the running
// estimates with Momentum; in evaluation mode the running estimates are used
// and nothing is mutated.
type BatchNorm struct {
	Features    int
	Eps         float32
	Momentum    float32
	Weight      *tensor.Tensor
	Bias        *tensor.Tensor
	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor

	rank     int
	training bool
}

// NewBatchNorm1d expects (N, C) or (N, C, L) inputs.
func NewBatchNorm1d(features int) *BatchNorm { return newBatchNorm(features, 3) }

// NewBatchNorm2d expects (N, C, H, W) inputs.
func NewBatchNorm2d(features int) *BatchNorm { return newBatchNorm(features, 4) }

func newBatchNorm(features, rank int) *BatchNorm {
	return &BatchNorm{
		Features:    features,
		Eps:         1e-5,
		Momentum:    0.1,
		Weight:      tensor.Ones(features),
		Bias:        tensor.New(features),
		RunningMean: tensor.New(features),
		RunningVar:  tensor.Ones(features),
		rank:        rank,
	}
}

func (b *BatchNorm) SetTraining(training bool) { b.training = training }
func (b *BatchNorm) Training() bool             { return b.training }

func (b *BatchNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	nd := x.NDim()
	if nd > b.rank || nd < 2 || (b.rank == 4 && nd != 4) {
		panic(fmt.Sprintf("nn: batch norm expects rank %d input, got %v", b.rank, x.Shape()))
	}
	if x.Dim(1) != b.Features {
		panic(fmt.Sprintf("nn: batch norm over %d features got %v", b.Features, x.Shape()))
	}
	n := x.Dim(0)
	inner := 1
	for k := 2; k < nd; k++ {
		inner *= x.Dim(k)
	}
	src := x.Data()
	out := tensor.New(x.Shape()...)
	dst := out.Data()
	count := n * inner

	for c := range b.Features {
		var mean, variance float64
		if b.training && count > 0 {
			for i := range n {
				for _, v := range src[(i*b.Features+c)*inner : (i*b.Features+c+1)*inner] {
					mean += float64(v)
				}
			}
			mean /= float64(count)
			for i := range n {
				for _, v := range src[(i*b.Features+c)*inner : (i*b.Features+c+1)*inner] {
					d := float64(v) - mean
					variance += d * d
				}
			}
			unbiased := variance
			if count > 1 {
				unbiased /= float64(count - 1)
			}
			variance /= float64(count)
			m := float64(b.Momentum)
			rm, rv := b.RunningMean.Data(), b.RunningVar.Data()
			rm[c] = float32((1-m)*float64(rm[c]) + m*mean)
			rv[c] = float32((1-m)*float64(rv[c]) + m*unbiased)
		} else {
			mean = float64(b.RunningMean.Data()[c])
			variance = float64(b.RunningVar.Data()[c])
		}

		scale := float64(b.Weight.Data()[c]) / math.Sqrt(variance+float64(b.Eps))
		shift := float64(b.Bias.Data()[c]) - mean*scale
		for i := range n {
			off := (i*b.Features + c) * inner
			for j, v := range src[off : off+inner] {
				dst[off+j] = float32(float64(v)*scale + shift)
			}
		}
	}
	return out
}

func (b *BatchNorm) State() []Entry {
	return []Entry{
		{Name: "weight", Tensor: b.Weight, Trainable: true},
		{Name: "bias", Tensor: b.Bias, Trainable: true},
		{Name: "running_mean", Tensor: b.RunningMean},
		{Name: "running_var", Tensor: b.RunningVar},
	}
}
