package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/convtran/internal/nn"
	"github.com/samcharles93/convtran/internal/tensor"
)

// PositionalEncoding injects position information into a
// (batch, seq_len, d_model) sequence without changing its shape.
type PositionalEncoding interface {
	nn.Module
}

// FixedPositionalEncoding adds a precomputed sinusoidal table. The table is
// a buffer: it is never written after construction.
type FixedPositionalEncoding struct {
	DModel int
	SeqLen int
	Table  *tensor.Tensor // (1, SeqLen, DModel)
	Drop   *nn.Dropout
}

// NewTimePositionalEncoding builds tAPE: the sinusoid frequencies are
// stretched by d_model/seq_len so the wavelengths track the series length.
func NewTimePositionalEncoding(dModel, seqLen int, dropout, scale float32, rng *rand.Rand) *FixedPositionalEncoding {
	return newFixedPositionalEncoding(dModel, seqLen, float64(dModel)/float64(seqLen), scale, dropout, rng)
}

// NewSinusoidalPositionalEncoding builds the plain transformer sinusoid.
func NewSinusoidalPositionalEncoding(dModel, seqLen int, dropout, scale float32, rng *rand.Rand) *FixedPositionalEncoding {
	return newFixedPositionalEncoding(dModel, seqLen, 1, scale, dropout, rng)
}

func newFixedPositionalEncoding(dModel, seqLen int, freqScale float64, scale, dropout float32, rng *rand.Rand) *FixedPositionalEncoding {
	return &FixedPositionalEncoding{
		DModel: dModel,
		SeqLen: seqLen,
		Table:  SinusoidTable(dModel, seqLen, freqScale, scale).Unsqueeze(0),
		Drop:   nn.NewDropout(dropout, rng),
	}
}

// SinusoidTable returns the (seqLen, dModel) table with
//
//	pe[p, 2i]   = scale * sin(p * exp(-2i ln(10000)/dModel) * freqScale)
//	pe[p, 2i+1] = scale * cos(p * exp(-2i ln(10000)/dModel) * freqScale)
//
// It depends on nothing but its arguments.
func SinusoidTable(dModel, seqLen int, freqScale float64, scale float32) *tensor.Tensor {
	pe := tensor.New(seqLen, dModel)
	data := pe.Data()
	k := -math.Log(10000.0) / float64(dModel)
	for p := range seqLen {
		row := data[p*dModel : (p+1)*dModel]
		for i := 0; i < dModel; i += 2 {
			angle := float64(p) * math.Exp(float64(i)*k) * freqScale
			row[i] = scale * float32(math.Sin(angle))
			if i+1 < dModel {
				row[i+1] = scale * float32(math.Cos(angle))
			}
		}
	}
	return pe
}

func (pe *FixedPositionalEncoding) Forward(x *tensor.Tensor) *tensor.Tensor {
	checkSequence(x, pe.SeqLen, pe.DModel)
	return pe.Drop.Forward(tensor.Add(x, pe.Table))
}

func (pe *FixedPositionalEncoding) State() []nn.Entry {
	return []nn.Entry{{Name: "pe", Tensor: pe.Table}}
}

func (pe *FixedPositionalEncoding) Children() []nn.Child {
	return []nn.Child{{Name: "dropout", Module: pe.Drop}}
}

// LearnedPositionalEncoding adds a trainable (seq_len, d_model) table.
type LearnedPositionalEncoding struct {
	DModel int
	SeqLen int
	Table  *tensor.Tensor
	Drop   *nn.Dropout
}

// NewLearnedPositionalEncoding initialises the table from U(-0.02, 0.02).
func NewLearnedPositionalEncoding(dModel, seqLen int, dropout float32, rng *rand.Rand) *LearnedPositionalEncoding {
	table := tensor.New(seqLen, dModel)
	tensor.FillUniform(table, -0.02, 0.02, rng)
	return &LearnedPositionalEncoding{
		DModel: dModel,
		SeqLen: seqLen,
		Table:  table,
		Drop:   nn.NewDropout(dropout, rng),
	}
}

func (pe *LearnedPositionalEncoding) Forward(x *tensor.Tensor) *tensor.Tensor {
	checkSequence(x, pe.SeqLen, pe.DModel)
	return pe.Drop.Forward(tensor.Add(x, pe.Table))
}

func (pe *LearnedPositionalEncoding) State() []nn.Entry {
	return []nn.Entry{{Name: "pe", Tensor: pe.Table, Trainable: true}}
}

func (pe *LearnedPositionalEncoding) Children() []nn.Child {
	return []nn.Child{{Name: "dropout", Module: pe.Drop}}
}

func newPositionalEncoding(kind AbsPosEncoding, dModel, seqLen int, dropout float32, rng *rand.Rand) (PositionalEncoding, error) {
	switch kind {
	case AbsPosTime:
		return NewTimePositionalEncoding(dModel, seqLen, dropout, 1, rng), nil
	case AbsPosSin:
		return NewSinusoidalPositionalEncoding(dModel, seqLen, dropout, 1, rng), nil
	case AbsPosLearned:
		return NewLearnedPositionalEncoding(dModel, seqLen, dropout, rng), nil
	case AbsPosNone:
		return nn.Identity{}, nil
	}
	return nil, kind.validate()
}

// checkSequence panics unless x is (batch, seqLen, dModel).
func checkSequence(x *tensor.Tensor, seqLen, dModel int) {
	if x.NDim() != 3 || x.Dim(1) != seqLen || x.Dim(2) != dModel {
		panic(fmt.Sprintf("model: expected (batch, %d, %d) sequence, got %v", seqLen, dModel, x.Shape()))
	}
}
