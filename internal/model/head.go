package model

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/convtran/internal/nn"
)

// NewPoolHead averages the (batch, nf, L) features over time and projects
// them to cOut outputs.
func NewPoolHead(nf, cOut int, rng *rand.Rand) *nn.Sequential {
	return nn.NewSequential(
		nn.AdaptiveAvgPool1d{},
		nn.Flatten{},
		nn.NewLinear(nf, cOut, true, rng),
	)
}

// LinNDHeadConfig configures NewLinNDHead.
type LinNDHeadConfig struct {
	NIn     int
	NOut    int
	SeqLen  int
	D       []int // target shape without batch; empty for a plain vector
	Flatten bool
	UseBN   bool
	Dropout float32
}

// NewLinNDHead maps (batch, NIn, SeqLen) features to (batch, D..., NOut).
// A trailing NOut of 1 is dropped. When Flatten is false and prod(D)
// equals SeqLen, the projection is applied per time step instead of over
// the flattened features.
func NewLinNDHead(cfg LinNDHeadConfig, rng *rand.Rand) (*nn.Sequential, error) {
	if cfg.NIn <= 0 || cfg.NOut <= 0 {
		return nil, fmt.Errorf("%w: head needs positive input and output sizes, got %d -> %d", ErrInvalidConfig, cfg.NIn, cfg.NOut)
	}
	seqLen := cfg.SeqLen
	if seqLen <= 0 {
		seqLen = 1
	}

	fd := 1
	var shape []int
	for _, d := range cfg.D {
		if d <= 0 {
			return nil, fmt.Errorf("%w: head shape %v has a non-positive dimension", ErrInvalidConfig, cfg.D)
		}
		fd *= d
		shape = append(shape, d)
	}
	if len(cfg.D) == 0 || cfg.NOut > 1 {
		shape = append(shape, cfg.NOut)
	}

	var layers []nn.Module
	if cfg.UseBN {
		layers = append(layers, nn.NewBatchNorm1d(cfg.NIn))
	}
	if cfg.Dropout > 0 {
		layers = append(layers, nn.NewDropout(cfg.Dropout, rng))
	}

	if len(cfg.D) == 0 {
		if !cfg.Flatten || seqLen == 1 {
			layers = append(layers,
				nn.AdaptiveAvgPool1d{},
				nn.Squeeze{Axis: -1},
				nn.NewLinear(cfg.NIn, cfg.NOut, true, rng),
			)
		} else {
			layers = append(layers,
				nn.Flatten{},
				nn.NewLinear(cfg.NIn*seqLen, cfg.NOut, true, rng),
			)
		}
		return nn.NewSequential(layers...), nil
	}

	if seqLen == 1 {
		layers = append(layers, nn.AdaptiveAvgPool1d{})
	}
	if !cfg.Flatten && fd == seqLen {
		layers = append(layers,
			nn.Transpose{A: 1, B: 2},
			nn.NewLinear(cfg.NIn, cfg.NOut, true, rng),
		)
	} else {
		layers = append(layers,
			nn.Flatten{},
			nn.NewLinear(cfg.NIn*seqLen, cfg.NOut*fd, true, rng),
		)
	}
	layers = append(layers, nn.Reshape{Shape: shape})
	return nn.NewSequential(layers...), nil
}
