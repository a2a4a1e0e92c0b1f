package model

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/convtran/internal/nn"
	"github.com/samcharles93/convtran/internal/tensor"
)

// Backbone is the ConvTran feature extractor. It maps a
// (batch, c_in, seq_len) series to (batch, emb_size, seq_len) features.
//
// The series is first embedded by a temporal convolution (kernel 1x7 over
// time, 4*emb_size filters) and a spatial convolution that collapses the
// c_in variables, each followed by batch norm and GELU. A single
// post-norm transformer block follows: absolute positional encoding,
// self-attention with a residual, LayerNorm, then a ReLU feed-forward with
// a residual and a second LayerNorm.
type Backbone struct {
	CIn     int
	SeqLen  int
	EmbSize int

	EmbedLayer     *nn.Sequential // Conv2d(1, 4E, 1x7, same), BatchNorm2d, GELU
	EmbedLayer2    *nn.Sequential // Conv2d(4E, E, c_in x 1, valid), BatchNorm2d, GELU
	AbsPosition    PositionalEncoding
	AttentionLayer SelfAttention
	LayerNorm      *nn.LayerNorm
	LayerNorm2     *nn.LayerNorm
	FeedForward    *nn.Sequential // Linear, ReLU, Dropout, Linear, Dropout
}

// NewBackbone builds a backbone from cfg. Only the encoder fields are read;
// cfg is normalised and validated first.
func NewBackbone(cfg Config, rng *rand.Rand) (*Backbone, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := cfg.EmbSize
	dropout := *cfg.EncoderDropout

	pos, err := newPositionalEncoding(cfg.AbsPosEncode, e, cfg.SeqLen, dropout, rng)
	if err != nil {
		return nil, err
	}
	b := &Backbone{
		CIn:     cfg.CIn,
		SeqLen:  cfg.SeqLen,
		EmbSize: e,
		EmbedLayer: nn.NewSequential(
			nn.NewConv2d(1, 4*e, 1, 7, true, rng),
			nn.NewBatchNorm2d(4*e),
			nn.GELU{},
		),
		EmbedLayer2: nn.NewSequential(
			nn.NewConv2d(4*e, e, cfg.CIn, 1, false, rng),
			nn.NewBatchNorm2d(e),
			nn.GELU{},
		),
		AbsPosition: pos,
	}
	b.AttentionLayer, err = newSelfAttention(cfg.RelPosEncode, e, cfg.NumHeads, cfg.SeqLen, dropout, rng)
	if err != nil {
		return nil, err
	}
	b.LayerNorm = nn.NewLayerNorm(e, 1e-5)
	b.LayerNorm2 = nn.NewLayerNorm(e, 1e-5)
	b.FeedForward = nn.NewSequential(
		nn.NewLinear(e, cfg.DimFF, true, rng),
		nn.ReLU{},
		nn.NewDropout(dropout, rng),
		nn.NewLinear(cfg.DimFF, e, true, rng),
		nn.NewDropout(dropout, rng),
	)
	return b, nil
}

func (b *Backbone) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.NDim() != 3 || x.Dim(1) != b.CIn || x.Dim(2) != b.SeqLen {
		panic(fmt.Sprintf("model: backbone expects (batch, %d, %d), got %v", b.CIn, b.SeqLen, x.Shape()))
	}
	src := b.EmbedLayer.Forward(x.Unsqueeze(1))      // (B, 4E, c_in, L)
	src = b.EmbedLayer2.Forward(src).Squeeze(2)      // (B, E, L)
	src = src.Permute(0, 2, 1)                       // (B, L, E)
	att := tensor.Add(src, b.AttentionLayer.Forward(b.AbsPosition.Forward(src)))
	att = b.LayerNorm.Forward(att)
	out := tensor.Add(att, b.FeedForward.Forward(att))
	out = b.LayerNorm2.Forward(out)
	return out.Permute(0, 2, 1)
}

func (b *Backbone) Children() []nn.Child {
	return []nn.Child{
		{Name: "embed_layer", Module: b.EmbedLayer},
		{Name: "embed_layer2", Module: b.EmbedLayer2},
		{Name: "abs_position", Module: b.AbsPosition},
		{Name: "attention_layer", Module: b.AttentionLayer},
		{Name: "LayerNorm", Module: b.LayerNorm},
		{Name: "LayerNorm2", Module: b.LayerNorm2},
		{Name: "FeedForward", Module: b.FeedForward},
	}
}
