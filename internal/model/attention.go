package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/convtran/internal/nn"
	"github.com/samcharles93/convtran/internal/tensor"
)

// SelfAttention maps a (batch, seq_len, emb_size) sequence to a sequence of
// the same shape.
type SelfAttention interface {
	nn.Module
}

// projections holds the parts every attention variant shares: bias-free
// key, value and query projections and a LayerNorm on the merged output.
type projections struct {
	EmbSize  int
	NumHeads int
	HeadDim  int
	Scale    float32

	Key   *nn.Linear
	Value *nn.Linear
	Query *nn.Linear
	ToOut *nn.LayerNorm

	// Drop is registered for checkpoint parity but never applied.
	Drop *nn.Dropout
}

func newProjections(embSize, numHeads int, dropout float32, rng *rand.Rand) (projections, error) {
	if err := checkHeads(embSize, numHeads); err != nil {
		return projections{}, err
	}
	return projections{
		EmbSize:  embSize,
		NumHeads: numHeads,
		HeadDim:  embSize / numHeads,
		Scale:    float32(1 / math.Sqrt(float64(embSize))),
		Key:      nn.NewLinear(embSize, embSize, false, rng),
		Value:    nn.NewLinear(embSize, embSize, false, rng),
		Query:    nn.NewLinear(embSize, embSize, false, rng),
		Drop:     nn.NewDropout(dropout, rng),
		ToOut:    nn.NewLayerNorm(embSize, 1e-5),
	}, nil
}

// project splits x into per-head q (B,H,L,Dh), kᵀ (B,H,Dh,L) and v (B,H,L,Dh).
func (p *projections) project(x *tensor.Tensor) (q, kT, v *tensor.Tensor) {
	b, l := x.Dim(0), x.Dim(1)
	q = p.Query.Forward(x).Reshape(b, l, p.NumHeads, p.HeadDim).Permute(0, 2, 1, 3)
	kT = p.Key.Forward(x).Reshape(b, l, p.NumHeads, p.HeadDim).Permute(0, 2, 3, 1)
	v = p.Value.Forward(x).Reshape(b, l, p.NumHeads, p.HeadDim).Permute(0, 2, 1, 3)
	return q, kT, v
}

// merge applies the attention weights to v and normalises the concatenated
// heads back to (B, L, E).
func (p *projections) merge(attn, v *tensor.Tensor) *tensor.Tensor {
	b, l := v.Dim(0), v.Dim(2)
	out := tensor.MatMul(attn, v).Permute(0, 2, 1, 3).Reshape(b, l, p.EmbSize)
	return p.ToOut.Forward(out)
}

func (p *projections) checkInput(x *tensor.Tensor, seqLen int) {
	if x.NDim() != 3 || x.Dim(2) != p.EmbSize || (seqLen > 0 && x.Dim(1) != seqLen) {
		want := "L"
		if seqLen > 0 {
			want = fmt.Sprint(seqLen)
		}
		panic(fmt.Sprintf("model: attention expects (batch, %s, %d), got %v", want, p.EmbSize, x.Shape()))
	}
}

func (p *projections) children() []nn.Child {
	return []nn.Child{
		{Name: "key", Module: p.Key},
		{Name: "value", Module: p.Value},
		{Name: "query", Module: p.Query},
		{Name: "dropout", Module: p.Drop},
		{Name: "to_out", Module: p.ToOut},
	}
}

// Attention is plain multi-head self-attention. It works for any sequence
// length.
type Attention struct {
	projections
}

func NewAttention(embSize, numHeads int, dropout float32, rng *rand.Rand) (*Attention, error) {
	p, err := newProjections(embSize, numHeads, dropout, rng)
	if err != nil {
		return nil, err
	}
	return &Attention{projections: p}, nil
}

func (a *Attention) Forward(x *tensor.Tensor) *tensor.Tensor {
	a.checkInput(x, 0)
	q, kT, v := a.project(x)
	scores := tensor.Scale(tensor.MatMul(q, kT), a.Scale)
	return a.merge(tensor.Softmax(scores), v)
}

func (a *Attention) Children() []nn.Child { return a.children() }

// RelativeScalarAttention adds a learned per-head scalar bias, indexed by
// the offset i-j, to the attention scores before the softmax (eRPE).
type RelativeScalarAttention struct {
	projections
	SeqLen int
	// BiasTable is (2*SeqLen-1, NumHeads) and starts at zero.
	BiasTable *tensor.Tensor

	index []int
}

func NewRelativeScalarAttention(embSize, numHeads, seqLen int, dropout float32, rng *rand.Rand) (*RelativeScalarAttention, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("%w: seq_len must be positive, got %d", ErrInvalidConfig, seqLen)
	}
	p, err := newProjections(embSize, numHeads, dropout, rng)
	if err != nil {
		return nil, err
	}
	return &RelativeScalarAttention{
		projections: p,
		SeqLen:      seqLen,
		BiasTable:   tensor.New(2*seqLen-1, numHeads),
		index:       relativeIndex(seqLen),
	}, nil
}

// relativeIndex maps the flattened (i, j) pair to the bias table row
// i - j + L - 1.
func relativeIndex(l int) []int {
	idx := make([]int, l*l)
	for i := range l {
		for j := range l {
			idx[i*l+j] = i - j + l - 1
		}
	}
	return idx
}

// RelativeIndex returns a copy of the flattened (L*L) bias-table index.
func (a *RelativeScalarAttention) RelativeIndex() []int {
	return append([]int(nil), a.index...)
}

// relativeBias gathers the bias table into a (1, H, L, L) tensor.
func (a *RelativeScalarAttention) relativeBias() *tensor.Tensor {
	l, h := a.SeqLen, a.NumHeads
	table := a.BiasTable.Data()
	bias := tensor.New(1, h, l, l)
	dst := bias.Data()
	for head := range h {
		plane := dst[head*l*l : (head+1)*l*l]
		for k, row := range a.index {
			plane[k] = table[row*h+head]
		}
	}
	return bias
}

func (a *RelativeScalarAttention) Forward(x *tensor.Tensor) *tensor.Tensor {
	a.checkInput(x, a.SeqLen)
	q, kT, v := a.project(x)
	scores := tensor.Scale(tensor.MatMul(q, kT), a.Scale)
	scores = tensor.Add(scores, a.relativeBias())
	return a.merge(tensor.Softmax(scores), v)
}

func (a *RelativeScalarAttention) State() []nn.Entry {
	return []nn.Entry{{Name: "relative_bias_table", Tensor: a.BiasTable, Trainable: true}}
}

func (a *RelativeScalarAttention) Children() []nn.Child { return a.children() }

// RelativeVectorAttention learns one embedding per relative offset and adds
// the skewed q·Erᵀ term to the raw scores, keeping only offsets j <= i.
type RelativeVectorAttention struct {
	projections
	SeqLen int
	Er     *tensor.Tensor // (SeqLen, HeadDim), standard normal init
	Mask   *tensor.Tensor // (1, 1, SeqLen, SeqLen) lower-triangular ones
}

func NewRelativeVectorAttention(embSize, numHeads, seqLen int, dropout float32, rng *rand.Rand) (*RelativeVectorAttention, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("%w: seq_len must be positive, got %d", ErrInvalidConfig, seqLen)
	}
	p, err := newProjections(embSize, numHeads, dropout, rng)
	if err != nil {
		return nil, err
	}
	er := tensor.New(seqLen, p.HeadDim)
	tensor.FillNormal(er, 0, 1, rng)
	mask := tensor.New(1, 1, seqLen, seqLen)
	m := mask.Data()
	for i := range seqLen {
		for j := 0; j <= i; j++ {
			m[i*seqLen+j] = 1
		}
	}
	return &RelativeVectorAttention{projections: p, SeqLen: seqLen, Er: er, Mask: mask}, nil
}

func (a *RelativeVectorAttention) Forward(x *tensor.Tensor) *tensor.Tensor {
	a.checkInput(x, a.SeqLen)
	q, kT, v := a.project(x)
	qEr := tensor.MatMul(q, a.Er.Transpose(0, 1))
	scores := tensor.Add(tensor.MatMul(q, kT), skew(qEr, a.Mask))
	scores = tensor.Scale(scores, a.Scale)
	return a.merge(tensor.Softmax(scores), v)
}

// skew turns absolute-by-relative scores into absolute-by-absolute ones:
// out[..., i, j] = qEr[..., i, i-j] for 0 <= i-j < L and 0 elsewhere. The
// trailing two axes of qEr must be square.
func skew(qEr, mask *tensor.Tensor) *tensor.Tensor {
	nd := qEr.NDim()
	l := qEr.Dim(-1)
	if qEr.Dim(-2) != l {
		panic(fmt.Sprintf("model: skew needs square trailing axes, got %v", qEr.Shape()))
	}
	shape := qEr.Shape()[:nd-2]
	padded := qEr.Flip(-1).Pad(1, 0, 0)
	shifted := padded.Reshape(append(shape, l+1, l)...).Narrow(-2, 1, l)
	return tensor.Mul(shifted, mask)
}

func (a *RelativeVectorAttention) State() []nn.Entry {
	return []nn.Entry{
		{Name: "Er", Tensor: a.Er, Trainable: true},
		{Name: "mask", Tensor: a.Mask},
	}
}

func (a *RelativeVectorAttention) Children() []nn.Child { return a.children() }

func newSelfAttention(kind RelPosEncoding, embSize, numHeads, seqLen int, dropout float32, rng *rand.Rand) (SelfAttention, error) {
	var (
		attn SelfAttention
		err  error
	)
	switch kind {
	case RelPosScalar:
		attn, err = NewRelativeScalarAttention(embSize, numHeads, seqLen, dropout, rng)
	case RelPosVector:
		attn, err = NewRelativeVectorAttention(embSize, numHeads, seqLen, dropout, rng)
	case RelPosNone:
		attn, err = NewAttention(embSize, numHeads, dropout, rng)
	default:
		err = kind.validate()
	}
	if err != nil {
		return nil, err
	}
	return attn, nil
}
