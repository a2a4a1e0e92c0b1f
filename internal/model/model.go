package model

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/samcharles93/convtran/internal/nn"
	"github.com/samcharles93/convtran/internal/tensor"
)

// HeadFunc builds a head from the backbone feature width, the output width
// and the sequence length.
type HeadFunc func(nf, cOut, seqLen int) (nn.Module, error)

type options struct {
	head     nn.Module
	headFunc HeadFunc
}

// Option customises model construction.
type Option func(*options)

// WithHead uses h as the head. It takes precedence over WithHeadFunc.
func WithHead(h nn.Module) Option {
	return func(o *options) { o.head = h }
}

// WithHeadFunc builds the head with fn.
func WithHeadFunc(fn HeadFunc) Option {
	return func(o *options) { o.headFunc = fn }
}

// Model is a backbone followed by a head. It owns both exclusively.
type Model struct {
	Config Config
	HeadNF int

	backbone *Backbone
	head     nn.Module
	training bool
}

// New assembles a ConvTran model. The head is chosen in priority order: a
// module passed with WithHead, a module built by WithHeadFunc, a LinNDHead
// when cfg.D is set, and otherwise average pooling followed by a linear
// projection. A custom head whose output does not match cfg.OutputShape is
// rejected with ErrInvalidConfig.
func New(cfg Config, opts ...Option) (*Model, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	backbone, err := NewBackbone(cfg, rng)
	if err != nil {
		return nil, err
	}
	m := &Model{Config: cfg, HeadNF: cfg.EmbSize, backbone: backbone}

	switch {
	case o.head != nil:
		err = m.SetHead(o.head)
	case o.headFunc != nil:
		var h nn.Module
		h, err = o.headFunc(m.HeadNF, cfg.COut, cfg.SeqLen)
		if err != nil {
			return nil, fmt.Errorf("%w: build head: %v", ErrInvalidConfig, err)
		}
		err = m.SetHead(h)
	case len(cfg.D) > 0:
		m.head, err = NewLinNDHead(LinNDHeadConfig{
			NIn:     m.HeadNF,
			NOut:    cfg.COut,
			SeqLen:  cfg.SeqLen,
			D:       cfg.D,
			Flatten: *cfg.Flatten,
			UseBN:   *cfg.UseBN,
			Dropout: *cfg.FCDropout,
		}, rng)
	default:
		m.head = NewPoolHead(m.HeadNF, cfg.COut, rng)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Backbone returns the feature extractor.
func (m *Model) Backbone() *Backbone { return m.backbone }

// Head returns the task head.
func (m *Model) Head() nn.Module { return m.head }

// SetHead replaces the head after checking that it maps backbone features
// to the configured output shape. The new head follows the model's current
// training mode.
func (m *Model) SetHead(h nn.Module) error {
	if h == nil {
		return fmt.Errorf("%w: nil head", ErrInvalidConfig)
	}
	nn.SetTraining(h, false)
	got, err := nn.ProbeShape(h, 1, m.HeadNF, m.Config.SeqLen)
	if err != nil {
		return fmt.Errorf("%w: head rejects backbone features: %v", ErrInvalidConfig, err)
	}
	want := append([]int{1}, m.Config.OutputShape()...)
	if !slices.Equal(got, want) {
		return fmt.Errorf("%w: head produces %v, want %v", ErrInvalidConfig, got, want)
	}
	nn.SetTraining(h, m.training)
	m.head = h
	return nil
}

// Forward runs backbone and head. It panics on malformed input; use Predict
// for checked calls.
func (m *Model) Forward(x *tensor.Tensor) *tensor.Tensor {
	return m.head.Forward(m.backbone.Forward(x))
}

// Predict checks that x is (batch, c_in, seq_len) and runs the model.
func (m *Model) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := m.CheckInput(x.Shape()); err != nil {
		return nil, err
	}
	return m.Forward(x), nil
}

// CheckInput reports whether shape is a valid model input.
func (m *Model) CheckInput(shape []int) error {
	if len(shape) != 3 || shape[0] <= 0 || shape[1] != m.Config.CIn || shape[2] != m.Config.SeqLen {
		return fmt.Errorf("%w: input %v, want (batch, %d, %d)", ErrShapeMismatch, shape, m.Config.CIn, m.Config.SeqLen)
	}
	return nil
}

// Features runs the backbone only.
func (m *Model) Features(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := m.CheckInput(x.Shape()); err != nil {
		return nil, err
	}
	return m.backbone.Forward(x), nil
}

// SetTraining switches dropout and batch norm between training and
// evaluation behaviour. Models start in evaluation mode.
func (m *Model) SetTraining(training bool) {
	m.training = training
	nn.SetTraining(m.backbone, training)
	nn.SetTraining(m.head, training)
}

// Training reports the current mode.
func (m *Model) Training() bool { return m.training }

func (m *Model) Children() []nn.Child {
	return []nn.Child{
		{Name: "backbone", Module: m.backbone},
		{Name: "head", Module: m.head},
	}
}
