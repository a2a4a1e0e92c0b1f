package model

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when hyperparameters cannot describe a
	// valid model. It is always raised at construction time.
	ErrInvalidConfig = errors.New("invalid model config")
	// ErrShapeMismatch is returned when an input does not match the shape a
	// model was built for.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// AbsPosEncoding selects the absolute positional encoding.
type AbsPosEncoding string

const (
	AbsPosTime    AbsPosEncoding = "tAPE"    // time-scaled sinusoid
	AbsPosSin     AbsPosEncoding = "sin"     // plain sinusoid
	AbsPosLearned AbsPosEncoding = "learned" // trainable table
	AbsPosNone    AbsPosEncoding = "none"
)

// RelPosEncoding selects the attention variant.
type RelPosEncoding string

const (
	RelPosScalar RelPosEncoding = "eRPE"   // per-head scalar bias
	RelPosVector RelPosEncoding = "vector" // relative embedding vectors
	RelPosNone   RelPosEncoding = "none"   // plain attention
)

// Config holds the ConvTran hyperparameters. Pointer fields distinguish
// "not set" from an explicit zero; Normalize fills them with defaults.
type Config struct {
	CIn    int   `yaml:"c_in" json:"c_in"`
	COut   int   `yaml:"c_out" json:"c_out"`
	SeqLen int   `yaml:"seq_len" json:"seq_len"`
	D      []int `yaml:"d,omitempty" json:"d,omitempty"` // output shape without batch

	EmbSize  int `yaml:"emb_size" json:"emb_size"`
	NumHeads int `yaml:"num_heads" json:"num_heads"`
	DimFF    int `yaml:"dim_ff" json:"dim_ff"`

	AbsPosEncode AbsPosEncoding `yaml:"abs_pos_encode" json:"abs_pos_encode"`
	RelPosEncode RelPosEncoding `yaml:"rel_pos_encode" json:"rel_pos_encode"`

	EncoderDropout *float32 `yaml:"encoder_dropout" json:"encoder_dropout"`
	FCDropout      *float32 `yaml:"fc_dropout" json:"fc_dropout"`
	UseBN          *bool    `yaml:"use_bn" json:"use_bn"`
	Flatten        *bool    `yaml:"flatten" json:"flatten"`

	// Seed drives parameter initialisation and dropout masks.
	Seed int64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns a normalised config for the given input/output
// sizes.
func DefaultConfig(cIn, cOut, seqLen int) Config {
	cfg := Config{CIn: cIn, COut: cOut, SeqLen: seqLen}
	cfg.Normalize()
	return cfg
}

// Normalize fills unset fields with their defaults.
func (c *Config) Normalize() {
	if c.EmbSize == 0 {
		c.EmbSize = 16
	}
	if c.NumHeads == 0 {
		c.NumHeads = 8
	}
	if c.DimFF == 0 {
		c.DimFF = 256
	}
	if c.AbsPosEncode == "" {
		c.AbsPosEncode = AbsPosTime
	}
	if c.RelPosEncode == "" {
		c.RelPosEncode = RelPosScalar
	}
	if c.EncoderDropout == nil {
		c.EncoderDropout = ptr[float32](0.01)
	}
	if c.FCDropout == nil {
		c.FCDropout = ptr[float32](0.1)
	}
	if c.UseBN == nil {
		c.UseBN = ptr(true)
	}
	if c.Flatten == nil {
		c.Flatten = ptr(true)
	}
}

// Validate reports the first problem with a normalised config.
func (c *Config) Validate() error {
	switch {
	case c.CIn <= 0:
		return fmt.Errorf("%w: c_in must be positive, got %d", ErrInvalidConfig, c.CIn)
	case c.COut <= 0:
		return fmt.Errorf("%w: c_out must be positive, got %d", ErrInvalidConfig, c.COut)
	case c.SeqLen <= 0:
		return fmt.Errorf("%w: seq_len must be positive, got %d", ErrInvalidConfig, c.SeqLen)
	case c.DimFF <= 0:
		return fmt.Errorf("%w: dim_ff must be positive, got %d", ErrInvalidConfig, c.DimFF)
	}
	if err := checkHeads(c.EmbSize, c.NumHeads); err != nil {
		return err
	}
	if err := c.AbsPosEncode.validate(); err != nil {
		return err
	}
	if err := c.RelPosEncode.validate(); err != nil {
		return err
	}
	for _, p := range []*float32{c.EncoderDropout, c.FCDropout} {
		if p != nil && (*p < 0 || *p >= 1) {
			return fmt.Errorf("%w: dropout must be in [0, 1), got %v", ErrInvalidConfig, *p)
		}
	}
	for _, d := range c.D {
		if d <= 0 {
			return fmt.Errorf("%w: output shape %v has a non-positive dimension", ErrInvalidConfig, c.D)
		}
	}
	return nil
}

// OutputShape is the per-sample output shape of a model built from c
// without a custom head.
func (c *Config) OutputShape() []int {
	if len(c.D) == 0 {
		return []int{c.COut}
	}
	shape := append([]int(nil), c.D...)
	if c.COut > 1 {
		shape = append(shape, c.COut)
	}
	return shape
}

func (a AbsPosEncoding) validate() error {
	switch a {
	case AbsPosTime, AbsPosSin, AbsPosLearned, AbsPosNone:
		return nil
	}
	return fmt.Errorf("%w: abs_pos_encode %q (want tAPE, sin, learned or none)", ErrInvalidConfig, string(a))
}

func (r RelPosEncoding) validate() error {
	switch r {
	case RelPosScalar, RelPosVector, RelPosNone:
		return nil
	}
	return fmt.Errorf("%w: rel_pos_encode %q (want eRPE, vector or none)", ErrInvalidConfig, string(r))
}

func checkHeads(embSize, numHeads int) error {
	if embSize <= 0 {
		return fmt.Errorf("%w: emb_size must be positive, got %d", ErrInvalidConfig, embSize)
	}
	if numHeads <= 0 {
		return fmt.Errorf("%w: num_heads must be positive, got %d", ErrInvalidConfig, numHeads)
	}
	if embSize%numHeads != 0 {
		return fmt.Errorf("%w: emb_size %d is not divisible by num_heads %d", ErrInvalidConfig, embSize, numHeads)
	}
	return nil
}

// LoadConfig reads a yaml model config and normalises it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

func ptr[T any](v T) *T { return &v }
