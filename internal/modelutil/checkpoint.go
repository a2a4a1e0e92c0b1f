package modelutil

import (
	"fmt"
	"slices"

	"github.com/goccy/go-json"

	"github.com/samcharles93/convtran/internal/model"
	"github.com/samcharles93/convtran/internal/nn"
	"github.com/samcharles93/convtran/internal/safetensors"
	"github.com/samcharles93/convtran/internal/tensor"
)

const (
	// MetaConfig holds the JSON encoded model.Config of a saved model.
	MetaConfig = "convtran.config"
	// MetaFormat marks the tensor layout; "pt" matches PyTorch exports.
	MetaFormat = "format"
)

// Checkpoint is a named mapping from parameter path to tensor.
type Checkpoint struct {
	Tensors  map[string]*tensor.Tensor
	Metadata map[string]string
}

// Names returns the tensor names in sorted order.
func (c *Checkpoint) Names() []string {
	names := make([]string, 0, len(c.Tensors))
	for n := range c.Tensors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Config decodes the model config stored with the checkpoint.
func (c *Checkpoint) Config() (model.Config, error) {
	raw, ok := c.Metadata[MetaConfig]
	if !ok {
		return model.Config{}, fmt.Errorf("checkpoint has no %s metadata", MetaConfig)
	}
	var cfg model.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return model.Config{}, fmt.Errorf("decode model config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// FromModule snapshots the state of m. Tensors are shared, not copied.
func FromModule(m nn.Module) *Checkpoint {
	c := &Checkpoint{Tensors: make(map[string]*tensor.Tensor)}
	for _, e := range nn.StateDict(m) {
		c.Tensors[e.Name] = e.Tensor
	}
	return c
}

// SaveCheckpoint writes the state of m to path as F32 safetensors.
func SaveCheckpoint(path string, m nn.Module, metadata map[string]string) error {
	entries := nn.StateDict(m)
	tensors := make([]safetensors.Tensor, len(entries))
	for i, e := range entries {
		tensors[i] = safetensors.Tensor{Name: e.Name, Shape: e.Tensor.Shape(), Data: e.Tensor.Data()}
	}
	meta := map[string]string{MetaFormat: "pt"}
	for k, v := range metadata {
		meta[k] = v
	}
	return safetensors.WriteFile(path, tensors, safetensors.DTypeF32, meta)
}

// SaveModel writes the state of m together with its config.
func SaveModel(path string, m *model.Model) error {
	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return fmt.Errorf("encode model config: %w", err)
	}
	return SaveCheckpoint(path, m, map[string]string{MetaConfig: string(cfg)})
}

// LoadCheckpoint reads every floating point tensor in path. Integer
// entries such as num_batches_tracked are skipped.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	c := &Checkpoint{
		Tensors:  make(map[string]*tensor.Tensor, len(f.Tensors)),
		Metadata: f.Metadata,
	}
	for name, info := range f.Tensors {
		if !safetensors.IsFloat(info.DType) {
			continue
		}
		data, _, err := f.ReadTensorF32(name)
		if err != nil {
			return nil, err
		}
		c.Tensors[name] = tensor.FromData(data, info.Shape...)
	}
	return c, nil
}

// LoadState copies every tensor of m from c. Names and shapes must match
// exactly; extra checkpoint entries are ignored.
func LoadState(m nn.Module, c *Checkpoint) error {
	entries := nn.StateDict(m)
	for _, e := range entries {
		src, ok := c.Tensors[e.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing %s", e.Name)
		}
		if !src.SameShape(e.Tensor) {
			return fmt.Errorf("%s: checkpoint shape %v, model shape %v", e.Name, src.Shape(), e.Tensor.Shape())
		}
	}
	for _, e := range entries {
		e.Tensor.CopyFrom(c.Tensors[e.Name])
	}
	return nil
}

// LoadModel rebuilds a model from a checkpoint written by SaveModel.
func LoadModel(path string, opts ...model.Option) (*model.Model, error) {
	c, err := LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	cfg, err := c.Config()
	if err != nil {
		return nil, err
	}
	m, err := model.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := LoadState(m, c); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return m, nil
}

// ReadConfig decodes the model config of a checkpoint without reading its
// tensors.
func ReadConfig(path string) (model.Config, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return model.Config{}, err
	}
	c := Checkpoint{Metadata: f.Metadata}
	return c.Config()
}
