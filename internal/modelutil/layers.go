// Package modelutil inspects assembled models and moves weights between
// them: layer filters, parameter counts, weight statistics, output-size
// probing, head replacement, checkpoints and weight transfer.
package modelutil

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/samcharles93/convtran/internal/model"
	"github.com/samcharles93/convtran/internal/nn"
)

// Layer is a leaf module and its dotted path.
type Layer struct {
	Path   string
	Module nn.Module
}

// Cond selects layers.
type Cond func(nn.Module) bool

// Layers returns the leaf modules of m, in registration order, that satisfy
// any of conds. With no conds every leaf is returned.
func Layers(m nn.Module, conds ...Cond) []Layer {
	var out []Layer
	nn.Walk(m, "", func(path string, mod nn.Module) {
		if p, ok := mod.(nn.Parent); ok && len(p.Children()) > 0 {
			return
		}
		if len(conds) == 0 || anyCond(mod, conds) {
			out = append(out, Layer{Path: path, Module: mod})
		}
	})
	return out
}

func anyCond(m nn.Module, conds []Cond) bool {
	for _, c := range conds {
		if c(m) {
			return true
		}
	}
	return false
}

func IsLinear(m nn.Module) bool {
	_, ok := m.(*nn.Linear)
	return ok
}

func IsBatchNorm(m nn.Module) bool {
	_, ok := m.(*nn.BatchNorm)
	return ok
}

func IsConv(m nn.Module) bool {
	_, ok := m.(*nn.Conv2d)
	return ok
}

func IsConvLinear(m nn.Module) bool { return IsConv(m) || IsLinear(m) }

func HasWeight(m nn.Module) bool { return ownEntry(m, "weight") != nil }

func HasBias(m nn.Module) bool { return ownEntry(m, "bias") != nil }

// IsAffine reports whether m has a weight or a bias.
func IsAffine(m nn.Module) bool { return HasWeight(m) || HasBias(m) }

func ownEntry(m nn.Module, name string) *nn.Entry {
	s, ok := m.(nn.Stateful)
	if !ok {
		return nil
	}
	for _, e := range s.State() {
		if e.Name == name && e.Tensor != nil {
			return &e
		}
	}
	return nil
}

// CountParameters counts the scalars held by m. With trainableOnly set,
// buffers such as running statistics and positional tables are excluded.
func CountParameters(m nn.Module, trainableOnly bool) int {
	n := 0
	for _, e := range nn.StateDict(m) {
		if trainableOnly && !e.Trainable {
			continue
		}
		n += e.Tensor.Len()
	}
	return n
}

// LayerStats summarises one tensor of one layer.
type LayerStats struct {
	Path string
	Type string
	Mean float64
	Std  float64
}

// WeightStats returns the mean and standard deviation of every leaf weight.
func WeightStats(m nn.Module) []LayerStats { return entryStats(m, "weight") }

// BiasStats returns the mean and standard deviation of every leaf bias.
func BiasStats(m nn.Module) []LayerStats { return entryStats(m, "bias") }

func entryStats(m nn.Module, name string) []LayerStats {
	var out []LayerStats
	for _, l := range Layers(m) {
		e := ownEntry(l.Module, name)
		if e == nil {
			continue
		}
		xs := make([]float64, e.Tensor.Len())
		for i, v := range e.Tensor.Data() {
			xs[i] = float64(v)
		}
		mean, std := stat.MeanStdDev(xs, nil)
		out = append(out, LayerStats{Path: l.Path, Type: nn.TypeName(l.Module), Mean: mean, Std: std})
	}
	return out
}

// HeadNF returns the input width of the first Linear in the model's head.
func HeadNF(m *model.Model) (int, error) {
	linears := Layers(m.Head(), IsLinear)
	if len(linears) == 0 {
		return 0, fmt.Errorf("head has no linear layer")
	}
	return linears[0].Module.(*nn.Linear).In, nil
}

// Split returns the two parameter groups of m: backbone and head.
func Split(m *model.Model) (backbone, head nn.Module) {
	return m.Backbone(), m.Head()
}
