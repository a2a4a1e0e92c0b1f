// Package nn holds the building blocks ConvTran models are assembled from.
//
// A Module is anything with a Forward pass. Modules that own tensors expose
// them through State, and containers expose their sub-modules through
// Children; together these give every tensor a dotted path such as
// "backbone.attention_layer.query.weight", which is the key used in
// checkpoints.
package nn

import (
	"fmt"
	"reflect"

	"github.com/samcharles93/convtran/internal/tensor"
)

// Module transforms one tensor into another.
type Module interface {
	Forward(x *tensor.Tensor) *tensor.Tensor
}

// Entry is a tensor owned by a module. Trainable entries are parameters
// (written only by an optimizer or a weight transfer); the rest are buffers.
type Entry struct {
	Name      string
	Tensor    *tensor.Tensor
	Trainable bool
}

// Child is a named sub-module.
type Child struct {
	Name   string
	Module Module
}

// Stateful is implemented by modules that own tensors.
type Stateful interface {
	State() []Entry
}

// Parent is implemented by modules that contain other modules.
type Parent interface {
	Children() []Child
}

// Trainer is implemented by modules whose behaviour differs between
// training and evaluation (dropout, batch statistics).
type Trainer interface {
	SetTraining(training bool)
	Training() bool
}

// Walk visits m and all of its descendants in registration order. The root
// is visited with the given prefix as its path.
func Walk(m Module, prefix string, fn func(path string, m Module)) {
	if m == nil {
		return
	}
	fn(prefix, m)
	p, ok := m.(Parent)
	if !ok {
		return
	}
	for _, c := range p.Children() {
		Walk(c.Module, join(prefix, c.Name), fn)
	}
}

// StateDict returns every tensor reachable from m keyed by its dotted path,
// in registration order.
func StateDict(m Module) []Entry {
	var out []Entry
	Walk(m, "", func(path string, m Module) {
		s, ok := m.(Stateful)
		if !ok {
			return
		}
		for _, e := range s.State() {
			e.Name = join(path, e.Name)
			out = append(out, e)
		}
	})
	return out
}

// Parameters returns the trainable subset of StateDict.
func Parameters(m Module) []Entry {
	var out []Entry
	for _, e := range StateDict(m) {
		if e.Trainable {
			out = append(out, e)
		}
	}
	return out
}

// SetTraining switches every module reachable from m into training or
// evaluation mode.
func SetTraining(m Module, training bool) {
	Walk(m, "", func(_ string, m Module) {
		if t, ok := m.(Trainer); ok {
			t.SetTraining(training)
		}
	})
}

// Training reports whether any module reachable from m is in training
// mode.
func Training(m Module) bool {
	training := false
	Walk(m, "", func(_ string, m Module) {
		if t, ok := m.(Trainer); ok && t.Training() {
			training = true
		}
	})
	return training
}

// ProbeShape runs m on a random input of the given shape and returns the
// output shape. Shape errors raised inside the forward pass are returned
// instead of panicking.
func ProbeShape(m Module, shape ...int) (out []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe %v: %v", shape, r)
		}
	}()
	return m.Forward(tensor.Rand(0, shape...)).Shape(), nil
}

// TypeName returns the bare type name of a module, e.g. "Linear".
func TypeName(m Module) string {
	t := reflect.TypeOf(m)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "." + name
}
