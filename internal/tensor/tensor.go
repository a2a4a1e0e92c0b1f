package tensor

import (
	"fmt"
	"slices"
)

// Tensor is a dense row-major N-dimensional array of float32 values.
//
// Data is always contiguous, so element (i0, ..., in) lives at the offset
// derived from Shape alone. Reshape returns a view that shares the backing
// slice; every other operation in this package allocates its result and
// leaves its inputs untouched.
//
// Shape violations panic, in the same way out-of-range slice indexing does.
// Callers that accept external input are expected to validate shapes first.
type Tensor struct {
	shape []int
	data  []float32
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		shape: slices.Clone(shape),
		data:  make([]float32, numel(shape)),
	}
}

// FromData wraps data as a tensor. The slice is not copied.
func FromData(data []float32, shape ...int) *Tensor {
	if n := numel(shape); n != len(data) {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v (%d elements)", len(data), shape, n))
	}
	return &Tensor{shape: slices.Clone(shape), data: data}
}

// Full allocates a tensor with every element set to v.
func Full(v float32, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Ones allocates a tensor filled with 1.
func Ones(shape ...int) *Tensor {
	return Full(1, shape...)
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Data returns the backing slice. Writes through it modify the tensor.
func (t *Tensor) Data() []float32 { return t.data }

// NDim returns the number of dimensions.
func (t *Tensor) NDim() int { return len(t.shape) }

// Len returns the total number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Dim returns the size of one axis. Negative axes count from the end.
func (t *Tensor) Dim(axis int) int { return t.shape[t.axis(axis)] }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// SameShape reports whether both tensors have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.shape, o.shape)
}

// CopyFrom overwrites t's elements with src's. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) {
	if !t.SameShape(src) {
		panic(fmt.Sprintf("tensor: copy from %v into %v", src.shape, t.shape))
	}
	copy(t.data, src.data)
}

// At returns the element at the given index.
func (t *Tensor) At(idx ...int) float32 { return t.data[t.offset(idx)] }

// Set writes v at the given index.
func (t *Tensor) Set(v float32, idx ...int) { t.data[t.offset(idx)] = v }

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

func (t *Tensor) axis(a int) int {
	n := len(t.shape)
	if a < 0 {
		a += n
	}
	if a < 0 || a >= n {
		panic(fmt.Sprintf("tensor: axis %d out of range for shape %v", a, t.shape))
	}
	return a
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index %v has wrong rank for shape %v", idx, t.shape))
	}
	off := 0
	for k, i := range idx {
		if i < 0 || i >= t.shape[k] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[k] + i
	}
	return off
}

// Reshape returns a view with a new shape over the same data. At most one
// dimension may be -1, in which case it is inferred.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for k, d := range shape {
		switch {
		case d == -1:
			if infer >= 0 {
				panic("tensor: reshape with more than one inferred dimension")
			}
			infer = k
		case d < 0:
			panic(fmt.Sprintf("tensor: invalid reshape target %v", shape))
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			panic(fmt.Sprintf("tensor: cannot reshape %v into %v", t.shape, shape))
		}
		shape[infer] = len(t.data) / known
	} else if known != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape %v into %v", t.shape, shape))
	}
	return &Tensor{shape: shape, data: t.data}
}

// Unsqueeze inserts a dimension of size one at axis.
func (t *Tensor) Unsqueeze(axis int) *Tensor {
	n := len(t.shape)
	if axis < 0 {
		axis += n + 1
	}
	if axis < 0 || axis > n {
		panic(fmt.Sprintf("tensor: unsqueeze axis %d out of range for shape %v", axis, t.shape))
	}
	shape := make([]int, 0, n+1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[axis:]...)
	return &Tensor{shape: shape, data: t.data}
}

// Squeeze removes a dimension of size one.
func (t *Tensor) Squeeze(axis int) *Tensor {
	axis = t.axis(axis)
	if t.shape[axis] != 1 {
		panic(fmt.Sprintf("tensor: squeeze axis %d of shape %v is not 1", axis, t.shape))
	}
	shape := slices.Delete(slices.Clone(t.shape), axis, axis+1)
	return &Tensor{shape: shape, data: t.data}
}

// Permute reorders the axes, materialising the result.
func (t *Tensor) Permute(axes ...int) *Tensor {
	nd := len(t.shape)
	if len(axes) != nd {
		panic(fmt.Sprintf("tensor: permute %v does not match rank of %v", axes, t.shape))
	}
	in := strides(t.shape)
	seen := make([]bool, nd)
	outShape := make([]int, nd)
	step := make([]int, nd)
	for k, a := range axes {
		a = t.axis(a)
		if seen[a] {
			panic(fmt.Sprintf("tensor: repeated axis in permute %v", axes))
		}
		seen[a] = true
		outShape[k] = t.shape[a]
		step[k] = in[a]
	}

	out := New(outShape...)
	idx := make([]int, nd)
	src := 0
	for i := range out.data {
		out.data[i] = t.data[src]
		for k := nd - 1; k >= 0; k-- {
			idx[k]++
			src += step[k]
			if idx[k] < outShape[k] {
				break
			}
			src -= step[k] * outShape[k]
			idx[k] = 0
		}
	}
	return out
}

// Transpose swaps two axes.
func (t *Tensor) Transpose(a, b int) *Tensor {
	a, b = t.axis(a), t.axis(b)
	axes := make([]int, len(t.shape))
	for i := range axes {
		axes[i] = i
	}
	axes[a], axes[b] = axes[b], axes[a]
	return t.Permute(axes...)
}

// Narrow returns a copy of length entries along axis starting at start.
func (t *Tensor) Narrow(axis, start, length int) *Tensor {
	axis = t.axis(axis)
	dim := t.shape[axis]
	if start < 0 || length < 0 || start+length > dim {
		panic(fmt.Sprintf("tensor: narrow [%d:%d] out of range for axis %d of %v", start, start+length, axis, t.shape))
	}
	outer, inner := splitAt(t.shape, axis)
	shape := slices.Clone(t.shape)
	shape[axis] = length
	out := New(shape...)
	block := length * inner
	for o := range outer {
		src := (o*dim + start) * inner
		copy(out.data[o*block:(o+1)*block], t.data[src:src+block])
	}
	return out
}

// Flip reverses the order of entries along axis.
func (t *Tensor) Flip(axis int) *Tensor {
	axis = t.axis(axis)
	dim := t.shape[axis]
	outer, inner := splitAt(t.shape, axis)
	out := New(t.shape...)
	for o := range outer {
		base := o * dim * inner
		for j := range dim {
			src := base + j*inner
			dst := base + (dim-1-j)*inner
			copy(out.data[dst:dst+inner], t.data[src:src+inner])
		}
	}
	return out
}

// Pad pads the last axis with left and right copies of value.
func (t *Tensor) Pad(left, right int, value float32) *Tensor {
	if left < 0 || right < 0 {
		panic("tensor: negative padding")
	}
	if len(t.shape) == 0 {
		panic("tensor: cannot pad a scalar")
	}
	last := t.shape[len(t.shape)-1]
	shape := slices.Clone(t.shape)
	width := last + left + right
	shape[len(shape)-1] = width
	out := New(shape...)
	rows := 0
	if last > 0 {
		rows = len(t.data) / last
	} else {
		rows = numel(t.shape[:len(t.shape)-1])
	}
	for r := range rows {
		row := out.data[r*width : (r+1)*width]
		for i := range left {
			row[i] = value
		}
		copy(row[left:left+last], t.data[r*last:(r+1)*last])
		for i := left + last; i < width; i++ {
			row[i] = value
		}
	}
	return out
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
		n *= d
	}
	return n
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for k := len(shape) - 1; k >= 0; k-- {
		s[k] = acc
		acc *= shape[k]
	}
	return s
}

// splitAt returns the element counts before and after axis.
func splitAt(shape []int, axis int) (outer, inner int) {
	return numel(shape[:axis]), numel(shape[axis+1:])
}
