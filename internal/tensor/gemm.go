package tensor

import (
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// MatMul multiplies the trailing two axes of a (..., m, k) and b (..., k, n).
// The leading batch axes of a and b must be equal, or b must be a plain
// matrix shared by every batch entry of a.
func MatMul(a, b *Tensor) *Tensor {
	if a.NDim() < 2 || b.NDim() < 2 {
		panic(fmt.Sprintf("tensor: matmul needs rank >= 2, got %v and %v", a.shape, b.shape))
	}
	m, k := a.Dim(-2), a.Dim(-1)
	kb, n := b.Dim(-2), b.Dim(-1)
	if k != kb {
		panic(fmt.Sprintf("tensor: matmul inner dimensions differ: %v x %v", a.shape, b.shape))
	}
	batch := a.shape[:a.NDim()-2]
	shared := b.NDim() == 2
	if !shared && !slices.Equal(batch, b.shape[:b.NDim()-2]) {
		panic(fmt.Sprintf("tensor: matmul batch dimensions differ: %v x %v", a.shape, b.shape))
	}

	out := New(append(slices.Clone(batch), m, n)...)
	if m == 0 || n == 0 || k == 0 {
		return out
	}
	aSize, bSize, cSize := m*k, k*n, m*n
	parallelFor(numel(batch), func(i int) {
		bOff := 0
		if !shared {
			bOff = i * bSize
		}
		gemm(false, m, n, k,
			a.data[i*aSize:(i+1)*aSize],
			b.data[bOff:bOff+bSize],
			out.data[i*cSize:(i+1)*cSize])
	})
	return out
}

// Linear computes x·wᵀ + bias over the last axis of x. w has shape
// (out, in); bias may be nil.
func Linear(x, w, bias *Tensor) *Tensor {
	if w.NDim() != 2 {
		panic(fmt.Sprintf("tensor: linear weight must be 2-D, got %v", w.shape))
	}
	outF, inF := w.shape[0], w.shape[1]
	if x.Dim(-1) != inF {
		panic(fmt.Sprintf("tensor: linear input %v does not match weight %v", x.shape, w.shape))
	}
	if bias != nil && bias.Len() != outF {
		panic(fmt.Sprintf("tensor: linear bias %v does not match weight %v", bias.shape, w.shape))
	}
	shape := slices.Clone(x.shape)
	shape[len(shape)-1] = outF
	out := New(shape...)
	rows := numel(x.shape[:x.NDim()-1])
	if rows == 0 || outF == 0 {
		return out
	}
	if inF > 0 {
		gemm(true, rows, outF, inF, x.data, w.data, out.data)
	}
	if bias != nil {
		for r := range rows {
			Add1D(out.data[r*outF:(r+1)*outF], bias.data)
		}
	}
	return out
}

// Add1D adds src to dst element-wise.
func Add1D(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// gemm computes c = a·b (or a·bᵀ when transB is set) for row-major
// operands: a is m×k, b is k×n (n×k when transposed), c is m×n.
func gemm(transB bool, m, n, k int, a, b, c []float32) {
	A := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	B := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	tB := blas.NoTrans
	if transB {
		B = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
		tB = blas.Trans
	}
	C := blas32.General{Rows: m, Cols: n, Stride: n, Data: c}
	blas32.Gemm(blas.NoTrans, tB, 1, A, B, 0, C)
}

// parallelFor runs fn(0..count-1) across at most GOMAXPROCS goroutines.
func parallelFor(count int, fn func(i int)) {
	if count < 2 {
		for i := range count {
			fn(i)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(max(runtime.GOMAXPROCS(0), 1))
	for i := range count {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
