package tensor

import (
	"math"
	"sync/atomic"
	"testing"
)

func gemmNaive(transB bool, m, n, k int, a, b []float32) []float32 {
	c := make([]float32, m*n)
	for i := range m {
		for j := range n {
			var sum float32
			for kk := range k {
				bv := b[kk*n+j]
				if transB {
					bv = b[j*k+kk]
				}
				sum += a[i*k+kk] * bv
			}
			c[i*n+j] = sum
		}
	}
	return c
}

func maxAbsDiff(a, b []float32) float64 {
	var maxAbs float64
	for i := range a {
		d := math.Abs(float64(a[i] - b[i]))
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

func TestGemmMatchesNaive(t *testing.T) {
	t.Parallel()

	for _, transB := range []bool{false, true} {
		const m, n, k = 50, 45, 70
		a := Rand(1, m, k)
		b := Rand(2, k, n)
		if transB {
			b = Rand(2, n, k)
		}
		want := gemmNaive(transB, m, n, k, a.Data(), b.Data())
		got := make([]float32, m*n)
		gemm(transB, m, n, k, a.Data(), b.Data(), got)
		if maxAbs := maxAbsDiff(want, got); maxAbs > 1e-3 {
			t.Fatalf("transB=%v: max abs diff %g", transB, maxAbs)
		}
	}
}

func TestMatMulBatchedMatchesNaive(t *testing.T) {
	t.Parallel()

	a := Rand(3, 3, 4, 17, 9)
	b := Rand(4, 3, 4, 9, 5)
	out := MatMul(a, b)
	for i := range 12 {
		want := gemmNaive(false, 17, 5, 9, a.Data()[i*17*9:(i+1)*17*9], b.Data()[i*9*5:(i+1)*9*5])
		got := out.Data()[i*17*5 : (i+1)*17*5]
		if maxAbs := maxAbsDiff(want, got); maxAbs > 1e-4 {
			t.Fatalf("batch %d: max abs diff %g", i, maxAbs)
		}
	}
}

func TestParallelForVisitsEachIndexOnce(t *testing.T) {
	t.Parallel()

	for _, count := range []int{0, 1, 2, 100} {
		hits := make([]atomic.Int32, count)
		parallelFor(count, func(i int) { hits[i].Add(1) })
		for i := range hits {
			if got := hits[i].Load(); got != 1 {
				t.Fatalf("count=%d: index %d visited %d times", count, i, got)
			}
		}
	}
}
