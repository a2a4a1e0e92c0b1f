package tensor

import (
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-5)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestReshapeSharesData(t *testing.T) {
	t.Parallel()
	x := FromData(seq(6), 2, 3)
	v := x.Reshape(3, -1)
	if got := v.Shape(); !slices.Equal(got, []int{3, 2}) {
		t.Fatalf("shape: got %v", got)
	}
	v.Data()[0] = 42
	if x.At(0, 0) != 42 {
		t.Fatal("reshape should share backing data")
	}
}

func TestReshapeRejectsBadSize(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(2, 3).Reshape(4, -1)
}

func TestPermute(t *testing.T) {
	t.Parallel()
	x := FromData(seq(24), 2, 3, 4)
	p := x.Permute(2, 0, 1)
	if got := p.Shape(); !slices.Equal(got, []int{4, 2, 3}) {
		t.Fatalf("shape: got %v", got)
	}
	for i := range 2 {
		for j := range 3 {
			for k := range 4 {
				if p.At(k, i, j) != x.At(i, j, k) {
					t.Fatalf("p[%d,%d,%d]=%v want %v", k, i, j, p.At(k, i, j), x.At(i, j, k))
				}
			}
		}
	}
}

func TestTransposeIsInvolution(t *testing.T) {
	t.Parallel()
	x := FromData(seq(12), 3, 4)
	back := x.Transpose(0, 1).Transpose(0, 1)
	if diff := cmp.Diff(x.Data(), back.Data()); diff != "" {
		t.Fatalf("transpose twice changed data (-want +got):\n%s", diff)
	}
}

func TestSqueezeUnsqueeze(t *testing.T) {
	t.Parallel()
	x := New(2, 3)
	u := x.Unsqueeze(1)
	if got := u.Shape(); !slices.Equal(got, []int{2, 1, 3}) {
		t.Fatalf("unsqueeze: got %v", got)
	}
	if got := u.Unsqueeze(-1).Shape(); !slices.Equal(got, []int{2, 1, 3, 1}) {
		t.Fatalf("unsqueeze(-1): got %v", got)
	}
	if got := u.Squeeze(1).Shape(); !slices.Equal(got, []int{2, 3}) {
		t.Fatalf("squeeze: got %v", got)
	}
}

func TestNarrowFlipPad(t *testing.T) {
	t.Parallel()
	x := FromData(seq(6), 2, 3)

	n := x.Narrow(1, 1, 2)
	if diff := cmp.Diff([]float32{1, 2, 4, 5}, n.Data()); diff != "" {
		t.Fatalf("narrow (-want +got):\n%s", diff)
	}
	r := x.Narrow(0, 1, 1)
	if diff := cmp.Diff([]float32{3, 4, 5}, r.Data()); diff != "" {
		t.Fatalf("narrow rows (-want +got):\n%s", diff)
	}

	f := x.Flip(-1)
	if diff := cmp.Diff([]float32{2, 1, 0, 5, 4, 3}, f.Data()); diff != "" {
		t.Fatalf("flip (-want +got):\n%s", diff)
	}

	p := x.Pad(1, 2, -1)
	want := []float32{-1, 0, 1, 2, -1, -1, -1, 3, 4, 5, -1, -1}
	if diff := cmp.Diff(want, p.Data()); diff != "" {
		t.Fatalf("pad (-want +got):\n%s", diff)
	}
}

func TestAddBroadcast(t *testing.T) {
	t.Parallel()
	a := FromData(seq(6), 2, 3)
	b := FromData([]float32{10, 20, 30}, 3)
	got := Add(a, b)
	want := []float32{10, 21, 32, 13, 24, 35}
	if diff := cmp.Diff(want, got.Data()); diff != "" {
		t.Fatalf("row broadcast (-want +got):\n%s", diff)
	}

	col := FromData([]float32{100, 200}, 2, 1)
	got = Add(a, col)
	want = []float32{100, 101, 102, 203, 204, 205}
	if diff := cmp.Diff(want, got.Data()); diff != "" {
		t.Fatalf("column broadcast (-want +got):\n%s", diff)
	}
	if s := Add(col, b).Shape(); !slices.Equal(s, []int{2, 3}) {
		t.Fatalf("outer broadcast shape: %v", s)
	}
}

func TestAddIncompatibleShapesPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Add(New(2, 3), New(2, 4))
}

func TestSoftmaxRows(t *testing.T) {
	t.Parallel()
	x := FromData([]float32{1, 2, 3, 1000, 1000, 1000}, 2, 3)
	s := Softmax(x)
	for r := range 2 {
		var sum float32
		for c := range 3 {
			sum += s.At(r, c)
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Fatalf("row %d sums to %v", r, sum)
		}
	}
	if math.Abs(float64(s.At(1, 0)-1.0/3)) > 1e-6 {
		t.Fatalf("large equal logits should be uniform, got %v", s.At(1, 0))
	}
	if !(s.At(0, 2) > s.At(0, 1) && s.At(0, 1) > s.At(0, 0)) {
		t.Fatalf("softmax should preserve order: %v", s.Data()[:3])
	}
}

func TestLayerNorm(t *testing.T) {
	t.Parallel()
	x := FromData([]float32{1, 2, 3, 4, -1, -1, -1, -1}, 2, 4)
	w := FromData([]float32{2, 2, 2, 2}, 4)
	b := FromData([]float32{1, 1, 1, 1}, 4)
	y := LayerNorm(x, w, b, 1e-5)

	var mean float64
	for c := range 4 {
		mean += float64(y.At(0, c))
	}
	mean /= 4
	if math.Abs(mean-1) > 1e-5 {
		t.Fatalf("mean after affine should equal bias, got %v", mean)
	}
	for c := range 4 {
		if y.At(1, c) != 1 {
			t.Fatalf("constant row should map to bias, got %v", y.At(1, c))
		}
	}
}

func TestMeanAxis(t *testing.T) {
	t.Parallel()
	x := FromData(seq(6), 2, 3)
	m := MeanAxis(x, -1, true)
	if s := m.Shape(); !slices.Equal(s, []int{2, 1}) {
		t.Fatalf("shape: %v", s)
	}
	if diff := cmp.Diff([]float32{1, 4}, m.Data(), approx); diff != "" {
		t.Fatalf("mean (-want +got):\n%s", diff)
	}
	m0 := MeanAxis(x, 0, false)
	if diff := cmp.Diff([]float32{1.5, 2.5, 3.5}, m0.Data(), approx); diff != "" {
		t.Fatalf("mean axis 0 (-want +got):\n%s", diff)
	}
}

func naiveMatMul(a, b []float32, m, k, n int) []float32 {
	out := make([]float32, m*n)
	for i := range m {
		for j := range n {
			var s float32
			for p := range k {
				s += a[i*k+p] * b[p*n+j]
			}
			out[i*n+j] = s
		}
	}
	return out
}

func TestMatMulBatched(t *testing.T) {
	t.Parallel()
	a := Rand(1, 3, 2, 4, 5)
	b := Rand(2, 3, 2, 5, 6)
	c := MatMul(a, b)
	if s := c.Shape(); !slices.Equal(s, []int{3, 2, 4, 6}) {
		t.Fatalf("shape: %v", s)
	}
	for i := range 6 {
		want := naiveMatMul(a.Data()[i*20:(i+1)*20], b.Data()[i*30:(i+1)*30], 4, 5, 6)
		if diff := cmp.Diff(want, c.Data()[i*24:(i+1)*24], approx); diff != "" {
			t.Fatalf("batch %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestMatMulSharedRHS(t *testing.T) {
	t.Parallel()
	a := Rand(3, 2, 3, 4)
	b := Rand(4, 4, 2)
	c := MatMul(a, b)
	for i := range 2 {
		want := naiveMatMul(a.Data()[i*12:(i+1)*12], b.Data(), 3, 4, 2)
		if diff := cmp.Diff(want, c.Data()[i*6:(i+1)*6], approx); diff != "" {
			t.Fatalf("batch %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestLinearMatchesMatMul(t *testing.T) {
	t.Parallel()
	x := Rand(5, 2, 3, 4)
	w := Rand(6, 5, 4)
	b := Rand(7, 5)
	y := Linear(x, w, b)
	ref := Add(MatMul(x, w.Transpose(0, 1)), b)
	if diff := cmp.Diff(ref.Data(), y.Data(), approx); diff != "" {
		t.Fatalf("linear (-want +got):\n%s", diff)
	}
}

func TestConv2DMatchesNaive(t *testing.T) {
	t.Parallel()
	const (
		n, c, h, w = 2, 3, 4, 9
		o, kh, kw  = 5, 1, 7
	)
	x := Rand(8, n, c, h, w)
	k := Rand(9, o, c, kh, kw)
	bias := Rand(10, o)
	pad := SamePadding(kh, kw)
	y := Conv2D(x, k, bias, pad)
	if s := y.Shape(); !slices.Equal(s, []int{n, o, h, w}) {
		t.Fatalf("same padding should keep spatial size, got %v", s)
	}
	for b := range n {
		for oc := range o {
			for yy := range h {
				for xx := range w {
					want := bias.At(oc)
					for ic := range c {
						for i := range kh {
							for j := range kw {
								iy, ix := yy+i-pad.Top, xx+j-pad.Left
								if iy < 0 || iy >= h || ix < 0 || ix >= w {
									continue
								}
								want += x.At(b, ic, iy, ix) * k.At(oc, ic, i, j)
							}
						}
					}
					if got := y.At(b, oc, yy, xx); math.Abs(float64(got-want)) > 1e-4 {
						t.Fatalf("y[%d,%d,%d,%d]=%v want %v", b, oc, yy, xx, got, want)
					}
				}
			}
		}
	}
}

func TestConv2DValidCollapsesRows(t *testing.T) {
	t.Parallel()
	x := Rand(11, 1, 4, 3, 10)
	k := Rand(12, 2, 4, 3, 1)
	y := Conv2D(x, k, nil, Padding{})
	if s := y.Shape(); !slices.Equal(s, []int{1, 2, 1, 10}) {
		t.Fatalf("shape: %v", s)
	}
}

func TestGELUAndReLU(t *testing.T) {
	t.Parallel()
	x := FromData([]float32{-3, 0, 1}, 3)
	g := GELU(x)
	want := []float32{-0.0040496, 0, 0.8413447}
	if diff := cmp.Diff(want, g.Data(), cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Fatalf("gelu (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{0, 0, 1}, ReLU(x).Data()); diff != "" {
		t.Fatalf("relu (-want +got):\n%s", diff)
	}
}

func TestRandIsDeterministic(t *testing.T) {
	t.Parallel()
	a := Rand(99, 4, 4)
	b := Rand(99, 4, 4)
	if diff := cmp.Diff(a.Data(), b.Data()); diff != "" {
		t.Fatalf("same seed should give same values (-a +b):\n%s", diff)
	}
}

func BenchmarkMatMulAttentionShape(b *testing.B) {
	q := Rand(1, 8, 8, 128, 16)
	k := Rand(2, 8, 8, 16, 128)
	b.ResetTimer()
	for range b.N {
		_ = MatMul(q, k)
	}
}
