package tensor

import "fmt"

// Padding is the number of implicit zeros added on each side of the two
// spatial axes of a 2-D convolution.
type Padding struct {
	Top, Bottom, Left, Right int
}

// SamePadding returns the padding that keeps the spatial size unchanged for
// a stride-one convolution. Odd totals put the extra zero at the end.
func SamePadding(kh, kw int) Padding {
	th, tw := kh-1, kw-1
	return Padding{Top: th / 2, Bottom: th - th/2, Left: tw / 2, Right: tw - tw/2}
}

// Conv2D computes a stride-one 2-D cross-correlation.
//
// x is (N, C, H, W), w is (O, C, KH, KW) and bias (O) may be nil. The
// result is (N, O, H', W') with H' = H + Top + Bottom - KH + 1 and W'
// likewise. Each batch entry is lowered with im2col and multiplied through
// gemm.
func Conv2D(x, w, bias *Tensor, pad Padding) *Tensor {
	if x.NDim() != 4 || w.NDim() != 4 {
		panic(fmt.Sprintf("tensor: conv2d expects 4-D input and weight, got %v and %v", x.shape, w.shape))
	}
	n, c, h, wd := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	o, wc, kh, kw := w.shape[0], w.shape[1], w.shape[2], w.shape[3]
	if c != wc {
		panic(fmt.Sprintf("tensor: conv2d input channels %d do not match weight %v", c, w.shape))
	}
	if bias != nil && bias.Len() != o {
		panic(fmt.Sprintf("tensor: conv2d bias %v does not match %d output channels", bias.shape, o))
	}
	oh := h + pad.Top + pad.Bottom - kh + 1
	ow := wd + pad.Left + pad.Right - kw + 1
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("tensor: conv2d kernel %dx%d larger than padded input %v", kh, kw, x.shape))
	}

	out := New(n, o, oh, ow)
	ckk := c * kh * kw
	spatial := oh * ow
	inSize := c * h * wd
	outSize := o * spatial
	parallelFor(n, func(b int) {
		src := x.data[b*inSize : (b+1)*inSize]
		cols := make([]float32, ckk*spatial)
		for ch := range c {
			plane := src[ch*h*wd : (ch+1)*h*wd]
			for i := range kh {
				for j := range kw {
					row := cols[((ch*kh+i)*kw+j)*spatial:]
					for y := range oh {
						iy := y + i - pad.Top
						if iy < 0 || iy >= h {
							continue
						}
						for xx := range ow {
							ix := xx + j - pad.Left
							if ix < 0 || ix >= wd {
								continue
							}
							row[y*ow+xx] = plane[iy*wd+ix]
						}
					}
				}
			}
		}
		dst := out.data[b*outSize : (b+1)*outSize]
		gemm(false, o, spatial, ckk, w.data, cols, dst)
		if bias != nil {
			for oc := range o {
				bv := bias.data[oc]
				plane := dst[oc*spatial : (oc+1)*spatial]
				for i := range plane {
					plane[i] += bv
				}
			}
		}
	})
	return out
}
