package safetensors

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"slices"
	"testing"
)

func TestWriteFileRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	in := []Tensor{
		{Name: "backbone.LayerNorm.weight", Shape: []int{4}, Data: []float32{1, -2, 3.5, 0}},
		{Name: "head.2.weight", Shape: []int{2, 3}, Data: []float32{0.1, 0.2, 0.3, -0.4, -0.5, -0.6}},
		{Name: "scalar", Shape: nil, Data: []float32{7}},
	}
	meta := map[string]string{"format": "pt", "c_in": "3"}
	if err := WriteFile(path, in, DTypeF32, meta); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.DataStart%8 != 0 {
		t.Fatalf("data start %d is not 8-byte aligned", f.DataStart)
	}
	if f.Metadata["c_in"] != "3" || f.Metadata["format"] != "pt" {
		t.Fatalf("metadata: %v", f.Metadata)
	}
	for _, want := range in {
		got, info, err := f.ReadTensorF32(want.Name)
		if err != nil {
			t.Fatalf("%s: %v", want.Name, err)
		}
		if !slices.Equal(got, want.Data) {
			t.Fatalf("%s: got %v want %v", want.Name, got, want.Data)
		}
		if len(info.Shape) != len(want.Shape) {
			t.Fatalf("%s: shape %v want %v", want.Name, info.Shape, want.Shape)
		}
	}
}

func TestEncodeHalfPrecision(t *testing.T) {
	t.Parallel()
	values := []float32{1, -2, 0.5, 3.14159, 65504}
	for _, dtype := range []string{DTypeF16, DTypeBF16} {
		path := filepath.Join(t.TempDir(), dtype+".safetensors")
		err := WriteFile(path, []Tensor{{Name: "x", Shape: []int{len(values)}, Data: values}}, dtype, nil)
		if err != nil {
			t.Fatalf("%s: %v", dtype, err)
		}
		f, err := Open(path)
		if err != nil {
			t.Fatalf("%s: %v", dtype, err)
		}
		got, info, err := f.ReadTensorF32("x")
		if err != nil {
			t.Fatalf("%s: %v", dtype, err)
		}
		if info.DType != dtype {
			t.Fatalf("dtype %q want %q", info.DType, dtype)
		}
		for i, v := range values {
			if rel := math.Abs(float64(got[i]-v)) / math.Abs(float64(v)); rel > 1e-2 {
				t.Errorf("%s[%d]: got %v want %v", dtype, i, got[i], v)
			}
		}
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		tensors []Tensor
		dtype   string
	}{
		{"shape mismatch", []Tensor{{Name: "a", Shape: []int{3}, Data: []float32{1, 2}}}, DTypeF32},
		{"duplicate", []Tensor{{Name: "a", Shape: []int{1}, Data: []float32{1}}, {Name: "a", Shape: []int{1}, Data: []float32{1}}}, DTypeF32},
		{"dtype", []Tensor{{Name: "a", Shape: []int{1}, Data: []float32{1}}}, DTypeI64},
		{"metadata clash", []Tensor{{Name: metadataKey, Shape: []int{1}, Data: []float32{1}}}, DTypeF32},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		meta := map[string]string{"k": "v"}
		if err := Encode(&buf, tc.tensors, tc.dtype, meta); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := Encode(&buf, []Tensor{
		{Name: "a", Shape: []int{2}, Data: []float32{1, 2}},
		{Name: "b", Shape: []int{1}, Data: []float32{3}},
	}, DTypeF32, nil)
	if err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	headerLen := binary.LittleEndian.Uint64(raw[:8])
	if headerLen%8 != 0 {
		t.Fatalf("header length %d not padded", headerLen)
	}
	data := raw[8+headerLen:]
	if len(data) != 12 {
		t.Fatalf("data section is %d bytes, want 12", len(data))
	}
	if v := math.Float32frombits(binary.LittleEndian.Uint32(data[8:])); v != 3 {
		t.Fatalf("b stored after a: got %v", v)
	}
}

func TestF32ToBF16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want uint16
	}{
		{1, 0x3F80},
		{2, 0x4000},
		{-1, 0xBF80},
		{0, 0x0000},
		{3, 0x4040},
	}
	for _, tc := range tests {
		if got := f32ToBF16(tc.in); got != tc.want {
			t.Errorf("f32ToBF16(%v) = 0x%04X want 0x%04X", tc.in, got, tc.want)
		}
		if back := bf16ToF32(tc.want); back != tc.in {
			t.Errorf("bf16ToF32(0x%04X) = %v", tc.want, back)
		}
	}
}
