package safetensors

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/x448/float16"
)

const (
	DTypeF32  = "F32"
	DTypeF16  = "F16"
	DTypeBF16 = "BF16"
	DTypeF64  = "F64"
	DTypeI64  = "I64"
)

func dtypeSize(dtype string) (int, bool) {
	switch dtype {
	case DTypeF32:
		return 4, true
	case DTypeF16, DTypeBF16:
		return 2, true
	case DTypeF64, DTypeI64:
		return 8, true
	}
	return 0, false
}

// Tensor is a named float tensor to be written.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// Encode writes tensors to w in the order given, stored as dtype (F32, F16
// or BF16).
func Encode(w io.Writer, tensors []Tensor, dtype string, metadata map[string]string) error {
	size, ok := dtypeSize(dtype)
	if !ok || dtype == DTypeF64 || dtype == DTypeI64 {
		return fmt.Errorf("unsupported output dtype %s", dtype)
	}

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, t := range tensors {
		n, err := numElements(t.Shape)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", t.Name, err)
		}
		if n != len(t.Data) {
			return fmt.Errorf("tensor %s: shape %v does not match %d values", t.Name, t.Shape, len(t.Data))
		}
		if _, dup := header[t.Name]; dup {
			return fmt.Errorf("duplicate tensor %s", t.Name)
		}
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		end := offset + int64(n*size)
		header[t.Name] = tensorHeader{DType: dtype, Shape: shape, DataOffsets: []int64{offset, end}}
		offset = end
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if pad := len(headerBytes) % 8; pad != 0 {
		headerBytes = append(headerBytes, bytes.Repeat([]byte{' '}, 8-pad)...)
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	for _, t := range tensors {
		if _, err := w.Write(encodeValues(t.Data, dtype, size)); err != nil {
			return fmt.Errorf("write tensor %s: %w", t.Name, err)
		}
	}
	return nil
}

func encodeValues(data []float32, dtype string, size int) []byte {
	buf := make([]byte, len(data)*size)
	for i, v := range data {
		switch dtype {
		case DTypeF32:
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		case DTypeF16:
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
		case DTypeBF16:
			binary.LittleEndian.PutUint16(buf[i*2:], f32ToBF16(v))
		}
	}
	return buf
}

// WriteFile encodes tensors to path. The file is written to a temporary
// name in the same directory and renamed into place.
func WriteFile(path string, tensors []Tensor, dtype string, metadata map[string]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := Encode(tmp, tensors, dtype, metadata); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
