package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	json "github.com/goccy/go-json"
)

// Tensor is an in-memory float32 tensor to be written by WriteFile.
type Tensor struct {
	Shape []int
	Data  []float32
	// DType is F32 (default), BF16 or F16 on disk.
	DType string
}

// WriteFile serialises tensors to path. Names are laid out in sorted order.
func WriteFile(path string, tensors map[string]Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for n := range tensors {
		names = append(names, n)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var off int64
	for _, n := range names {
		t := tensors[n]
		dtype := t.DType
		if dtype == "" {
			dtype = "F32"
		}
		if DTypeSize(dtype) == 0 {
			return fmt.Errorf("tensor %s: unsupported dtype %s", n, dtype)
		}
		if want := (TensorInfo{Shape: t.Shape}).Elements(); want != len(t.Data) {
			return fmt.Errorf("tensor %s: shape %v needs %d values, have %d", n, t.Shape, want, len(t.Data))
		}
		size := int64(len(t.Data) * DTypeSize(dtype))
		header[n] = tensorHeader{DType: dtype, Shape: t.Shape, DataOffsets: []int64{off, off + size}}
		off += size
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	_, _ = w.Write(lenBuf[:])
	_, _ = w.Write(hb)

	var scratch [4]byte
	for _, n := range names {
		t := tensors[n]
		for _, v := range t.Data {
			switch t.DType {
			case "BF16":
				binary.LittleEndian.PutUint16(scratch[:2], F32ToBF16(v))
				_, _ = w.Write(scratch[:2])
			case "F16":
				binary.LittleEndian.PutUint16(scratch[:2], f32ToF16(v))
				_, _ = w.Write(scratch[:2])
			default:
				binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
				_, _ = w.Write(scratch[:])
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// f32ToF16 handles normal and zero values only; it is used for fixtures.
func f32ToF16(v float32) uint16 {
	b := math.Float32bits(v)
	sign := uint16(b>>16) & 0x8000
	exp := int((b>>23)&0xff) - 127 + 15
	frac := b & 0x7fffff
	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1f:
		return sign | 0x7c00
	}
	return sign | uint16(exp)<<10 | uint16(frac>>13)
}
