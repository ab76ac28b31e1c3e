package safetensors

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
)

func TestWriteThenReadAllDTypes(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "w.safetensors")
	vals := []float32{1, -2, 0.5, 0}
	err := WriteFile(path, map[string]Tensor{
		"a.f32":  {Shape: []int{2, 2}, Data: vals},
		"b.bf16": {Shape: []int{4}, Data: vals, DType: "BF16"},
		"c.f16":  {Shape: []int{1, 4}, Data: vals, DType: "F16"},
	}, map[string]string{"format": "pt"})
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.Metadata["format"] != "pt" {
		t.Fatalf("metadata = %v", f.Metadata)
	}
	if got := f.Names(); len(got) != 3 || got[0] != "a.f32" {
		t.Fatalf("Names() = %v", got)
	}
	for _, name := range f.Names() {
		got, info, err := f.ReadTensorF32(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if info.Elements() != 4 {
			t.Fatalf("%s: elements = %d", name, info.Elements())
		}
		for i := range vals {
			if got[i] != vals[i] {
				t.Fatalf("%s[%d] = %v, want %v", name, i, got[i], vals[i])
			}
		}
	}
}

func TestReadMissingTensor(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "w.safetensors")
	if err := WriteFile(path, map[string]Tensor{"x": {Shape: []int{1}, Data: []float32{1}}}, nil); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, _, err := f.ReadTensorF32("y"); !errors.Is(err, ErrTensorNotFound) {
		t.Fatalf("err = %v, want ErrTensorNotFound", err)
	}
}

func TestOpenRejectsBadHeaders(t *testing.T) {
	t.Parallel()
	cases := map[string][]byte{
		"short":       {1, 2, 3},
		"huge length": append(le64(1<<40), []byte("{}")...),
		"bad json":    append(le64(3), []byte("{x}")...),
		"out of range": func() []byte {
			h := []byte(`{"w":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`)
			return append(append(le64(uint64(len(h))), h...), make([]byte, 8)...)
		}(),
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "bad.safetensors")
		if err := os.WriteFile(path, body, 0o644); err != nil {
			t.Fatal(err)
		}
		if f, err := Open(path); err == nil {
			_ = f.Close()
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestOpenDirWithIndex(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := WriteFile(filepath.Join(dir, "model-00001-of-00002.safetensors"),
		map[string]Tensor{"a": {Shape: []int{1}, Data: []float32{1}}}, nil); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(filepath.Join(dir, "model-00002-of-00002.safetensors"),
		map[string]Tensor{"b": {Shape: []int{2}, Data: []float32{2, 3}}}, nil); err != nil {
		t.Fatal(err)
	}
	idx, _ := json.Marshal(map[string]any{"weight_map": map[string]string{
		"a": "model-00001-of-00002.safetensors",
		"b": "model-00002-of-00002.safetensors",
	}})
	if err := os.WriteFile(filepath.Join(dir, IndexFileName), idx, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	defer func() { _ = s.Close() }()
	if len(s.Files()) != 2 || !s.Has("a") || !s.Has("b") {
		t.Fatalf("unexpected set: names=%v", s.Names())
	}
	b, _, err := s.ReadTensorF32("b")
	if err != nil || b[1] != 3 {
		t.Fatalf("b = %v, %v", b, err)
	}
}

func TestOpenFilesRejectsDuplicates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	one := filepath.Join(dir, "1.safetensors")
	two := filepath.Join(dir, "2.safetensors")
	for _, p := range []string{one, two} {
		if err := WriteFile(p, map[string]Tensor{"dup": {Shape: []int{1}, Data: []float32{0}}}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := OpenFiles(one, two); err == nil {
		t.Fatal("expected duplicate tensor error")
	}
}

func TestOpenDirEmpty(t *testing.T) {
	t.Parallel()
	if _, err := OpenDir(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without weights")
	}
}

func TestHalfConversions(t *testing.T) {
	t.Parallel()
	if got := F16ToF32(0x3c00); got != 1 {
		t.Fatalf("F16ToF32(1.0) = %v", got)
	}
	if got := F16ToF32(0xc000); got != -2 {
		t.Fatalf("F16ToF32(-2.0) = %v", got)
	}
	if got := BF16ToF32(F32ToBF16(3.140625)); got != 3.140625 {
		t.Fatalf("bf16 round trip = %v", got)
	}
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
