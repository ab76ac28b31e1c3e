package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	json "github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

var (
	ErrTensorNotFound = errors.New("safetensors: tensor not found")
	ErrCorruptFile    = errors.New("safetensors: corrupt file")
)

// maxHeaderLen bounds the JSON header so a garbage length prefix cannot
// trigger a huge allocation.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// Elements returns the number of scalars described by Shape. A scalar tensor
// (empty shape) has one element.
func (t TensorInfo) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// File is an open safetensors file. Tensor payloads are served from a
// read-only mapping where the platform allows it, and from ReadAt otherwise.
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string

	data []byte
	fd   *os.File
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open parses the header of path and maps its payload.
func Open(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, err
	}
	size := st.Size()
	if size < 8 || size > int64(int(^uint(0)>>1)) {
		_ = fd.Close()
		return nil, fmt.Errorf("%w: %s: size %d", ErrCorruptFile, path, size)
	}

	f, err := parseHeader(path, fd, size)
	if err != nil {
		_ = fd.Close()
		return nil, err
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		f.data = data
		_ = fd.Close()
		return f, nil
	}
	f.fd = fd
	return f, nil
}

func parseHeader(path string, r io.ReaderAt, size int64) (*File, error) {
	var lenBuf [8]byte
	if _, err := r.ReadAt(lenBuf[:], 0); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen == 0 || headerLen > maxHeaderLen || int64(headerLen) > size-8 {
		return nil, fmt.Errorf("%w: %s: header length %d", ErrCorruptFile, path, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := r.ReadAt(headerBytes, 8); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: header json: %v", ErrCorruptFile, path, err)
	}

	f := &File{
		Path:      path,
		DataStart: int64(8 + headerLen),
		Tensors:   make(map[string]TensorInfo, len(raw)),
	}
	if meta, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(meta, &f.Metadata); err != nil {
			return nil, fmt.Errorf("%w: %s: metadata: %v", ErrCorruptFile, path, err)
		}
		delete(raw, "__metadata__")
	}

	payload := size - f.DataStart
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		info := TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
		if info.Start < 0 || info.End < info.Start || info.End > payload {
			return nil, fmt.Errorf("%w: tensor %s: offsets [%d,%d) outside payload of %d bytes",
				ErrCorruptFile, name, info.Start, info.End, payload)
		}
		for _, d := range info.Shape {
			if d < 0 {
				return nil, fmt.Errorf("%w: tensor %s: negative dim", ErrCorruptFile, name)
			}
		}
		f.Tensors[name] = info
	}
	return f, nil
}

// Close releases the mapping or file descriptor.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.data != nil {
		err = unix.Munmap(f.data)
		f.data = nil
	}
	if f.fd != nil {
		err = errors.Join(err, f.fd.Close())
		f.fd = nil
	}
	return err
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Names returns tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ReadTensor returns the raw payload of name. When the file is mapped the
// slice aliases the mapping and is only valid until Close.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	off := f.DataStart + t.Start
	n := t.End - t.Start
	if f.data != nil {
		return f.data[off : off+n], t, nil
	}
	if f.fd == nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: %s is closed", f.Path)
	}
	buf := make([]byte, n)
	if _, err := f.fd.ReadAt(buf, off); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return buf, t, nil
}

// ReadTensorF32 decodes name to float32 whatever its stored dtype.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	out, err := DecodeF32(info.DType, raw, info.Elements())
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return out, info, nil
}
