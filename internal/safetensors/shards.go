package safetensors

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"
)

const (
	SingleFileName = "model.safetensors"
	IndexFileName  = "model.safetensors.index.json"
)

// Set is a group of safetensors files addressed as one tensor namespace,
// typically the shards of a checkpoint directory.
type Set struct {
	files []*File
	owner map[string]*File
}

type shardIndex struct {
	WeightMap map[string]string `json:"weight_map"`
}

// OpenDir opens the checkpoint in dir. It prefers the shard index, then
// model.safetensors, then every *.safetensors file in the directory.
func OpenDir(dir string) (*Set, error) {
	paths, err := checkpointFiles(dir)
	if err != nil {
		return nil, err
	}
	return OpenFiles(paths...)
}

// OpenFiles opens each path and merges their tensor names. A name present in
// two files is an error.
func OpenFiles(paths ...string) (*Set, error) {
	if len(paths) == 0 {
		return nil, errors.New("safetensors: no files")
	}
	s := &Set{owner: make(map[string]*File)}
	for _, p := range paths {
		f, err := Open(p)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		s.files = append(s.files, f)
		for name := range f.Tensors {
			if prev, dup := s.owner[name]; dup {
				_ = s.Close()
				return nil, fmt.Errorf("safetensors: tensor %s in both %s and %s", name, prev.Path, p)
			}
			s.owner[name] = f
		}
	}
	return s, nil
}

func checkpointFiles(dir string) ([]string, error) {
	indexPath := filepath.Join(dir, IndexFileName)
	if b, err := os.ReadFile(indexPath); err == nil {
		var idx shardIndex
		if err := json.Unmarshal(b, &idx); err != nil {
			return nil, fmt.Errorf("parse %s: %w", indexPath, err)
		}
		seen := make(map[string]bool)
		var paths []string
		for _, shard := range idx.WeightMap {
			if seen[shard] {
				continue
			}
			seen[shard] = true
			paths = append(paths, filepath.Join(dir, shard))
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("%s: empty weight_map", indexPath)
		}
		sort.Strings(paths)
		return paths, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	single := filepath.Join(dir, SingleFileName)
	if _, err := os.Stat(single); err == nil {
		return []string{single}, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no safetensors weights in %s", dir)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Set) Files() []*File { return s.files }

func (s *Set) Has(name string) bool {
	_, ok := s.owner[name]
	return ok
}

func (s *Set) Tensor(name string) (TensorInfo, bool) {
	f, ok := s.owner[name]
	if !ok {
		return TensorInfo{}, false
	}
	return f.Tensor(name)
}

// Names returns every tensor name in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.owner))
	for n := range s.owner {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Set) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	f, ok := s.owner[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return f.ReadTensorF32(name)
}

func (s *Set) Close() error {
	var err error
	for _, f := range s.files {
		err = errors.Join(err, f.Close())
	}
	s.files = nil
	s.owner = nil
	return err
}
