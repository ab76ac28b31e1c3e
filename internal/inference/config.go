package inference

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultBaseModel  = "models/Qwen2.5-3B-Instruct"
	DefaultAdapterDir = "models/qwen25_3b_lora_fast30"
	DefaultMaxThreads = 4
)

var ErrInvalidConfig = errors.New("invalid inference config")

// Config locates the checkpoint and bounds the compute budget. It is passed
// to New and never re-read.
type Config struct {
	BaseModel string
	// AdapterDir is optional. A missing or empty directory runs the base
	// model alone.
	AdapterDir string
	// MaxThreads caps the matvec pool. The effective count is also bounded
	// by the cores available to the process.
	MaxThreads int
	// MaxContext caps the KV cache. 0 uses the model default.
	MaxContext int
	// Seed feeds the sampling RNG. 0 draws a fresh seed per generation.
	Seed uint64
}

func DefaultConfig() Config {
	return Config{
		BaseModel:  DefaultBaseModel,
		AdapterDir: DefaultAdapterDir,
		MaxThreads: DefaultMaxThreads,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseModel) == "" {
		return fmt.Errorf("%w: base model path is required", ErrInvalidConfig)
	}
	if c.MaxThreads < 0 {
		return fmt.Errorf("%w: max threads must be >= 0, got %d", ErrInvalidConfig, c.MaxThreads)
	}
	if c.MaxContext < 0 {
		return fmt.Errorf("%w: max context must be >= 0, got %d", ErrInvalidConfig, c.MaxContext)
	}
	return nil
}

func (c Config) maxThreads() int {
	if c.MaxThreads == 0 {
		return DefaultMaxThreads
	}
	return c.MaxThreads
}
