package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad marks every initialization failure.
	ErrModelLoad = errors.New("model load failed")
	// ErrGeneration marks failures raised while decoding.
	ErrGeneration = errors.New("generation failed")
	// ErrClosed is returned to requests that held a handle released by Close.
	ErrClosed = errors.New("inference service closed")
)

// LoadError records which loading stage failed.
type LoadError struct {
	Stage string
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", ErrModelLoad, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrModelLoad, e.Stage, e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrModelLoad, e.Err} }

func loadErr(stage, path string, err error) error {
	return &LoadError{Stage: stage, Path: path, Err: err}
}
