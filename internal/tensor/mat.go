package tensor

import (
	"errors"
	"fmt"
)

var ErrShape = errors.New("tensor: shape mismatch")

// Mat is a dense row-major float32 matrix with R rows and C columns.
type Mat struct {
	R, C int
	Data []float32
}

// NewMat allocates a zeroed r×c matrix.
func NewMat(r, c int) *Mat {
	if r < 0 || c < 0 {
		panic("tensor: negative dimension")
	}
	return &Mat{R: r, C: c, Data: make([]float32, r*c)}
}

// FromData wraps data as an r×c matrix without copying.
func FromData(r, c int, data []float32) (*Mat, error) {
	if r < 0 || c < 0 || r*c != len(data) {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrShape, len(data), r, c)
	}
	return &Mat{R: r, C: c, Data: data}, nil
}

// Row returns row i as a slice aliasing the matrix.
func (m *Mat) Row(i int) []float32 {
	return m.Data[i*m.C : (i+1)*m.C]
}

// RowTo copies row i into dst.
func (m *Mat) RowTo(dst []float32, i int) {
	copy(dst, m.Data[i*m.C:(i+1)*m.C])
}

// Transpose returns a new C×R matrix.
func (m *Mat) Transpose() *Mat {
	out := NewMat(m.C, m.R)
	for i := 0; i < m.R; i++ {
		row := m.Data[i*m.C : (i+1)*m.C]
		for j, v := range row {
			out.Data[j*m.R+i] = v
		}
	}
	return out
}

// MatVec computes dst = w·x on the calling goroutine.
func MatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R || len(x) < w.C {
		panic("tensor: matvec shape mismatch")
	}
	matVecRows(dst, w, x, 0, w.R)
}

func matVecRows(dst []float32, w *Mat, x []float32, rs, re int) {
	c := w.C
	x = x[:c]
	for i := rs; i < re; i++ {
		row := w.Data[i*c : i*c+c]
		var s0, s1, s2, s3 float32
		j := 0
		for ; j+3 < c; j += 4 {
			s0 += row[j] * x[j]
			s1 += row[j+1] * x[j+1]
			s2 += row[j+2] * x[j+2]
			s3 += row[j+3] * x[j+3]
		}
		for ; j < c; j++ {
			s0 += row[j] * x[j]
		}
		dst[i] = (s0 + s1) + (s2 + s3)
	}
}
