package model

import "github.com/rlt-tender/tenderguide/internal/tensor"

// Linear is y = W·x (+ bias) with an optional low-rank overlay
// y += scale·B·(A·x) that is applied without merging into W.
type Linear struct {
	Name string
	W    *tensor.Mat
	Bias []float32
	LoRA *LoRA
}

// LoRA holds one adapter pair. A is r×in and B is out×r.
type LoRA struct {
	A, B  *tensor.Mat
	Scale float32

	mid []float32
	out []float32
}

func (l *Linear) In() int  { return l.W.C }
func (l *Linear) Out() int { return l.W.R }

// Forward writes the projection of x into dst.
func (l *Linear) Forward(pool *tensor.Pool, dst, x []float32) {
	pool.MatVec(dst, l.W, x)
	if l.Bias != nil {
		tensor.Add(dst[:l.W.R], l.Bias)
	}
	if lr := l.LoRA; lr != nil {
		if lr.mid == nil {
			lr.mid = make([]float32, lr.A.R)
			lr.out = make([]float32, lr.B.R)
		}
		tensor.MatVec(lr.mid, lr.A, x)
		pool.MatVec(lr.out, lr.B, lr.mid)
		tensor.AddScaled(dst[:l.W.R], lr.out, lr.Scale)
	}
}
