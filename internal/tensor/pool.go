package tensor

import "sync"

// parallelMinWork is the number of multiply-adds below which a matvec runs
// inline rather than being split across workers.
const parallelMinWork = 1 << 15

type rowTask struct {
	dst    []float32
	w      *Mat
	x      []float32
	rs, re int
	wg     *sync.WaitGroup
}

// Pool is a fixed set of goroutines that split matrix-vector products by
// rows. Its size is the compute thread ceiling of the model that owns it.
type Pool struct {
	size  int
	tasks chan rowTask
	once  sync.Once
}

// NewPool sizes the pool to n threads: the caller plus n-1 background
// workers. n < 1 is treated as 1, in which case every call runs inline.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{size: n}
	if n == 1 {
		return p
	}
	p.tasks = make(chan rowTask, n*2)
	for i := 0; i < n-1; i++ {
		go func() {
			for t := range p.tasks {
				matVecRows(t.dst, t.w, t.x, t.rs, t.re)
				t.wg.Done()
			}
		}()
	}
	return p
}

// Size reports the thread count, caller included.
func (p *Pool) Size() int { return p.size }

// MatVec computes dst = w·x, splitting rows across the pool.
func (p *Pool) MatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R || len(x) < w.C {
		panic("tensor: matvec shape mismatch")
	}
	workers := p.size
	if workers > w.R {
		workers = w.R
	}
	if p.tasks == nil || workers <= 1 || w.R*w.C < parallelMinWork {
		matVecRows(dst, w, x, 0, w.R)
		return
	}

	chunk := (w.R + workers - 1) / workers
	var wg sync.WaitGroup
	for rs := chunk; rs < w.R; rs += chunk {
		re := min(rs+chunk, w.R)
		wg.Add(1)
		p.tasks <- rowTask{dst: dst, w: w, x: x, rs: rs, re: re, wg: &wg}
	}
	matVecRows(dst, w, x, 0, min(chunk, w.R))
	wg.Wait()
}

// Close stops the workers. The pool must not be used afterwards.
func (p *Pool) Close() {
	p.once.Do(func() {
		if p.tasks != nil {
			close(p.tasks)
		}
	})
}
