package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/rlt-tender/tenderguide/internal/tensor"
)

var ErrContextFull = errors.New("model: context length exceeded")

type Layer struct {
	AttnNorm []float32
	MLPNorm  []float32

	Q, K, V, O     *Linear
	Gate, Up, Down *Linear

	// KV cache, one row of KVHeads*HeadDim values per position.
	k, v []float32
}

// Instance is a loaded decoder with its KV cache. It holds mutable state and
// must be driven by one goroutine at a time.
type Instance struct {
	Config     Config
	MaxContext int

	Embed  *tensor.Mat
	Layers []Layer
	Norm   []float32
	LMHead *tensor.Mat

	pool    *tensor.Pool
	invFreq []float64
	linears map[string]*Linear
	adapter *Adapter
	pos     int
	s       scratch
}

type scratch struct {
	x, h          []float32
	q, k, v       []float32
	attn, proj    []float32
	gate, up, act []float32
	scores        []float32
	logits        []float32
}

func (m *Instance) initScratch() {
	c := m.Config
	kvDim := c.NumKeyValueHeads * c.HeadDim
	qDim := c.NumAttentionHeads * c.HeadDim
	m.s = scratch{
		x:      make([]float32, c.HiddenSize),
		h:      make([]float32, c.HiddenSize),
		q:      make([]float32, qDim),
		k:      make([]float32, kvDim),
		v:      make([]float32, kvDim),
		attn:   make([]float32, qDim),
		proj:   make([]float32, c.HiddenSize),
		gate:   make([]float32, c.IntermediateSize),
		up:     make([]float32, c.IntermediateSize),
		act:    make([]float32, c.IntermediateSize),
		scores: make([]float32, m.MaxContext),
		logits: make([]float32, m.LMHead.R),
	}
	for i := range m.Layers {
		m.Layers[i].k = make([]float32, m.MaxContext*kvDim)
		m.Layers[i].v = make([]float32, m.MaxContext*kvDim)
	}
}

func (m *Instance) VocabSize() int { return m.LMHead.R }

// Pos is the number of tokens consumed since the last Reset.
func (m *Instance) Pos() int { return m.pos }

// Threads is the size of the compute pool.
func (m *Instance) Threads() int { return m.pool.Size() }

// Reset rewinds to position zero. Cached keys and values past the position
// are never read, so they are left in place.
func (m *Instance) Reset() { m.pos = 0 }

// ForwardToken consumes one token and returns next-token logits. The slice
// is reused by the following call.
func (m *Instance) ForwardToken(tok int) ([]float32, error) {
	c := m.Config
	if tok < 0 || tok >= m.Embed.R {
		return nil, fmt.Errorf("token id out of range: %d", tok)
	}
	if m.pos >= m.MaxContext {
		return nil, fmt.Errorf("%w: %d", ErrContextFull, m.MaxContext)
	}
	s := &m.s
	eps := float32(c.RMSNormEps)

	m.Embed.RowTo(s.x, tok)
	for i := range m.Layers {
		l := &m.Layers[i]

		tensor.RMSNorm(s.h, s.x, l.AttnNorm, eps)
		m.attention(l, s.h)
		l.O.Forward(m.pool, s.proj, s.attn)
		tensor.Add(s.x, s.proj)

		tensor.RMSNorm(s.h, s.x, l.MLPNorm, eps)
		l.Gate.Forward(m.pool, s.gate, s.h)
		l.Up.Forward(m.pool, s.up, s.h)
		tensor.SwiGLU(s.act, s.gate, s.up)
		l.Down.Forward(m.pool, s.proj, s.act)
		tensor.Add(s.x, s.proj)
	}
	tensor.RMSNorm(s.h, s.x, m.Norm, eps)
	m.pool.MatVec(s.logits, m.LMHead, s.h)

	m.pos++
	return s.logits, nil
}

// attention writes the attention output for the current position to s.attn.
func (m *Instance) attention(l *Layer, x []float32) {
	c := m.Config
	s := &m.s
	hd := c.HeadDim
	kvDim := c.NumKeyValueHeads * hd
	group := c.NumAttentionHeads / c.NumKeyValueHeads
	pos := m.pos

	l.Q.Forward(m.pool, s.q, x)
	l.K.Forward(m.pool, s.k, x)
	l.V.Forward(m.pool, s.v, x)
	tensor.ApplyRoPE(s.q, c.NumAttentionHeads, hd, pos, m.invFreq)
	tensor.ApplyRoPE(s.k, c.NumKeyValueHeads, hd, pos, m.invFreq)

	copy(l.k[pos*kvDim:(pos+1)*kvDim], s.k)
	copy(l.v[pos*kvDim:(pos+1)*kvDim], s.v)

	scale := float32(1 / math.Sqrt(float64(hd)))
	scores := s.scores[:pos+1]
	for h := 0; h < c.NumAttentionHeads; h++ {
		q := s.q[h*hd : (h+1)*hd]
		kvOff := (h / group) * hd
		for t := 0; t <= pos; t++ {
			base := t*kvDim + kvOff
			scores[t] = tensor.Dot(q, l.k[base:base+hd]) * scale
		}
		tensor.Softmax(scores)
		out := s.attn[h*hd : (h+1)*hd]
		clear(out)
		for t := 0; t <= pos; t++ {
			base := t*kvDim + kvOff
			tensor.AddScaled(out, l.v[base:base+hd], scores[t])
		}
	}
}

// Close stops the compute pool.
func (m *Instance) Close() error {
	m.pool.Close()
	return nil
}
