package model

import (
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rlt-tender/tenderguide/internal/safetensors"
	"github.com/rlt-tender/tenderguide/internal/toy"
)

func writeToy(t *testing.T, s toy.Spec) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "base")
	if err := toy.WriteCheckpoint(dir, s); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	return dir
}

func mustLoad(t *testing.T, dir string, opts LoadOptions) *Instance {
	t.Helper()
	m, err := Load(dir, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func forwardAll(t *testing.T, m *Instance, toks []int) []float32 {
	t.Helper()
	m.Reset()
	var out []float32
	for _, tok := range toks {
		logits, err := m.ForwardToken(tok)
		if err != nil {
			t.Fatalf("ForwardToken(%d): %v", tok, err)
		}
		out = append(out[:0], logits...)
	}
	return out
}

// reference recomputes the last position from scratch without a KV cache.
func reference(t *testing.T, dir string, cfg Config, toks []int) []float32 {
	t.Helper()
	set, err := safetensors.OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = set.Close() }()
	w := func(name string) []float32 {
		d, _, err := set.ReadTensorF32(name)
		if err != nil {
			t.Fatal(err)
		}
		return d
	}
	mv := func(mat []float32, rows, cols int, x []float32) []float32 {
		out := make([]float32, rows)
		for r := 0; r < rows; r++ {
			var s float64
			for c := 0; c < cols; c++ {
				s += float64(mat[r*cols+c]) * float64(x[c])
			}
			out[r] = float32(s)
		}
		return out
	}
	rms := func(x, g []float32) []float32 {
		var s float64
		for _, v := range x {
			s += float64(v) * float64(v)
		}
		k := 1 / math.Sqrt(s/float64(len(x))+cfg.RMSNormEps)
		out := make([]float32, len(x))
		for i := range x {
			out[i] = float32(float64(x[i])*k) * g[i]
		}
		return out
	}
	rope := func(x []float32, heads, pos int) {
		hd := cfg.HeadDim
		for h := 0; h < heads; h++ {
			for i := 0; i < hd/2; i++ {
				ang := float64(pos) / math.Pow(cfg.RopeTheta, float64(2*i)/float64(hd))
				c, s := float32(math.Cos(ang)), float32(math.Sin(ang))
				a, b := x[h*hd+i], x[h*hd+i+hd/2]
				x[h*hd+i] = a*c - b*s
				x[h*hd+i+hd/2] = b*c + a*s
			}
		}
	}
	addv := func(a, b []float32) {
		for i := range a {
			a[i] += b[i]
		}
	}

	H, hd := cfg.HiddenSize, cfg.HeadDim
	nq, nkv := cfg.NumAttentionHeads, cfg.NumKeyValueHeads
	emb := w("model.embed_tokens.weight")
	xs := make([][]float32, len(toks))
	for i, tok := range toks {
		xs[i] = append([]float32(nil), emb[tok*H:(tok+1)*H]...)
	}
	for l := 0; l < cfg.NumHiddenLayers; l++ {
		p := "model.layers." + strconv.Itoa(l) + "."
		ks := make([][]float32, len(toks))
		vs := make([][]float32, len(toks))
		qs := make([][]float32, len(toks))
		for i := range toks {
			h := rms(xs[i], w(p+"input_layernorm.weight"))
			q := mv(w(p+"self_attn.q_proj.weight"), nq*hd, H, h)
			addv(q, w(p+"self_attn.q_proj.bias"))
			k := mv(w(p+"self_attn.k_proj.weight"), nkv*hd, H, h)
			addv(k, w(p+"self_attn.k_proj.bias"))
			v := mv(w(p+"self_attn.v_proj.weight"), nkv*hd, H, h)
			addv(v, w(p+"self_attn.v_proj.bias"))
			rope(q, nq, i)
			rope(k, nkv, i)
			qs[i], ks[i], vs[i] = q, k, v
		}
		for i := range toks {
			attn := make([]float32, nq*hd)
			for h := 0; h < nq; h++ {
				g := h / (nq / nkv)
				sc := make([]float64, i+1)
				maxv := math.Inf(-1)
				for j := 0; j <= i; j++ {
					var d float64
					for e := 0; e < hd; e++ {
						d += float64(qs[i][h*hd+e]) * float64(ks[j][g*hd+e])
					}
					sc[j] = d / math.Sqrt(float64(hd))
					maxv = math.Max(maxv, sc[j])
				}
				var sum float64
				for j := range sc {
					sc[j] = math.Exp(sc[j] - maxv)
					sum += sc[j]
				}
				for j := range sc {
					for e := 0; e < hd; e++ {
						attn[h*hd+e] += float32(sc[j]/sum) * vs[j][g*hd+e]
					}
				}
			}
			addv(xs[i], mv(w(p+"self_attn.o_proj.weight"), H, nq*hd, attn))
			h := rms(xs[i], w(p+"post_attention_layernorm.weight"))
			I := cfg.IntermediateSize
			gate := mv(w(p+"mlp.gate_proj.weight"), I, H, h)
			up := mv(w(p+"mlp.up_proj.weight"), I, H, h)
			act := make([]float32, I)
			for e := range act {
				act[e] = gate[e] / (1 + float32(math.Exp(float64(-gate[e])))) * up[e]
			}
			addv(xs[i], mv(w(p+"mlp.down_proj.weight"), H, I, act))
		}
	}
	last := rms(xs[len(toks)-1], w("model.norm.weight"))
	return mv(emb, cfg.VocabSize, H, last)
}

func assertClose(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len %d != %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestForwardMatchesReference(t *testing.T) {
	t.Parallel()
	dir := writeToy(t, toy.Spec{})
	m := mustLoad(t, dir, LoadOptions{Threads: 2})
	toks := []int{toy.IMStart, 'u', 's', 'e', 'r', '\n', 'h', 'i'}
	got := forwardAll(t, m, toks)
	want := reference(t, dir, m.Config, toks)
	assertClose(t, got, want, 1e-3)
	if m.Pos() != len(toks) {
		t.Fatalf("Pos = %d", m.Pos())
	}
}

func TestResetReproduces(t *testing.T) {
	t.Parallel()
	m := mustLoad(t, writeToy(t, toy.Spec{}), LoadOptions{})
	toks := []int{1, 2, 3, 4}
	a := forwardAll(t, m, toks)
	forwardAll(t, m, []int{9, 9, 9, 9, 9, 9})
	b := forwardAll(t, m, toks)
	assertClose(t, a, b, 0)
}

func TestThreadCountDoesNotChangeOutput(t *testing.T) {
	t.Parallel()
	dir := writeToy(t, toy.Spec{Hidden: 64, Intermediate: 640, Heads: 8, KVHeads: 2})
	one := mustLoad(t, dir, LoadOptions{Threads: 1})
	four := mustLoad(t, dir, LoadOptions{Threads: 4})
	if four.Threads() != 4 {
		t.Fatalf("Threads = %d", four.Threads())
	}
	toks := []int{5, 6, 7}
	assertClose(t, forwardAll(t, one, toks), forwardAll(t, four, toks), 1e-4)
}

func TestUntiedAndHalfPrecision(t *testing.T) {
	t.Parallel()
	for _, s := range []toy.Spec{{Untied: true}, {DType: "BF16"}, {DType: "F16"}} {
		dir := writeToy(t, s)
		m := mustLoad(t, dir, LoadOptions{})
		if s.Untied == (m.LMHead == m.Embed) {
			t.Fatalf("spec %+v: tied mismatch", s)
		}
		logits := forwardAll(t, m, []int{1, 2})
		for _, v := range logits {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("spec %+v: non-finite logit", s)
			}
		}
	}
}

func TestContextLimit(t *testing.T) {
	t.Parallel()
	m := mustLoad(t, writeToy(t, toy.Spec{}), LoadOptions{MaxContext: 2})
	for i := 0; i < 2; i++ {
		if _, err := m.ForwardToken(1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.ForwardToken(1); !errors.Is(err, ErrContextFull) {
		t.Fatalf("err = %v, want ErrContextFull", err)
	}
	if _, err := m.ForwardToken(toy.Vocab); err == nil {
		t.Fatal("expected out of range token error")
	}
}

func TestLoadMissingTensor(t *testing.T) {
	t.Parallel()
	dir := writeToy(t, toy.Spec{})
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	set, err := safetensors.OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = set.Close() }()
	cfg.NumHiddenLayers = 3
	if _, err := build(cfg, set, LoadOptions{}); !errors.Is(err, safetensors.ErrTensorNotFound) {
		t.Fatalf("err = %v, want ErrTensorNotFound", err)
	}
}
