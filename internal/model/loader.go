package model

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rlt-tender/tenderguide/internal/logger"
	"github.com/rlt-tender/tenderguide/internal/safetensors"
	"github.com/rlt-tender/tenderguide/internal/tensor"
)

const defaultMaxContext = 4096

type LoadOptions struct {
	// MaxContext caps the KV cache. 0 means min(4096, max_position_embeddings).
	MaxContext int
	// Threads sizes the compute pool. 0 means GOMAXPROCS.
	Threads int
	Logger  logger.Logger
}

// tensorSource is what Load needs from a checkpoint.
type tensorSource interface {
	Has(name string) bool
	ReadTensorF32(name string) ([]float32, safetensors.TensorInfo, error)
}

// Load reads the checkpoint in dir and decodes every weight to float32.
func Load(dir string, opts LoadOptions) (*Instance, error) {
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	set, err := safetensors.OpenDir(dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = set.Close() }()
	return build(cfg, set, opts)
}

func build(cfg Config, src tensorSource, opts LoadOptions) (*Instance, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	maxCtx := opts.MaxContext
	if maxCtx <= 0 {
		maxCtx = defaultMaxContext
	}
	if cfg.MaxPosition > 0 && maxCtx > cfg.MaxPosition {
		maxCtx = cfg.MaxPosition
	}

	m := &Instance{
		Config:     cfg,
		MaxContext: maxCtx,
		Layers:     make([]Layer, cfg.NumHiddenLayers),
		invFreq:    cfg.InvFreq(),
		linears:    make(map[string]*Linear),
	}

	h := cfg.HiddenSize
	qDim := cfg.NumAttentionHeads * cfg.HeadDim
	kvDim := cfg.NumKeyValueHeads * cfg.HeadDim
	inter := cfg.IntermediateSize

	var g errgroup.Group
	g.SetLimit(threads)

	g.Go(func() (err error) {
		m.Embed, err = readMat(src, "model.embed_tokens.weight", cfg.VocabSize, h)
		return err
	})
	g.Go(func() (err error) {
		m.Norm, err = readVec(src, "model.norm.weight", h)
		return err
	})
	if !cfg.TieWordEmbeddings || src.Has("lm_head.weight") {
		g.Go(func() (err error) {
			m.LMHead, err = readMat(src, "lm_head.weight", cfg.VocabSize, h)
			return err
		})
	}

	for i := range m.Layers {
		l := &m.Layers[i]
		p := fmt.Sprintf("model.layers.%d.", i)
		l.Q = m.linear(p+"self_attn.q_proj", qDim, h)
		l.K = m.linear(p+"self_attn.k_proj", kvDim, h)
		l.V = m.linear(p+"self_attn.v_proj", kvDim, h)
		l.O = m.linear(p+"self_attn.o_proj", h, qDim)
		l.Gate = m.linear(p+"mlp.gate_proj", inter, h)
		l.Up = m.linear(p+"mlp.up_proj", inter, h)
		l.Down = m.linear(p+"mlp.down_proj", h, inter)

		g.Go(func() (err error) {
			l.AttnNorm, err = readVec(src, p+"input_layernorm.weight", h)
			return err
		})
		g.Go(func() (err error) {
			l.MLPNorm, err = readVec(src, p+"post_attention_layernorm.weight", h)
			return err
		})
		for _, lin := range []*Linear{l.Q, l.K, l.V, l.O, l.Gate, l.Up, l.Down} {
			withBias := cfg.MLPBias
			switch lin {
			case l.Q, l.K, l.V:
				withBias = cfg.QKVBias()
			case l.O:
				withBias = cfg.OutputBias()
			}
			g.Go(func() error { return loadLinear(src, lin, withBias) })
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if m.LMHead == nil {
		m.LMHead = m.Embed
	}

	m.pool = tensor.NewPool(threads)
	m.initScratch()
	log.Debug("model weights decoded",
		"model_type", cfg.ModelType,
		"layers", cfg.NumHiddenLayers,
		"hidden", h,
		"vocab", cfg.VocabSize,
		"tied_embeddings", m.LMHead == m.Embed,
		"max_context", maxCtx,
		"threads", threads,
	)
	return m, nil
}

// linear registers an empty projection whose weights are filled by
// loadLinear.
func (m *Instance) linear(name string, out, in int) *Linear {
	l := &Linear{Name: name, W: &tensor.Mat{R: out, C: in}}
	m.linears[name] = l
	return l
}

func loadLinear(src tensorSource, l *Linear, withBias bool) error {
	w, err := readMat(src, l.Name+".weight", l.W.R, l.W.C)
	if err != nil {
		return err
	}
	l.W = w
	if withBias || src.Has(l.Name+".bias") {
		l.Bias, err = readVec(src, l.Name+".bias", l.W.R)
		if err != nil {
			return err
		}
	}
	return nil
}

func readMat(src tensorSource, name string, r, c int) (*tensor.Mat, error) {
	data, info, err := src.ReadTensorF32(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 2 || info.Shape[0] != r || info.Shape[1] != c {
		return nil, fmt.Errorf("%w: %s has shape %v, want [%d %d]", ErrUnsupported, name, info.Shape, r, c)
	}
	return tensor.FromData(r, c, data)
}

func readVec(src tensorSource, name string, n int) ([]float32, error) {
	data, info, err := src.ReadTensorF32(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 1 || info.Shape[0] != n {
		return nil, fmt.Errorf("%w: %s has shape %v, want [%d]", ErrUnsupported, name, info.Shape, n)
	}
	return data, nil
}
