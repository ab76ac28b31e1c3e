// Package toy writes tiny, randomly initialised Qwen2-style checkpoints
// (weights, config, tokenizer) for tests and smoke runs.
package toy

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/rlt-tender/tenderguide/internal/safetensors"
)

// Token ids of the toy tokenizer. Ids 0..255 are the byte-level tokens for
// bytes 0..255.
const (
	EndOfText = 256
	IMStart   = 257
	IMEnd     = 258
	Vocab     = 259
)

type Spec struct {
	Hidden       int
	Intermediate int
	Layers       int
	Heads        int
	KVHeads      int
	Seed         uint64
	Untied       bool
	// DType is the on-disk weight type: F32 (default), BF16 or F16.
	DType string
	// OmitPad leaves pad_token out of tokenizer_config.json.
	OmitPad bool
}

func (s Spec) withDefaults() Spec {
	if s.Hidden == 0 {
		s.Hidden = 16
	}
	if s.Intermediate == 0 {
		s.Intermediate = 32
	}
	if s.Layers == 0 {
		s.Layers = 2
	}
	if s.Heads == 0 {
		s.Heads = 4
	}
	if s.KVHeads == 0 {
		s.KVHeads = 2
	}
	if s.Seed == 0 {
		s.Seed = 1
	}
	return s
}

// HeadDim of the checkpoint written for s.
func (s Spec) HeadDim() int {
	s = s.withDefaults()
	return s.Hidden / s.Heads
}

// WriteCheckpoint lays out a complete base model directory.
func WriteCheckpoint(dir string, s Spec) error {
	s = s.withDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	hd := s.Hidden / s.Heads
	cfg := map[string]any{
		"architectures":           []string{"Qwen2ForCausalLM"},
		"model_type":              "qwen2",
		"hidden_size":             s.Hidden,
		"intermediate_size":       s.Intermediate,
		"num_hidden_layers":       s.Layers,
		"num_attention_heads":     s.Heads,
		"num_key_value_heads":     s.KVHeads,
		"rms_norm_eps":            1e-6,
		"rope_theta":              1000000.0,
		"vocab_size":              Vocab,
		"max_position_embeddings": 2048,
		"tie_word_embeddings":     !s.Untied,
		"torch_dtype":             "float32",
		"eos_token_id":            EndOfText,
	}
	if err := writeJSON(filepath.Join(dir, "config.json"), cfg); err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(s.Seed, s.Seed*7+3))
	tensors := map[string]safetensors.Tensor{}
	add := func(name string, shape []int, fill func() float32) {
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = fill()
		}
		tensors[name] = safetensors.Tensor{Shape: shape, Data: data, DType: s.DType}
	}
	noise := func() float32 { return (rng.Float32()*2 - 1) * 0.5 }
	one := func() float32 { return 1 + (rng.Float32()-0.5)*0.1 }

	add("model.embed_tokens.weight", []int{Vocab, s.Hidden}, noise)
	add("model.norm.weight", []int{s.Hidden}, one)
	if s.Untied {
		add("lm_head.weight", []int{Vocab, s.Hidden}, noise)
	}
	for i := 0; i < s.Layers; i++ {
		p := fmt.Sprintf("model.layers.%d.", i)
		add(p+"input_layernorm.weight", []int{s.Hidden}, one)
		add(p+"post_attention_layernorm.weight", []int{s.Hidden}, one)
		add(p+"self_attn.q_proj.weight", []int{s.Heads * hd, s.Hidden}, noise)
		add(p+"self_attn.q_proj.bias", []int{s.Heads * hd}, noise)
		add(p+"self_attn.k_proj.weight", []int{s.KVHeads * hd, s.Hidden}, noise)
		add(p+"self_attn.k_proj.bias", []int{s.KVHeads * hd}, noise)
		add(p+"self_attn.v_proj.weight", []int{s.KVHeads * hd, s.Hidden}, noise)
		add(p+"self_attn.v_proj.bias", []int{s.KVHeads * hd}, noise)
		add(p+"self_attn.o_proj.weight", []int{s.Hidden, s.Heads * hd}, noise)
		add(p+"mlp.gate_proj.weight", []int{s.Intermediate, s.Hidden}, noise)
		add(p+"mlp.up_proj.weight", []int{s.Intermediate, s.Hidden}, noise)
		add(p+"mlp.down_proj.weight", []int{s.Hidden, s.Intermediate}, noise)
	}
	if err := safetensors.WriteFile(filepath.Join(dir, safetensors.SingleFileName), tensors, map[string]string{"format": "pt"}); err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(dir, "tokenizer.json"), tokenizerJSON()); err != nil {
		return err
	}
	tokCfg := map[string]any{
		"add_bos_token": false,
		"bos_token":     nil,
		"eos_token":     "<|im_end|>",
		"chat_template": "{% for message in messages %}<|im_start|>{{ message.role }}\n{{ message.content }}<|im_end|>\n{% endfor %}",
	}
	if !s.OmitPad {
		tokCfg["pad_token"] = "<|endoftext|>"
	}
	if err := writeJSON(filepath.Join(dir, "tokenizer_config.json"), tokCfg); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "generation_config.json"), map[string]any{
		"bos_token_id": EndOfText,
		"eos_token_id": []int{IMEnd, EndOfText},
		"pad_token_id": EndOfText,
	})
}

// AdapterSpec describes a toy LoRA adapter over the q/v projections.
type AdapterSpec struct {
	Rank    int
	Alpha   float64
	Seed    uint64
	Modules []string
	// Zero makes every B matrix zero so the adapter is a no-op.
	Zero bool
}

// WriteAdapter writes a PEFT-layout adapter matching base spec s.
func WriteAdapter(dir string, s Spec, a AdapterSpec) error {
	s = s.withDefaults()
	if a.Rank == 0 {
		a.Rank = 2
	}
	if a.Alpha == 0 {
		a.Alpha = 4
	}
	if a.Seed == 0 {
		a.Seed = 9
	}
	if len(a.Modules) == 0 {
		a.Modules = []string{"q_proj", "v_proj"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	hd := s.Hidden / s.Heads
	outDim := map[string]int{
		"q_proj": s.Heads * hd, "k_proj": s.KVHeads * hd, "v_proj": s.KVHeads * hd, "o_proj": s.Hidden,
		"gate_proj": s.Intermediate, "up_proj": s.Intermediate, "down_proj": s.Hidden,
	}
	inDim := map[string]int{
		"q_proj": s.Hidden, "k_proj": s.Hidden, "v_proj": s.Hidden, "o_proj": s.Heads * hd,
		"gate_proj": s.Hidden, "up_proj": s.Hidden, "down_proj": s.Intermediate,
	}
	group := map[string]string{
		"q_proj": "self_attn", "k_proj": "self_attn", "v_proj": "self_attn", "o_proj": "self_attn",
		"gate_proj": "mlp", "up_proj": "mlp", "down_proj": "mlp",
	}

	rng := rand.New(rand.NewPCG(a.Seed, a.Seed+1))
	tensors := map[string]safetensors.Tensor{}
	for i := 0; i < s.Layers; i++ {
		for _, mod := range a.Modules {
			g, ok := group[mod]
			if !ok {
				return fmt.Errorf("toy: unknown module %q", mod)
			}
			base := fmt.Sprintf("base_model.model.model.layers.%d.%s.%s", i, g, mod)
			aData := make([]float32, a.Rank*inDim[mod])
			for j := range aData {
				aData[j] = rng.Float32() - 0.5
			}
			bData := make([]float32, outDim[mod]*a.Rank)
			if !a.Zero {
				for j := range bData {
					bData[j] = rng.Float32() - 0.5
				}
			}
			tensors[base+".lora_A.weight"] = safetensors.Tensor{Shape: []int{a.Rank, inDim[mod]}, Data: aData}
			tensors[base+".lora_B.weight"] = safetensors.Tensor{Shape: []int{outDim[mod], a.Rank}, Data: bData}
		}
	}
	if err := safetensors.WriteFile(filepath.Join(dir, "adapter_model.safetensors"), tensors, nil); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "adapter_config.json"), map[string]any{
		"peft_type":               "LORA",
		"base_model_name_or_path": "toy",
		"r":                       a.Rank,
		"lora_alpha":              a.Alpha,
		"target_modules":          a.Modules,
		"bias":                    "none",
		"fan_in_fan_out":          false,
		"use_rslora":              false,
	})
}

func tokenizerJSON() map[string]any {
	vocab := make(map[string]int, 256)
	for b := 0; b < 256; b++ {
		vocab[string(byteRune(b))] = b
	}
	return map[string]any{
		"version": "1.0",
		"added_tokens": []any{
			map[string]any{"id": EndOfText, "content": "<|endoftext|>", "special": true},
			map[string]any{"id": IMStart, "content": "<|im_start|>", "special": true},
			map[string]any{"id": IMEnd, "content": "<|im_end|>", "special": true},
		},
		"normalizer": map[string]any{"type": "NFC"},
		"pre_tokenizer": map[string]any{
			"type": "Sequence",
			"pretokenizers": []any{
				map[string]any{
					"type":     "Split",
					"pattern":  map[string]any{"Regex": `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`},
					"behavior": "Isolated",
				},
				map[string]any{"type": "ByteLevel", "add_prefix_space": false, "use_regex": false},
			},
		},
		"model": map[string]any{
			"type":   "BPE",
			"vocab":  vocab,
			"merges": []any{},
		},
	}
}

// byteRune is the GPT-2 byte-level alphabet.
func byteRune(b int) rune {
	if (b >= '!' && b <= '~') || (b >= 0xa1 && b <= 0xac) || (b >= 0xae && b <= 0xff) {
		return rune(b)
	}
	n := 0
	for i := 0; i < b; i++ {
		if !((i >= '!' && i <= '~') || (i >= 0xa1 && i <= 0xac) || (i >= 0xae && i <= 0xff)) {
			n++
		}
	}
	return rune(256 + n)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
