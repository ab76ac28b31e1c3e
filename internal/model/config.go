package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

const ConfigFileName = "config.json"

var ErrUnsupported = errors.New("model: unsupported checkpoint")

// Config is the subset of a Hugging Face config.json needed to run a
// Llama-family decoder (llama, mistral, qwen2).
type Config struct {
	ModelType         string       `json:"model_type"`
	Architectures     []string     `json:"architectures"`
	HiddenSize        int          `json:"hidden_size"`
	IntermediateSize  int          `json:"intermediate_size"`
	NumHiddenLayers   int          `json:"num_hidden_layers"`
	NumAttentionHeads int          `json:"num_attention_heads"`
	NumKeyValueHeads  int          `json:"num_key_value_heads"`
	HeadDim           int          `json:"head_dim"`
	RMSNormEps        float64      `json:"rms_norm_eps"`
	RopeTheta         float64      `json:"rope_theta"`
	RopeScaling       *RopeScaling `json:"rope_scaling"`
	VocabSize         int          `json:"vocab_size"`
	MaxPosition       int          `json:"max_position_embeddings"`
	TieWordEmbeddings bool         `json:"tie_word_embeddings"`
	AttentionBias     *bool        `json:"attention_bias"`
	MLPBias           bool         `json:"mlp_bias"`
	TorchDType        string       `json:"torch_dtype"`
	BOSTokenID        *int         `json:"bos_token_id"`
	EOSTokenID        TokenIDs     `json:"eos_token_id"`
}

type RopeScaling struct {
	Type                          string  `json:"type"`
	RopeType                      string  `json:"rope_type"`
	Factor                        float64 `json:"factor"`
	OriginalMaxPositionEmbeddings int     `json:"original_max_position_embeddings"`
	LowFreqFactor                 float64 `json:"low_freq_factor"`
	HighFreqFactor                float64 `json:"high_freq_factor"`
}

func (r *RopeScaling) kind() string {
	if r == nil {
		return "default"
	}
	k := strings.ToLower(strings.TrimSpace(r.RopeType))
	if k == "" {
		k = strings.ToLower(strings.TrimSpace(r.Type))
	}
	if k == "" {
		k = "default"
	}
	return k
}

// LoadConfig reads dir/config.json.
func LoadConfig(dir string) (Config, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(raw)
}

// ParseConfig decodes config.json, fills derived defaults and validates the
// result.
func ParseConfig(raw []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("parse config.json: %w", err)
	}
	switch c.ModelType {
	case "qwen2", "llama", "mistral":
	default:
		return Config{}, fmt.Errorf("%w: model_type %q", ErrUnsupported, c.ModelType)
	}
	if c.NumKeyValueHeads == 0 {
		c.NumKeyValueHeads = c.NumAttentionHeads
	}
	if c.HeadDim == 0 && c.NumAttentionHeads > 0 {
		c.HeadDim = c.HiddenSize / c.NumAttentionHeads
	}
	if c.RMSNormEps == 0 {
		c.RMSNormEps = 1e-6
	}
	if c.RopeTheta == 0 {
		c.RopeTheta = 10000
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch {
	case c.HiddenSize <= 0, c.IntermediateSize <= 0, c.NumHiddenLayers <= 0, c.VocabSize <= 0:
		return fmt.Errorf("%w: non-positive dimension in config", ErrUnsupported)
	case c.NumAttentionHeads <= 0 || c.NumKeyValueHeads <= 0:
		return fmt.Errorf("%w: head counts %d/%d", ErrUnsupported, c.NumAttentionHeads, c.NumKeyValueHeads)
	case c.NumAttentionHeads%c.NumKeyValueHeads != 0:
		return fmt.Errorf("%w: %d attention heads not divisible by %d kv heads", ErrUnsupported, c.NumAttentionHeads, c.NumKeyValueHeads)
	case c.HeadDim <= 0 || c.HeadDim%2 != 0:
		return fmt.Errorf("%w: head_dim %d", ErrUnsupported, c.HeadDim)
	}
	switch k := c.RopeScaling.kind(); k {
	case "default":
	case "linear":
		if c.RopeScaling.Factor <= 0 {
			return fmt.Errorf("%w: linear rope_scaling without factor", ErrUnsupported)
		}
	case "llama3":
		r := c.RopeScaling
		if r.Factor <= 0 || r.OriginalMaxPositionEmbeddings <= 0 || r.LowFreqFactor <= 0 || r.HighFreqFactor <= r.LowFreqFactor {
			return fmt.Errorf("%w: incomplete llama3 rope_scaling", ErrUnsupported)
		}
	default:
		return fmt.Errorf("%w: rope_scaling type %q", ErrUnsupported, k)
	}
	return nil
}

// QKVBias reports whether q/k/v projections carry a bias. Qwen2 always
// does; Llama and Mistral follow attention_bias.
func (c Config) QKVBias() bool {
	if c.AttentionBias != nil {
		return *c.AttentionBias
	}
	return c.ModelType == "qwen2"
}

// OutputBias reports whether o_proj carries a bias.
func (c Config) OutputBias() bool {
	return c.ModelType != "qwen2" && c.AttentionBias != nil && *c.AttentionBias
}

// InvFreq returns the rotary inverse frequencies after rope_scaling.
func (c Config) InvFreq() []float64 {
	half := c.HeadDim / 2
	inv := make([]float64, half)
	for i := range inv {
		inv[i] = 1 / math.Pow(c.RopeTheta, float64(2*i)/float64(c.HeadDim))
	}
	r := c.RopeScaling
	switch r.kind() {
	case "linear":
		for i := range inv {
			inv[i] /= r.Factor
		}
	case "llama3":
		old := float64(r.OriginalMaxPositionEmbeddings)
		lowWavelen := old / r.LowFreqFactor
		highWavelen := old / r.HighFreqFactor
		for i, f := range inv {
			wavelen := 2 * math.Pi / f
			switch {
			case wavelen < highWavelen:
			case wavelen > lowWavelen:
				inv[i] = f / r.Factor
			default:
				smooth := (old/wavelen - r.LowFreqFactor) / (r.HighFreqFactor - r.LowFreqFactor)
				inv[i] = (1-smooth)*f/r.Factor + smooth*f
			}
		}
	}
	return inv
}

// TokenIDs decodes a token id field that may be a single integer, a list,
// or null.
type TokenIDs []int

func (t *TokenIDs) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null" || s == "":
		*t = nil
		return nil
	case strings.HasPrefix(s, "["):
		var ids []int
		if err := json.Unmarshal(b, &ids); err != nil {
			return err
		}
		*t = ids
		return nil
	default:
		var id int
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*t = TokenIDs{id}
		return nil
	}
}
