package model

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/rlt-tender/tenderguide/internal/safetensors"
	"github.com/rlt-tender/tenderguide/internal/tensor"
)

const (
	AdapterConfigFileName  = "adapter_config.json"
	AdapterWeightsFileName = "adapter_model.safetensors"
)

var ErrAdapter = errors.New("model: invalid adapter")

// AdapterConfig is the PEFT adapter_config.json subset used for LoRA.
type AdapterConfig struct {
	PeftType      string             `json:"peft_type"`
	BaseModel     string             `json:"base_model_name_or_path"`
	R             int                `json:"r"`
	LoraAlpha     float64            `json:"lora_alpha"`
	UseRSLoRA     bool               `json:"use_rslora"`
	FanInFanOut   bool               `json:"fan_in_fan_out"`
	Bias          string             `json:"bias"`
	TargetModules TargetModules      `json:"target_modules"`
	RankPattern   map[string]int     `json:"rank_pattern"`
	AlphaPattern  map[string]float64 `json:"alpha_pattern"`
}

// TargetModules is either a list of module name suffixes or a single regex
// that must match the full module name.
type TargetModules struct {
	Names []string
	Regex string
}

func (t *TargetModules) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = TargetModules{}
	case b[0] == '"':
		return json.Unmarshal(b, &t.Regex)
	default:
		return json.Unmarshal(b, &t.Names)
	}
	return nil
}

// Matches reports whether module is targeted. An empty selector targets
// everything.
func (t TargetModules) Matches(module string) bool {
	if t.Regex != "" {
		re, err := regexp.Compile(`^(?:` + t.Regex + `)$`)
		return err == nil && re.MatchString(module)
	}
	if len(t.Names) == 0 {
		return true
	}
	for _, n := range t.Names {
		if module == n || strings.HasSuffix(module, "."+n) {
			return true
		}
	}
	return false
}

// ScaleFor returns the overlay multiplier for module after rank_pattern and
// alpha_pattern overrides, and the rank it expects.
func (c AdapterConfig) ScaleFor(module string) (float32, int) {
	r := c.R
	if k, ok := patternKey(c.RankPattern, module); ok {
		r = c.RankPattern[k]
	}
	alpha := c.LoraAlpha
	if k, ok := patternKey(c.AlphaPattern, module); ok {
		alpha = c.AlphaPattern[k]
	}
	if r <= 0 {
		return 0, r
	}
	if c.UseRSLoRA {
		return float32(alpha / math.Sqrt(float64(r))), r
	}
	return float32(alpha / float64(r)), r
}

// patternKey picks the pattern that matches module as a dotted suffix,
// preferring the longest when several do.
func patternKey[V any](patterns map[string]V, module string) (string, bool) {
	keys := make([]string, 0, len(patterns))
	for k := range patterns {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		re, err := regexp.Compile(`^(?:.*\.)?` + k + `$`)
		if err == nil && re.MatchString(module) {
			return k, true
		}
	}
	return "", false
}

// Adapter is a loaded set of LoRA pairs keyed by base-model module name,
// e.g. "model.layers.0.self_attn.q_proj".
type Adapter struct {
	Dir    string
	Config AdapterConfig
	Pairs  map[string]*LoRA
}

// Modules returns the adapted module names in sorted order.
func (a *Adapter) Modules() []string {
	out := make([]string, 0, len(a.Pairs))
	for k := range a.Pairs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadAdapter reads a PEFT LoRA adapter from dir.
func LoadAdapter(dir string) (*Adapter, error) {
	raw, err := os.ReadFile(filepath.Join(dir, AdapterConfigFileName))
	if err != nil {
		return nil, err
	}
	var cfg AdapterConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", AdapterConfigFileName, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	weights := filepath.Join(dir, AdapterWeightsFileName)
	if _, err := os.Stat(weights); err != nil {
		if _, binErr := os.Stat(filepath.Join(dir, "adapter_model.bin")); binErr == nil {
			return nil, fmt.Errorf("%w: %s: only safetensors adapters are supported", ErrAdapter, dir)
		}
		return nil, err
	}
	f, err := safetensors.Open(weights)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	a := &Adapter{Dir: dir, Config: cfg, Pairs: make(map[string]*LoRA)}
	for _, name := range f.Names() {
		module, part, err := splitAdapterKey(name)
		if err != nil {
			return nil, err
		}
		data, info, err := f.ReadTensorF32(name)
		if err != nil {
			return nil, err
		}
		if len(info.Shape) != 2 {
			return nil, fmt.Errorf("%w: %s has shape %v", ErrAdapter, name, info.Shape)
		}
		mat, err := tensor.FromData(info.Shape[0], info.Shape[1], data)
		if err != nil {
			return nil, err
		}
		p := a.Pairs[module]
		if p == nil {
			p = &LoRA{}
			a.Pairs[module] = p
		}
		if part == "A" {
			p.A = mat
		} else {
			p.B = mat
		}
	}
	if len(a.Pairs) == 0 {
		return nil, fmt.Errorf("%w: %s holds no LoRA tensors", ErrAdapter, weights)
	}

	for module, p := range a.Pairs {
		if p.A == nil || p.B == nil {
			return nil, fmt.Errorf("%w: %s lacks lora_A or lora_B", ErrAdapter, module)
		}
		if !cfg.TargetModules.Matches(module) {
			return nil, fmt.Errorf("%w: %s is not in target_modules", ErrAdapter, module)
		}
		scale, r := cfg.ScaleFor(module)
		if p.A.R != r || p.B.C != r {
			return nil, fmt.Errorf("%w: %s rank is %d/%d, config says %d", ErrAdapter, module, p.A.R, p.B.C, r)
		}
		p.Scale = scale
	}
	return a, nil
}

func (c AdapterConfig) validate() error {
	switch {
	case c.PeftType != "" && !strings.EqualFold(c.PeftType, "LORA"):
		return fmt.Errorf("%w: peft_type %q", ErrAdapter, c.PeftType)
	case c.R <= 0:
		return fmt.Errorf("%w: r must be positive", ErrAdapter)
	case c.FanInFanOut:
		return fmt.Errorf("%w: fan_in_fan_out adapters target Conv1D layers", ErrAdapter)
	case c.Bias != "" && c.Bias != "none":
		return fmt.Errorf("%w: bias %q", ErrAdapter, c.Bias)
	}
	return nil
}

// splitAdapterKey turns "base_model.model.<module>.lora_A[.default].weight"
// into (<module>, "A").
func splitAdapterKey(key string) (module, part string, err error) {
	rest, ok := strings.CutPrefix(key, "base_model.model.")
	if !ok {
		return "", "", fmt.Errorf("%w: unexpected tensor %s", ErrAdapter, key)
	}
	rest, ok = strings.CutSuffix(rest, ".weight")
	if !ok {
		return "", "", fmt.Errorf("%w: unexpected tensor %s", ErrAdapter, key)
	}
	rest = strings.TrimSuffix(rest, ".default")
	switch {
	case strings.HasSuffix(rest, ".lora_A"):
		return strings.TrimSuffix(rest, ".lora_A"), "A", nil
	case strings.HasSuffix(rest, ".lora_B"):
		return strings.TrimSuffix(rest, ".lora_B"), "B", nil
	}
	return "", "", fmt.Errorf("%w: unsupported tensor %s", ErrAdapter, key)
}

// AttachAdapter overlays every pair of a onto the matching projection. The
// base weights are left untouched. On error nothing is attached.
func (m *Instance) AttachAdapter(a *Adapter) error {
	if m.adapter != nil {
		return fmt.Errorf("%w: an adapter is already attached", ErrAdapter)
	}
	for _, module := range a.Modules() {
		p := a.Pairs[module]
		lin, ok := m.linears[module]
		if !ok {
			return fmt.Errorf("%w: %s has no matching projection in the base model", ErrAdapter, module)
		}
		if p.A.C != lin.In() || p.B.R != lin.Out() {
			return fmt.Errorf("%w: %s pair is %dx%d→%dx%d, projection is %dx%d",
				ErrAdapter, module, p.A.R, p.A.C, p.B.R, p.B.C, lin.Out(), lin.In())
		}
	}
	for module, p := range a.Pairs {
		m.linears[module].LoRA = p
	}
	m.adapter = a
	return nil
}

// DetachAdapter removes the overlay, restoring base-model outputs.
func (m *Instance) DetachAdapter() {
	for _, lin := range m.linears {
		lin.LoRA = nil
	}
	m.adapter = nil
}

// Adapter returns the attached adapter, or nil.
func (m *Instance) Adapter() *Adapter { return m.adapter }
