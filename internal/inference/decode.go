package inference

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rlt-tender/tenderguide/internal/logits"
	"github.com/rlt-tender/tenderguide/internal/model"
	"github.com/rlt-tender/tenderguide/internal/tokenizer"
)

type Stats struct {
	PromptTokens    int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
	StoppedOnEOS    bool
}

// DecodeFunc runs one generation and returns only the generated ids.
type DecodeFunc func(m Model, prompt []int, p GenerationParams) ([]int, Stats, error)

var errEmptyPrompt = errors.New("empty prompt")

// maxReserve bounds the up-front allocation for generated ids.
const maxReserve = 1024

// Decode resets m, prefills prompt and generates up to p.MaxNewTokens ids.
// An EOS id ends the generation once p.MinNewTokens ids exist and is not
// included in the result. A model that runs out of context after the prompt
// ends the generation with what was produced so far. Panics raised by the
// model become errors.
func Decode(m Model, prompt []int, p GenerationParams) (out []int, stats Stats, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in decode: %v", rec)
		}
	}()
	start := time.Now()
	stats.PromptTokens = len(prompt)
	if len(prompt) == 0 {
		return nil, stats, errEmptyPrompt
	}

	m.Reset()
	var lg []float32
	for i, id := range prompt {
		lg, err = m.ForwardToken(id)
		if err != nil {
			return nil, stats, fmt.Errorf("prefill token %d: %w", i, err)
		}
	}

	sampler := logits.NewSampler(p.samplerConfig())
	reserve := min(p.MaxNewTokens, maxReserve)
	seen := make([]int, len(prompt), len(prompt)+reserve)
	copy(seen, prompt)
	out = make([]int, 0, reserve)
	for step := 0; step < p.MaxNewTokens; step++ {
		next := sampler.Sample(lg, seen, step)
		if step >= p.MinNewTokens && slices.Contains(p.EOS, next) {
			stats.StoppedOnEOS = true
			break
		}
		seen = append(seen, next)
		out = append(out, next)
		if step == p.MaxNewTokens-1 {
			break
		}
		lg, err = m.ForwardToken(next)
		if errors.Is(err, model.ErrContextFull) {
			err = nil
			break
		}
		if err != nil {
			return out, stats, fmt.Errorf("decode step %d: %w", step, err)
		}
	}

	stats.TokensGenerated = len(out)
	stats.Duration = time.Since(start)
	if s := stats.Duration.Seconds(); s > 0 {
		stats.TPS = float64(stats.TokensGenerated) / s
	}
	return out, stats, nil
}

func safeEncode(tok tokenizer.Tokenizer, text string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(text)
}

func safeDecode(tok tokenizer.Tokenizer, ids []int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return tok.Decode(ids, true)
}
