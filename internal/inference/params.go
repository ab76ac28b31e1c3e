package inference

import (
	"fmt"
	"slices"

	"github.com/rlt-tender/tenderguide/internal/logits"
)

// GenerationParams is what the decode loop runs with.
type GenerationParams struct {
	DoSample          bool
	Temperature       float32
	TopP              float32
	TopK              int // 0 disables top-k
	RepetitionPenalty float32
	NoRepeatNgramSize int
	MinNewTokens      int
	MaxNewTokens      int
	EOS               []int
	PadID             int
	Seed              uint64
}

const (
	deterministicPenalty = 1.05
	deterministicNgram   = 4
	samplingPenalty      = 1.12
	samplingNgram        = 6
)

// ParamsFor maps a request onto decode parameters for the given handle.
func ParamsFor(req Request, h *Handle) GenerationParams {
	p := GenerationParams{
		EOS:   slices.Clone(h.EOS),
		PadID: h.PadID,
	}
	p.MaxNewTokens, p.MinNewTokens = clampBounds(req.MaxNewTokens, req.MinNewTokens)
	if req.Deterministic {
		p.RepetitionPenalty = deterministicPenalty
		p.NoRepeatNgramSize = deterministicNgram
		return p
	}
	p.DoSample = true
	p.Temperature = req.Temperature
	p.TopP = req.TopP
	p.RepetitionPenalty = samplingPenalty
	p.NoRepeatNgramSize = samplingNgram
	return p
}

// clampBounds keeps 0 <= min <= max.
func clampBounds(maxNew, minNew int) (int, int) {
	maxNew = max(0, maxNew)
	minNew = min(max(0, minNew), maxNew)
	return maxNew, minNew
}

// fitContext caps the token bounds so that prompt and answer fit in maxCtx
// positions. The last sampled token is never fed back, so a prompt of n
// tokens leaves room for maxCtx-n+1 new ones. maxCtx 0 leaves p unchanged.
func fitContext(p GenerationParams, promptLen, maxCtx int) (GenerationParams, error) {
	if maxCtx <= 0 {
		return p, nil
	}
	if promptLen > maxCtx {
		return p, fmt.Errorf("%w: prompt of %d tokens exceeds context of %d", ErrGeneration, promptLen, maxCtx)
	}
	room := maxCtx - promptLen + 1
	p.MaxNewTokens = min(p.MaxNewTokens, room)
	p.MinNewTokens = min(p.MinNewTokens, p.MaxNewTokens)
	return p, nil
}

func (p GenerationParams) mode() string {
	if p.DoSample {
		return "sampling"
	}
	return "deterministic"
}

func (p GenerationParams) samplerConfig() logits.Config {
	return logits.Config{
		DoSample:          p.DoSample,
		Temperature:       p.Temperature,
		TopP:              p.TopP,
		TopK:              p.TopK,
		RepetitionPenalty: p.RepetitionPenalty,
		NoRepeatNgramSize: p.NoRepeatNgramSize,
		MinNewTokens:      p.MinNewTokens,
		EOS:               p.EOS,
		Seed:              p.Seed,
	}
}
