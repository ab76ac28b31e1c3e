package logits

import (
	"math"
	"math/rand/v2"
	"slices"
)

// Config holds the decode-time processing parameters for one generation.
type Config struct {
	DoSample          bool
	Temperature       float32
	TopK              int // 0 disables top-k
	TopP              float32
	RepetitionPenalty float32
	NoRepeatNgramSize int
	MinNewTokens      int
	EOS               []int
	Seed              uint64
}

// Sampler runs the processor chain in Hugging Face order:
//
//	repetition penalty → no-repeat n-gram → min-new-tokens EOS ban →
//	argmax, or temperature → top-k → top-p → multinomial draw
//
// A Sampler holds per-generation scratch and must not be shared between
// concurrent generations.
type Sampler struct {
	cfg     Config
	rng     *rand.Rand
	penalty penaltyScratch
	order   []int
	prob    []float64
}

func NewSampler(cfg Config) *Sampler {
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.TopK < 0 {
		cfg.TopK = 0
	}
	return &Sampler{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Sampler) Config() Config { return s.cfg }

// Sample modifies logits in place and returns the chosen id. context is the
// prompt plus everything generated so far; generated is how many of those
// were produced by this generation.
func (s *Sampler) Sample(logits []float32, context []int, generated int) int {
	applyRepetitionPenalty(&s.penalty, logits, context, s.cfg.RepetitionPenalty)
	NoRepeatNgram(logits, context, s.cfg.NoRepeatNgramSize)
	if generated < s.cfg.MinNewTokens {
		SuppressTokens(logits, s.cfg.EOS)
	}
	if !s.cfg.DoSample {
		return Argmax(logits)
	}
	return s.draw(logits)
}

func (s *Sampler) draw(logits []float32) int {
	inv := 1 / s.cfg.Temperature
	maxv := negInf
	for i := range logits {
		logits[i] *= inv
		if logits[i] > maxv {
			maxv = logits[i]
		}
	}
	if math.IsInf(float64(maxv), -1) {
		return Argmax(logits)
	}

	// Candidates sorted by descending logit, finite only.
	s.order = s.order[:0]
	for i, v := range logits {
		if !math.IsInf(float64(v), -1) {
			s.order = append(s.order, i)
		}
	}
	slices.SortFunc(s.order, func(a, b int) int {
		switch {
		case logits[a] > logits[b]:
			return -1
		case logits[a] < logits[b]:
			return 1
		default:
			return a - b
		}
	})
	if k := s.cfg.TopK; k > 0 && k < len(s.order) {
		s.order = s.order[:k]
	}

	if cap(s.prob) < len(s.order) {
		s.prob = make([]float64, len(s.order))
	}
	prob := s.prob[:len(s.order)]
	var sum float64
	for i, id := range s.order {
		prob[i] = math.Exp(float64(logits[id] - maxv))
		sum += prob[i]
	}
	for i := range prob {
		prob[i] /= sum
	}

	// Keep the smallest prefix whose mass reaches TopP, at least one token.
	keep := len(prob)
	if s.cfg.TopP < 1 {
		var cum float64
		for i, p := range prob {
			cum += p
			if cum >= float64(s.cfg.TopP) {
				keep = i + 1
				break
			}
		}
	}
	prob = prob[:keep]
	var mass float64
	for _, p := range prob {
		mass += p
	}

	r := s.rng.Float64() * mass
	for i, p := range prob {
		r -= p
		if r < 0 {
			return s.order[i]
		}
	}
	return s.order[keep-1]
}
