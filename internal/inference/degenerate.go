package inference

// DegeneratePolicy decides when decoded text is too short or too repetitive
// to return. Lengths are counted in runes.
type DegeneratePolicy struct {
	MinChars    int
	MinDistinct int
}

func DefaultDegeneratePolicy() DegeneratePolicy {
	return DegeneratePolicy{MinChars: 3, MinDistinct: 4}
}

func (p DegeneratePolicy) Degenerate(text string) bool {
	n := 0
	seen := make(map[rune]struct{}, p.MinDistinct)
	for _, r := range text {
		n++
		if len(seen) < p.MinDistinct {
			seen[r] = struct{}{}
		}
	}
	return n < p.MinChars || len(seen) < p.MinDistinct
}

// RetryPolicy is the sampling setup of the single fallback generation.
type RetryPolicy struct {
	Temperature       float32
	TopP              float32
	RepetitionPenalty float32
	NoRepeatNgramSize int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Temperature:       0.85,
		TopP:              0.95,
		RepetitionPenalty: 1.15,
		NoRepeatNgramSize: 6,
	}
}

// Apply forces p into sampling mode with the retry parameters. Length
// bounds, EOS and pad id are kept.
func (r RetryPolicy) Apply(p GenerationParams) GenerationParams {
	p.DoSample = true
	p.Temperature = r.Temperature
	p.TopP = r.TopP
	p.TopK = 0
	p.RepetitionPenalty = r.RepetitionPenalty
	p.NoRepeatNgramSize = r.NoRepeatNgramSize
	return p
}
