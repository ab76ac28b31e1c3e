package logits

import (
	"math"
	"testing"
)

func TestRepetitionPenaltySignAware(t *testing.T) {
	t.Parallel()
	logits := []float32{2, -2, 4, 1}
	RepetitionPenalty(logits, []int{0, 1, 0, 1}, 2)
	want := []float32{1, -4, 4, 1}
	for i := range want {
		if logits[i] != want[i] {
			t.Fatalf("logits = %v, want %v", logits, want)
		}
	}
}

func TestRepetitionPenaltyNoop(t *testing.T) {
	t.Parallel()
	logits := []float32{2, -2}
	RepetitionPenalty(logits, []int{0, 1}, 1)
	if logits[0] != 2 || logits[1] != -2 {
		t.Fatalf("penalty 1 changed logits: %v", logits)
	}
}

func TestNoRepeatNgram(t *testing.T) {
	t.Parallel()
	// Context 5 6 7 ... 5 6: a 3-gram "5 6 7" exists, so 7 is banned after "5 6".
	logits := make([]float32, 10)
	NoRepeatNgram(logits, []int{5, 6, 7, 1, 5, 6}, 3)
	for i, v := range logits {
		banned := math.IsInf(float64(v), -1)
		if banned != (i == 7) {
			t.Fatalf("token %d banned=%v", i, banned)
		}
	}

	logits = make([]float32, 10)
	NoRepeatNgram(logits, []int{5, 6}, 3)
	for _, v := range logits {
		if v != 0 {
			t.Fatal("context shorter than n-1 must not ban")
		}
	}

	logits = make([]float32, 4)
	NoRepeatNgram(logits, []int{2, 2, 3}, 1)
	if !math.IsInf(float64(logits[2]), -1) || !math.IsInf(float64(logits[3]), -1) || logits[0] != 0 {
		t.Fatalf("unigram ban = %v", logits)
	}
}

func TestGreedyRespectsMinNewTokens(t *testing.T) {
	t.Parallel()
	s := NewSampler(Config{EOS: []int{3}, MinNewTokens: 2})
	logits := []float32{0, 1, 2, 10}
	if got := s.Sample(append([]float32(nil), logits...), nil, 0); got != 2 {
		t.Fatalf("EOS chosen before min tokens: %d", got)
	}
	if got := s.Sample(append([]float32(nil), logits...), nil, 2); got != 3 {
		t.Fatalf("EOS not chosen once min reached: %d", got)
	}
}

func TestSamplingIsSeeded(t *testing.T) {
	t.Parallel()
	base := []float32{1, 1.1, 0.9, 1.05, 0.95, 1.02}
	run := func(seed uint64) []int {
		s := NewSampler(Config{DoSample: true, Temperature: 0.8, TopP: 0.95, Seed: seed})
		out := make([]int, 32)
		for i := range out {
			out[i] = s.Sample(append([]float32(nil), base...), nil, i)
		}
		return out
	}
	a, b := run(7), run(7)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at %d: %v vs %v", i, a, b)
		}
	}
}

func TestTopKOneIsArgmax(t *testing.T) {
	t.Parallel()
	s := NewSampler(Config{DoSample: true, TopK: 1, Seed: 1})
	for i := 0; i < 20; i++ {
		if got := s.Sample([]float32{0.1, 3, 2.9}, nil, i); got != 1 {
			t.Fatalf("top-k 1 sampled %d", got)
		}
	}
}

func TestTopPKeepsSmallestNucleus(t *testing.T) {
	t.Parallel()
	// One dominant token with ~0.98 of the mass: top-p 0.9 keeps only it.
	s := NewSampler(Config{DoSample: true, TopP: 0.9, Seed: 3})
	for i := 0; i < 50; i++ {
		if got := s.Sample([]float32{10, 5, 5, 0}, nil, i); got != 0 {
			t.Fatalf("top-p sampled tail token %d", got)
		}
	}
}

func TestSampleNeverPicksBanned(t *testing.T) {
	t.Parallel()
	s := NewSampler(Config{DoSample: true, NoRepeatNgramSize: 2, Seed: 11})
	for i := 0; i < 50; i++ {
		// Context ends with 1 and "1 2" occurred, so 2 is banned.
		got := s.Sample([]float32{0, 0, 5, 0}, []int{1, 2, 0, 1}, 4)
		if got == 2 {
			t.Fatal("sampled a banned token")
		}
	}
}

func TestArgmaxTies(t *testing.T) {
	t.Parallel()
	if got := Argmax([]float32{1, 3, 3}); got != 1 {
		t.Fatalf("Argmax = %d", got)
	}
}
