// Package logits applies Hugging Face generate-style logits processors and
// picks the next token.
package logits

import "math"

var negInf = float32(math.Inf(-1))

// penaltyScratch deduplicates context ids without clearing a vocab-sized
// buffer on every step.
type penaltyScratch struct {
	mark  []uint32
	epoch uint32
}

func (p *penaltyScratch) reset(vocab int) {
	if len(p.mark) < vocab {
		p.mark = make([]uint32, vocab)
		p.epoch = 0
	}
	p.epoch++
	if p.epoch == 0 {
		clear(p.mark)
		p.epoch = 1
	}
}

// first reports whether id is seen for the first time since reset.
func (p *penaltyScratch) first(id int) bool {
	if p.mark[id] == p.epoch {
		return false
	}
	p.mark[id] = p.epoch
	return true
}

// RepetitionPenalty penalises every distinct id in context once: positive
// logits are divided by penalty and negative ones multiplied. A penalty of 1
// or less is a no-op.
func RepetitionPenalty(logits []float32, context []int, penalty float32) {
	var p penaltyScratch
	applyRepetitionPenalty(&p, logits, context, penalty)
}

func applyRepetitionPenalty(p *penaltyScratch, logits []float32, context []int, penalty float32) {
	if penalty <= 0 || penalty == 1 || len(context) == 0 {
		return
	}
	p.reset(len(logits))
	for _, id := range context {
		if id < 0 || id >= len(logits) || !p.first(id) {
			continue
		}
		if logits[id] > 0 {
			logits[id] /= penalty
		} else {
			logits[id] *= penalty
		}
	}
}

// NoRepeatNgram bans every token that would complete an n-gram already
// present in context. n < 1 disables it.
func NoRepeatNgram(logits []float32, context []int, n int) {
	if n < 1 || len(context)+1 < n {
		return
	}
	if n == 1 {
		for _, id := range context {
			if id >= 0 && id < len(logits) {
				logits[id] = negInf
			}
		}
		return
	}
	prefix := context[len(context)-(n-1):]
	for start := 0; start+n <= len(context); start++ {
		if !equalInts(context[start:start+n-1], prefix) {
			continue
		}
		if id := context[start+n-1]; id >= 0 && id < len(logits) {
			logits[id] = negInf
		}
	}
}

// SuppressTokens drives the given ids to -Inf.
func SuppressTokens(logits []float32, ids []int) {
	for _, id := range ids {
		if id >= 0 && id < len(logits) {
			logits[id] = negInf
		}
	}
}

// Argmax returns the index of the largest logit; ties resolve to the lowest
// index.
func Argmax(logits []float32) int {
	best := 0
	bestV := negInf
	for i, v := range logits {
		if v > bestV {
			best, bestV = i, v
		}
	}
	return best
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
