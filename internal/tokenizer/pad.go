package tokenizer

import "errors"

var ErrNoPadToken = errors.New("tokenizer: no pad token configured")

// Batch is a padded set of sequences with its attention mask.
type Batch struct {
	IDs  [][]int
	Mask [][]int
}

// PadBatch pads seqs to the length of the longest one on the configured
// side. Mask entries are 1 for real tokens and 0 for padding.
func (t *HFTokenizer) PadBatch(seqs [][]int) (Batch, error) {
	if t.padID < 0 {
		return Batch{}, ErrNoPadToken
	}
	width := 0
	for _, s := range seqs {
		width = max(width, len(s))
	}
	b := Batch{IDs: make([][]int, len(seqs)), Mask: make([][]int, len(seqs))}
	for i, s := range seqs {
		ids := make([]int, width)
		mask := make([]int, width)
		off := 0
		if t.paddingSide == PadLeft {
			off = width - len(s)
		}
		for j := range ids {
			ids[j] = t.padID
		}
		copy(ids[off:], s)
		for j := off; j < off+len(s); j++ {
			mask[j] = 1
		}
		b.IDs[i], b.Mask[i] = ids, mask
	}
	return b, nil
}
