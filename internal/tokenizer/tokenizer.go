// Package tokenizer implements the Hugging Face byte-level BPE tokenizer
// used by Qwen2 and Llama-family checkpoints.
package tokenizer

// Tokenizer is the part of a tokenizer the inference path depends on.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	// Decode maps ids back to text. With skipSpecial set, added special
	// tokens such as <|im_end|> are dropped from the output.
	Decode(ids []int, skipSpecial bool) (string, error)
}

// PaddingSide selects where PadBatch inserts pad tokens.
type PaddingSide string

const (
	PadRight PaddingSide = "right"
	PadLeft  PaddingSide = "left"
)
