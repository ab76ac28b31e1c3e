package inference

import (
	"errors"
	"slices"

	"github.com/rlt-tender/tenderguide/internal/chat"
	"github.com/rlt-tender/tenderguide/internal/model"
	"github.com/rlt-tender/tenderguide/internal/tokenizer"
)

// Model is the stateful forward pass the decode loop drives.
type Model interface {
	Reset()
	ForwardToken(id int) ([]float32, error)
	VocabSize() int
	Close() error
}

// Handle is everything a generation needs. It is published once and not
// modified afterwards.
type Handle struct {
	Tokenizer tokenizer.Tokenizer
	Model     Model
	// EOS is deduplicated, in discovery order, and never empty.
	EOS   []int
	PadID int
	// Baseline is the neutral configuration attached at load time. Every
	// generation overrides it with explicit parameters.
	Baseline        GenerationParams
	AdapterAttached bool
	Threads         int
	// MaxContext is the number of positions the model can hold. 0 means
	// unbounded.
	MaxContext int
}

func (h *Handle) Close() error {
	if h == nil || h.Model == nil {
		return nil
	}
	return h.Model.Close()
}

// eosVocab is the tokenizer surface used to resolve end markers.
type eosVocab interface {
	TokenID(tok string) (int, bool)
	EOSToken() string
	EOSID() int
	PadID() int
}

const endOfText = "<|endoftext|>"

// EOSSet collects every id that should end a generation: the ChatML end of
// turn, <|endoftext|>, the tokenizer's eos token and id, then the ids listed
// in generation_config.json. When none resolve it falls back to the eos id,
// then the pad id, then 0.
func EOSSet(tok eosVocab, gen model.GenerationConfig) []int {
	var ids []int
	add := func(id int) {
		if id >= 0 && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, name := range []string{chat.EndOfTurn, endOfText, tok.EOSToken()} {
		if name == "" {
			continue
		}
		if id, ok := tok.TokenID(name); ok {
			add(id)
		}
	}
	add(tok.EOSID())
	for _, id := range gen.EOSTokenID {
		add(id)
	}
	if len(ids) > 0 {
		return ids
	}
	switch {
	case tok.EOSID() >= 0:
		return []int{tok.EOSID()}
	case tok.PadID() >= 0:
		return []int{tok.PadID()}
	default:
		return []int{0}
	}
}

func baselineParams(eos []int, pad int) GenerationParams {
	return GenerationParams{
		DoSample:          false,
		Temperature:       1,
		TopP:              1,
		TopK:              0,
		RepetitionPenalty: 1,
		NoRepeatNgramSize: 0,
		EOS:               slices.Clone(eos),
		PadID:             pad,
	}
}

var errNilHandle = errors.New("loader returned no handle")
