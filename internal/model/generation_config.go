package model

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

const GenerationConfigFileName = "generation_config.json"

// GenerationConfig mirrors generation_config.json. Pointer fields are nil
// when the file does not set them.
type GenerationConfig struct {
	BOSTokenID        *int     `json:"bos_token_id"`
	EOSTokenID        TokenIDs `json:"eos_token_id"`
	PadTokenID        *int     `json:"pad_token_id"`
	DoSample          *bool    `json:"do_sample"`
	Temperature       *float32 `json:"temperature"`
	TopP              *float32 `json:"top_p"`
	TopK              *int     `json:"top_k"`
	RepetitionPenalty *float32 `json:"repetition_penalty"`
}

// ReadGenerationConfig loads dir/generation_config.json. A missing file is
// not an error and yields an empty config.
func ReadGenerationConfig(dir string) (GenerationConfig, error) {
	var g GenerationConfig
	path := filepath.Join(dir, GenerationConfigFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return g, err
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return g, fmt.Errorf("parse %s: %w", path, err)
	}
	return g, nil
}
