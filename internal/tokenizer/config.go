package tokenizer

import (
	"bytes"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// Config is the subset of tokenizer_config.json the runtime uses.
type Config struct {
	AddBOS         bool        `json:"add_bos_token"`
	AddEOS         bool        `json:"add_eos_token"`
	BOSToken       TokenField  `json:"bos_token"`
	EOSToken       TokenField  `json:"eos_token"`
	PadToken       TokenField  `json:"pad_token"`
	UnkToken       TokenField  `json:"unk_token"`
	ChatTemplate   string      `json:"chat_template"`
	ModelMaxLength float64     `json:"model_max_length"`
	PaddingSide    PaddingSide `json:"padding_side"`
}

// TokenField accepts either "<tok>" or {"content": "<tok>", ...}. A JSON
// null leaves it empty.
type TokenField string

func (f *TokenField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = TokenField(s)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("token field: %w", err)
	}
	*f = TokenField(obj.Content)
	return nil
}

func (f TokenField) String() string { return string(f) }

// LoadConfig reads tokenizer_config.json. A missing file yields a zero
// Config and no error; many checkpoints ship without one.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
