package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/text/unicode/norm"
)

const (
	FileName       = "tokenizer.json"
	ConfigFileName = "tokenizer_config.json"
)

var ErrUnknownToken = errors.New("tokenizer: unknown token")

// HFTokenizer is a byte-level BPE tokenizer built from tokenizer.json. It is
// safe for concurrent Encode and Decode calls once configured.
type HFTokenizer struct {
	vocab   map[string]int
	decoder []string
	merges  merges
	bytes   *byteTable
	split   *splitter
	nfc     bool

	added    []string
	addedSet map[string]bool
	special  map[int]bool

	addBOS, addEOS bool
	bosID, eosID   int
	unkID          int
	eosToken       string
	padToken       string
	padID          int
	paddingSide    PaddingSide
	chatTemplate   string
	ignoreMerges   bool

	cache *ttlcache.Cache[string, []int]
}

// pieceCacheSize bounds the number of encoded pretokenized pieces kept.
const pieceCacheSize = 1 << 16

// newPieceCache returns an LRU of encoded pieces without expiry.
func newPieceCache(capacity uint64) *ttlcache.Cache[string, []int] {
	return ttlcache.New[string, []int](
		ttlcache.WithCapacity[string, []int](capacity),
	)
}

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	Normalizer   *normalizerJSON   `json:"normalizer"`
	PreTokenizer *preTokenizerJSON `json:"pre_tokenizer"`
	AddedTokens  []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type normalizerJSON struct {
	Type        string           `json:"type"`
	Normalizers []normalizerJSON `json:"normalizers"`
}

type preTokenizerJSON struct {
	Type    string `json:"type"`
	Pattern struct {
		Regex  string `json:"Regex"`
		String string `json:"String"`
	} `json:"pattern"`
	UseRegex      *bool              `json:"use_regex"`
	Pretokenizers []preTokenizerJSON `json:"pretokenizers"`
}

// Load reads tokenizer.json and tokenizer_config.json from dir.
func Load(dir string) (*HFTokenizer, error) {
	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(filepath.Join(dir, ConfigFileName))
	if err != nil {
		return nil, err
	}
	return LoadBytes(raw, cfg)
}

// LoadBytes builds a tokenizer from tokenizer.json contents and a parsed
// tokenizer_config.json.
func LoadBytes(tokJSON []byte, cfg Config) (*HFTokenizer, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if !strings.EqualFold(tj.Model.Type, "BPE") {
		return nil, fmt.Errorf("unsupported tokenizer model %q", tj.Model.Type)
	}

	t := &HFTokenizer{
		vocab:        make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens)),
		merges:       parseMerges(tj.Model.Merges),
		bytes:        newByteTable(),
		special:      make(map[int]bool),
		addedSet:     make(map[string]bool),
		addBOS:       cfg.AddBOS,
		addEOS:       cfg.AddEOS,
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
		padID:        -1,
		paddingSide:  cfg.PaddingSide,
		chatTemplate: cfg.ChatTemplate,
		ignoreMerges: tj.Model.IgnoreMerges,
		nfc:          hasNFC(tj.Normalizer),
		cache:        newPieceCache(pieceCacheSize),
	}
	if t.paddingSide == "" {
		t.paddingSide = PadRight
	}

	maxID := -1
	for tok, id := range tj.Model.Vocab {
		t.vocab[tok] = id
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		maxID = max(maxID, at.ID)
	}
	t.decoder = make([]string, maxID+1)
	for tok, id := range tj.Model.Vocab {
		if id >= 0 {
			t.decoder[id] = tok
		}
	}
	for _, at := range tj.AddedTokens {
		if at.ID < 0 || at.Content == "" {
			continue
		}
		t.vocab[at.Content] = at.ID
		t.decoder[at.ID] = at.Content
		if !t.addedSet[at.Content] {
			t.added = append(t.added, at.Content)
			t.addedSet[at.Content] = true
		}
		if at.Special {
			t.special[at.ID] = true
		}
	}
	// Longest first so "<|im_end|>" wins over any prefix of it.
	sort.SliceStable(t.added, func(i, j int) bool { return len(t.added[i]) > len(t.added[j]) })

	pattern := gpt2Pattern
	if re, ok := splitPattern(tj.PreTokenizer); ok {
		pattern = re
	}
	split, err := newSplitter(pattern)
	if err != nil {
		return nil, err
	}
	t.split = split

	if tok := cfg.BOSToken.String(); tok != "" {
		t.bosID = t.lookup(tok)
	}
	if tok := cfg.EOSToken.String(); tok != "" {
		t.eosToken = tok
		t.eosID = t.lookup(tok)
	}
	if tok := cfg.PadToken.String(); tok != "" {
		if id := t.lookup(tok); id >= 0 {
			t.padToken, t.padID = tok, id
		}
	}
	if tok := firstNonEmpty(cfg.UnkToken.String(), tj.Model.UnkToken); tok != "" {
		t.unkID = t.lookup(tok)
	}
	return t, nil
}

func hasNFC(n *normalizerJSON) bool {
	if n == nil {
		return false
	}
	if n.Type == "NFC" {
		return true
	}
	for i := range n.Normalizers {
		if hasNFC(&n.Normalizers[i]) {
			return true
		}
	}
	return false
}

// splitPattern returns the Split regex of a pre-tokenizer tree, falling back
// to the GPT-2 pattern for a regex-enabled ByteLevel step.
func splitPattern(p *preTokenizerJSON) (string, bool) {
	if p == nil {
		return "", false
	}
	switch p.Type {
	case "Split":
		if p.Pattern.Regex != "" {
			return p.Pattern.Regex, true
		}
		if p.Pattern.String != "" {
			return regexp.QuoteMeta(p.Pattern.String), true
		}
	case "ByteLevel":
		if p.UseRegex == nil || *p.UseRegex {
			return gpt2Pattern, true
		}
	case "Sequence":
		for i := range p.Pretokenizers {
			if re, ok := splitPattern(&p.Pretokenizers[i]); ok {
				return re, true
			}
		}
	}
	return "", false
}

func (t *HFTokenizer) lookup(tok string) int {
	if id, ok := t.vocab[tok]; ok {
		return id
	}
	return -1
}

// Encode tokenizes text. Added tokens appearing literally in text (for
// example ChatML markers) are emitted as single ids.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	for _, part := range t.splitAdded(text) {
		if part.added {
			ids = append(ids, t.vocab[part.text])
			continue
		}
		s := part.text
		if t.nfc {
			s = norm.NFC.String(s)
		}
		for _, piece := range t.split.split(s) {
			pieceIDs, err := t.encodePiece(piece)
			if err != nil {
				return nil, err
			}
			ids = append(ids, pieceIDs...)
		}
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

func (t *HFTokenizer) encodePiece(piece string) ([]int, error) {
	if item := t.cache.Get(piece); item != nil {
		return item.Value(), nil
	}

	runes := t.bytes.encode(piece)
	if t.ignoreMerges {
		if id, ok := t.vocab[string(runes)]; ok {
			return t.remember(piece, []int{id}), nil
		}
	}
	word := make([]string, len(runes))
	for i, r := range runes {
		word[i] = string(r)
	}
	word = t.merges.apply(word)

	ids := make([]int, 0, len(word))
	for _, sym := range word {
		id, ok := t.vocab[sym]
		if !ok {
			if t.unkID < 0 {
				return nil, fmt.Errorf("%w: %q", ErrUnknownToken, sym)
			}
			id = t.unkID
		}
		ids = append(ids, id)
	}
	return t.remember(piece, ids), nil
}

func (t *HFTokenizer) remember(piece string, ids []int) []int {
	t.cache.Set(piece, ids, ttlcache.NoTTL)
	return ids
}

type textPart struct {
	text  string
	added bool
}

func (t *HFTokenizer) splitAdded(text string) []textPart {
	if len(t.added) == 0 {
		return []textPart{{text: text}}
	}
	var parts []textPart
	start := 0
	for i := 0; i < len(text); {
		match := ""
		for _, tok := range t.added {
			if strings.HasPrefix(text[i:], tok) {
				match = tok
				break
			}
		}
		if match == "" {
			i++
			continue
		}
		if i > start {
			parts = append(parts, textPart{text: text[start:i]})
		}
		parts = append(parts, textPart{text: match, added: true})
		i += len(match)
		start = i
	}
	if start < len(text) {
		parts = append(parts, textPart{text: text[start:]})
	}
	return parts
}

// Decode turns ids back into text. Bytes are joined before conversion, so a
// rune split across tokens decodes intact; only a truncated tail yields U+FFFD.
func (t *HFTokenizer) Decode(ids []int, skipSpecial bool) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		if t.special[id] {
			if skipSpecial {
				continue
			}
			b = append(b, t.decoder[id]...)
			continue
		}
		tok := t.decoder[id]
		if t.addedSet[tok] {
			b = append(b, tok...)
			continue
		}
		b = t.bytes.decode(b, tok)
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// TokenID returns the id of an exact vocabulary or added-token string.
func (t *HFTokenizer) TokenID(tok string) (int, bool) {
	id, ok := t.vocab[tok]
	return id, ok
}

// TokenString returns the vocabulary string of id, or "" when out of range.
func (t *HFTokenizer) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

// IsSpecial reports whether id is an added special token.
func (t *HFTokenizer) IsSpecial(id int) bool { return t.special[id] }

func (t *HFTokenizer) VocabSize() int        { return len(t.decoder) }
func (t *HFTokenizer) BOSID() int            { return t.bosID }
func (t *HFTokenizer) EOSID() int            { return t.eosID }
func (t *HFTokenizer) EOSToken() string      { return t.eosToken }
func (t *HFTokenizer) PadID() int            { return t.padID }
func (t *HFTokenizer) PadToken() string      { return t.padToken }
func (t *HFTokenizer) ChatTemplate() string  { return t.chatTemplate }
func (t *HFTokenizer) Side() PaddingSide     { return t.paddingSide }
func (t *HFTokenizer) SetSide(s PaddingSide) { t.paddingSide = s }

// AliasPadToEOS makes the EOS token double as the pad token when the
// checkpoint defines no pad token. It reports whether the alias was applied.
// Configure the tokenizer before sharing it between goroutines.
func (t *HFTokenizer) AliasPadToEOS() bool {
	if t.padID >= 0 || t.eosID < 0 {
		return false
	}
	t.padToken, t.padID = t.eosToken, t.eosID
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
