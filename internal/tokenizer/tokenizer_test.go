package tokenizer

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	json "github.com/goccy/go-json"
)

const qwenPattern = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`

// fixtureJSON builds a byte-level vocabulary where the token for byte b has
// id b, plus two merges producing "Ġhi" and three ChatML added tokens.
func fixtureJSON(t *testing.T) []byte {
	t.Helper()
	bt := newByteTable()
	vocab := make(map[string]int, 258)
	for b := 0; b < 256; b++ {
		vocab[string(bt.enc[b])] = b
	}
	vocab["Ġh"] = 256
	vocab["Ġhi"] = 257
	doc := map[string]any{
		"model": map[string]any{
			"type":   "BPE",
			"vocab":  vocab,
			"merges": []any{"Ġ h", []any{"Ġh", "i"}},
		},
		"normalizer": map[string]any{"type": "NFC"},
		"pre_tokenizer": map[string]any{
			"type": "Sequence",
			"pretokenizers": []any{
				map[string]any{"type": "Split", "pattern": map[string]any{"Regex": qwenPattern}, "behavior": "Isolated"},
				map[string]any{"type": "ByteLevel", "use_regex": false},
			},
		},
		"added_tokens": []any{
			map[string]any{"id": 258, "content": "<|endoftext|>", "special": true},
			map[string]any{"id": 259, "content": "<|im_start|>", "special": true},
			map[string]any{"id": 260, "content": "<|im_end|>", "special": true},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func fixture(t *testing.T, cfg Config) *HFTokenizer {
	t.Helper()
	tok, err := LoadBytes(fixtureJSON(t), cfg)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	return tok
}

func TestSplitterTrailingWhitespace(t *testing.T) {
	t.Parallel()
	s, err := newSplitter(qwenPattern)
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string][]string{
		"a   b":          {"a", "  ", " b"},
		"x   1":          {"x", "  ", " ", "1"},
		"hi\n\n  there":  {"hi", "\n\n", " ", " there"},
		"end  ":          {"end", "  "},
		"I'M here, ok?":  {"I", "'M", " here", ",", " ok", "?"},
		"Вопрос: 44-ФЗ":  {"Вопрос", ":", " ", "4", "4", "-ФЗ"},
	}
	for in, want := range cases {
		if got := s.split(in); !reflect.DeepEqual(got, want) {
			t.Errorf("split(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitterWithoutLookahead(t *testing.T) {
	t.Parallel()
	s, err := newSplitter(`\p{L}+`)
	if err != nil {
		t.Fatal(err)
	}
	got := s.split("ab, cd")
	want := []string{"ab", ", ", "cd"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("split = %q, want %q", got, want)
	}
}

func TestSplitAlternatives(t *testing.T) {
	t.Parallel()
	got := splitAlternatives(`(?i:a|b)|[|x]|\||c`)
	want := []string{`(?i:a|b)`, `[|x]`, `\|`, `c`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitAlternatives = %q, want %q", got, want)
	}
}

func TestEncodeMergesAndAddedTokens(t *testing.T) {
	t.Parallel()
	tok := fixture(t, Config{})

	ids, err := tok.Encode(" hi")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []int{257}) {
		t.Fatalf("Encode(\" hi\") = %v", ids)
	}

	ids, err = tok.Encode("<|im_start|>user\nhi<|im_end|>")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{259, 'u', 's', 'e', 'r', '\n', 'h', 'i', 260}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("Encode chatml = %v, want %v", ids, want)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()
	tok := fixture(t, Config{})

	got, err := tok.Decode([]int{259, 'h', 'i', 257, 260}, true)
	if err != nil || got != "hi hi" {
		t.Fatalf("Decode skip = %q, %v", got, err)
	}
	got, _ = tok.Decode([]int{259, 'h', 260}, false)
	if got != "<|im_start|>h<|im_end|>" {
		t.Fatalf("Decode keep = %q", got)
	}
	// "é" is C3 A9 split over two byte tokens.
	got, _ = tok.Decode([]int{0xc3, 0xa9}, true)
	if got != "é" {
		t.Fatalf("Decode multibyte = %q", got)
	}
	if _, err := tok.Decode([]int{9999}, true); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestEncodeDecodeCyrillicRoundTrip(t *testing.T) {
	t.Parallel()
	tok := fixture(t, Config{})
	in := "Срок подачи заявок продлевается?"
	ids, err := tok.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tok.Decode(ids, true)
	if err != nil || out != in {
		t.Fatalf("round trip = %q, %v", out, err)
	}
}

func TestPieceCacheIsBounded(t *testing.T) {
	t.Parallel()
	text := "hi one two three four five six seven eight nine ten hi"
	want, err := fixture(t, Config{}).Encode(text)
	if err != nil {
		t.Fatal(err)
	}

	tok := fixture(t, Config{})
	tok.cache = newPieceCache(4)
	for range 3 {
		got, err := tok.Encode(text)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
	if n := tok.cache.Len(); n > 4 {
		t.Fatalf("cache holds %d pieces, capacity 4", n)
	}
}

func TestConfigTokenFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	body := `{"eos_token":{"content":"<|im_end|>","lstrip":false},"pad_token":"<|endoftext|>","bos_token":null,"add_bos_token":false}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EOSToken != "<|im_end|>" || cfg.PadToken != "<|endoftext|>" || cfg.BOSToken != "" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("missing config should not fail: %v", err)
	}

	tok := fixture(t, cfg)
	if tok.EOSID() != 260 || tok.PadID() != 258 || tok.BOSID() != -1 {
		t.Fatalf("ids: eos=%d pad=%d bos=%d", tok.EOSID(), tok.PadID(), tok.BOSID())
	}
	if tok.AliasPadToEOS() {
		t.Fatal("alias applied although pad token exists")
	}
}

func TestAliasPadAndPadBatch(t *testing.T) {
	t.Parallel()
	tok := fixture(t, Config{EOSToken: "<|im_end|>"})
	if _, err := tok.PadBatch([][]int{{1}}); err == nil {
		t.Fatal("expected ErrNoPadToken before aliasing")
	}
	if !tok.AliasPadToEOS() || tok.PadID() != 260 || tok.PadToken() != "<|im_end|>" {
		t.Fatalf("alias failed: pad=%d %q", tok.PadID(), tok.PadToken())
	}
	if tok.Side() != PadRight {
		t.Fatalf("default side = %q", tok.Side())
	}

	b, err := tok.PadBatch([][]int{{1, 2, 3}, {4}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b.IDs[1], []int{4, 260, 260}) || !reflect.DeepEqual(b.Mask[1], []int{1, 0, 0}) {
		t.Fatalf("right pad = %v %v", b.IDs[1], b.Mask[1])
	}

	tok.SetSide(PadLeft)
	b, _ = tok.PadBatch([][]int{{1, 2, 3}, {4}})
	if !reflect.DeepEqual(b.IDs[1], []int{260, 260, 4}) || !reflect.DeepEqual(b.Mask[1], []int{0, 0, 1}) {
		t.Fatalf("left pad = %v %v", b.IDs[1], b.Mask[1])
	}
}

func TestRejectsNonBPE(t *testing.T) {
	t.Parallel()
	if _, err := LoadBytes([]byte(`{"model":{"type":"WordPiece","vocab":{}}}`), Config{}); err == nil {
		t.Fatal("expected unsupported model error")
	}
}

func TestLoadDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), fixtureJSON(t), 0o644); err != nil {
		t.Fatal(err)
	}
	tok, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if id, ok := tok.TokenID("<|endoftext|>"); !ok || id != 258 || !tok.IsSpecial(id) {
		t.Fatalf("TokenID = %d, %v", id, ok)
	}
}
