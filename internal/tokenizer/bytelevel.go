package tokenizer

// byteTable is the GPT-2 reversible byte to rune mapping: printable latin-1
// bytes map to themselves and the rest are shifted above U+0100.
type byteTable struct {
	enc [256]rune
	dec map[rune]byte
}

func newByteTable() *byteTable {
	t := &byteTable{dec: make(map[rune]byte, 256)}
	direct := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xa1 && b <= 0xac) || (b >= 0xae && b <= 0xff)
	}
	next := 0
	for b := 0; b < 256; b++ {
		r := rune(b)
		if !direct(b) {
			r = rune(256 + next)
			next++
		}
		t.enc[b] = r
		t.dec[r] = byte(b)
	}
	return t
}

func (t *byteTable) encode(s string) []rune {
	out := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = t.enc[s[i]]
	}
	return out
}

// decode appends the bytes behind a byte-level token. Runes outside the
// table are passed through as UTF-8.
func (t *byteTable) decode(dst []byte, tok string) []byte {
	for _, r := range tok {
		if b, ok := t.dec[r]; ok {
			dst = append(dst, b)
		} else {
			dst = append(dst, string(r)...)
		}
	}
	return dst
}
