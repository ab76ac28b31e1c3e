package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// gpt2Pattern is the split used by ByteLevel pre-tokenizers with use_regex.
const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// trailingSpaceAlt is the one construct in HF split patterns RE2 cannot
// express. It is matched by hand in splitter.next.
const trailingSpaceAlt = `\s+(?!\S)`

// splitter reproduces a Hugging Face Split pre-tokenizer (behavior
// "Isolated"). Patterns without lookahead compile to a single RE2 regexp.
// Patterns containing \s+(?!\S) are split into top-level alternatives that
// are tried in order at each position, which is how a backtracking engine
// resolves the alternation.
type splitter struct {
	whole *regexp.Regexp
	alts  []*regexp.Regexp // nil entry marks trailingSpaceAlt
}

func newSplitter(pattern string) (*splitter, error) {
	if !strings.Contains(pattern, "(?!") && !strings.Contains(pattern, "(?=") {
		re, err := regexp.Compile(unicodeSpaces(pattern))
		if err != nil {
			return nil, fmt.Errorf("compile pre-tokenizer pattern: %w", err)
		}
		return &splitter{whole: re}, nil
	}
	s := &splitter{}
	for _, alt := range splitAlternatives(pattern) {
		if alt == trailingSpaceAlt {
			s.alts = append(s.alts, nil)
			continue
		}
		re, err := regexp.Compile(`^(?:` + unicodeSpaces(alt) + `)`)
		if err != nil {
			return nil, fmt.Errorf("compile pre-tokenizer alternative %q: %w", alt, err)
		}
		s.alts = append(s.alts, re)
	}
	return s, nil
}

// split returns the pieces of text, including unmatched gaps.
func (s *splitter) split(text string) []string {
	var out []string
	if s.whole != nil {
		last := 0
		for _, loc := range s.whole.FindAllStringIndex(text, -1) {
			if loc[0] > last {
				out = append(out, text[last:loc[0]])
			}
			if loc[1] > loc[0] {
				out = append(out, text[loc[0]:loc[1]])
			}
			last = loc[1]
		}
		if last < len(text) {
			out = append(out, text[last:])
		}
		return out
	}

	gap := -1
	for pos := 0; pos < len(text); {
		n := s.match(text[pos:])
		if n == 0 {
			if gap < 0 {
				gap = pos
			}
			_, w := utf8.DecodeRuneInString(text[pos:])
			pos += w
			continue
		}
		if gap >= 0 {
			out = append(out, text[gap:pos])
			gap = -1
		}
		out = append(out, text[pos:pos+n])
		pos += n
	}
	if gap >= 0 {
		out = append(out, text[gap:])
	}
	return out
}

func (s *splitter) match(rest string) int {
	for _, re := range s.alts {
		if re == nil {
			if n := trailingSpace(rest); n > 0 {
				return n
			}
			continue
		}
		if loc := re.FindStringIndex(rest); loc != nil && loc[1] > 0 {
			return loc[1]
		}
	}
	return 0
}

// trailingSpace matches \s+(?!\S): the longest whitespace prefix that is
// not immediately followed by a non-space rune.
func trailingSpace(s string) int {
	var ends []int
	for i, r := range s {
		if !unicode.IsSpace(r) {
			break
		}
		ends = append(ends, i+utf8.RuneLen(r))
	}
	if len(ends) == 0 {
		return 0
	}
	last := ends[len(ends)-1]
	if last == len(s) {
		return last
	}
	// Followed by \S: back off one rune so the match ends before whitespace.
	if len(ends) >= 2 {
		return ends[len(ends)-2]
	}
	return 0
}

// splitAlternatives splits a pattern at top-level '|' characters, ignoring
// those inside groups, character classes, or escapes.
func splitAlternatives(p string) []string {
	var (
		out   []string
		depth int
		class bool
		start int
	)
	for i := 0; i < len(p); i++ {
		switch c := p[i]; {
		case c == '\\':
			i++
		case class:
			if c == ']' {
				class = false
			}
		case c == '[':
			class = true
			if i+1 < len(p) && p[i+1] == '^' {
				i++
			}
			if i+1 < len(p) && p[i+1] == ']' {
				i++
			}
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '|' && depth == 0:
			out = append(out, p[start:i])
			start = i + 1
		}
	}
	return append(out, p[start:])
}

// spaceClass widens RE2's ASCII \s to Unicode White_Space, matching the
// engine the patterns were written for and unicode.IsSpace.
const spaceClass = `\s\x{0B}\x{85}\p{Z}`

// unicodeSpaces rewrites \s and \S escapes in p to use spaceClass.
func unicodeSpaces(p string) string {
	var b strings.Builder
	class := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '\\' && i+1 < len(p) {
			switch n := p[i+1]; {
			case n == 's' && class:
				b.WriteString(spaceClass)
			case n == 's':
				b.WriteString("[" + spaceClass + "]")
			case n == 'S' && !class:
				b.WriteString("[^" + spaceClass + "]")
			default:
				b.WriteByte(c)
				b.WriteByte(n)
			}
			i++
			continue
		}
		switch {
		case class && c == ']':
			class = false
		case !class && c == '[':
			class = true
			b.WriteByte(c)
			if i+1 < len(p) && p[i+1] == '^' {
				b.WriteByte('^')
				i++
			}
			if i+1 < len(p) && p[i+1] == ']' {
				b.WriteByte(']')
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
