package tokenizer

import "strings"

type pair struct{ a, b string }

type merges map[pair]int

func parseMerges(raw []any) merges {
	m := make(merges, len(raw))
	rank := 0
	for _, item := range raw {
		var a, b string
		switch v := item.(type) {
		case string:
			line := strings.TrimSpace(v)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			var ok bool
			a, b, ok = strings.Cut(line, " ")
			if !ok {
				continue
			}
		case []any:
			if len(v) != 2 {
				continue
			}
			var aok, bok bool
			a, aok = v[0].(string)
			b, bok = v[1].(string)
			if !aok || !bok {
				continue
			}
		default:
			continue
		}
		p := pair{a, b}
		if _, dup := m[p]; !dup {
			m[p] = rank
			rank++
		}
	}
	return m
}

// apply merges the symbols of word by ascending rank until no ranked pair
// remains.
func (m merges) apply(word []string) []string {
	for len(word) > 1 {
		best := -1
		bestRank := int(^uint(0) >> 1)
		for i := 0; i+1 < len(word); i++ {
			if r, ok := m[pair{word[i], word[i+1]}]; ok && r < bestRank {
				best, bestRank = i, r
			}
		}
		if best < 0 {
			break
		}
		a, b := word[best], word[best+1]
		out := word[:0:0]
		for i := 0; i < len(word); i++ {
			if i+1 < len(word) && word[i] == a && word[i+1] == b {
				out = append(out, a+b)
				i++
				continue
			}
			out = append(out, word[i])
		}
		word = out
	}
	return word
}
