// Package answer splits generated answers into the sections the system
// prompt asks for.
package answer

import (
	"strings"
	"unicode"
)

// Sections is a parsed answer. Body keeps the original text minus the
// recognised sections.
type Sections struct {
	Body        string
	Corrections string
	Sources     []string
}

var (
	correctionLabels = []string{"corrections:", "исправления:"}
	sourceLabels     = []string{"sources:", "источники:"}
)

// Split finds a "Corrections:" line and a trailing "Sources:" section. Both
// labels are matched case-insensitively at the start of a line, in English
// or Russian. Text without the sections comes back unchanged in Body.
func Split(text string) Sections {
	var (
		out     Sections
		body    []string
		sources []string
		inSrc   bool
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := cutLabel(trimmed, sourceLabels); ok {
			inSrc = true
			if rest != "" {
				sources = append(sources, splitInline(rest)...)
			}
			continue
		}
		if rest, ok := cutLabel(trimmed, correctionLabels); ok {
			out.Corrections = rest
			continue
		}
		if inSrc {
			if item := trimBullet(trimmed); item != "" {
				sources = append(sources, item)
			}
			continue
		}
		body = append(body, line)
	}
	out.Body = strings.TrimSpace(strings.Join(body, "\n"))
	out.Sources = sources
	return out
}

func cutLabel(line string, labels []string) (string, bool) {
	line = strings.TrimLeft(line, "*_#> ")
	for _, l := range labels {
		if len(line) >= len(l) && strings.EqualFold(line[:len(l)], l) {
			rest := line[len(l):]
			return strings.TrimSpace(strings.TrimLeft(rest, "*_ ")), true
		}
	}
	return "", false
}

// splitInline handles "Sources: a; b".
func splitInline(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = trimBullet(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// trimBullet drops "-", "*", "•" and "1." style list markers.
func trimBullet(s string) string {
	s = strings.TrimLeft(s, "-*•– ")
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		s = s[i+1:]
	}
	return strings.TrimFunc(s, unicode.IsSpace)
}
