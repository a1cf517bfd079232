package platform

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// compileGlob translates a shell-style pattern into an anchored regexp.
// Unlike path.Match, '*' also matches '/', so "wall_clock/*" covers nested keys.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	runes := []rune(pattern)
	n := len(runes)
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for i := 0; i < n; i++ {
		c := runes[i]
		switch c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < n && runes[j] == '!' {
				j++
			}
			if j < n && runes[j] == ']' {
				j++
			}
			for j < n && runes[j] != ']' {
				j++
			}
			if j >= n {
				b.WriteString(`\[`)
				continue
			}
			b.WriteString(globClass(runes[i+1 : j]))
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`$`)
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
	}
	return re, nil
}

var classEscaper = strings.NewReplacer(`\`, `\\`, `-`, `\-`, `[`, `\[`, `]`, `\]`, `^`, `\^`)

// neverMatch is a character class no rune belongs to.
const neverMatch = `[^\x00-\x{10FFFF}]`

// globClass translates the inside of a bracket expression the way fnmatch
// does: '-' forms ranges except in first and last position, reversed ranges
// are dropped, and an empty class never matches.
func globClass(body []rune) string {
	negate := len(body) > 0 && body[0] == '!'
	if negate {
		body = body[1:]
	}

	var chunks [][]rune
	start, k := 0, 1
	for k < len(body) {
		off := slices.Index(body[k:], '-')
		if off < 0 {
			break
		}
		k += off
		chunks = append(chunks, body[start:k])
		start = k + 1
		k += 3
	}
	if last := body[start:]; len(last) > 0 {
		chunks = append(chunks, last)
	} else if len(chunks) > 0 {
		chunks[len(chunks)-1] = append(slices.Clip(chunks[len(chunks)-1]), '-')
	}

	for k := len(chunks) - 1; k > 0; k-- {
		prev, cur := chunks[k-1], chunks[k]
		if len(prev) == 0 || len(cur) == 0 || prev[len(prev)-1] <= cur[0] {
			continue
		}
		merged := append(slices.Clone(prev[:len(prev)-1]), cur[1:]...)
		chunks[k-1] = merged
		chunks = slices.Delete(chunks, k, k+1)
	}

	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, classEscaper.Replace(string(c)))
	}
	class := strings.Join(parts, "-")
	switch {
	case class == "" && negate:
		return "."
	case class == "":
		return neverMatch
	case negate:
		return "[^" + class + "]"
	}
	return "[" + class + "]"
}

type keyFilter []*regexp.Regexp

func newKeyFilter(patterns []string) (keyFilter, error) {
	out := make(keyFilter, 0, len(patterns))
	for _, p := range patterns {
		re, err := compileGlob(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func (f keyFilter) ignored(key string) bool {
	for _, re := range f {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}
