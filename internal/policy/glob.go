package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher reports whether a target matches a compiled pattern.
type Matcher struct {
	Pattern string
	re      *regexp.Regexp
}

// Match reports whether target matches the whole pattern.
func (m Matcher) Match(target string) bool {
	return m.re.MatchString(target)
}

// CompileGlob turns a glob into an anchored matcher. '*' matches any run
// of characters, '/' included, and '?' matches exactly one character.
// Every other character matches itself.
func CompileGlob(pattern string) (Matcher, error) {
	if pattern == "" {
		return Matcher{}, fmt.Errorf("empty pattern")
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return Matcher{}, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return Matcher{Pattern: pattern, re: re}, nil
}
