// Package utils provides filesystem and glob-matching helpers.
package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

// PatternMatcher matches paths against a fixed set of glob patterns.
// Supports *, **, ? and character classes.
type PatternMatcher struct {
	patterns []string
	regexps  []*regexp.Regexp
}

// NewPatternMatcher compiles the given glob patterns.
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{
		patterns: patterns,
		regexps:  make([]*regexp.Regexp, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		regex, err := globToRegex(NormalizePattern(pattern))
		if err != nil {
			return nil, err
		}
		pm.regexps = append(pm.regexps, regex)
	}

	return pm, nil
}

// Match reports whether the path matches any pattern.
func (pm *PatternMatcher) Match(path string) bool {
	path = filepath.ToSlash(path)

	for _, regex := range pm.regexps {
		if regex.MatchString(path) {
			return true
		}
	}
	return false
}

// Patterns returns the original pattern set.
func (pm *PatternMatcher) Patterns() []string {
	return pm.patterns
}

// NormalizePattern normalizes separators and strips leading ./ and trailing /.
func NormalizePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	pattern = strings.TrimPrefix(pattern, "./")
	return strings.TrimSuffix(pattern, "/")
}

// IsGlobPattern reports whether a string contains glob wildcards.
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// globToRegex converts a glob pattern to an anchored regular expression.
// * matches within a path segment, ** crosses segment boundaries.
func globToRegex(pattern string) (*regexp.Regexp, error) {
	var regex strings.Builder
	regex.WriteString("^")

	i := 0
	for i < len(pattern) {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				i += 2
				if i < len(pattern) && pattern[i] == '/' {
					// "**/" spans whole segments only, so "a/**/b" matches
					// "a/b" and "**/.x" cannot match a mid-segment dot.
					regex.WriteString(`(?:.*/)?`)
					i++
				} else {
					regex.WriteString(".*")
				}
			} else {
				regex.WriteString("[^/]*")
				i++
			}
		case '?':
			regex.WriteString("[^/]")
			i++
		case '[':
			j := i + 1
			if j < len(pattern) && pattern[j] == '!' {
				regex.WriteString("[^")
				j++
			} else {
				regex.WriteString("[")
			}

			for j < len(pattern) && pattern[j] != ']' {
				if pattern[j] == '\\' && j+1 < len(pattern) {
					regex.WriteByte(pattern[j])
					regex.WriteByte(pattern[j+1])
					j += 2
				} else {
					regex.WriteByte(pattern[j])
					j++
				}
			}

			if j < len(pattern) {
				regex.WriteByte(']')
				i = j + 1
			} else {
				// Unclosed bracket, treat as literal
				regex.WriteString(`\[`)
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				regex.WriteByte('\\')
				regex.WriteByte(pattern[i+1])
				i += 2
			} else {
				regex.WriteString(`\\`)
				i++
			}
		case '.', '+', '^', '$', '(', ')', '{', '}', '|':
			regex.WriteByte('\\')
			regex.WriteByte(pattern[i])
			i++
		default:
			regex.WriteByte(pattern[i])
			i++
		}
	}

	regex.WriteString("$")
	return regexp.Compile(regex.String())
}

// NewIgnoreMatcher builds a matcher for watch exclusions. Bare directory
// names are expanded to match the directory anywhere in the tree.
func NewIgnoreMatcher(patterns []string) (*PatternMatcher, error) {
	expanded := make([]string, 0, len(patterns)*2)
	for _, pattern := range patterns {
		pattern = NormalizePattern(pattern)
		if pattern == "" {
			continue
		}
		if !IsGlobPattern(pattern) && !strings.Contains(pattern, "/") {
			expanded = append(expanded, "**/"+pattern, "**/"+pattern+"/**", pattern, pattern+"/**")
			continue
		}
		expanded = append(expanded, pattern)
		if !strings.HasSuffix(pattern, "**") {
			expanded = append(expanded, pattern+"/**")
		}
	}
	return NewPatternMatcher(expanded)
}
