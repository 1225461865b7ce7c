// Package highlight implements the fenced markup convention used inside
// published titles, bullets and bodies. A substring wrapped in "==" pairs
// marks a term the renderer may style. The pipeline treats the markup as
// opaque text and guarantees the delimiters survive every stage.
package highlight

import "strings"

// Delimiter is the fence wrapped around highlighted terms.
const Delimiter = "=="

// Wrap returns term wrapped in highlight delimiters.
func Wrap(term string) string {
	return Delimiter + term + Delimiter
}

// Strip removes all highlight delimiters, leaving the plain text.
func Strip(s string) string {
	return strings.ReplaceAll(s, Delimiter, "")
}

// Balanced reports whether every opening delimiter in s has a closing one.
func Balanced(s string) bool {
	return strings.Count(s, Delimiter)%2 == 0
}

// Terms returns the highlighted substrings of s, in order of appearance.
// Unbalanced trailing delimiters are ignored.
func Terms(s string) []string {
	var terms []string
	for {
		start := strings.Index(s, Delimiter)
		if start < 0 {
			break
		}
		rest := s[start+len(Delimiter):]
		end := strings.Index(rest, Delimiter)
		if end < 0 {
			break
		}
		terms = append(terms, rest[:end])
		s = rest[end+len(Delimiter):]
	}
	return terms
}

// WordCount counts the words of s with highlight delimiters removed, so
// that markup never shifts a text in or out of a word-count bound.
func WordCount(s string) int {
	return len(strings.Fields(Strip(s)))
}
