package llmx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// ParseJSON decodes a model reply into v, salvaging the common failure
// modes first: a reply wrapped in markdown code fences, a trailing comma
// before a closing brace, and a truncated reply where only a prefix forms
// a complete object.
func ParseJSON(raw string, v any) error {
	text := StripFences(raw)

	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	if obj := lastCompleteObject(text); obj != "" {
		if err := json.Unmarshal([]byte(obj), v); err == nil {
			return nil
		}
		fixed := trailingCommaRe.ReplaceAllString(obj, "$1")
		if err := json.Unmarshal([]byte(fixed), v); err == nil {
			return nil
		}
	}

	fixed := trailingCommaRe.ReplaceAllString(text, "$1")
	if err := json.Unmarshal([]byte(fixed), v); err == nil {
		return nil
	}

	return fmt.Errorf("%w: %.120s", ErrUnparsable, strings.TrimSpace(raw))
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, leaving the enclosed text.
func StripFences(s string) string {
	text := strings.TrimSpace(s)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", ...).
		first := strings.TrimSpace(text[:idx])
		if len(first) <= 8 {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// lastCompleteObject returns the longest prefix of s, starting at the
// first '{', whose braces balance. Returns "" when no complete object
// exists.
func lastCompleteObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	end := -1
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
	}

	if end < 0 {
		return ""
	}
	return s[start : end+1]
}
