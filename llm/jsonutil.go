package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

const fence = "```"

// trailingCommaPattern matches trailing commas before ] or }.
var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// StripFence removes at most one leading markdown fence (with an optional
// language tag such as "json") and at most one trailing fence, then trims
// surrounding whitespace. Text without fences is returned trimmed.
func StripFence(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, fence) {
		s = s[len(fence):]
		i := 0
		for i < len(s) && isTagByte(s[i]) {
			i++
		}
		if endsTag(s[i:]) {
			s = s[i:]
		}
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, fence)
	return strings.TrimSpace(s)
}

// endsTag reports whether rest can follow a language tag: end of text, a
// line break, or the start of a JSON value. Anything else means the
// letters after the fence are prose.
func endsTag(rest string) bool {
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" {
		return true
	}
	switch rest[0] {
	case '\n', '\r', '{', '[':
		return true
	}
	return false
}

func isTagByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_' || b == '-' || b == '+'
}

// DecodeObject fence-strips a model reply and parses it as a JSON object.
// A repair pass drops // comments and trailing commas before giving up.
// It never panics; ok is false when no object could be read.
func DecodeObject(raw string) (obj map[string]any, ok bool) {
	s := StripFence(raw)
	if s == "" {
		return nil, false
	}

	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
		return obj, true
	}

	obj = nil
	if err := json.Unmarshal([]byte(cleanJSON(s)), &obj); err == nil && obj != nil {
		return obj, true
	}
	return nil, false
}

// StringField returns obj[key] when it is a string.
func StringField(obj map[string]any, key string) (string, bool) {
	s, ok := obj[key].(string)
	return s, ok
}

// cleanJSON removes JavaScript-style comments and trailing commas from JSON.
// Models commonly produce these invalid JSON artifacts.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	result := strings.Join(cleaned, "\n")

	return trailingCommaPattern.ReplaceAllString(result, "$1")
}

// stripLineComment removes a // comment from a JSON line, respecting string values.
// For example:
//
//	"title": "Rest",          // comment  → "title": "Rest",
//	"url": "http://example.com" // comment → "url": "http://example.com"
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
