package controller

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/titanous/json5"
)

var (
	fenceOpenPattern   = regexp.MustCompile("^```[a-zA-Z0-9]*[ \t]*\r?\n?")
	fencedBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z0-9]*[ \t]*\r?\n(.*?)```")
)

// DecodePayload turns an Action Input string into a map, escalating through
// progressively more aggressive strategies: direct parse, whitespace
// normalization, fenced-block extraction, balanced-brace extraction,
// truncation repair, and finally a lenient JSON5 parse. On total failure it
// returns the raw text under RawKey with ok=false so the caller can
// reprompt with the original payload intact.
func DecodePayload(raw string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		// A tool call with no arguments.
		return map[string]any{}, true
	}

	cleaned := stripFences(trimmed)

	if m, ok := tryObject(cleaned); ok {
		return m, true
	}
	if m, ok := tryObject(normalizeWhitespace(cleaned)); ok {
		return m, true
	}
	if block := fencedBlockPattern.FindStringSubmatch(raw); block != nil {
		if m, ok := tryObject(strings.TrimSpace(block[1])); ok {
			return m, true
		}
	}
	obj := balancedObject(cleaned)
	if obj != "" && obj != cleaned {
		if m, ok := tryObject(obj); ok {
			return m, true
		}
	}
	if m, ok := tryObject(repairTruncated(cleaned)); ok {
		return m, true
	}
	if obj != "" && obj != cleaned {
		if m, ok := tryObject(repairTruncated(obj)); ok {
			return m, true
		}
	}
	if m, ok := tryJSON5(cleaned); ok {
		return m, true
	}

	return map[string]any{RawKey: raw}, false
}

// DecodeAnswer decodes a Final Answer payload. Unlike tool inputs, a bare
// findings array is accepted and wrapped.
func DecodeAnswer(raw string) (map[string]any, bool) {
	cleaned := stripFences(strings.TrimSpace(raw))
	if arr, ok := tryArray(cleaned); ok {
		return map[string]any{"findings": arr}, true
	}
	if m, ok := DecodePayload(raw); ok {
		return m, true
	}
	return map[string]any{RawKey: raw}, false
}

func tryObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '{' {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func tryArray(s string) ([]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '[' {
		return nil, false
	}
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return nil, false
	}
	return arr, true
}

func tryJSON5(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '{' {
		return nil, false
	}
	var m map[string]any
	if err := json5.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// normalizeWhitespace collapses runs of whitespace, rescuing objects whose
// string values were broken across lines.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = fenceOpenPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// balancedObject extracts the first brace-balanced object from s, tracking
// string literals so braces inside values do not miscount. If the object
// never closes, the unterminated tail is returned for truncation repair.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// repairTruncated completes an object cut off mid-stream: it closes an
// unterminated string, strips dangling commas, and appends the missing
// closers in reverse open order.
func repairTruncated(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '{' {
		return s
	}

	var closers []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			closers = append(closers, '}')
		case c == '[':
			closers = append(closers, ']')
		case c == '}', c == ']':
			if len(closers) > 0 && closers[len(closers)-1] == c {
				closers = closers[:len(closers)-1]
			}
		}
	}
	if len(closers) == 0 && !inString {
		return s
	}
	if escaped {
		// Cut off inside an escape sequence; not worth guessing.
		return s
	}

	out := strings.TrimRight(s, " \t\r\n")
	if inString {
		out += `"`
	}
	for {
		trimmed := strings.TrimRight(out, " \t\r\n")
		if strings.HasSuffix(trimmed, ",") {
			out = strings.TrimSuffix(trimmed, ",")
			continue
		}
		out = trimmed
		break
	}
	for i := len(closers) - 1; i >= 0; i-- {
		out += string(closers[i])
	}
	return out
}
