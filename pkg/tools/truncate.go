package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the approximate number of characters per token for English
// text. Used for threshold estimation only, not exact counting.
const charsPerToken = 4

// DefaultOutputMaxTokens caps a single tool observation. Oversized output
// (a scanner dumping megabytes of JSON, a read of a generated bundle) is cut
// here before it enters the conversation.
const DefaultOutputMaxTokens = 8000

// EstimateTokens returns an approximate token count using the ~4 chars per
// token heuristic. len() counts bytes, so multi-byte content overestimates;
// that errs toward truncating earlier, which is the safe direction.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// truncateAtLineBoundary cuts at the last newline before the limit so
// indented JSON or code is not split mid-line, backing up first to avoid
// splitting a multi-byte UTF-8 character.
func truncateAtLineBoundary(content string, maxChars int, marker string) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED: %s — original size %s, limit %s]",
		marker, formatSize(len(content)), formatSize(maxChars),
	)
}

func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}

// TruncateOutput applies the per-call output cap with a visible notice.
func TruncateOutput(content string) string {
	return truncateAtLineBoundary(content, DefaultOutputMaxTokens*charsPerToken,
		"tool output exceeded the observation limit")
}

// TruncateTo applies an explicit byte cap with a visible notice.
func TruncateTo(content string, maxChars int) string {
	return truncateAtLineBoundary(content, maxChars,
		"tool output exceeded the observation limit")
}
