package tools

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestTruncateUnderLimitUnchanged(t *testing.T) {
	content := "short output\n"
	assert.Equal(t, content, TruncateOutput(content))
}

func TestTruncateCutsAtLineBoundary(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("this line is exactly forty characters!!\n")
	}
	content := b.String()

	out := TruncateTo(content, 1000)
	assert.Less(t, len(out), len(content))
	assert.Contains(t, out, "[TRUNCATED:")

	// Every retained content line is whole.
	body := out[:strings.Index(out, "\n\n[TRUNCATED:")]
	for _, line := range strings.Split(body, "\n") {
		assert.Equal(t, "this line is exactly forty characters!!", line)
	}
}

func TestTruncatePreservesUTF8(t *testing.T) {
	content := strings.Repeat("héllo wörld ", 200)
	out := TruncateTo(content, 100)
	assert.True(t, utf8.ValidString(out))
}
