package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorCountText(t *testing.T) {
	est, err := NewEstimator("gpt-4o")
	require.NoError(t, err)

	assert.Zero(t, est.CountText(""))

	n := est.CountText("SQL injection in the login handler")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 20)
}

func TestEstimatorUnknownModelFallsBack(t *testing.T) {
	// Unknown model names fall back to a default encoding rather than
	// failing the request path.
	est, err := NewEstimator("argus-local-snapshot")
	require.NoError(t, err)
	assert.Greater(t, est.CountText("hello world"), 0)
}

func TestEstimatorCountMessages(t *testing.T) {
	est, err := NewEstimator("gpt-4o")
	require.NoError(t, err)

	msgs := []Message{
		{Role: RoleSystem, Content: "you are an auditor"},
		{Role: RoleUser, Content: "review the auth package"},
	}

	perText := est.CountText(msgs[0].Content) + est.CountText(msgs[1].Content)
	total := est.CountMessages(msgs)

	// Each message carries a fixed framing overhead on top of its text.
	assert.Equal(t, perText+2*perMessageOverhead, total)
}

func TestEstimatorReusesCachedEncoding(t *testing.T) {
	a, err := NewEstimator("gpt-4o")
	require.NoError(t, err)
	b, err := NewEstimator("gpt-4o")
	require.NoError(t, err)

	text := "cached encodings must agree with each other"
	assert.Equal(t, a.CountText(text), b.CountText(text))
}
