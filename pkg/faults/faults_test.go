package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppliesPolicy(t *testing.T) {
	tests := []struct {
		kind        Kind
		recoverable bool
		strategy    Strategy
	}{
		{LLMRateLimit, true, StrategyRetryWithBackoff},
		{LLMAuth, false, StrategyAbort},
		{LLMContextLength, true, StrategyFallback},
		{ToolNotFound, false, StrategySkip},
		{ValidationPathTraversal, false, StrategyAbort},
		{ResourceCircuitOpen, true, StrategyRetryWithBackoff},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "boom")
			assert.Equal(t, tt.recoverable, err.Recoverable)
			assert.Equal(t, tt.strategy, err.Strategy)
		})
	}
}

func TestError_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(LLMConnection, "stream interrupted", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "llm.connection")
	assert.Contains(t, err.Error(), "socket closed")

	// A wrapping layer of plain fmt.Errorf must not hide the taxonomy.
	outer := fmt.Errorf("calling provider: %w", err)
	assert.Equal(t, LLMConnection, KindOf(outer))
	assert.True(t, IsKind(outer, LLMConnection))
	assert.True(t, IsRecoverable(outer))
	assert.Equal(t, StrategyRetryWithBackoff, StrategyOf(outer))
}

func TestRetryAfter(t *testing.T) {
	err := New(LLMRateLimit, "throttled").WithRetryAfter(2 * time.Second)
	d, ok := RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	_, ok = RetryAfterOf(New(LLMTimeout, "slow"))
	assert.False(t, ok)

	_, ok = RetryAfterOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestUnclassifiedErrors(t *testing.T) {
	plain := errors.New("mystery")
	assert.Equal(t, Kind(""), KindOf(plain))
	assert.False(t, IsRecoverable(plain))
	assert.Equal(t, StrategyAbort, StrategyOf(plain))
}

func TestClassifyLLM(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"cancelled", context.Canceled, AgentCancelled},
		{"deadline", context.DeadlineExceeded, LLMTimeout},
		{"conn refused", errors.New("dial tcp: connection refused"), LLMConnection},
		{"broken pipe", errors.New("write: broken pipe"), LLMConnection},
		{"unknown", errors.New("weird"), LLMInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := ClassifyLLM(tt.err)
			require.NotNil(t, fe)
			assert.Equal(t, tt.kind, fe.Kind)
			assert.ErrorIs(t, fe, tt.err)
		})
	}
}

func TestClassifyLLM_NetError(t *testing.T) {
	fe := ClassifyLLM(&net.DNSError{Err: "no such host", IsTimeout: true})
	assert.Equal(t, LLMTimeout, fe.Kind)

	fe = ClassifyLLM(&net.DNSError{Err: "no such host"})
	assert.Equal(t, LLMConnection, fe.Kind)
}

func TestClassifyLLM_Passthrough(t *testing.T) {
	orig := New(LLMQuotaExceeded, "monthly cap")
	fe := ClassifyLLM(fmt.Errorf("wrapped: %w", orig))
	assert.Same(t, orig, fe)
}

func TestClassifyTool(t *testing.T) {
	fe := ClassifyTool(context.DeadlineExceeded, "semgrep_scan")
	assert.Equal(t, ToolTimeout, fe.Kind)
	assert.Equal(t, "semgrep_scan", fe.Context.ToolName)

	fe = ClassifyTool(errors.New("exec format error"), "read_file")
	assert.Equal(t, ToolExecution, fe.Kind)
	assert.Equal(t, "read_file", fe.Context.ToolName)

	// Existing taxonomy errors keep their kind, gaining the tool name.
	fe = ClassifyTool(New(ValidationPathTraversal, "escape attempt"), "read_file")
	assert.Equal(t, ValidationPathTraversal, fe.Kind)
	assert.Equal(t, "read_file", fe.Context.ToolName)
}
