package faults

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// ClassifyLLM maps an arbitrary error from the LLM transport into the
// taxonomy. Errors that are already *Error pass through unchanged.
func ClassifyLLM(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(AgentCancelled, "llm call cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(LLMTimeout, "llm call deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(LLMTimeout, "llm network timeout", err)
		}
		return Wrap(LLMConnection, "llm network error", err)
	}
	if isConnectionError(err) {
		return Wrap(LLMConnection, "llm connection failure", err)
	}
	return Wrap(LLMInvalidResponse, "llm call failed", err)
}

// ClassifyTool maps an arbitrary error from a tool invocation into the
// taxonomy, recording the tool name.
func ClassifyTool(err error, toolName string) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Context.ToolName == "" {
			fe.Context.ToolName = toolName
		}
		return fe
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(AgentCancelled, "tool call cancelled", err).WithTool(toolName)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ToolTimeout, "tool call timed out", err).WithTool(toolName)
	}
	if isConnectionError(err) {
		return Wrap(ToolResource, "tool transport failure", err).WithTool(toolName)
	}
	return Wrap(ToolExecution, "tool execution failed", err).WithTool(toolName)
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
		"i/o timeout",
	}
	for _, e := range connectionErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}
