package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/models"
)

type captureSink struct {
	findings []models.Finding
}

func (s *captureSink) AddFindings(fs ...models.Finding) {
	s.findings = append(s.findings, fs...)
}

func TestReportToolNormalizesAliases(t *testing.T) {
	sink := &captureSink{}
	tool := NewReportTool(sink)

	result, err := tool.Execute(context.Background(), map[string]any{
		"type":        "SQL Injection",
		"risk":        "HIGH",
		"location":    "app/login.py:42",
		"description": "user input concatenated into a query",
		"code":        `query = "SELECT * FROM users WHERE name='" + user + "'"`,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, sink.findings, 1)
	f := sink.findings[0]
	assert.Equal(t, "app/login.py", f.FilePath)
	assert.Equal(t, 42, f.LineStart)
	assert.Equal(t, models.SeverityHigh, f.Severity)
	assert.NotEmpty(t, f.Title)
	assert.Contains(t, f.CodeSnippet, "SELECT")

	data := result.Data.(map[string]any)
	assert.Equal(t, "reported", data["status"])
	assert.NotEmpty(t, data["fingerprint"])

	meta, ok := result.Metadata["finding"].(models.Finding)
	require.True(t, ok)
	assert.Equal(t, f.Fingerprint(), meta.Fingerprint())
}

func TestReportToolRequiresDescription(t *testing.T) {
	tool := NewReportTool(&captureSink{})

	_, err := tool.Execute(context.Background(), map[string]any{
		"severity": "high",
	})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ToolInputInvalid))

	_, err = tool.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ToolInputInvalid))
}

func TestReportToolNilSink(t *testing.T) {
	tool := NewReportTool(nil)
	result, err := tool.Execute(context.Background(), map[string]any{
		"description": "hardcoded credential in config loader",
		"file_path":   "config.py",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}
