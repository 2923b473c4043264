package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchVulnPatterns(t *testing.T) {
	tests := []struct {
		name     string
		vulnType string
		payload  string
		body     string
		want     int
	}{
		{
			name:     "sql error leaks",
			vulnType: "sql_injection",
			body:     "You have an error in your SQL syntax near ''1''",
			want:     2,
		},
		{
			name:     "command output leaks",
			vulnType: "command_injection",
			body:     "uid=1000(sandbox) gid=1000(sandbox)",
			want:     2,
		},
		{
			name:     "passwd contents",
			vulnType: "path_traversal",
			body:     "root:x:0:0:root:/root:/bin/bash",
			want:     1,
		},
		{
			name:     "xss reflected",
			vulnType: "xss",
			payload:  "<script>alert(1)</script>",
			body:     "<p>search: <script>alert(1)</script></p>",
			want:     1,
		},
		{
			name:     "xss escaped",
			vulnType: "xss",
			payload:  "<script>alert(1)</script>",
			body:     "<p>search: &lt;script&gt;alert(1)&lt;/script&gt;</p>",
			want:     0,
		},
		{
			name:     "ssti evaluated",
			vulnType: "ssti",
			payload:  "{{7*7}}",
			body:     "result: 49",
			want:     1,
		},
		{
			name:     "ssti reflected literally",
			vulnType: "ssti",
			payload:  "{{7*7}}",
			body:     "result: {{7*7}}",
			want:     0,
		},
		{
			name:     "clean response",
			vulnType: "sql_injection",
			body:     "<html>all good</html>",
			want:     0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evidence := matchVulnPatterns(tc.vulnType, tc.payload, tc.body)
			assert.Len(t, evidence, tc.want)
		})
	}
}

func TestNormalizeVulnType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SQLi", "sql_injection"},
		{"SQL Injection", "sql_injection"},
		{"RCE", "command_injection"},
		{"Directory Traversal", "path_traversal"},
		{"xss", "xss"},
		{"Template Injection", "ssti"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, normalizeVulnType(tc.in), "input %q", tc.in)
	}
}

func TestConfidenceFor(t *testing.T) {
	assert.Equal(t, "none", confidenceFor(0))
	assert.Equal(t, "low", confidenceFor(1))
	assert.Equal(t, "medium", confidenceFor(2))
	assert.Equal(t, "medium", confidenceFor(5))
}

func TestVerifyVulnerabilityMatches(t *testing.T) {
	body := "HTTP/1.1 500 Internal Server Error\r\n\r\nYou have an error in your SQL syntax near ''1''"
	daemon := &fakeDaemon{logs: framedLogs(t, body, "")}
	s := newTestSandbox(t, daemon)

	res, err := s.VerifyVulnerability(context.Background(), VerifyProbe{
		VulnType: "sqli",
		URL:      "http://app/item?id=1'",
		Payload:  "1'",
	})
	require.NoError(t, err)

	assert.True(t, res.Verified)
	assert.Equal(t, "medium", res.Confidence)
	assert.NotEmpty(t, res.Evidence)
	assert.Contains(t, res.Response, "SQL syntax")
}

func TestVerifyVulnerabilityRequestFailed(t *testing.T) {
	daemon := &fakeDaemon{exitCode: 7, logs: framedLogs(t, "", "curl: (7) Failed to connect to app port 80")}
	s := newTestSandbox(t, daemon)

	res, err := s.VerifyVulnerability(context.Background(), VerifyProbe{
		VulnType: "sqli",
		URL:      "http://app/item?id=1'",
	})
	require.NoError(t, err)

	assert.False(t, res.Verified)
	assert.Equal(t, "none", res.Confidence)
	assert.Empty(t, res.Evidence)
	assert.Contains(t, res.Response, "Failed to connect")
}
