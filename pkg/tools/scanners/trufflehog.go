package scanners

import (
	"encoding/json"
	"strings"

	"github.com/argus-audit/argus/pkg/tools"
)

// NewTrufflehogTool runs trufflehog in filesystem mode. Output is one
// JSON object per line; non-JSON banner lines are skipped.
func NewTrufflehogTool(exec Executor) tools.Tool {
	return &scanner{
		name: "trufflehog_scan",
		desc: "Run trufflehog credential detection over the project or a subpath. Arguments: path (optional).",
		exec: exec,
		build: func(path string) string {
			return "trufflehog filesystem " + path + " --json --no-update"
		},
		parse: parseTrufflehog,
	}
}

type trufflehogHit struct {
	SourceMetadata struct {
		Data struct {
			Filesystem struct {
				File string `json:"file"`
				Line int    `json:"line"`
			} `json:"Filesystem"`
		} `json:"Data"`
	} `json:"SourceMetadata"`
	DetectorName string `json:"DetectorName"`
	Verified     bool   `json:"Verified"`
}

func parseTrufflehog(stdout string) ([]Finding, error) {
	var findings []Finding
	sawJSON := false

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var hit trufflehogHit
		if err := json.Unmarshal([]byte(line), &hit); err != nil {
			continue
		}
		sawJSON = true
		if hit.DetectorName == "" {
			// Log lines are JSON too; only detector hits count.
			continue
		}

		severity := "medium"
		description := "possible credential detected (value redacted)"
		if hit.Verified {
			severity = "high"
			description = "live credential verified against its service (value redacted)"
		}
		findings = append(findings, Finding{
			RuleID:      hit.DetectorName,
			Title:       "credential: " + hit.DetectorName,
			Severity:    severity,
			FilePath:    hit.SourceMetadata.Data.Filesystem.File,
			Line:        hit.SourceMetadata.Data.Filesystem.Line,
			Description: description,
		})
	}

	if !sawJSON && strings.TrimSpace(stdout) != "" {
		return nil, errNoJSON
	}
	return findings, nil
}
