package scanners

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/argus-audit/argus/pkg/tools"
)

// NewBanditTool runs bandit over Python sources. Fully offline.
func NewBanditTool(exec Executor) tools.Tool {
	return &scanner{
		name: "bandit_scan",
		desc: "Run bandit Python security linting over the project or a subpath. Arguments: path (optional).",
		exec: exec,
		build: func(path string) string {
			return "bandit -r -f json " + path
		},
		parse: parseBandit,
	}
}

type banditReport struct {
	Results []struct {
		Filename        string `json:"filename"`
		IssueText       string `json:"issue_text"`
		IssueSeverity   string `json:"issue_severity"`
		IssueConfidence string `json:"issue_confidence"`
		LineNumber      int    `json:"line_number"`
		TestID          string `json:"test_id"`
		TestName        string `json:"test_name"`
		Code            string `json:"code"`
	} `json:"results"`
}

func parseBandit(stdout string) ([]Finding, error) {
	var report banditReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(report.Results))
	for _, r := range report.Results {
		findings = append(findings, Finding{
			RuleID:      r.TestID,
			Title:       r.TestName,
			Severity:    strings.ToLower(r.IssueSeverity),
			FilePath:    r.Filename,
			Line:        r.LineNumber,
			Description: fmt.Sprintf("%s (confidence: %s)", r.IssueText, strings.ToLower(r.IssueConfidence)),
			Snippet:     strings.TrimSpace(r.Code),
		})
	}
	return findings, nil
}
