package scanners

import (
	"encoding/json"
	"fmt"

	"github.com/argus-audit/argus/pkg/tools"
)

// NewSafetyTool checks pinned Python dependencies against the safety
// vulnerability database. Projects without a requirements.txt report
// zero findings via the echoed empty array.
func NewSafetyTool(exec Executor) tools.Tool {
	return &scanner{
		name:    "safety_scan",
		desc:    "Check Python requirements.txt dependencies for known vulnerabilities. Arguments: path (optional).",
		exec:    exec,
		network: true,
		build: func(path string) string {
			return "cd " + path + " && if [ -f requirements.txt ]; then safety check --json -r requirements.txt; else echo '[]'; fi"
		},
		parse: parseSafety,
	}
}

type safetyReport struct {
	Vulnerabilities []struct {
		PackageName     string `json:"package_name"`
		VulnerableSpec  string `json:"vulnerable_spec"`
		AnalyzedVersion string `json:"analyzed_version"`
		Advisory        string `json:"advisory"`
		VulnerabilityID string `json:"vulnerability_id"`
		Severity        string `json:"severity"`
	} `json:"vulnerabilities"`
}

// parseSafety accepts both output generations: the 2.x object with a
// vulnerabilities list, and the legacy array of
// [package, spec, installed, advisory, id] rows.
func parseSafety(stdout string) ([]Finding, error) {
	raw := []byte(stdout)

	var report safetyReport
	if err := json.Unmarshal(raw, &report); err == nil {
		findings := make([]Finding, 0, len(report.Vulnerabilities))
		for _, v := range report.Vulnerabilities {
			severity := v.Severity
			if severity == "" {
				severity = "medium"
			}
			findings = append(findings, Finding{
				RuleID:      "safety:" + v.VulnerabilityID,
				Title:       fmt.Sprintf("vulnerable dependency: %s %s", v.PackageName, v.AnalyzedVersion),
				Severity:    severity,
				FilePath:    "requirements.txt",
				Description: v.Advisory,
			})
		}
		return findings, nil
	}

	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	findings := make([]Finding, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		findings = append(findings, Finding{
			RuleID:      "safety:" + fmt.Sprintf("%v", row[4]),
			Title:       fmt.Sprintf("vulnerable dependency: %v %v", row[0], row[2]),
			Severity:    "medium",
			FilePath:    "requirements.txt",
			Description: fmt.Sprintf("%v", row[3]),
		})
	}
	return findings, nil
}
