package scanners

import (
	"encoding/json"
	"strings"

	"github.com/argus-audit/argus/pkg/tools"
)

// NewSemgrepTool runs semgrep with the auto config. Rule packs come from
// the registry, so this scanner opts into networking.
func NewSemgrepTool(exec Executor) tools.Tool {
	return &scanner{
		name:    "semgrep_scan",
		desc:    "Run semgrep static analysis over the project or a subpath. Arguments: path (optional).",
		exec:    exec,
		network: true,
		build: func(path string) string {
			return "semgrep scan --quiet --json --config auto " + path
		},
		parse: parseSemgrep,
	}
}

type semgrepReport struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		End struct {
			Line int `json:"line"`
		} `json:"end"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
			Lines    string `json:"lines"`
		} `json:"extra"`
	} `json:"results"`
}

func parseSemgrep(stdout string) ([]Finding, error) {
	var report semgrepReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(report.Results))
	for _, r := range report.Results {
		findings = append(findings, Finding{
			RuleID:      r.CheckID,
			Title:       ruleTitle(r.CheckID),
			Severity:    semgrepSeverity(r.Extra.Severity),
			FilePath:    r.Path,
			Line:        r.Start.Line,
			EndLine:     r.End.Line,
			Description: r.Extra.Message,
			Snippet:     strings.TrimSpace(r.Extra.Lines),
		})
	}
	return findings, nil
}

func semgrepSeverity(s string) string {
	switch strings.ToUpper(s) {
	case "ERROR":
		return "high"
	case "WARNING":
		return "medium"
	default:
		return "low"
	}
}

// ruleTitle turns "python.lang.security.audit.eval-detected" into its
// last segment for a readable title.
func ruleTitle(checkID string) string {
	if i := strings.LastIndexByte(checkID, '.'); i >= 0 {
		return checkID[i+1:]
	}
	return checkID
}
