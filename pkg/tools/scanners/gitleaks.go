package scanners

import (
	"encoding/json"
	"fmt"

	"github.com/argus-audit/argus/pkg/tools"
)

// NewGitleaksTool runs gitleaks in no-git mode so plain directory trees
// scan the same as repositories. The report lands on the container tmpfs
// and is cat'd to stdout; gitleaks exits 1 on leaks, so the commands are
// chained unconditionally.
func NewGitleaksTool(exec Executor) tools.Tool {
	return &scanner{
		name: "gitleaks_scan",
		desc: "Run gitleaks secret detection over the project or a subpath. Arguments: path (optional).",
		exec: exec,
		build: func(path string) string {
			return "gitleaks detect --source " + path +
				" --no-git --no-banner --report-format json --report-path /tmp/gitleaks.json; cat /tmp/gitleaks.json 2>/dev/null"
		},
		parse: parseGitleaks,
	}
}

type gitleaksLeak struct {
	RuleID      string `json:"RuleID"`
	Description string `json:"Description"`
	File        string `json:"File"`
	StartLine   int    `json:"StartLine"`
	EndLine     int    `json:"EndLine"`
}

func parseGitleaks(stdout string) ([]Finding, error) {
	var leaks []gitleaksLeak
	if err := json.Unmarshal([]byte(stdout), &leaks); err != nil {
		return nil, err
	}

	// The secret value itself stays out of the finding on purpose.
	findings := make([]Finding, 0, len(leaks))
	for _, l := range leaks {
		findings = append(findings, Finding{
			RuleID:      l.RuleID,
			Title:       "hardcoded secret: " + l.RuleID,
			Severity:    "high",
			FilePath:    l.File,
			Line:        l.StartLine,
			EndLine:     l.EndLine,
			Description: fmt.Sprintf("%s (value redacted)", l.Description),
		})
	}
	return findings, nil
}
