package scanners

import (
	"encoding/json"
	"sort"

	"github.com/argus-audit/argus/pkg/tools"
)

// NewNpmAuditTool audits npm dependencies. Needs the registry, so it is
// a networked scanner; without a lockfile npm prints an error report that
// parses to zero findings.
func NewNpmAuditTool(exec Executor) tools.Tool {
	return &scanner{
		name:    "npm_audit",
		desc:    "Audit npm dependencies for known vulnerabilities. Arguments: path (optional, directory with package.json).",
		exec:    exec,
		network: true,
		build: func(path string) string {
			return "cd " + path + " && npm audit --json"
		},
		parse: parseNpmAudit,
	}
}

type npmAuditReport struct {
	Vulnerabilities map[string]struct {
		Name     string            `json:"name"`
		Severity string            `json:"severity"`
		IsDirect bool              `json:"isDirect"`
		Via      []json.RawMessage `json:"via"`
	} `json:"vulnerabilities"`
}

type npmAdvisory struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func parseNpmAudit(stdout string) ([]Finding, error) {
	var report npmAuditReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(report.Vulnerabilities))
	for name := range report.Vulnerabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	findings := make([]Finding, 0, len(names))
	for _, name := range names {
		v := report.Vulnerabilities[name]

		// via mixes advisory objects (direct) and plain package-name
		// strings (transitive); the first object carries the title.
		title := "vulnerable dependency: " + name
		description := ""
		for _, raw := range v.Via {
			var adv npmAdvisory
			if err := json.Unmarshal(raw, &adv); err == nil && adv.Title != "" {
				title = adv.Title
				description = adv.URL
				break
			}
		}

		findings = append(findings, Finding{
			RuleID:      "npm:" + name,
			Title:       title,
			Severity:    v.Severity,
			FilePath:    "package.json",
			Description: description,
		})
	}
	return findings, nil
}
