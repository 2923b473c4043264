package scanners

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/argus-audit/argus/pkg/tools"
)

// NewOSVTool runs osv-scanner recursively over project lockfiles. Queries
// the OSV API, so networked.
func NewOSVTool(exec Executor) tools.Tool {
	return &scanner{
		name:    "osv_scan",
		desc:    "Scan dependency lockfiles against the OSV vulnerability database. Arguments: path (optional).",
		exec:    exec,
		network: true,
		build: func(path string) string {
			return "osv-scanner --format json --recursive " + path
		},
		parse: parseOSV,
	}
}

type osvReport struct {
	Results []struct {
		Source struct {
			Path string `json:"path"`
		} `json:"source"`
		Packages []struct {
			Package struct {
				Name      string `json:"name"`
				Version   string `json:"version"`
				Ecosystem string `json:"ecosystem"`
			} `json:"package"`
			Vulnerabilities []struct {
				ID               string `json:"id"`
				Summary          string `json:"summary"`
				DatabaseSpecific struct {
					Severity string `json:"severity"`
				} `json:"database_specific"`
			} `json:"vulnerabilities"`
		} `json:"packages"`
	} `json:"results"`
}

func parseOSV(stdout string) ([]Finding, error) {
	var report osvReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		return nil, err
	}

	var findings []Finding
	for _, result := range report.Results {
		// Lockfile paths come back under the workspace mount.
		file := strings.TrimPrefix(result.Source.Path, "/workspace/")
		for _, pkg := range result.Packages {
			for _, vuln := range pkg.Vulnerabilities {
				severity := strings.ToLower(vuln.DatabaseSpecific.Severity)
				if severity == "" {
					severity = "medium"
				}
				findings = append(findings, Finding{
					RuleID:      vuln.ID,
					Title:       fmt.Sprintf("vulnerable dependency: %s %s (%s)", pkg.Package.Name, pkg.Package.Version, pkg.Package.Ecosystem),
					Severity:    severity,
					FilePath:    file,
					Description: vuln.Summary,
				})
			}
		}
	}
	return findings, nil
}
