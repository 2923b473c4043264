package models

import (
	"fmt"
	"strings"
)

// Severity classifies the impact of a finding. Always stored lowercase.
type Severity string

// Finding severities, highest first.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// SeverityOrder ranks severities for sorting; lower is more severe.
var SeverityOrder = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// ParseSeverity lowercases the input and validates it. Unknown or empty
// values default to medium.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := SeverityOrder[sev]; ok {
		return sev
	}
	return SeverityMedium
}

// Verdict is the verification outcome attached to a finding.
type Verdict string

// Finding verdicts.
const (
	VerdictConfirmed     Verdict = "confirmed"
	VerdictLikely        Verdict = "likely"
	VerdictUncertain     Verdict = "uncertain"
	VerdictFalsePositive Verdict = "false_positive"
)

// Finding is a normalized vulnerability record. Raw agent output passes
// through the normalizer before it may appear in any merged result set.
type Finding struct {
	Title             string   `json:"title"`
	VulnerabilityType string   `json:"vulnerability_type"`
	Severity          Severity `json:"severity"`
	FilePath          string   `json:"file_path"`
	Description       string   `json:"description"`

	LineStart      int     `json:"line_start,omitempty"`
	LineEnd        int     `json:"line_end,omitempty"`
	CodeSnippet    string  `json:"code_snippet,omitempty"`
	Source         string  `json:"source,omitempty"`
	Sink           string  `json:"sink,omitempty"`
	PoC            string  `json:"poc,omitempty"`
	Impact         string  `json:"impact,omitempty"`
	Recommendation string  `json:"recommendation,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	CWEID          string  `json:"cwe_id,omitempty"`
	CVSSScore      float64 `json:"cvss_score,omitempty"`
	Verdict        Verdict `json:"verdict,omitempty"`
	IsVerified     bool    `json:"is_verified,omitempty"`

	// DiscoveredBy is the name of the agent that produced the finding.
	// Set when findings are collected across the graph.
	DiscoveredBy string `json:"discovered_by,omitempty"`
}

// Fingerprint returns the dedup key: normalized (file_path, line_start,
// vulnerability_type). File paths compare case-insensitively with trailing
// slashes stripped; types compare in canonical snake_case form.
func (f *Finding) Fingerprint() string {
	return fmt.Sprintf("%s|%d|%s", NormalizePath(f.FilePath), f.LineStart, CanonicalVulnType(f.VulnerabilityType))
}

// NormalizePath lowercases a path and strips trailing slashes for
// fingerprint comparison.
func NormalizePath(p string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(p)), "/")
}

// CanonicalVulnType lowercases a vulnerability type and folds spaces and
// dashes to underscores ("Command Injection" → "command_injection").
func CanonicalVulnType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, " ", "_")
	t = strings.ReplaceAll(t, "-", "_")
	return t
}
