// Package findings canonicalizes heterogeneous vulnerability records and
// merges duplicates across agents. Agents and scanners emit findings in
// whatever shape their prompt or output format produced; nothing enters a
// merged result set without passing through Normalize.
package findings

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/argus-audit/argus/pkg/models"
)

// genericTypes are type values that carry no information; they trigger
// keyword inference from the description instead.
var genericTypes = map[string]bool{
	"vulnerability": true,
	"finding":       true,
	"issue":         true,
}

// vulnKeywords maps description keywords to canonical vulnerability types.
// Checked in order; first hit wins.
var vulnKeywords = []struct {
	keywords []string
	vulnType string
}{
	{[]string{"command injection", "rce"}, "command_injection"},
	{[]string{"sql injection", "sqli"}, "sql_injection"},
	{[]string{"xss"}, "xss"},
	{[]string{"path traversal"}, "path_traversal"},
	{[]string{"ssrf"}, "ssrf"},
	{[]string{"xxe"}, "xxe"},
}

// InferVulnType guesses a canonical vulnerability type from free text.
// Returns "other" when no keyword matches.
func InferVulnType(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range vulnKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.vulnType
			}
		}
	}
	return "other"
}

// Normalize converts any map claiming to describe a finding into a
// canonical Finding. It resolves field aliases, lowercases severity
// (defaulting to medium), canonicalizes the vulnerability type, and
// synthesizes a title when absent. Normalize is idempotent: feeding a
// normalized finding's map form back in returns an equal record.
func Normalize(raw map[string]any) models.Finding {
	f := models.Finding{
		Title:             asString(raw["title"]),
		VulnerabilityType: asString(raw["vulnerability_type"]),
		FilePath:          asString(raw["file_path"]),
		Description:       asString(raw["description"]),
		LineStart:         asInt(raw["line_start"]),
		LineEnd:           asInt(raw["line_end"]),
		CodeSnippet:       asString(raw["code_snippet"]),
		Source:            asString(raw["source"]),
		Sink:              asString(raw["sink"]),
		PoC:               asString(raw["poc"]),
		Impact:            asString(raw["impact"]),
		Recommendation:    asString(raw["recommendation"]),
		Confidence:        asFloat(raw["confidence"]),
		CWEID:             asString(raw["cwe_id"]),
		CVSSScore:         asFloat(raw["cvss_score"]),
		Verdict:           models.Verdict(strings.ToLower(asString(raw["verdict"]))),
		IsVerified:        asBool(raw["is_verified"]),
		DiscoveredBy:      asString(raw["discovered_by"]),
	}

	// Alias resolution. Canonical keys win; aliases only fill gaps.
	if f.FilePath == "" {
		f.FilePath = asString(raw["file"])
	}
	if f.LineStart == 0 {
		f.LineStart = asInt(raw["line"])
	}
	if f.FilePath == "" {
		if file, line, _, ok := parseLocation(asString(raw["location"])); ok {
			f.FilePath = file
			if f.LineStart == 0 {
				f.LineStart = line
			}
		}
	}
	if f.VulnerabilityType == "" {
		f.VulnerabilityType = asString(raw["type"])
	}
	if sev := asString(raw["severity"]); sev != "" {
		f.Severity = models.ParseSeverity(sev)
	} else if risk := asString(raw["risk"]); risk != "" {
		f.Severity = models.ParseSeverity(risk)
	} else {
		f.Severity = models.SeverityMedium
	}
	if f.CodeSnippet == "" {
		f.CodeSnippet = asString(raw["code"])
	}
	if f.Recommendation == "" {
		f.Recommendation = asString(raw["suggestion"])
	}
	if !f.IsVerified {
		f.IsVerified = asBool(raw["verified"])
	}

	// Generic or missing type: infer from the description.
	if f.VulnerabilityType == "" || genericTypes[strings.ToLower(strings.TrimSpace(f.VulnerabilityType))] {
		f.VulnerabilityType = InferVulnType(f.Description)
	}
	f.VulnerabilityType = models.CanonicalVulnType(f.VulnerabilityType)

	// Impact folds into the description so prose consumers see it; the
	// Contains guard keeps re-normalization from appending twice.
	if f.Impact != "" && !strings.Contains(f.Description, f.Impact) {
		if f.Description != "" {
			f.Description += "\n\nImpact: " + f.Impact
		} else {
			f.Description = "Impact: " + f.Impact
		}
	}

	if f.Confidence < 0 {
		f.Confidence = 0
	} else if f.Confidence > 1 {
		f.Confidence = 1
	}

	if f.Title == "" {
		f.Title = synthesizeTitle(f.VulnerabilityType, f.FilePath)
	}
	if f.Description == "" {
		f.Description = f.Title
	}
	return f
}

// NormalizeAll normalizes a slice of raw maps, skipping nils.
func NormalizeAll(raws []map[string]any) []models.Finding {
	out := make([]models.Finding, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		out = append(out, Normalize(raw))
	}
	return out
}

// ExtractFromData harvests findings from an agent's result data. Recon
// agents report in three shapes beyond the plain findings list: dicts
// under initial_findings, "file:line - desc" strings under
// initial_findings, and high_risk_areas strings whose vulnerability type
// is inferred from keywords. High-risk areas are graded high severity.
func ExtractFromData(data map[string]any) []models.Finding {
	if data == nil {
		return nil
	}
	var out []models.Finding

	for _, item := range asSlice(data["findings"]) {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Normalize(m))
		}
	}

	for _, item := range asSlice(data["initial_findings"]) {
		switch v := item.(type) {
		case map[string]any:
			out = append(out, Normalize(v))
		case string:
			out = append(out, normalizeLocationString(v, models.SeverityMedium))
		}
	}

	for _, item := range asSlice(data["high_risk_areas"]) {
		if s, ok := item.(string); ok {
			out = append(out, normalizeLocationString(s, models.SeverityHigh))
		}
	}
	return out
}

// normalizeLocationString turns a "file:line - desc" string into a finding.
// Strings that do not match the shape become a finding with the whole
// string as description.
func normalizeLocationString(s string, severity models.Severity) models.Finding {
	raw := map[string]any{"severity": string(severity)}
	if file, line, desc, ok := parseLocation(s); ok {
		raw["file_path"] = file
		raw["line_start"] = line
		raw["description"] = desc
	} else {
		raw["description"] = strings.TrimSpace(s)
	}
	return Normalize(raw)
}

// parseLocation splits "file:line" or "file:line - description". The
// description portion may be absent.
func parseLocation(s string) (file string, line int, desc string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, "", false
	}
	loc := s
	if idx := strings.Index(s, " - "); idx >= 0 {
		loc = strings.TrimSpace(s[:idx])
		desc = strings.TrimSpace(s[idx+3:])
	}
	colon := strings.LastIndex(loc, ":")
	if colon <= 0 {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(strings.TrimSpace(loc[colon+1:]))
	if err != nil || n < 0 {
		return "", 0, "", false
	}
	return strings.TrimSpace(loc[:colon]), n, desc, true
}

// synthesizeTitle builds "Sql Injection in db.py" from the canonical type
// and the file basename.
func synthesizeTitle(vulnType, filePath string) string {
	label := titleize(vulnType)
	if label == "" {
		label = "Security Finding"
	}
	if filePath == "" {
		return label
	}
	return fmt.Sprintf("%s in %s", label, path.Base(filePath))
}

// titleize turns "command_injection" into "Command Injection".
func titleize(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case fmt.Stringer:
		return strings.TrimSpace(s.String())
	default:
		return ""
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	}
	return 0
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	}
	return false
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}
