package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// VerifyProbe describes a single request-and-match vulnerability check.
// Payload is the attack string used for reflection checks; for POST-style
// probes it usually also appears in Body or the URL.
type VerifyProbe struct {
	VulnType string
	Method   string
	URL      string
	Headers  map[string]string
	Body     string
	Payload  string
}

// VerifyResult reports what the probe observed. Confidence never exceeds
// "medium": a pattern match on a response proves far less than an
// interpreter-run proof of concept (see RunCode).
type VerifyResult struct {
	Verified   bool     `json:"verified"`
	Confidence string   `json:"confidence"`
	Evidence   []string `json:"evidence"`
	Response   string   `json:"response_excerpt"`
}

// VerifyVulnerability sends the probe and pattern-matches the response
// against error signatures for the vulnerability class.
func (s *Sandbox) VerifyVulnerability(ctx context.Context, probe VerifyProbe) (*VerifyResult, error) {
	res, err := s.ExecuteHTTPRequest(ctx, HTTPRequest{
		Method:  probe.Method,
		URL:     probe.URL,
		Headers: probe.Headers,
		Body:    probe.Body,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return &VerifyResult{
			Verified:   false,
			Confidence: "none",
			Response:   excerpt(res.Stderr, 500),
		}, nil
	}

	vulnType := normalizeVulnType(probe.VulnType)
	evidence := matchVulnPatterns(vulnType, probe.Payload, res.Stdout)
	return &VerifyResult{
		Verified:   len(evidence) > 0,
		Confidence: confidenceFor(len(evidence)),
		Evidence:   evidence,
		Response:   excerpt(res.Stdout, 500),
	}, nil
}

// vulnSignatures are lowercase substrings whose presence in a response
// suggests the class fired. Reflection and arithmetic checks handle xss
// and ssti separately.
var vulnSignatures = map[string][]string{
	"sql_injection": {
		"you have an error in your sql",
		"sql syntax",
		"sqlstate",
		"mysql_fetch",
		"ora-00",
		"ora-01",
		"sqlite3.operationalerror",
		"unclosed quotation mark",
		"syntax error at or near",
		"pg::syntaxerror",
	},
	"command_injection": {
		"uid=",
		"gid=",
		"groups=",
		"root:x:0:0",
	},
	"path_traversal": {
		"root:x:0:0",
		"daemon:x:1",
		"[boot loader]",
		"[fonts]",
	},
	"deserialization": {
		"java.io.objectinputstream",
		"readobject",
		"cannot be cast to",
		"pickle.unpicklingerror",
		"__reduce__",
		"unserialize()",
	},
}

var vulnAliases = map[string]string{
	"sqli":                     "sql_injection",
	"sql":                      "sql_injection",
	"rce":                      "command_injection",
	"command-injection":        "command_injection",
	"os_command_injection":     "command_injection",
	"lfi":                      "path_traversal",
	"traversal":                "path_traversal",
	"directory_traversal":      "path_traversal",
	"cross_site_scripting":     "xss",
	"template_injection":       "ssti",
	"insecure_deserialization": "deserialization",
}

func normalizeVulnType(vulnType string) string {
	name := strings.ToLower(strings.TrimSpace(vulnType))
	name = strings.ReplaceAll(name, " ", "_")
	if alias, ok := vulnAliases[name]; ok {
		return alias
	}
	return name
}

var sstiProduct = regexp.MustCompile(`\{\{\s*(\d+)\s*\*\s*(\d+)\s*\}\}`)

// matchVulnPatterns collects evidence strings for the class from the
// response body. Empty slice means the probe saw nothing conclusive.
func matchVulnPatterns(vulnType, payload, body string) []string {
	lower := strings.ToLower(body)
	var evidence []string

	for _, sig := range vulnSignatures[vulnType] {
		if strings.Contains(lower, sig) {
			evidence = append(evidence, fmt.Sprintf("response contains %q", sig))
		}
	}

	switch vulnType {
	case "xss":
		// Reflected markup that came back unescaped.
		if payload != "" && strings.Contains(payload, "<") && strings.Contains(body, payload) {
			evidence = append(evidence, "payload reflected unescaped")
		}
	case "ssti":
		if m := sstiProduct.FindStringSubmatch(payload); m != nil {
			a, _ := strconv.Atoi(m[1])
			b, _ := strconv.Atoi(m[2])
			product := strconv.Itoa(a * b)
			// The literal template coming back means it was NOT evaluated.
			if strings.Contains(body, product) && !strings.Contains(body, m[0]) {
				evidence = append(evidence, fmt.Sprintf("template expression evaluated to %s", product))
			}
		}
	}

	return evidence
}

func confidenceFor(evidenceCount int) string {
	switch {
	case evidenceCount >= 2:
		return "medium"
	case evidenceCount == 1:
		return "low"
	default:
		return "none"
	}
}
