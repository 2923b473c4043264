package sandboxed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/sandbox"
	"github.com/argus-audit/argus/pkg/tools"
)

// vulnClasses are the vulnerability types with a pinned tester tool.
var vulnClasses = []string{
	"command_injection",
	"sql_injection",
	"xss",
	"path_traversal",
	"ssti",
	"deserialization",
}

// vulnTestTool probes a URL for one vulnerability class with a request
// plus a response-signature match. Confidence tops out at medium; a
// run_code proof of concept always beats it.
type vulnTestTool struct {
	sub      Substrate
	vulnType string
}

// VulnTestTools returns the class-specific probes plus the router that
// takes the class as an argument.
func VulnTestTools(sub Substrate) []tools.Tool {
	out := make([]tools.Tool, 0, len(vulnClasses)+1)
	for _, class := range vulnClasses {
		out = append(out, &vulnTestTool{sub: sub, vulnType: class})
	}
	return append(out, &UniversalVulnTestTool{sub: sub})
}

func (t *vulnTestTool) Name() string { return "test_" + t.vulnType }

func (t *vulnTestTool) Description() string {
	return fmt.Sprintf("Probe a URL for %s by sending a request and matching the response against known error signatures. Arguments: url (required), method, headers, body, payload.",
		strings.ReplaceAll(t.vulnType, "_", " "))
}

func (t *vulnTestTool) Schema() map[string]any {
	return vulnProbeSchema(false)
}

func (t *vulnTestTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	return runVulnProbe(ctx, t.sub, t.Name(), t.vulnType, args)
}

// UniversalVulnTestTool routes a probe to the class named in the
// arguments, for classes without a pinned tool of their own.
type UniversalVulnTestTool struct {
	sub Substrate
}

func NewUniversalVulnTestTool(sub Substrate) *UniversalVulnTestTool {
	return &UniversalVulnTestTool{sub: sub}
}

func (t *UniversalVulnTestTool) Name() string { return "universal_vuln_test" }

func (t *UniversalVulnTestTool) Description() string {
	return "Probe a URL for a named vulnerability class. Arguments: vuln_type (required), url (required), method, headers, body, payload."
}

func (t *UniversalVulnTestTool) Schema() map[string]any {
	return vulnProbeSchema(true)
}

func (t *UniversalVulnTestTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	vulnType, ok := tools.FirstStringArg(args, "vuln_type", "type", "vulnerability")
	if !ok {
		return tools.Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"vuln_type\""))
	}
	return runVulnProbe(ctx, t.sub, t.Name(), vulnType, args)
}

func runVulnProbe(ctx context.Context, sub Substrate, toolName, vulnType string, args map[string]any) (*tools.Result, error) {
	start := time.Now()
	url, ok := tools.FirstStringArg(args, "url", "target", "endpoint")
	if !ok {
		return tools.Fail(faults.Newf(faults.ToolInputInvalid, "%s needs a url", toolName))
	}
	method, _ := tools.StringArg(args, "method")
	body, _ := tools.FirstStringArg(args, "body", "data")
	payload, _ := tools.FirstStringArg(args, "payload", "attack", "injection")

	res, err := sub.VerifyVulnerability(ctx, sandbox.VerifyProbe{
		VulnType: vulnType,
		Method:   method,
		URL:      url,
		Headers:  headerArg(args),
		Body:     body,
		Payload:  payload,
	})
	if err != nil {
		return tools.Fail(err)
	}
	return tools.Ok(res).Since(start), nil
}

func vulnProbeSchema(withType bool) map[string]any {
	properties := map[string]any{
		"url":     map[string]any{"type": "string"},
		"method":  map[string]any{"type": "string", "description": "HTTP method, default GET"},
		"headers": map[string]any{"type": "object"},
		"body":    map[string]any{"type": "string"},
		"payload": map[string]any{"type": "string", "description": "attack string checked for reflection"},
	}
	required := []string{"url"}
	if withType {
		properties["vuln_type"] = map[string]any{"type": "string"}
		required = []string{"vuln_type", "url"}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
