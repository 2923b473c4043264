// Package sandboxed exposes the container sandbox as agent tools: raw
// command execution, HTTP probes via curl, proof-of-concept code runs,
// and the request-and-match vulnerability testers built on top. These
// are the only tools that execute anything; everything they run is
// confined to an ephemeral container with the project mounted read-only.
package sandboxed

import (
	"context"
	"fmt"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/sandbox"
	"github.com/argus-audit/argus/pkg/tools"
)

// maxTimeoutSeconds caps a caller-requested timeout. The substrate has
// its own default when the argument is absent.
const maxTimeoutSeconds = 600

// Substrate is the slice of the sandbox surface these tools need.
type Substrate interface {
	ExecuteCommand(ctx context.Context, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error)
	ExecuteHTTPRequest(ctx context.Context, req sandbox.HTTPRequest) (*sandbox.ExecResult, error)
	RunCode(ctx context.Context, language, source string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error)
	VerifyVulnerability(ctx context.Context, probe sandbox.VerifyProbe) (*sandbox.VerifyResult, error)
}

// All returns every sandbox-backed tool bound to the substrate.
func All(sub Substrate) []tools.Tool {
	out := []tools.Tool{
		NewExecTool(sub),
		NewHTTPTool(sub),
		NewRunCodeTool(sub),
	}
	out = append(out, LanguageTestTools(sub)...)
	return append(out, VulnTestTools(sub)...)
}

// ExecTool runs one shell command in a fresh container.
type ExecTool struct {
	sub Substrate
}

func NewExecTool(sub Substrate) *ExecTool { return &ExecTool{sub: sub} }

func (t *ExecTool) Name() string { return "sandbox_exec" }

func (t *ExecTool) Description() string {
	return "Run a shell command in the isolated sandbox. The project is mounted read-only at /workspace; /tmp is writable. Arguments: command (required), timeout (seconds)."
}

func (t *ExecTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "shell command to run"},
			"timeout": map[string]any{"type": "integer", "description": "wall-clock limit in seconds"},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	start := time.Now()
	command, ok := tools.FirstStringArg(args, "command", "cmd")
	if !ok {
		return tools.Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"command\""))
	}

	res, err := t.sub.ExecuteCommand(ctx, command, sandbox.ExecOptions{Timeout: timeoutArg(args)})
	return passthrough(start, res, err)
}

// HTTPTool sends one HTTP request from inside the sandbox. The request
// originates in a containerized curl, never from the engine process.
type HTTPTool struct {
	sub Substrate
}

func NewHTTPTool(sub Substrate) *HTTPTool { return &HTTPTool{sub: sub} }

func (t *HTTPTool) Name() string { return "sandbox_http" }

func (t *HTTPTool) Description() string {
	return "Send an HTTP request from inside the sandbox via curl. The status line, headers and body land on stdout. Arguments: url (required), method, headers, body, timeout (seconds)."
}

func (t *HTTPTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string"},
			"method":  map[string]any{"type": "string", "description": "HTTP method, default GET"},
			"headers": map[string]any{"type": "object"},
			"body":    map[string]any{"type": "string"},
			"timeout": map[string]any{"type": "integer", "description": "request limit in seconds"},
		},
		"required": []string{"url"},
	}
}

func (t *HTTPTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	start := time.Now()
	url, ok := tools.FirstStringArg(args, "url", "target", "endpoint")
	if !ok {
		return tools.Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"url\""))
	}
	method, _ := tools.StringArg(args, "method")
	body, _ := tools.FirstStringArg(args, "body", "data")

	res, err := t.sub.ExecuteHTTPRequest(ctx, sandbox.HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: headerArg(args),
		Body:    body,
		Timeout: timeoutArg(args),
	})
	return passthrough(start, res, err)
}

// RunCodeTool stages a source snippet onto the container tmpfs and runs
// it with the matching interpreter. The preferred verification path: the
// model writes a proof of concept and the output decides.
type RunCodeTool struct {
	sub Substrate
}

func NewRunCodeTool(sub Substrate) *RunCodeTool { return &RunCodeTool{sub: sub} }

func (t *RunCodeTool) Name() string { return "run_code" }

func (t *RunCodeTool) Description() string {
	return "Execute a code snippet in the sandbox. Supported languages: python, javascript, php, ruby, go, java, shell. Arguments: language (required), source (required), timeout (seconds)."
}

func (t *RunCodeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"language": map[string]any{"type": "string"},
			"source":   map[string]any{"type": "string"},
			"timeout":  map[string]any{"type": "integer", "description": "wall-clock limit in seconds"},
		},
		"required": []string{"language", "source"},
	}
}

func (t *RunCodeTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	start := time.Now()
	language, ok := tools.FirstStringArg(args, "language", "lang")
	if !ok {
		return tools.Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"language\""))
	}
	source, ok := tools.FirstStringArg(args, "source", "code", "script")
	if !ok {
		return tools.Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"source\""))
	}

	res, err := t.sub.RunCode(ctx, language, source, sandbox.ExecOptions{Timeout: timeoutArg(args)})
	return passthrough(start, res, err)
}

// passthrough maps a substrate outcome onto a tool result. Substrate
// faults that still produced output (a timed-out run, say) keep their
// partial data on the failed result.
func passthrough(start time.Time, res *sandbox.ExecResult, err error) (*tools.Result, error) {
	if err != nil {
		if res != nil {
			return tools.FailWithData(res, err)
		}
		return tools.Fail(err)
	}
	return tools.Ok(res).Since(start), nil
}

func timeoutArg(args map[string]any) time.Duration {
	secs := tools.IntArg(args, "timeout", 0)
	if secs <= 0 {
		return 0
	}
	if secs > maxTimeoutSeconds {
		secs = maxTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// headerArg flattens the loosely typed headers argument into strings.
func headerArg(args map[string]any) map[string]string {
	raw, ok := tools.MapArg(args, "headers")
	if !ok || len(raw) == 0 {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for key, value := range raw {
		headers[key] = fmt.Sprintf("%v", value)
	}
	return headers
}
