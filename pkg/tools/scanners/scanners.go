// Package scanners adapts external security scanners into tools. Every
// scanner binary runs inside the sandbox against the read-only workspace
// mount; only its stdout, exit code, and a named report path are trusted.
// Missing or malformed JSON output means zero findings unless stderr
// clearly indicates the scanner itself broke.
package scanners

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/sandbox"
	"github.com/argus-audit/argus/pkg/tools"
)

// scanTimeout caps a single scanner run. Scanners are slower than file
// tools but must never eat the whole agent budget.
const scanTimeout = 5 * time.Minute

// errNoJSON marks scanner output that contained no parseable report.
var errNoJSON = errors.New("no JSON output")

// Executor is the slice of the sandbox surface scanners need.
type Executor interface {
	ExecuteCommand(ctx context.Context, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error)
	ResolveScanPath(target string) (string, string, error)
}

// Finding is the normalized cross-scanner result row. Secrets are never
// copied into it; secret scanners report location and rule only.
type Finding struct {
	RuleID      string `json:"rule_id,omitempty"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	FilePath    string `json:"file_path"`
	Line        int    `json:"line,omitempty"`
	EndLine     int    `json:"end_line,omitempty"`
	Description string `json:"description,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
}

// scanner is the shared scaffold: build a command for the resolved target,
// run it sandboxed, parse stdout into findings.
type scanner struct {
	name    string
	desc    string
	exec    Executor
	network bool
	build   func(path string) string
	parse   func(stdout string) ([]Finding, error)
}

func (s *scanner) Name() string        { return s.name }
func (s *scanner) Description() string { return s.desc }

func (s *scanner) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File or directory to scan, relative to the project root. Defaults to the whole project.",
			},
		},
	}
}

func (s *scanner) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	start := time.Now()

	target, _ := tools.FirstStringArg(args, "path", "target", "directory", "file", "dir")
	path, warn, err := s.exec.ResolveScanPath(target)
	if err != nil {
		return tools.Fail(err)
	}

	res, err := s.exec.ExecuteCommand(ctx, s.build(path), sandbox.ExecOptions{
		Network: s.network,
		Timeout: scanTimeout,
	})
	if err != nil {
		return tools.Fail(err)
	}

	findings, perr := s.parse(res.Stdout)
	if perr != nil {
		if fault := scannerFault(res.Stderr); fault != "" {
			return tools.Fail(faults.Newf(faults.ToolExternal,
				"%s failed: %s. Use pattern_match as a fallback.", s.name, fault).WithTool(s.name))
		}
		// No usable JSON and no fault on stderr: the scanner ran and
		// found nothing it could report.
		findings = nil
	}

	data := map[string]any{
		"scanner":  s.name,
		"target":   path,
		"count":    len(findings),
		"findings": findings,
	}
	if warn != "" {
		data["warning"] = warn
	}
	return tools.Ok(data).Since(start), nil
}

// faultMarkers are stderr fragments that mean "the scanner broke", as
// opposed to diagnostics scanners chat about during normal runs.
var faultMarkers = []string{
	"command not found",
	"not recognized as",
	"no such file or directory",
	"permission denied",
	"traceback (most recent call last)",
	"panic:",
	"fatal:",
	"segmentation fault",
	"out of memory",
}

func scannerFault(stderr string) string {
	lower := strings.ToLower(stderr)
	for _, marker := range faultMarkers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		// Report the whole line the marker sits on.
		lineStart := strings.LastIndexByte(stderr[:idx], '\n') + 1
		line := stderr[lineStart:]
		if end := strings.IndexByte(line, '\n'); end >= 0 {
			line = line[:end]
		}
		line = strings.TrimSpace(line)
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return ""
}

// All returns every external scanner tool bound to the executor.
func All(exec Executor) []tools.Tool {
	return []tools.Tool{
		NewSemgrepTool(exec),
		NewBanditTool(exec),
		NewGitleaksTool(exec),
		NewTrufflehogTool(exec),
		NewNpmAuditTool(exec),
		NewSafetyTool(exec),
		NewOSVTool(exec),
	}
}
