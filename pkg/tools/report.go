package tools

import (
	"context"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/findings"
	"github.com/argus-audit/argus/pkg/models"
)

// FindingSink receives finalized findings. *agent.State satisfies it.
type FindingSink interface {
	AddFindings(fs ...models.Finding)
}

// ReportTool is create_vulnerability_report, the only sanctioned way to
// finalize a finding. Raw arguments pass through the normalizer before the
// finding reaches the sink, so nothing unnormalized enters a result set.
type ReportTool struct {
	sink FindingSink
}

// NewReportTool binds the tool to one agent's finding sink.
func NewReportTool(sink FindingSink) *ReportTool {
	return &ReportTool{sink: sink}
}

func (t *ReportTool) Name() string { return "create_vulnerability_report" }

func (t *ReportTool) Description() string {
	return "Record a confirmed vulnerability. Arguments: vulnerability_type, severity, file_path, line_start, description (required), title, code_snippet, poc, recommendation, is_verified."
}

func (t *ReportTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"vulnerability_type": map[string]any{"type": "string"},
			"severity":           map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low", "info"}},
			"file_path":          map[string]any{"type": "string"},
			"line_start":         map[string]any{"type": "integer"},
			"line_end":           map[string]any{"type": "integer"},
			"title":              map[string]any{"type": "string"},
			"description":        map[string]any{"type": "string"},
			"code_snippet":       map[string]any{"type": "string"},
			"poc":                map[string]any{"type": "string"},
			"recommendation":     map[string]any{"type": "string"},
			"is_verified":        map[string]any{"type": "boolean"},
		},
		"required": []string{"description"},
	}
}

func (t *ReportTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	if len(args) == 0 {
		return Fail(faults.New(faults.ToolInputInvalid, "report requires at least a description"))
	}
	if _, ok := FirstStringArg(args, "description", "desc", "details", "title"); !ok {
		return Fail(faults.New(faults.ToolInputInvalid, "report requires a description"))
	}

	finding := findings.Normalize(args)
	if t.sink != nil {
		t.sink.AddFindings(finding)
	}

	return Ok(map[string]any{
		"status":      "reported",
		"title":       finding.Title,
		"severity":    string(finding.Severity),
		"fingerprint": finding.Fingerprint(),
	}).WithMeta("finding", finding).Since(start), nil
}
