package tools

import (
	"context"
	"strings"
	"time"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/bus"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/graph"
	"github.com/argus-audit/argus/pkg/models"
)

// MetaControl is the Result metadata key control tools set; the agent loop
// checks it after execution to interpret finish signals.
const MetaControl = "control"

// maxWaitSeconds caps wait_for_message so a forgotten wait cannot hold an
// agent past its own timeout budget.
const maxWaitSeconds = 300

// ViewAgentGraphTool renders the live agent tree for the calling agent.
type ViewAgentGraphTool struct {
	ctrl   *graph.Controller
	selfID string
}

func NewViewAgentGraphTool(ctrl *graph.Controller, selfID string) *ViewAgentGraphTool {
	return &ViewAgentGraphTool{ctrl: ctrl, selfID: selfID}
}

func (t *ViewAgentGraphTool) Name() string { return "view_agent_graph" }

func (t *ViewAgentGraphTool) Description() string {
	return "Show the current agent tree with statuses and finding counts. No arguments."
}

func (t *ViewAgentGraphTool) Schema() map[string]any { return nil }

func (t *ViewAgentGraphTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	view := t.ctrl.AgentGraph(t.selfID)
	return Ok(map[string]any{
		"tree":  view.Tree,
		"nodes": view.Nodes,
		"edges": view.Edges,
	}).Since(start), nil
}

// SendMessageTool delivers a message to another agent's queue. Recipients
// may be addressed by agent id or by name, case-insensitively.
type SendMessageTool struct {
	reg      *graph.Registry
	selfID   string
	selfName string
}

func NewSendMessageTool(reg *graph.Registry, selfID, selfName string) *SendMessageTool {
	if selfName == "" {
		selfName = selfID
	}
	return &SendMessageTool{reg: reg, selfID: selfID, selfName: selfName}
}

func (t *SendMessageTool) Name() string { return "send_message" }

func (t *SendMessageTool) Description() string {
	return "Send a message to another agent. Arguments: to (agent id or name), content (required), priority (low|normal|high|urgent)."
}

func (t *SendMessageTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":       map[string]any{"type": "string"},
			"content":  map[string]any{"type": "string"},
			"priority": map[string]any{"type": "string", "enum": []string{"low", "normal", "high", "urgent"}},
		},
		"required": []string{"to", "content"},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	to, ok := FirstStringArg(args, "to", "recipient", "agent_id", "agent")
	if !ok {
		return Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"to\""))
	}
	content, err := RequireString(args, "content")
	if err != nil {
		return Fail(err)
	}

	recipientID, recipientName, found := t.resolve(to)
	if !found {
		return Fail(faults.Newf(faults.CommAgentNotFound, "no agent named %q", to))
	}

	priority := parsePriority(args)
	id := t.reg.Bus().Send(t.selfName, recipientID, content, models.MessageInformation, priority)

	return Ok(map[string]any{
		"message_id": id,
		"to":         recipientName,
		"priority":   priority.String(),
	}).Since(start), nil
}

func (t *SendMessageTool) resolve(to string) (id, name string, found bool) {
	if node, ok := t.reg.GetNode(to); ok {
		return node.AgentID, node.Name, true
	}
	lower := strings.ToLower(to)
	for _, node := range t.reg.Tree() {
		if strings.ToLower(node.Name) == lower {
			return node.AgentID, node.Name, true
		}
	}
	return "", "", false
}

func parsePriority(args map[string]any) models.MessagePriority {
	p, _ := StringArg(args, "priority")
	switch strings.ToLower(p) {
	case "urgent":
		return models.PriorityUrgent
	case "high":
		return models.PriorityHigh
	case "low":
		return models.PriorityLow
	default:
		return models.PriorityNormal
	}
}

// WaitForMessageTool blocks the calling agent until a message arrives or
// the wait times out. The agent's state is moved to Waiting for the
// duration so the graph reports it accurately.
type WaitForMessageTool struct {
	bus            *bus.Bus
	state          *agent.State
	defaultTimeout time.Duration
}

func NewWaitForMessageTool(b *bus.Bus, st *agent.State, defaultTimeout time.Duration) *WaitForMessageTool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &WaitForMessageTool{bus: b, state: st, defaultTimeout: defaultTimeout}
}

func (t *WaitForMessageTool) Name() string { return "wait_for_message" }

func (t *WaitForMessageTool) Description() string {
	return "Wait for a message from another agent. Arguments: timeout_seconds (default 30, max 300)."
}

func (t *WaitForMessageTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timeout_seconds": map[string]any{"type": "integer"},
		},
	}
}

func (t *WaitForMessageTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	seconds := IntArg(args, "timeout_seconds", int(t.defaultTimeout.Seconds()))
	if seconds <= 0 {
		seconds = int(t.defaultTimeout.Seconds())
	}
	if seconds > maxWaitSeconds {
		seconds = maxWaitSeconds
	}
	timeout := time.Duration(seconds) * time.Second

	if err := t.state.EnterWaiting("wait_for_message", timeout); err != nil {
		return Fail(err)
	}
	msgs, err := t.bus.WaitForMessage(ctx, t.state.AgentID(), timeout)
	// Best effort; the waiting sweep may have promoted the state already.
	_ = t.state.ExitWaiting()
	if err != nil {
		return Fail(err)
	}

	return Ok(map[string]any{
		"messages":  msgs,
		"count":     len(msgs),
		"timed_out": len(msgs) == 0,
	}).Since(start), nil
}

// SubAgentManager batches child agents for the orchestrator's control
// tools. The orchestrator implements it.
type SubAgentManager interface {
	// CreateSubAgent queues a child for the next run, returning its id.
	CreateSubAgent(name, role, task string, priority int, dependsOn []string) (string, error)
	// RunSubAgents executes every queued child, honoring dependencies.
	RunSubAgents(ctx context.Context) (map[string]any, error)
	// CollectResults returns results of all children run so far.
	CollectResults() map[string]any
}

// CreateSubAgentTool queues a child agent for a later run_sub_agents call.
type CreateSubAgentTool struct {
	mgr SubAgentManager
}

func NewCreateSubAgentTool(mgr SubAgentManager) *CreateSubAgentTool {
	return &CreateSubAgentTool{mgr: mgr}
}

func (t *CreateSubAgentTool) Name() string { return "create_sub_agent" }

func (t *CreateSubAgentTool) Description() string {
	return "Queue a sub-agent for a later run_sub_agents batch. Arguments: name, task (required), role, priority, depends_on."
}

func (t *CreateSubAgentTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":       map[string]any{"type": "string"},
			"role":       map[string]any{"type": "string"},
			"task":       map[string]any{"type": "string"},
			"priority":   map[string]any{"type": "integer"},
			"depends_on": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"name", "task"},
	}
}

func (t *CreateSubAgentTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	name, err := RequireString(args, "name")
	if err != nil {
		return Fail(err)
	}
	task, err := RequireString(args, "task")
	if err != nil {
		return Fail(err)
	}
	role, _ := StringArg(args, "role")
	priority := IntArg(args, "priority", 0)
	dependsOn := StringSliceArg(args, "depends_on")

	id, err := t.mgr.CreateSubAgent(name, role, task, priority, dependsOn)
	if err != nil {
		return Fail(err)
	}
	return Ok(map[string]any{
		"agent_id": id,
		"name":     name,
		"queued":   true,
	}).Since(start), nil
}

// RunSubAgentsTool executes the queued children as a dependency-ordered
// batch and returns their aggregated results.
type RunSubAgentsTool struct {
	mgr SubAgentManager
}

func NewRunSubAgentsTool(mgr SubAgentManager) *RunSubAgentsTool {
	return &RunSubAgentsTool{mgr: mgr}
}

func (t *RunSubAgentsTool) Name() string { return "run_sub_agents" }

func (t *RunSubAgentsTool) Description() string {
	return "Run every queued sub-agent, respecting dependencies and priorities. No arguments."
}

func (t *RunSubAgentsTool) Schema() map[string]any { return nil }

func (t *RunSubAgentsTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	results, err := t.mgr.RunSubAgents(ctx)
	if err != nil {
		if len(results) > 0 {
			return FailWithData(results, err)
		}
		return Fail(err)
	}
	return Ok(results).Since(start), nil
}

// CollectSubAgentResultsTool returns results of all children run so far.
type CollectSubAgentResultsTool struct {
	mgr SubAgentManager
}

func NewCollectSubAgentResultsTool(mgr SubAgentManager) *CollectSubAgentResultsTool {
	return &CollectSubAgentResultsTool{mgr: mgr}
}

func (t *CollectSubAgentResultsTool) Name() string { return "collect_sub_agent_results" }

func (t *CollectSubAgentResultsTool) Description() string {
	return "Collect the results of all sub-agents run so far. No arguments."
}

func (t *CollectSubAgentResultsTool) Schema() map[string]any { return nil }

func (t *CollectSubAgentResultsTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	return Ok(t.mgr.CollectResults()).Since(start), nil
}

// AgentFinishTool signals the loop that this agent considers its task done.
// The loop reads MetaControl and wraps up after the observation.
type AgentFinishTool struct{}

func NewAgentFinishTool() *AgentFinishTool { return &AgentFinishTool{} }

func (t *AgentFinishTool) Name() string { return "agent_finish" }

func (t *AgentFinishTool) Description() string {
	return "Declare this agent's task complete. Arguments: summary (required)."
}

func (t *AgentFinishTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
		"required": []string{"summary"},
	}
}

func (t *AgentFinishTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	summary, _ := FirstStringArg(args, "summary", "result", "content")
	return Ok(map[string]any{
		"status":  "finishing",
		"summary": summary,
	}).WithMeta(MetaControl, t.Name()).Since(start), nil
}

// FinishScanTool signals the orchestrator to end the whole audit.
type FinishScanTool struct{}

func NewFinishScanTool() *FinishScanTool { return &FinishScanTool{} }

func (t *FinishScanTool) Name() string { return "finish_scan" }

func (t *FinishScanTool) Description() string {
	return "End the audit and produce the final report. Arguments: summary."
}

func (t *FinishScanTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
	}
}

func (t *FinishScanTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	summary, _ := FirstStringArg(args, "summary", "result", "content")
	return Ok(map[string]any{
		"status":  "finishing",
		"summary": summary,
	}).WithMeta(MetaControl, t.Name()).Since(start), nil
}
