// Package audit assembles the engine that runs security audits: the
// orchestrator agent, its dispatchable child catalog, the sandbox, and the
// shared infrastructure (events, masking, checkpoints, persistence) every
// run uses. The CLI and the API server both sit on top of this package.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/agent/controller"
	"github.com/argus-audit/argus/pkg/agent/orchestrator"
	"github.com/argus-audit/argus/pkg/config"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/findings"
	"github.com/argus-audit/argus/pkg/models"
	"github.com/argus-audit/argus/pkg/sandbox"
)

// Request describes one audit.
type Request struct {
	// Task is the instruction handed to the orchestrator.
	Task string
	// ProjectRoot is the directory under audit. File tools and the
	// sandbox are confined to it.
	ProjectRoot string
	// Project carries extra project metadata (language, framework,
	// entry points) merged into what every agent sees.
	Project map[string]any
}

// Report statuses.
const (
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
	StatusBudgetExceeded = "budget_exceeded"
)

// Report is the outcome of one audit run. Findings are deduplicated across
// the orchestrator and every child; partial results survive failure and
// cancellation.
type Report struct {
	Task       string                        `json:"task"`
	Status     string                        `json:"status"`
	Conclusion string                        `json:"conclusion,omitempty"`
	Findings   []models.Finding              `json:"findings"`
	Summary    findings.Summary              `json:"summary"`
	Dispatches []orchestrator.DispatchRecord `json:"dispatches,omitempty"`
	Usage      models.TokenUsage             `json:"usage"`
	Iterations int                           `json:"iterations"`
	DurationMS int64                         `json:"duration_ms"`
	Error      string                        `json:"error,omitempty"`
}

// Run performs one audit. It builds the orchestrator with its control
// toolset, wires the child catalog behind it, and drives the root agent to
// a terminal state. The returned report is non-nil whenever the run
// started; the error (if any) carries the canonical fault kind so callers
// can map exit codes.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, faults.New(faults.ValidationInput, "audit task is required")
	}
	root, err := filepath.Abs(req.ProjectRoot)
	if err != nil {
		return nil, faults.Wrap(faults.ValidationInput, "resolving project root", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, faults.Wrap(faults.ValidationInput, fmt.Sprintf("project root %s", root), err)
	}
	if !info.IsDir() {
		return nil, faults.Newf(faults.ValidationInput, "project root %s is not a directory", root)
	}

	// Agents from earlier runs have reached a terminal status; drop them
	// so the graph reflects this run only.
	if n := e.graph.Cleanup(); n > 0 {
		e.log.Debug("cleared terminal agents from previous run", "count", n)
	}

	defs := catalogDefinitions(e.cfg.Agents.Catalog)

	sub, closeSub := e.acquireSubstrate(ctx, root)
	if closeSub != nil {
		defer closeSub()
	}

	rootState := agent.NewState("", "orchestrator", models.RoleOrchestrator, "", agent.StateConfig{
		MaxIterations: e.cfg.Agents.Orchestrator.MaxIterations,
		TokenBudget:   e.cfg.Agents.Orchestrator.TokenBudget,
		Timeout:       e.cfg.Agents.Orchestrator.Timeout,
	})

	project := map[string]any{
		"root": root,
		"name": filepath.Base(root),
	}
	for k, v := range req.Project {
		project[k] = v
	}

	ctrlCfg := controller.Config{
		CheckpointEvery: e.cfg.Checkpoints.Interval,
		Temperature:     e.cfg.LLM.Temperature,
		MaxTokens:       e.cfg.LLM.MaxTokens,
	}

	runner := orchestrator.NewRunner(rootState, orchestrator.Session{
		Root:    root,
		Project: project,
		Config:  advisoryConfig(e.cfg),
	}, defs, orchestrator.Deps{
		LLM:         e.llm,
		Graph:       e.registry,
		Emitter:     e.emitter,
		Masker:      e.masker,
		Checkpoints: e.store,
		Toolset:     e.toolsetFunc(root, sub),
		Controller:  ctrlCfg,
		Logger:      e.log,
	}, orchestrator.Guardrails{
		MaxDispatchesPerChild: e.cfg.Orchestration.MaxDispatchesPerChild,
		MaxParallel:           e.cfg.Orchestration.MaxParallel,
		ChildTimeout:          e.cfg.Orchestration.ChildTimeout,
	})

	reg, err := e.orchestratorToolset(runner, rootState)
	if err != nil {
		return nil, faults.Wrap(faults.AgentInit, "building orchestrator toolset", err)
	}

	ctrl := controller.New(controller.Deps{
		LLM:         e.llm,
		Registry:    reg,
		Emitter:     e.emitter,
		Masker:      e.masker,
		Checkpoints: e.store,
		Dispatcher:  runner,
		Mailbox:     e.bus,
		Logger:      e.log,
		SubAgents:   orchestrator.Catalog(defs),
	}, ctrlCfg)
	inst := orchestrator.NewInstance(rootState, ctrl)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if t := rootState.Timeout(); t > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, t)
		defer cancel()
	}

	if err := e.registry.Register(inst, rootState, cancel); err != nil {
		return nil, faults.Wrap(faults.AgentInit, "registering orchestrator", err)
	}

	taskID := uuid.NewString()
	ec := agent.NewExecutionContext(taskID, rootState.AgentID(), rootState.Name())
	runCtx = agent.IntoContext(runCtx, ec)

	// Waiters normally resume inside wait_for_message; the sweep catches a
	// state stuck past its deadline and feeds the timeout back to the model.
	go e.sweepWaiters(runCtx)

	in := &agent.RunInput{
		Task:    req.Task,
		Context: map[string]any{"project_info": project},
	}

	e.log.Info("audit started",
		"task_id", taskID,
		"root_agent", rootState.AgentID(),
		"project_root", root,
		"catalog", len(defs),
		"sandbox", sub != nil)

	start := time.Now()
	res, runErr := inst.Run(runCtx, in)

	// Children are bounded by the run context, but a straggler mid-stop
	// must not outlive the report.
	if active := e.graph.CheckActiveAgents(rootState.AgentID()); active.Any() {
		e.log.Warn("agents still active after orchestrator exit",
			"running", len(active.Running),
			"waiting", len(active.Waiting),
			"stopping", len(active.Stopping))
		e.graph.StopAllAgents(true)
	}

	rep := buildReport(req, res, runErr, runner, time.Since(start))

	e.log.Info("audit finished",
		"task_id", taskID,
		"status", rep.Status,
		"findings", len(rep.Findings),
		"dispatches", len(rep.Dispatches),
		"tokens", rep.Usage.TotalTokens,
		"duration_ms", rep.DurationMS)

	return rep, runErr
}

// waitSweepInterval is how often stuck waiters are checked. Wait timeouts
// are tens of seconds, so a coarse tick is enough.
const waitSweepInterval = 5 * time.Second

// sweepWaiters promotes timed-out waiting agents until the run ends.
func (e *Engine) sweepWaiters(ctx context.Context) {
	t := time.NewTicker(waitSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := e.registry.SweepExpiredWaits(now); n > 0 {
				e.log.Info("promoted timed-out waiting agents", "count", n)
			}
		}
	}
}

// acquireSubstrate hands back the injected substrate or connects the
// Docker sandbox for this run. Docker being down degrades the run to
// read-only tools instead of failing it.
func (e *Engine) acquireSubstrate(ctx context.Context, projectRoot string) (Substrate, func()) {
	if e.substrate != nil {
		return e.substrate, nil
	}
	sb, err := sandbox.New(ctx, sandboxConfig(e.cfg, projectRoot), e.log)
	if err != nil {
		e.log.Warn("sandbox unavailable, continuing without sandboxed tools", "error", err)
		return nil, nil
	}
	return sb, func() {
		if err := sb.Close(); err != nil {
			e.log.Warn("closing sandbox", "error", err)
		}
	}
}

// buildReport merges root and child findings into one deduplicated set and
// classifies the run outcome.
func buildReport(req Request, res *agent.Result, runErr error, runner *orchestrator.Runner, elapsed time.Duration) *Report {
	set := findings.NewSet()
	set.AddAll(runner.Findings()...)
	if res != nil {
		set.AddAll(res.Findings...)
	}
	items := set.Items()

	rep := &Report{
		Task:       req.Task,
		Status:     statusOf(res, runErr),
		Findings:   items,
		Summary:    findings.Summarize(items),
		Dispatches: runner.History(),
		DurationMS: elapsed.Milliseconds(),
	}
	usage := runner.Usage()
	if res != nil {
		usage.Add(&res.TokensUsed)
		rep.Iterations = res.Iterations
		if s, ok := res.Data["summary"].(string); ok {
			rep.Conclusion = s
		}
	}
	rep.Usage = usage
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	return rep
}

func statusOf(res *agent.Result, err error) string {
	switch {
	case err == nil && res != nil && res.Success:
		return StatusCompleted
	case faults.IsKind(err, faults.AgentCancelled):
		return StatusCancelled
	case faults.IsKind(err, faults.AgentTimeout), faults.IsKind(err, faults.AgentIterationLimit):
		return StatusBudgetExceeded
	default:
		return StatusFailed
	}
}

// advisoryConfig is the configuration slice children see in their task
// context. Informational only; limits are enforced by the runner.
func advisoryConfig(cfg *config.Config) map[string]any {
	return map[string]any{
		"scanners":     cfg.Tools.Scanners,
		"max_parallel": cfg.Orchestration.MaxParallel,
	}
}

// Run performs a single audit with a throwaway engine. The CLI's one-shot
// path.
func Run(ctx context.Context, cfg *config.Config, req Request, opts Options) (*Report, error) {
	eng, err := New(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	defer eng.Close()
	return eng.Run(ctx, req)
}
