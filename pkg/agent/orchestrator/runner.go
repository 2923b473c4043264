package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/agent/controller"
	"github.com/argus-audit/argus/pkg/executor"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/findings"
	"github.com/argus-audit/argus/pkg/models"
	"github.com/argus-audit/argus/pkg/tools"
)

// Runner executes children for one orchestrator run. It implements the
// controller's Dispatcher (the dispatch_agent and summarize actions) and
// the batch surface behind create_sub_agent / run_sub_agents /
// collect_sub_agent_results.
type Runner struct {
	deps  Deps
	rails Guardrails
	log   *slog.Logger

	parent *agent.State
	sess   Session
	defs   []Definition

	mu       sync.Mutex
	children map[string]*child
	previous map[string]map[string]any
	agg      *findings.Set
	history  []DispatchRecord
	usage    models.TokenUsage
	queue    []executor.Task
	seq      int
}

var _ controller.Dispatcher = (*Runner)(nil)

// NewRunner builds the dispatch runtime for one orchestrator run. parent
// is the orchestrator's own state; children register under it in the
// graph.
func NewRunner(parent *agent.State, sess Session, defs []Definition, deps Deps, rails Guardrails) *Runner {
	rails.setDefaults()
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		deps:     deps,
		rails:    rails,
		log:      log.With("component", "dispatch"),
		parent:   parent,
		sess:     sess,
		defs:     defs,
		children: make(map[string]*child),
		previous: make(map[string]map[string]any),
		agg:      findings.NewSet(),
	}
}

// Dispatch runs one child to completion and returns the observation text
// for the orchestrator's conversation. Unknown names and capped children
// come back as advisory observations rather than errors; an error means
// the run itself could not proceed.
func (r *Runner) Dispatch(ctx context.Context, name, task string, extra map[string]any) (string, error) {
	def, ok := r.resolve(name)
	if !ok {
		return fmt.Sprintf("unknown agent %q. Available agents: %s.", name, strings.Join(r.names(), ", ")), nil
	}

	r.mu.Lock()
	ch := r.childLocked(def)
	if ch.dispatches >= r.rails.MaxDispatchesPerChild {
		n := ch.dispatches
		r.mu.Unlock()
		return fmt.Sprintf("%s has already run %d times. Dispatch a different agent or finish the audit with the results collected so far.", def.Name, n), nil
	}
	if ch.running {
		r.mu.Unlock()
		return fmt.Sprintf("%s is still running. Wait for its observation before dispatching it again.", def.Name), nil
	}
	ch.dispatches++
	ch.running = true
	attempt := ch.dispatches
	input := r.childInputLocked(extra)
	r.mu.Unlock()

	r.log.Info("dispatching agent", "agent", def.Name, "role", def.Role.String(), "attempt", attempt)

	res, err := r.runChild(ctx, def, ch.id, task, input)
	if err != nil {
		r.mu.Lock()
		ch.running = false
		if res == nil {
			// The child never ran; the attempt does not count.
			ch.dispatches--
			r.mu.Unlock()
			return "", err
		}
		r.mu.Unlock()
		// Cancelled mid-run. Keep whatever it found before stopping.
		r.harvest(def, task, res)
		return "", err
	}
	return r.harvest(def, task, res), nil
}

// runChild builds a fresh state for the invocation, registers the child
// under the orchestrator in the graph, and drives it to a terminal status.
// A failed child is not a dispatch error; only cancellation and
// construction problems surface as errors.
func (r *Runner) runChild(ctx context.Context, def Definition, agentID, task string, input map[string]any) (*agent.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.AgentCancelled, "dispatch cancelled before start", err)
	}

	st := agent.NewState(agentID, def.Name, def.Role, r.parent.AgentID(), agent.StateConfig{
		MaxIterations: def.MaxIterations,
		TokenBudget:   def.TokenBudget,
		Timeout:       r.rails.ChildTimeout,
	})
	st.SetTaskContext(input)

	inst, err := r.build(def, st)
	if err != nil {
		return nil, faults.Wrap(faults.AgentInit, fmt.Sprintf("building agent %s", def.Name), err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.rails.ChildTimeout)
	defer cancel()
	if err := r.deps.Graph.Register(inst, st, cancel); err != nil {
		return nil, err
	}
	if ec := agent.FromContext(ctx); ec != nil {
		runCtx = agent.IntoContext(runCtx, ec.Child(agentID, def.Name))
	}

	res, runErr := inst.Run(runCtx, &agent.RunInput{Task: task, Context: input})
	if err := ctx.Err(); err != nil {
		return res, faults.Wrap(faults.AgentCancelled, "dispatch cancelled", err)
	}
	if res == nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, faults.Newf(faults.AgentInit, "agent %s returned no result", def.Name)
	}
	return res, nil
}

func (r *Runner) build(def Definition, st *agent.State) (agent.Agent, error) {
	if r.deps.Build != nil {
		return r.deps.Build(def, st)
	}
	var reg *tools.Registry
	if r.deps.Toolset != nil {
		var err error
		reg, err = r.deps.Toolset(def, st)
		if err != nil {
			return nil, err
		}
	}
	if reg == nil {
		reg = tools.NewRegistry(r.deps.Logger)
	}
	ctrl := controller.New(controller.Deps{
		LLM:         r.deps.LLM,
		Registry:    reg,
		Emitter:     r.deps.Emitter,
		Masker:      r.deps.Masker,
		Checkpoints: r.deps.Checkpoints,
		Mailbox:     r.deps.Graph.Bus(),
		Logger:      r.deps.Logger,
	}, r.deps.Controller)
	return NewInstance(st, ctrl), nil
}

// childInputLocked assembles the context a child receives: caller extras,
// project_info with root guaranteed, the global config, every previous
// result, and the running aggregated findings.
func (r *Runner) childInputLocked(extra map[string]any) map[string]any {
	in := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		in[k] = v
	}
	in["project_info"] = r.projectInfo(extra["project_info"])
	if _, ok := in["config"]; !ok && len(r.sess.Config) > 0 {
		in["config"] = r.sess.Config
	}
	if len(r.previous) > 0 {
		prev := make(map[string]any, len(r.previous))
		for k, v := range r.previous {
			prev[k] = v
		}
		in["previous_results"] = prev
	}
	if r.agg.Len() > 0 {
		in["findings"] = r.agg.Items()
	}
	return in
}

// projectInfo merges a caller-supplied project_info over the session's and
// guarantees the root path is present.
func (r *Runner) projectInfo(override any) map[string]any {
	pi := make(map[string]any, len(r.sess.Project)+1)
	for k, v := range r.sess.Project {
		pi[k] = v
	}
	if m, ok := override.(map[string]any); ok {
		for k, v := range m {
			pi[k] = v
		}
	}
	if root, _ := pi["root"].(string); root == "" && r.sess.Root != "" {
		pi["root"] = r.sess.Root
	}
	return pi
}

func (r *Runner) resolve(name string) (Definition, bool) {
	name = strings.TrimSpace(name)
	for _, d := range r.defs {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Definition{}, false
}

func (r *Runner) childLocked(def Definition) *child {
	k := strings.ToLower(def.Name)
	ch, ok := r.children[k]
	if !ok {
		ch = &child{id: uuid.NewString(), def: def}
		r.children[k] = ch
	}
	return ch
}

func (r *Runner) names() []string {
	out := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.Name)
	}
	return out
}

// Findings returns the merged, deduplicated findings of every dispatch so
// far.
func (r *Runner) Findings() []models.Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agg.Items()
}

// History returns the completed dispatch records, oldest first.
func (r *Runner) History() []DispatchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DispatchRecord, len(r.history))
	copy(out, r.history)
	return out
}

// Usage returns the tokens consumed by all dispatched children so far.
func (r *Runner) Usage() models.TokenUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}
