// Package orchestrator runs child agents on behalf of the orchestrator
// agent. It owns the dispatch protocol: resolving catalog names, enforcing
// per-child dispatch caps, assembling child inputs from prior results,
// registering children in the agent graph, and merging returned findings
// into one deduplicated set.
package orchestrator

import (
	"log/slog"
	"time"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/agent/controller"
	"github.com/argus-audit/argus/pkg/checkpoint"
	"github.com/argus-audit/argus/pkg/events"
	"github.com/argus-audit/argus/pkg/graph"
	"github.com/argus-audit/argus/pkg/llm"
	"github.com/argus-audit/argus/pkg/masking"
	"github.com/argus-audit/argus/pkg/models"
	"github.com/argus-audit/argus/pkg/tools"
)

// Definition declares one dispatchable child agent: the catalog name the
// orchestrator's model refers to it by, its audit role, and the description
// rendered into the orchestrator's system prompt.
type Definition struct {
	Name        string
	Role        models.Role
	Description string

	// MaxIterations and TokenBudget bound one run of this child. Zero
	// means the state defaults apply.
	MaxIterations int
	TokenBudget   int
}

// Catalog renders definitions as "name: description" lines for the
// orchestrator's system prompt.
func Catalog(defs []Definition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Name+": "+d.Description)
	}
	return out
}

// Session carries the audit-wide inputs every child receives regardless of
// task text: the project under audit and the global configuration.
type Session struct {
	// Root is the project root path, injected into project_info when the
	// orchestrator's model omits it.
	Root    string
	Project map[string]any
	Config  map[string]any
}

// Guardrails holds resolved orchestration limits.
type Guardrails struct {
	// MaxDispatchesPerChild caps how often one catalog entry may run.
	// Attempts beyond the cap come back as an advisory observation.
	MaxDispatchesPerChild int
	// MaxParallel caps concurrently running children in a batch.
	MaxParallel int64
	// ChildTimeout bounds a single child run.
	ChildTimeout time.Duration
}

func (g *Guardrails) setDefaults() {
	if g.MaxDispatchesPerChild <= 0 {
		g.MaxDispatchesPerChild = 2
	}
	if g.MaxParallel <= 0 {
		g.MaxParallel = 5
	}
	if g.ChildTimeout <= 0 {
		g.ChildTimeout = 10 * time.Minute
	}
}

// ToolsetFunc assembles the tool registry one child run uses. It is called
// per invocation so stateful tools start fresh. A nil func (or nil
// registry) gives the child no tools beyond its Final Answer.
type ToolsetFunc func(def Definition, st *agent.State) (*tools.Registry, error)

// BuildFunc constructs the runnable for one child invocation. The runner
// registers the returned agent in the graph and drives it to a terminal
// state. Tests inject scripted agents here; production leaves it nil and
// children run a ReAct controller over LLM and Toolset.
type BuildFunc func(def Definition, st *agent.State) (agent.Agent, error)

// Deps bundles what the runner needs to build and run children.
type Deps struct {
	LLM         llm.Client
	Graph       *graph.Registry
	Emitter     *events.Emitter
	Masker      *masking.Service
	Checkpoints checkpoint.Store
	Toolset     ToolsetFunc
	Build       BuildFunc
	Controller  controller.Config
	Logger      *slog.Logger
}

// DispatchRecord is one completed dispatch, oldest first.
type DispatchRecord struct {
	Agent      string
	Task       string
	Status     string
	Iterations int
	// Reported counts findings the child returned; Merged counts how many
	// were net new after deduplication.
	Reported   int
	Merged     int
	DurationMS int64
	Error      string
}

// child tracks one catalog entry across dispatches. The agent id stays
// stable so the graph shows one node per catalog entry; state is rebuilt
// fresh on every invocation.
type child struct {
	id         string
	def        Definition
	dispatches int
	running    bool
}
