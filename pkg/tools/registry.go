package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
)

// Registry holds the tools one agent may dispatch. Registries are assembled
// per agent: role decides the set, and stateful tools (report, wait) are
// bound to that agent's state.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		tools: make(map[string]Tool),
		log:   log.With("component", "tool_registry"),
	}
}

// Register adds a tool. Empty names and duplicates are rejected.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return faults.New(faults.ValidationInput, "cannot register nil tool")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return faults.New(faults.ValidationInput, "tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return faults.Newf(faults.ValidationInput, "tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// RegisterAll registers every tool, stopping at the first failure.
func (r *Registry) RegisterAll(ts ...Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Describe renders the tool list for the system prompt, one line per tool.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.tools[name].Description())
	}
	return b.String()
}

// Execute dispatches one call: lookup, run, time, cap the panic blast
// radius. A missing tool is tool.not_found naming the available set so the
// model can pick another action.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result *Result, err error) {
	t, ok := r.Get(name)
	if !ok {
		return Fail(faults.Newf(faults.ToolNotFound,
			"unknown tool %q; available tools: %s", name, strings.Join(r.List(), ", ")).WithTool(name))
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tool panicked", "tool", name, "panic", rec)
			result, err = Fail(faults.Newf(faults.ToolExecution, "tool %q panicked: %v", name, rec).WithTool(name))
			result.Since(start)
		}
	}()

	result, err = t.Execute(ctx, args)
	if result == nil {
		// The contract requires data even on failure; normalize a bare
		// error return so callers never see a nil result.
		if err == nil {
			err = faults.Newf(faults.ToolExecution, "tool %q returned no result", name).WithTool(name)
		}
		result = &Result{Success: false, Error: err.Error()}
	}
	if result.DurationMS == 0 {
		result.Since(start)
	}
	if err != nil {
		// Errors leave the registry classified and carrying the tool name.
		err = faults.ClassifyTool(err, name)
	}
	return result, err
}
