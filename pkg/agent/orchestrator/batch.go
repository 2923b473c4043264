package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/executor"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/findings"
	"github.com/argus-audit/argus/pkg/tools"
)

var _ tools.SubAgentManager = (*Runner)(nil)

// CreateSubAgent queues one child for the next run_sub_agents batch and
// returns the task id that depends_on entries can reference. The dispatch
// cap counts queued tasks, so a child cannot be scheduled past its limit.
func (r *Runner) CreateSubAgent(name, role, task string, priority int, dependsOn []string) (string, error) {
	def, ok := r.resolve(name)
	if !ok {
		// Models sometimes put the catalog name in role instead.
		if def, ok = r.resolve(role); !ok {
			return "", faults.Newf(faults.CommAgentNotFound, "unknown agent %q, available: %s", name, strings.Join(r.names(), ", "))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.childLocked(def)
	scheduled := ch.dispatches + r.queuedLocked(def.Name)
	if scheduled >= r.rails.MaxDispatchesPerChild {
		return "", faults.Newf(faults.ValidationInput, "%s is already scheduled %d times; use a different agent or run the batch", def.Name, scheduled)
	}

	r.seq++
	id := fmt.Sprintf("%s-%d", strings.ToLower(def.Name), r.seq)
	r.queue = append(r.queue, executor.Task{
		AgentID:   id,
		Name:      def.Name,
		Role:      def.Role,
		Task:      task,
		Priority:  priority,
		DependsOn: dependsOn,
	})
	return id, nil
}

// RunSubAgents drains the queue and executes it as one dependency-ordered
// batch. Per-task failures are reported in the returned map rather than as
// an error; the error path is reserved for problems that stop the whole
// batch (dependency cycles, cancellation).
func (r *Runner) RunSubAgents(ctx context.Context) (map[string]any, error) {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return map[string]any{"message": "no sub-agents queued; call create_sub_agent first"}, nil
	}
	resolveDependencyNames(batch)

	exec := executor.New(r.runTask, executor.Options{
		MaxParallel: r.rails.MaxParallel,
		TaskTimeout: r.rails.ChildTimeout,
		Logger:      r.log,
	})
	br, err := exec.Execute(ctx, batch)
	if br == nil {
		return nil, err
	}
	return r.batchReport(br), err
}

// runTask adapts one queued task to the dispatch core. The executor has
// already applied the per-task timeout.
func (r *Runner) runTask(ctx context.Context, t executor.Task) (*agent.Result, error) {
	def, ok := r.resolve(t.Name)
	if !ok {
		return nil, faults.Newf(faults.CommAgentNotFound, "unknown agent %q", t.Name)
	}

	r.mu.Lock()
	ch := r.childLocked(def)
	ch.dispatches++
	input := r.childInputLocked(t.Context)
	r.mu.Unlock()

	res, err := r.runChild(ctx, def, t.AgentID, t.Task, input)
	if res != nil {
		r.harvest(def, t.Task, res)
	} else {
		r.mu.Lock()
		ch.dispatches--
		r.mu.Unlock()
	}
	return res, err
}

// CollectResults returns the latest result entry per child plus aggregate
// finding counts.
func (r *Runner) CollectResults() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	agents := make(map[string]any, len(r.previous))
	for k, v := range r.previous {
		agents[k] = v
	}
	return map[string]any{
		"agents":   agents,
		"findings": findings.Summarize(r.agg.Items()),
	}
}

func (r *Runner) queuedLocked(name string) int {
	n := 0
	for i := range r.queue {
		if strings.EqualFold(r.queue[i].Name, name) {
			n++
		}
	}
	return n
}

func (r *Runner) batchReport(br *executor.BatchResult) map[string]any {
	tasks := make(map[string]any, len(br.Outcomes))
	for id, out := range br.Outcomes {
		entry := map[string]any{
			"agent":  out.Task.Name,
			"status": out.StatusString(),
		}
		if out.Err != nil {
			entry["error"] = out.Err.Error()
		}
		if out.Result != nil {
			entry["findings"] = len(out.Result.Findings)
			entry["iterations"] = out.Result.Iterations
			if s, _ := out.Result.Data["summary"].(string); s != "" {
				entry["summary"] = s
			}
		}
		tasks[id] = entry
	}

	r.mu.Lock()
	total := r.agg.Len()
	r.mu.Unlock()

	return map[string]any{
		"tasks":          tasks,
		"succeeded":      br.Succeeded,
		"failed":         br.Failed,
		"skipped":        br.Skipped,
		"total_findings": total,
		"duration_ms":    br.DurationMS,
	}
}

// resolveDependencyNames rewrites depends_on entries that name a catalog
// agent rather than a task id, when exactly one queued task matches.
func resolveDependencyNames(batch []executor.Task) {
	for i := range batch {
		for j, dep := range batch[i].DependsOn {
			if taskExists(batch, dep) {
				continue
			}
			if id, ok := soleTaskFor(batch, dep); ok && id != batch[i].AgentID {
				batch[i].DependsOn[j] = id
			}
		}
	}
}

func taskExists(batch []executor.Task, id string) bool {
	for i := range batch {
		if batch[i].AgentID == id {
			return true
		}
	}
	return false
}

func soleTaskFor(batch []executor.Task, name string) (string, bool) {
	id, n := "", 0
	for i := range batch {
		if strings.EqualFold(batch[i].Name, name) {
			id = batch[i].AgentID
			n++
		}
	}
	return id, n == 1
}
