// Package executor runs batches of agent tasks with dependency ordering,
// priority scheduling, and a parallelism cap. The orchestrator uses it for
// run_sub_agents; it knows nothing about how a task is actually executed.
package executor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/models"
)

// Task is one schedulable unit: which agent to run, with what instruction,
// and which other tasks must complete first. DependsOn entries reference
// other tasks' AgentIDs.
type Task struct {
	AgentID   string
	Name      string
	Role      models.Role
	Task      string
	Context   map[string]any
	Priority  int
	DependsOn []string
}

// TaskOutcome is the terminal record of one task.
type TaskOutcome struct {
	Task   Task
	Result *agent.Result
	Err    error
	// Skipped marks tasks that never started because a dependency failed
	// or the batch was cancelled.
	Skipped    bool
	DurationMS int64
}

// Succeeded reports whether the task ran and completed successfully.
func (o *TaskOutcome) Succeeded() bool {
	return !o.Skipped && o.Err == nil && o.Result != nil && o.Result.Success
}

func (o *TaskOutcome) StatusString() string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Succeeded():
		return "completed"
	default:
		return "failed"
	}
}

// BatchResult aggregates a whole batch. Success means every task completed;
// tokens, tool calls and findings are summed across tasks that produced a
// result, including failed ones.
type BatchResult struct {
	Outcomes map[string]*TaskOutcome
	// Order lists task ids in start order.
	Order      []string
	Succeeded  int
	Failed     int
	Skipped    int
	Findings   int
	ToolCalls  int
	Tokens     models.TokenUsage
	DurationMS int64
}

func (b *BatchResult) Success() bool { return b.Failed == 0 && b.Skipped == 0 }

// RunFunc executes one task. The context already carries the per-task
// timeout. A nil result with a nil error counts as a failure.
type RunFunc func(ctx context.Context, t Task) (*agent.Result, error)

// Options tune a batch run.
type Options struct {
	// MaxParallel caps concurrently running tasks.
	MaxParallel int64
	// TaskTimeout bounds one task's execution.
	TaskTimeout time.Duration
	Logger      *slog.Logger
}

// Executor schedules dependency-ordered batches. One Executor may run
// multiple batches, but each Execute call is independent.
type Executor struct {
	run  RunFunc
	opts Options
	log  *slog.Logger
}

func New(run RunFunc, opts Options) *Executor {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 5
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 10 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{run: run, opts: opts, log: log.With("component", "executor")}
}

type completion struct {
	id      string
	outcome *TaskOutcome
}

// Execute runs the batch to completion. Ready tasks start in descending
// priority order, submission order breaking ties. A failed task marks its
// transitive dependents skipped. Cancelling ctx stops in-flight tasks and
// never starts pending ones; the partial BatchResult is still returned.
func (e *Executor) Execute(ctx context.Context, tasks []Task) (*BatchResult, error) {
	start := time.Now()
	br := &BatchResult{Outcomes: make(map[string]*TaskOutcome, len(tasks))}
	if len(tasks) == 0 {
		br.DurationMS = time.Since(start).Milliseconds()
		return br, nil
	}
	if err := validate(tasks); err != nil {
		return nil, err
	}

	unmet := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	index := make(map[string]int, len(tasks))
	for i := range tasks {
		id := tasks[i].AgentID
		index[id] = i
		unmet[id] = len(tasks[i].DependsOn)
		for _, dep := range tasks[i].DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for i := range tasks {
		if unmet[tasks[i].AgentID] == 0 {
			ready = append(ready, tasks[i].AgentID)
		}
	}

	sem := semaphore.NewWeighted(e.opts.MaxParallel)
	doneCh := make(chan completion, len(tasks))
	pending := len(tasks)
	running := 0

	for pending > 0 {
		for ctx.Err() == nil && len(ready) > 0 && sem.TryAcquire(1) {
			id := popNext(&ready, tasks, index)
			t := tasks[index[id]]
			br.Order = append(br.Order, id)
			running++
			e.log.Info("starting task", "task_id", id, "agent", t.Name, "priority", t.Priority)
			go e.runOne(ctx, sem, t, doneCh)
		}

		select {
		case c := <-doneCh:
			running--
			pending--
			br.Outcomes[c.id] = c.outcome
			if c.outcome.Succeeded() {
				for _, dep := range dependents[c.id] {
					// Already retired by a failed sibling dependency.
					if _, done := br.Outcomes[dep]; done {
						continue
					}
					if unmet[dep]--; unmet[dep] == 0 {
						ready = append(ready, dep)
					}
				}
			} else {
				pending -= e.skipDependents(br, tasks, index, dependents, c.id)
			}
		case <-ctx.Done():
			for ; running > 0; running-- {
				c := <-doneCh
				br.Outcomes[c.id] = c.outcome
				pending--
			}
			for i := range tasks {
				id := tasks[i].AgentID
				if _, done := br.Outcomes[id]; !done {
					br.Outcomes[id] = &TaskOutcome{
						Task:    tasks[i],
						Err:     faults.Wrap(faults.AgentCancelled, "batch cancelled before start", ctx.Err()),
						Skipped: true,
					}
				}
			}
			e.tally(br, start)
			return br, faults.Wrap(faults.AgentCancelled, "batch cancelled", ctx.Err())
		}
	}

	e.tally(br, start)
	e.log.Info("batch complete",
		"tasks", len(tasks),
		"succeeded", br.Succeeded,
		"failed", br.Failed,
		"skipped", br.Skipped,
		"duration_ms", br.DurationMS)
	return br, nil
}

// runOne executes a single task and reports its outcome. The semaphore
// slot is released before the completion is sent so the scheduler can
// start a successor the moment it wakes.
func (e *Executor) runOne(ctx context.Context, sem *semaphore.Weighted, t Task, doneCh chan<- completion) {
	start := time.Now()
	out := &TaskOutcome{Task: t}
	defer func() {
		if p := recover(); p != nil {
			out.Err = faults.Newf(faults.AgentInit, "task %s panicked: %v", t.AgentID, p)
		}
		out.DurationMS = time.Since(start).Milliseconds()
		sem.Release(1)
		doneCh <- completion{id: t.AgentID, outcome: out}
	}()

	tctx, cancel := context.WithTimeout(ctx, e.opts.TaskTimeout)
	defer cancel()

	res, err := e.run(tctx, t)
	out.Result = res
	out.Err = err
	if err == nil && res == nil {
		out.Err = faults.Newf(faults.AgentInit, "task %s produced no result", t.AgentID)
	}
}

// skipDependents marks everything transitively waiting on id as skipped
// and returns how many tasks it retired.
func (e *Executor) skipDependents(br *BatchResult, tasks []Task, index map[string]int, dependents map[string][]string, id string) int {
	retired := 0
	work := append([]string(nil), dependents[id]...)
	for len(work) > 0 {
		next := work[0]
		work = work[1:]
		if _, done := br.Outcomes[next]; done {
			continue
		}
		br.Outcomes[next] = &TaskOutcome{
			Task:    tasks[index[next]],
			Err:     faults.Newf(faults.AgentCancelled, "skipped: dependency %s did not complete", id),
			Skipped: true,
		}
		e.log.Warn("skipping task", "task_id", next, "failed_dependency", id)
		retired++
		work = append(work, dependents[next]...)
	}
	return retired
}

func (e *Executor) tally(br *BatchResult, start time.Time) {
	for _, out := range br.Outcomes {
		switch {
		case out.Skipped:
			br.Skipped++
		case out.Succeeded():
			br.Succeeded++
		default:
			br.Failed++
		}
		if out.Result != nil {
			br.Findings += len(out.Result.Findings)
			br.ToolCalls += out.Result.ToolCalls
			br.Tokens.Add(&out.Result.TokensUsed)
		}
	}
	br.DurationMS = time.Since(start).Milliseconds()
}

// popNext removes and returns the ready task with the highest priority,
// submission order breaking ties.
func popNext(ready *[]string, tasks []Task, index map[string]int) string {
	best := 0
	for i := 1; i < len(*ready); i++ {
		bi, bb := index[(*ready)[i]], index[(*ready)[best]]
		if tasks[bi].Priority > tasks[bb].Priority || (tasks[bi].Priority == tasks[bb].Priority && bi < bb) {
			best = i
		}
	}
	id := (*ready)[best]
	*ready = append((*ready)[:best], (*ready)[best+1:]...)
	return id
}

// validate rejects duplicate ids, unknown or self dependencies, and
// dependency cycles before anything runs.
func validate(tasks []Task) error {
	ids := make(map[string]bool, len(tasks))
	for i := range tasks {
		id := tasks[i].AgentID
		if id == "" {
			return faults.New(faults.ValidationInput, "task with empty agent id")
		}
		if ids[id] {
			return faults.Newf(faults.ValidationInput, "duplicate task id %s", id)
		}
		ids[id] = true
	}
	for i := range tasks {
		for _, dep := range tasks[i].DependsOn {
			if dep == tasks[i].AgentID {
				return faults.Newf(faults.ValidationInput, "task %s depends on itself", dep)
			}
			if !ids[dep] {
				return faults.Newf(faults.ValidationInput, "task %s depends on unknown task %s", tasks[i].AgentID, dep)
			}
		}
	}
	if cycle := findCycle(tasks); len(cycle) > 0 {
		return faults.Newf(faults.ValidationInput, "dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

// findCycle runs Kahn's algorithm and returns the ids left unordered,
// sorted for a stable error message.
func findCycle(tasks []Task) []string {
	unmet := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for i := range tasks {
		unmet[tasks[i].AgentID] = len(tasks[i].DependsOn)
		for _, dep := range tasks[i].DependsOn {
			dependents[dep] = append(dependents[dep], tasks[i].AgentID)
		}
	}

	var queue []string
	for id, n := range unmet {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	ordered := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++
		for _, dep := range dependents[id] {
			if unmet[dep]--; unmet[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if ordered == len(tasks) {
		return nil
	}

	var cycle []string
	for id, n := range unmet {
		if n > 0 {
			cycle = append(cycle, id)
		}
	}
	sort.Strings(cycle)
	return cycle
}
