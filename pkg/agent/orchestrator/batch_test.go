package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/findings"
	"github.com/argus-audit/argus/pkg/models"
)

func TestCreateSubAgentUnknownAgent(t *testing.T) {
	r, _, _ := newTestRunner(t, scriptedBuild(newRunRecorder(), nil), Guardrails{})

	_, err := r.CreateSubAgent("ghost", "", "do things", 0, nil)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.CommAgentNotFound))
	assert.ErrorContains(t, err, "recon, analysis, verification")
}

func TestCreateSubAgentRoleFallback(t *testing.T) {
	r, _, _ := newTestRunner(t, scriptedBuild(newRunRecorder(), nil), Guardrails{})

	id, err := r.CreateSubAgent("code-reviewer", "analysis", "review the diff", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "analysis-1", id)
}

func TestCreateSubAgentCapCountsQueuedTasks(t *testing.T) {
	r, _, _ := newTestRunner(t, scriptedBuild(newRunRecorder(), nil), Guardrails{})

	_, err := r.CreateSubAgent("analysis", "", "pass one", 0, nil)
	require.NoError(t, err)
	_, err = r.CreateSubAgent("analysis", "", "pass two", 0, nil)
	require.NoError(t, err)

	_, err = r.CreateSubAgent("analysis", "", "pass three", 0, nil)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ValidationInput))
	assert.ErrorContains(t, err, "already scheduled 2 times")
}

func TestRunSubAgentsEmptyQueue(t *testing.T) {
	r, _, _ := newTestRunner(t, scriptedBuild(newRunRecorder(), nil), Guardrails{})

	out, err := r.RunSubAgents(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out["message"], "no sub-agents queued")
}

func TestRunSubAgentsDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var started []string
	build := func(def Definition, st *agent.State) (agent.Agent, error) {
		return &fakeChild{st: st, run: func(ctx context.Context, in *agent.RunInput) (*agent.Result, error) {
			mu.Lock()
			started = append(started, def.Name)
			mu.Unlock()
			if def.Role == models.RoleRecon {
				return reconResult(), nil
			}
			// The dependent must see recon's harvested entry.
			prev, _ := in.Context["previous_results"].(map[string]any)
			if _, ok := prev["recon"]; !ok {
				return nil, fmt.Errorf("analysis started before recon results were merged")
			}
			return analysisResult(1), nil
		}}, nil
	}
	r, _, _ := newTestRunner(t, build, Guardrails{})

	reconID, err := r.CreateSubAgent("recon", "", "map the project", 5, nil)
	require.NoError(t, err)
	// Depend on the catalog name instead of the task id; the runner
	// resolves it as long as exactly one queued task matches.
	_, err = r.CreateSubAgent("analysis", "", "audit the risk areas", 1, []string{"recon"})
	require.NoError(t, err)

	out, err := r.RunSubAgents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"recon", "analysis"}, started)
	assert.Equal(t, 2, out["succeeded"])
	assert.Equal(t, 0, out["failed"])

	tasks, ok := out["tasks"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, tasks, reconID)
	reconTask := tasks[reconID].(map[string]any)
	assert.Equal(t, "completed", reconTask["status"])
	assert.Equal(t, 1, reconTask["findings"])
}

func TestRunSubAgentsReportsTaskFailure(t *testing.T) {
	build := func(def Definition, st *agent.State) (agent.Agent, error) {
		return &fakeChild{st: st, run: func(ctx context.Context, in *agent.RunInput) (*agent.Result, error) {
			if def.Name == "recon" {
				return &agent.Result{Success: false, Error: "model unreachable", Iterations: 1}, nil
			}
			return analysisResult(0), nil
		}}, nil
	}
	r, _, _ := newTestRunner(t, build, Guardrails{})

	_, err := r.CreateSubAgent("recon", "", "map", 0, nil)
	require.NoError(t, err)
	_, err = r.CreateSubAgent("analysis", "", "hunt", 0, []string{"recon"})
	require.NoError(t, err)

	out, err := r.RunSubAgents(context.Background())
	require.NoError(t, err, "per-task failures are reported, not returned")

	assert.Equal(t, 0, out["succeeded"])
	assert.Equal(t, 1, out["failed"])
	assert.Equal(t, 1, out["skipped"])
}

func TestRunSubAgentsMergesIntoAggregate(t *testing.T) {
	rec := newRunRecorder()
	r, _, _ := newTestRunner(t, scriptedBuild(rec, map[string]*agent.Result{"analysis": analysisResult(2)}), Guardrails{})

	_, err := r.CreateSubAgent("analysis", "", "hunt", 0, nil)
	require.NoError(t, err)

	out, err := r.RunSubAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out["total_findings"])
	assert.Len(t, r.Findings(), 2)

	// The batch run consumed the cap alongside interactive dispatches.
	_, err = r.Dispatch(context.Background(), "analysis", "again", nil)
	require.NoError(t, err)
	obs, err := r.Dispatch(context.Background(), "analysis", "third", nil)
	require.NoError(t, err)
	assert.Contains(t, obs, "already run 2 times")
}

func TestCollectResults(t *testing.T) {
	rec := newRunRecorder()
	results := map[string]*agent.Result{
		"recon":    reconResult(),
		"analysis": analysisResult(1),
	}
	r, _, _ := newTestRunner(t, scriptedBuild(rec, results), Guardrails{})

	_, err := r.Dispatch(context.Background(), "recon", "map", nil)
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), "analysis", "hunt", nil)
	require.NoError(t, err)

	out := r.CollectResults()
	agents, ok := out["agents"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, agents, "recon")
	assert.Contains(t, agents, "analysis")

	sum, ok := out["findings"].(findings.Summary)
	require.True(t, ok)
	assert.Equal(t, 2, sum.Total)
}
