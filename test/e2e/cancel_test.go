package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/audit"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/graph"
)

// Root queues two children, runs them as a batch, and everyone is mid
// model call when stop-all lands. All three must reach a terminal status
// without another model call.
func TestAuditStopAllCancelsEverything(t *testing.T) {
	onBlock := make(chan struct{}, 2)
	client := NewScriptedLLM().
		Say("Orchestrator",
			"Thought: split the audit.\nAction: create_sub_agent\nAction Input: {\"name\": \"analysis\", \"task\": \"audit the auth module\"}",
			"Thought: second track.\nAction: create_sub_agent\nAction Input: {\"name\": \"analysis\", \"task\": \"audit the data layer\"}",
			"Thought: run both.\nAction: run_sub_agents\nAction Input: {}")
	client.Script("Analysis",
		ScriptEntry{BlockUntilCancelled: true, OnBlock: onBlock},
		ScriptEntry{BlockUntilCancelled: true, OnBlock: onBlock})
	a := NewTestAudit(t, WithScriptedLLM(client))

	run := a.StartAudit(context.Background(), "audit this service")

	for i := 0; i < 2; i++ {
		select {
		case <-onBlock:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for both children to reach the model")
		}
	}

	stopped := a.StopAll(t, false)
	assert.Equal(t, 3, stopped, "root plus two children")

	rep, err := run.Wait(t, auditWait)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.AgentCancelled))
	require.NotNil(t, rep, "partial report survives cancellation")
	assert.Equal(t, audit.StatusCancelled, rep.Status)
	assert.NotEmpty(t, rep.Error)

	// 3 orchestrator turns plus 2 child turns, nothing after the stop.
	assert.Equal(t, 5, a.LLM.CallCount())

	for _, n := range a.Graph(t).Nodes {
		assert.True(t, n.Status.IsTerminal(), "agent %s left in %s", n.Name, n.Status)
	}
}

// Stopping one child's subtree leaves the rest of the audit running.
func TestAuditStopSingleChild(t *testing.T) {
	onBlock := make(chan struct{}, 1)
	client := NewScriptedLLM().
		Say("Orchestrator",
			"Thought: send recon in.\nAction: dispatch_agent\nAction Input: {\"agent\": \"recon\", \"task\": \"map the repository\"}",
			"Thought: recon was stopped, wrap up with what we have.\nAction: finish\nAction Input: {\"summary\": \"partial\"}")
	client.Script("Reconnaissance",
		ScriptEntry{BlockUntilCancelled: true, OnBlock: onBlock})
	a := NewTestAudit(t, WithScriptedLLM(client))

	run := a.StartAudit(context.Background(), "audit this service")

	select {
	case <-onBlock:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for recon to reach the model")
	}

	view := a.WaitForAgents(t, 2, 5*time.Second)
	child, ok := findNode(view, func(n graph.Node) bool { return n.ParentID != "" })
	require.True(t, ok, "recon missing from graph")
	a.StopAgent(t, child.AgentID)

	// The root carries on and completes despite the dead child.
	rep, err := run.Wait(t, auditWait)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusCompleted, rep.Status)
	assert.Equal(t, "partial", rep.Conclusion)
}
