package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/audit"
	"github.com/argus-audit/argus/pkg/eventstream"
	"github.com/argus-audit/argus/pkg/graph"
	"github.com/argus-audit/argus/pkg/models"
)

const wsWait = 10 * time.Second

func dispatchScript() *ScriptedLLM {
	return NewScriptedLLM().
		Say("Orchestrator",
			"Thought: map the project first.\nAction: dispatch_agent\nAction Input: {\"agent\": \"recon\", \"task\": \"map the repository\"}",
			"Thought: recon covered it.\nAction: finish\nAction Input: {\"summary\": \"mapped\"}").
		Say("Reconnaissance",
			`Final Answer: {"project_structure":{},"tech_stack":{"languages":["py"]},"entry_points":[],"high_risk_areas":["app.py:36 - command injection"],"initial_findings":[]}`)
}

func TestEventStreamDuringAudit(t *testing.T) {
	a := NewTestAudit(t, WithScriptedLLM(dispatchScript()))

	ws, err := WSConnect(context.Background(), a.WSURL)
	require.NoError(t, err)
	defer ws.Close()
	_, err = ws.WaitForType("connection.established", wsWait)
	require.NoError(t, err)

	rep, err := a.StartAudit(context.Background(), "audit this service").Wait(t, auditWait)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, rep.Status)

	// New connections ride the full feed, so the whole run streams live.
	disp, err := ws.WaitForType("dispatch", wsWait)
	require.NoError(t, err)
	assert.Contains(t, disp.Message(), "recon")

	find, err := ws.WaitForType("finding", wsWait)
	require.NoError(t, err)
	assert.Equal(t, "recon", find.AgentName())

	done, err := ws.WaitForType("dispatch_complete", wsWait)
	require.NoError(t, err)
	assert.Contains(t, done.Message(), "recon")

	thoughts := ws.EventsByType("llm_thought")
	require.NotEmpty(t, thoughts)
	assert.Equal(t, "orchestrator", thoughts[0].AgentName())

	assertSeqAscending(t, ws.Events())
}

func TestEventStreamLateSubscriberCatchup(t *testing.T) {
	a := NewTestAudit(t, WithScriptedLLM(dispatchScript()))

	rep, err := a.StartAudit(context.Background(), "audit this service").Wait(t, auditWait)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, rep.Status)

	// Connect only after the audit is over; everything must come from the ring.
	ws, err := WSConnect(context.Background(), a.WSURL)
	require.NoError(t, err)
	defer ws.Close()
	_, err = ws.WaitForType("connection.established", wsWait)
	require.NoError(t, err)

	require.NoError(t, ws.Subscribe(eventstream.ChannelAll))
	_, err = ws.WaitForType("subscription.confirmed", wsWait)
	require.NoError(t, err)

	_, err = ws.WaitForType("dispatch", wsWait)
	require.NoError(t, err)
	_, err = ws.WaitForType("finding", wsWait)
	require.NoError(t, err)
	_, err = ws.WaitForType("llm_complete", wsWait)
	require.NoError(t, err)
	assertSeqAscending(t, ws.Events())
}

func TestEventStreamAgentChannelFilters(t *testing.T) {
	a := NewTestAudit(t, WithScriptedLLM(dispatchScript()))

	rep, err := a.StartAudit(context.Background(), "audit this service").Wait(t, auditWait)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, rep.Status)

	child, ok := findNode(a.Graph(t), func(n graph.Node) bool { return n.Role == models.RoleRecon })
	require.True(t, ok, "recon child should be in the graph")

	ws, err := WSConnect(context.Background(), a.WSURL)
	require.NoError(t, err)
	defer ws.Close()
	_, err = ws.WaitForType("connection.established", wsWait)
	require.NoError(t, err)

	require.NoError(t, ws.Subscribe(eventstream.AgentChannel(child.AgentID)))
	_, err = ws.WaitForType("subscription.confirmed", wsWait)
	require.NoError(t, err)

	// llm_complete is the child's last event, so once it replays the
	// channel's catchup has fully drained.
	_, err = ws.WaitForType("llm_complete", wsWait)
	require.NoError(t, err)

	for _, ev := range ws.Events() {
		if ev.Type == "connection.established" || ev.Type == "subscription.confirmed" {
			continue
		}
		assert.Equal(t, "recon", ev.AgentName(), "event %s leaked from another agent", ev.Type)
	}
}

func assertSeqAscending(t *testing.T, evs []WSEvent) {
	t.Helper()
	last := float64(0)
	for _, ev := range evs {
		seq, ok := ev.Parsed["seq"].(float64)
		if !ok {
			continue // control frames carry no sequence
		}
		assert.Greater(t, seq, last, "sequence numbers must be strictly increasing")
		last = seq
	}
}
