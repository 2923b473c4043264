package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/bus"
	"github.com/argus-audit/argus/pkg/events"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/models"
)

func newTestController(t *testing.T) (*Controller, *Registry, *bus.Bus) {
	t.Helper()
	b := bus.New(nil)
	r := New(b, nil)
	return NewController(r, nil, nil), r, b
}

func TestSendUserMessage(t *testing.T) {
	c, r, b := newTestController(t)
	register(t, r, newStub("orch", "orchestrator", models.RoleOrchestrator, ""))

	id, err := c.SendUserMessage("orch", "focus on the auth module")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := b.Receive("orch", false, false)
	require.Len(t, msgs, 1)
	assert.Equal(t, UserSender, msgs[0].Sender)
	assert.Equal(t, models.PriorityHigh, msgs[0].Priority)
	assert.Equal(t, "focus on the auth module", msgs[0].Content)
}

func TestSendUserMessageUnknownAgent(t *testing.T) {
	c, _, _ := newTestController(t)

	_, err := c.SendUserMessage("ghost", "hello")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.CommAgentNotFound))
}

func TestAgentGraphView(t *testing.T) {
	c, r, _ := newTestController(t)

	orch := newStub("orch", "orchestrator", models.RoleOrchestrator, "")
	register(t, r, orch)
	register(t, r, newStub("c1", "recon-1", models.RoleRecon, "orch"))
	register(t, r, newStub("c2", "analysis-1", models.RoleAnalysis, "orch"))
	register(t, r, newStub("g1", "verify-1", models.RoleVerification, "c2"))

	view := c.AgentGraph("c2")

	assert.Len(t, view.Nodes, 4)
	assert.ElementsMatch(t, []Edge{
		{From: "orch", To: "c1"},
		{From: "orch", To: "c2"},
		{From: "c2", To: "g1"},
	}, view.Edges)

	// Rendering shows every agent, nesting, and the current marker.
	assert.Contains(t, view.Tree, "orchestrator [created]")
	assert.Contains(t, view.Tree, "├── recon-1")
	assert.Contains(t, view.Tree, "└── analysis-1")
	assert.Contains(t, view.Tree, "    └── verify-1")
	assert.Contains(t, view.Tree, "analysis-1 [created] <- you")
}

func TestAgentGraphEmpty(t *testing.T) {
	c, _, _ := newTestController(t)
	view := c.AgentGraph("")
	assert.Empty(t, view.Nodes)
	assert.Equal(t, "(no agents)", view.Tree)
}

func TestCheckActiveAgentsBuckets(t *testing.T) {
	c, r, _ := newTestController(t)

	orch := newStub("orch", "orchestrator", models.RoleOrchestrator, "")
	running := newStub("run", "analysis-1", models.RoleAnalysis, "orch")
	waiting := newStub("wait", "recon-1", models.RoleRecon, "orch")
	stopping := newStub("stop", "verify-1", models.RoleVerification, "orch")
	done := newStub("done", "verify-2", models.RoleVerification, "orch")

	for _, a := range []*stubAgent{orch, running, waiting, stopping, done} {
		register(t, r, a)
	}

	require.NoError(t, orch.st.Transition(models.StatusRunning))
	require.NoError(t, running.st.Transition(models.StatusRunning))
	require.NoError(t, waiting.st.Transition(models.StatusRunning))
	require.NoError(t, waiting.st.EnterWaiting("waiting for results", time.Minute))
	require.NoError(t, stopping.st.Transition(models.StatusRunning))
	stopping.st.RequestStop()
	require.NoError(t, done.st.Transition(models.StatusRunning))
	require.NoError(t, done.st.Transition(models.StatusCompleted))

	active := c.CheckActiveAgents("orch")
	require.True(t, active.Any())

	ids := func(nodes []Node) []string {
		var out []string
		for _, n := range nodes {
			out = append(out, n.AgentID)
		}
		return out
	}
	assert.Equal(t, []string{"run"}, ids(active.Running))
	assert.Equal(t, []string{"wait"}, ids(active.Waiting))
	assert.Equal(t, []string{"stop"}, ids(active.Stopping))
}

func TestCollectAllFindingsAnnotatesAndDedups(t *testing.T) {
	c, r, _ := newTestController(t)

	orch := newStub("orch", "orchestrator", models.RoleOrchestrator, "")
	child := newStub("c1", "analysis-1", models.RoleAnalysis, "orch")
	register(t, r, orch)
	register(t, r, child)

	shared := models.Finding{
		Title:             "SQL injection in login",
		VulnerabilityType: "sql_injection",
		Severity:          models.SeverityHigh,
		FilePath:          "app/views.py",
		LineStart:         42,
		Description:       "user input reaches raw query",
	}

	// Child discovered it; the orchestrator holds a merged copy.
	child.st.AddFindings(shared)
	orch.st.AddFindings(shared, models.Finding{
		Title:             "Weak session cookie",
		VulnerabilityType: "session_management",
		Severity:          models.SeverityMedium,
		FilePath:          "app/session.py",
		LineStart:         10,
		Description:       "cookie missing secure flag",
	})

	collected := c.CollectAllFindings()
	require.Len(t, collected, 2)

	byTitle := make(map[string]models.Finding)
	for _, f := range collected {
		byTitle[f.Title] = f
	}
	assert.Equal(t, "analysis-1", byTitle["SQL injection in login"].DiscoveredBy)
	assert.Equal(t, "orchestrator", byTitle["Weak session cookie"].DiscoveredBy)
}

func TestFindingsSummary(t *testing.T) {
	c, r, _ := newTestController(t)

	orch := newStub("orch", "orchestrator", models.RoleOrchestrator, "")
	register(t, r, orch)
	orch.st.AddFindings(
		models.Finding{Title: "a", VulnerabilityType: "xss", Severity: models.SeverityHigh, FilePath: "a.py", LineStart: 1},
		models.Finding{Title: "b", VulnerabilityType: "xss", Severity: models.SeverityLow, FilePath: "b.py", LineStart: 2},
		models.Finding{Title: "c", VulnerabilityType: "sql_injection", Severity: models.SeverityHigh, FilePath: "c.py", LineStart: 3, IsVerified: true},
	)

	sum := c.FindingsSummary()
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.BySeverity["high"])
	assert.Equal(t, 2, sum.ByType["xss"])
	assert.Equal(t, 1, sum.Verified)
}

func TestControllerStopEmitsEvent(t *testing.T) {
	b := bus.New(nil)
	r := New(b, nil)
	emitter := events.NewEmitter(8)
	defer emitter.Close()
	c := NewController(r, emitter, nil)

	ch, cancel := emitter.Subscribe()
	defer cancel()

	orch := newStub("orch", "orchestrator", models.RoleOrchestrator, "")
	register(t, r, orch)
	require.NoError(t, orch.st.Transition(models.StatusRunning))

	require.NoError(t, c.StopAgent("orch"))

	select {
	case ev := <-ch:
		assert.Equal(t, events.TypeInfo, ev.Type)
		assert.Equal(t, "orch", ev.AgentID)
	case <-time.After(time.Second):
		t.Fatal("expected stop event")
	}
}

func TestControllerCleanup(t *testing.T) {
	c, r, _ := newTestController(t)

	orch := newStub("orch", "orchestrator", models.RoleOrchestrator, "")
	done := newStub("done", "recon-1", models.RoleRecon, "orch")
	register(t, r, orch)
	register(t, r, done)

	require.NoError(t, done.st.Transition(models.StatusRunning))
	require.NoError(t, done.st.Transition(models.StatusCompleted))

	assert.Equal(t, 1, c.Cleanup())
	_, ok := r.Get("done")
	assert.False(t, ok)
}
