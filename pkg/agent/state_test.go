package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/models"
)

func TestNewStateDefaults(t *testing.T) {
	s := NewState("", "scanner-1", models.RoleAnalysis, "root", StateConfig{})

	assert.NotEmpty(t, s.AgentID())
	assert.Equal(t, "scanner-1", s.Name())
	assert.Equal(t, models.RoleAnalysis, s.Role())
	assert.Equal(t, "root", s.ParentID())
	assert.Equal(t, models.StatusCreated, s.Status())
	assert.Equal(t, 10, s.MaxIterations())
	assert.False(t, s.ShouldStop())
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []models.AgentStatus
		wantErr bool
	}{
		{
			name: "normal completion",
			path: []models.AgentStatus{models.StatusRunning, models.StatusCompleted},
		},
		{
			name: "wait and resume",
			path: []models.AgentStatus{
				models.StatusRunning, models.StatusWaiting,
				models.StatusRunning, models.StatusCompleted,
			},
		},
		{
			name: "stop path",
			path: []models.AgentStatus{
				models.StatusRunning, models.StatusStopping, models.StatusStopped,
			},
		},
		{
			name:    "created cannot complete directly",
			path:    []models.AgentStatus{models.StatusCompleted},
			wantErr: true,
		},
		{
			name: "terminal is monotonic",
			path: []models.AgentStatus{
				models.StatusRunning, models.StatusCompleted, models.StatusRunning,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState("a1", "agent", models.RoleAnalysis, "", StateConfig{})
			var err error
			for _, target := range tt.path {
				if err = s.Transition(target); err != nil {
					break
				}
			}
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, faults.IsKind(err, faults.StateInvalidTransition))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestStateTransitionToSameStatusIsNoop(t *testing.T) {
	s := NewState("a1", "agent", models.RoleAnalysis, "", StateConfig{})
	require.NoError(t, s.Transition(models.StatusRunning))
	require.NoError(t, s.Transition(models.StatusRunning))
	assert.Equal(t, models.StatusRunning, s.Status())
}

func TestRequestStop(t *testing.T) {
	s := NewState("a1", "agent", models.RoleAnalysis, "", StateConfig{})
	require.NoError(t, s.Transition(models.StatusRunning))

	s.RequestStop()

	assert.True(t, s.StopRequested())
	assert.Equal(t, models.StatusStopping, s.Status())
	assert.True(t, s.ShouldStop())
	require.NoError(t, s.Transition(models.StatusStopped))
}

func TestRequestStopOnTerminalOnlyRecordsFlag(t *testing.T) {
	s := NewState("a1", "agent", models.RoleAnalysis, "", StateConfig{})
	require.NoError(t, s.Transition(models.StatusRunning))
	require.NoError(t, s.Transition(models.StatusCompleted))

	s.RequestStop()

	assert.True(t, s.StopRequested())
	assert.Equal(t, models.StatusCompleted, s.Status())
}

func TestShouldStopOnIterationBudget(t *testing.T) {
	s := NewState("a1", "agent", models.RoleAnalysis, "", StateConfig{MaxIterations: 2})
	require.NoError(t, s.Transition(models.StatusRunning))

	assert.False(t, s.ShouldStop())
	s.BeginIteration()
	assert.False(t, s.ShouldStop())
	s.BeginIteration()
	assert.True(t, s.ShouldStop())
}

func TestWaiting(t *testing.T) {
	s := NewState("a1", "agent", models.RoleOrchestrator, "", StateConfig{})
	require.NoError(t, s.Transition(models.StatusRunning))

	require.NoError(t, s.EnterWaiting("awaiting child results", 50*time.Millisecond))
	assert.Equal(t, models.StatusWaiting, s.Status())
	assert.False(t, s.WaitExpired(time.Now()))
	assert.True(t, s.WaitExpired(time.Now().Add(time.Second)))

	require.NoError(t, s.ExitWaiting())
	assert.Equal(t, models.StatusRunning, s.Status())
	assert.False(t, s.WaitExpired(time.Now().Add(time.Second)))

	// ExitWaiting outside Waiting is a no-op.
	require.NoError(t, s.ExitWaiting())
	assert.Equal(t, models.StatusRunning, s.Status())
}

func TestPromoteExpiredWait(t *testing.T) {
	s := NewState("a1", "agent", models.RoleOrchestrator, "", StateConfig{})
	require.NoError(t, s.Transition(models.StatusRunning))
	require.NoError(t, s.EnterWaiting("wait_for_message", 50*time.Millisecond))

	_, _, ok := s.PromoteExpiredWait(time.Now())
	assert.False(t, ok, "deadline has not passed yet")
	assert.Equal(t, models.StatusWaiting, s.Status())

	reason, waited, ok := s.PromoteExpiredWait(time.Now().Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, "wait_for_message", reason)
	assert.GreaterOrEqual(t, waited, time.Second)
	assert.Equal(t, models.StatusRunning, s.Status())

	_, _, ok = s.PromoteExpiredWait(time.Now().Add(time.Hour))
	assert.False(t, ok, "already promoted")
}

func TestEnterWaitingRequiresRunning(t *testing.T) {
	s := NewState("a1", "agent", models.RoleOrchestrator, "", StateConfig{})
	err := s.EnterWaiting("too early", time.Second)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.StateInvalidTransition))
}

func TestTokenBudget(t *testing.T) {
	s := NewState("a1", "agent", models.RoleAnalysis, "", StateConfig{TokenBudget: 100})

	s.AddUsage(models.TokenUsage{InputTokens: 40, OutputTokens: 20, TotalTokens: 60})
	assert.False(t, s.OverTokenBudget())

	s.AddUsage(models.TokenUsage{InputTokens: 30, OutputTokens: 10, TotalTokens: 40})
	assert.True(t, s.OverTokenBudget())

	u := s.TokensUsed()
	assert.Equal(t, 70, u.InputTokens)
	assert.Equal(t, 30, u.OutputTokens)
	assert.Equal(t, 100, u.TotalTokens)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewState("a1", "recon", models.RoleRecon, "root", StateConfig{
		MaxIterations: 15,
		TokenBudget:   5000,
		Timeout:       2 * time.Minute,
	})
	require.NoError(t, s.Transition(models.StatusRunning))
	s.BeginIteration()
	s.AppendMessage(NewMessage(RoleSystem, "you are a recon agent"))
	s.AppendMessage(NewMessage(RoleUser, "map the project"))
	s.RecordAction(ActionRecord{Iteration: 1, Action: "list_files", Input: map[string]any{"path": "."}})
	s.RecordObservation("Observation: 3 files found")
	s.RecordError("transient tool error")
	s.AddFindings(models.Finding{
		FilePath:          "app/db.py",
		LineStart:         12,
		VulnerabilityType: "sql injection",
		Severity:          models.SeverityHigh,
	})
	s.CountToolCall()
	s.AddUsage(models.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15})
	s.SetTaskContext(map[string]any{"project_root": "/workspace"})

	snap := s.Snapshot()
	restored := RestoreState(snap)

	assert.Equal(t, s.AgentID(), restored.AgentID())
	assert.Equal(t, s.Name(), restored.Name())
	assert.Equal(t, s.Role(), restored.Role())
	assert.Equal(t, s.ParentID(), restored.ParentID())
	assert.Equal(t, models.StatusRunning, restored.Status())
	assert.Equal(t, 1, restored.Iteration())
	assert.Equal(t, 15, restored.MaxIterations())
	assert.Equal(t, 2*time.Minute, restored.Timeout())
	assert.Len(t, restored.Conversation(), 2)
	assert.Len(t, restored.Findings(), 1)
	assert.Equal(t, 1, restored.ToolCallCount())
	assert.Equal(t, 15, restored.TokensUsed().TotalTokens)
	assert.Equal(t, "/workspace", restored.TaskContext()["project_root"])

	// Restored state keeps obeying the transition table.
	require.NoError(t, restored.Transition(models.StatusCompleted))
	require.Error(t, restored.Transition(models.StatusRunning))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewState("a1", "agent", models.RoleAnalysis, "", StateConfig{})
	s.RecordObservation("first")

	snap := s.Snapshot()
	s.RecordObservation("second")

	assert.Len(t, snap.Observations, 1)
}

func TestIterationStateEmptyAndParseCounters(t *testing.T) {
	it := NewIterationState(10)

	for i := 0; i < MaxEmptyResponses-1; i++ {
		assert.False(t, it.RecordEmpty())
	}
	assert.True(t, it.RecordEmpty())
	it.ResetEmpty()
	assert.False(t, it.RecordEmpty())

	for i := 0; i < MaxParseFailures-1; i++ {
		assert.False(t, it.RecordParseFailure())
	}
	assert.True(t, it.RecordParseFailure())
	it.ResetParseFailures()
	assert.False(t, it.RecordParseFailure())
}

func TestIterationStateToolFailureTracking(t *testing.T) {
	it := NewIterationState(10)

	assert.False(t, it.RecordToolFailure("read_file"))
	assert.False(t, it.RecordToolFailure("read_file"))
	// Success on a different tool does not reset read_file.
	it.RecordToolSuccess("list_files")
	assert.True(t, it.RecordToolFailure("read_file"))
	// Counter resets after the threshold fires.
	assert.False(t, it.RecordToolFailure("read_file"))

	it.RecordToolSuccess("read_file")
	assert.False(t, it.RecordToolFailure("read_file"))
}

func TestIterationStateTimeouts(t *testing.T) {
	it := NewIterationState(10)

	it.RecordFailure("deadline exceeded", true)
	assert.False(t, it.ShouldAbortOnTimeouts())
	it.RecordFailure("deadline exceeded", true)
	assert.True(t, it.ShouldAbortOnTimeouts())

	it.RecordSuccess()
	assert.False(t, it.ShouldAbortOnTimeouts())
	assert.False(t, it.LastInteractionFailed)
}

func TestExecutionContextChild(t *testing.T) {
	root := NewExecutionContext("task-1", "root-id", "orchestrator")
	child := root.Child("child-id", "scanner")

	assert.Equal(t, root.CorrelationID, child.CorrelationID)
	assert.Equal(t, "task-1", child.TaskID)
	assert.Equal(t, "root-id", child.ParentAgentID)
	assert.Equal(t, []string{"orchestrator", "scanner"}, child.TracePath)
	assert.Equal(t, 1, child.Depth)

	// Parent trace path is not aliased by the child.
	grandchild := child.Child("gc-id", "verifier")
	assert.Equal(t, []string{"orchestrator", "scanner"}, child.TracePath)
	assert.Equal(t, []string{"orchestrator", "scanner", "verifier"}, grandchild.TracePath)
}

func TestFailedResultClassifies(t *testing.T) {
	err := faults.New(faults.AgentCancelled, "stop requested")
	res := FailedResult(err)

	assert.False(t, res.Success)
	assert.Equal(t, faults.AgentCancelled, res.ErrorKind)
	assert.Contains(t, res.Error, "stop requested")
}
