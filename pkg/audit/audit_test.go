package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/config"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/llm"
	"github.com/argus-audit/argus/pkg/models"
	"github.com/argus-audit/argus/pkg/sandbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEngineConfig disables everything that touches the outside world:
// database, checkpoints, event files, RAG.
func testEngineConfig() *config.Config {
	cfg := config.Default()
	cfg.Checkpoints.Store = "none"
	cfg.Database.Host = ""
	cfg.Events.File = ""
	return &cfg
}

// roleLLM routes model calls to per-role scripts keyed by the role heading
// in the system prompt, replaying each script in order. That keeps the
// orchestrator's and its children's conversations independent even though
// they interleave on one client.
type roleLLM struct {
	mu      sync.Mutex
	scripts map[string][]string
	calls   map[string]int
}

func newRoleLLM(scripts map[string][]string) *roleLLM {
	return &roleLLM{scripts: scripts, calls: make(map[string]int)}
}

func (r *roleLLM) next(req *llm.Request) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sys string
	if len(req.Messages) > 0 {
		sys = req.Messages[0].Content
	}
	for marker, script := range r.scripts {
		if !strings.Contains(sys, "## Your Role: "+marker) {
			continue
		}
		i := r.calls[marker]
		r.calls[marker]++
		if i < len(script) {
			return script[i]
		}
		return ""
	}
	return ""
}

func (r *roleLLM) ChatCompletion(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Content: r.next(req),
		Usage:   models.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

func (r *roleLLM) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, <-chan error) {
	chunks := make(chan llm.Chunk, 2)
	errs := make(chan error)
	chunks <- llm.Chunk{Content: r.next(req)}
	chunks <- llm.Chunk{Done: true, Usage: &models.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
	close(chunks)
	close(errs)
	return chunks, errs
}

// fakeSubstrate satisfies Substrate without Docker. Commands record and
// succeed with empty scanner output.
type fakeSubstrate struct {
	mu       sync.Mutex
	commands []string
}

func (f *fakeSubstrate) ExecuteCommand(ctx context.Context, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	return &sandbox.ExecResult{Success: true, Stdout: "[]"}, nil
}

func (f *fakeSubstrate) ExecuteHTTPRequest(ctx context.Context, req sandbox.HTTPRequest) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{Success: true, Stdout: "HTTP/1.1 200 OK"}, nil
}

func (f *fakeSubstrate) RunCode(ctx context.Context, language, source string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{Success: true, Stdout: "ok"}, nil
}

func (f *fakeSubstrate) VerifyVulnerability(ctx context.Context, probe sandbox.VerifyProbe) (*sandbox.VerifyResult, error) {
	return &sandbox.VerifyResult{Verified: false, Confidence: "low"}, nil
}

func (f *fakeSubstrate) ResolveScanPath(target string) (string, string, error) {
	return "/workspace", target, nil
}

func newTestEngine(t *testing.T, client llm.Client) *Engine {
	t.Helper()
	eng, err := New(context.Background(), testEngineConfig(), Options{
		Logger:    testLogger(),
		LLM:       client,
		Substrate: &fakeSubstrate{},
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("import os\nDEBUG = True\n"), 0o644))
	return dir
}

func TestEngineRunCompletes(t *testing.T) {
	dir := projectDir(t)
	client := newRoleLLM(map[string][]string{
		"Orchestrator": {
			"Thought: map the project before digging in.\nAction: dispatch_agent\nAction Input: {\"agent\": \"recon\", \"task\": \"map the project\"}",
			"Thought: recon found everything worth reporting.\nAction: finish\nAction Input: {\"summary\": \"audit complete\"}",
		},
		"Reconnaissance": {
			"Thought: the tree is one file, report and stop.\nFinal Answer: {\"tech_stack\": [\"python\"], \"entry_points\": [\"app.py\"], \"initial_findings\": [{\"title\": \"Debug mode enabled\", \"vulnerability_type\": \"configuration\", \"severity\": \"medium\", \"file_path\": \"app.py\", \"line_start\": 2, \"description\": \"DEBUG = True in production code\"}], \"summary\": \"mapped\"}",
		},
	})
	eng := newTestEngine(t, client)

	rep, err := eng.Run(context.Background(), Request{Task: "audit this service", ProjectRoot: dir})

	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, "audit complete", rep.Conclusion)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "Debug mode enabled", rep.Findings[0].Title)
	assert.Equal(t, 1, rep.Summary.Total)
	require.Len(t, rep.Dispatches, 1)
	assert.Equal(t, "recon", rep.Dispatches[0].Agent)
	assert.Positive(t, rep.Usage.TotalTokens, "usage sums root and child calls")
	assert.Empty(t, rep.Error)
}

func TestEngineRunRejectsBadRequests(t *testing.T) {
	eng := newTestEngine(t, newRoleLLM(nil))
	dir := projectDir(t)

	_, err := eng.Run(context.Background(), Request{Task: "   ", ProjectRoot: dir})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ValidationInput))

	_, err = eng.Run(context.Background(), Request{Task: "audit", ProjectRoot: filepath.Join(dir, "absent")})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ValidationInput))

	file := filepath.Join(dir, "app.py")
	_, err = eng.Run(context.Background(), Request{Task: "audit", ProjectRoot: file})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ValidationInput))
}

func TestEngineRunCancelledContext(t *testing.T) {
	eng := newTestEngine(t, newRoleLLM(nil))
	dir := projectDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := eng.Run(ctx, Request{Task: "audit", ProjectRoot: dir})

	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.AgentCancelled))
	require.NotNil(t, rep, "partial report survives cancellation")
	assert.Equal(t, StatusCancelled, rep.Status)
	assert.NotEmpty(t, rep.Error)
	assert.Empty(t, rep.Findings)
}

func TestEngineRunMergesRootAndChildFindings(t *testing.T) {
	dir := projectDir(t)
	finding := `{"title": "Debug mode enabled", "vulnerability_type": "configuration", "severity": "medium", "file_path": "app.py", "line_start": 2, "description": "debug flag"}`
	client := newRoleLLM(map[string][]string{
		"Orchestrator": {
			"Thought: send analysis in.\nAction: dispatch_agent\nAction Input: {\"agent\": \"analysis\", \"task\": \"inspect app.py\"}",
			"Thought: done.\nAction: finish\nAction Input: {\"summary\": \"done\"}",
		},
		// The child reports the same finding the orchestrator would;
		// the report must carry it once.
		"Analysis": {
			"Thought: confirmed.\nFinal Answer: {\"findings\": [" + finding + ", " + finding + "], \"summary\": \"one issue\"}",
		},
	})
	eng := newTestEngine(t, client)

	rep, err := eng.Run(context.Background(), Request{Task: "audit", ProjectRoot: dir})

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Len(t, rep.Findings, 1, "duplicate findings merge")
}

func TestStatusOf(t *testing.T) {
	ok := &agent.Result{Success: true}
	failed := &agent.Result{Success: false}

	cases := []struct {
		name string
		res  *agent.Result
		err  error
		want string
	}{
		{"success", ok, nil, StatusCompleted},
		{"cancelled", failed, faults.New(faults.AgentCancelled, "stop requested"), StatusCancelled},
		{"timeout", failed, faults.New(faults.AgentTimeout, "budget gone"), StatusBudgetExceeded},
		{"iteration limit", failed, faults.New(faults.AgentIterationLimit, "cap hit"), StatusBudgetExceeded},
		{"other error", failed, errors.New("boom"), StatusFailed},
		{"no result", nil, errors.New("boom"), StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusOf(tc.res, tc.err))
		})
	}
}

func TestRunOneShot(t *testing.T) {
	dir := projectDir(t)
	client := newRoleLLM(map[string][]string{
		"Orchestrator": {
			"Thought: nothing to delegate for an empty sweep.\nAction: finish\nAction Input: {\"summary\": \"clean\"}",
		},
	})

	rep, err := Run(context.Background(), testEngineConfig(), Request{Task: "audit", ProjectRoot: dir}, Options{
		Logger:    testLogger(),
		LLM:       client,
		Substrate: &fakeSubstrate{},
	})

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Empty(t, rep.Findings)
	assert.Empty(t, rep.Dispatches)
}
