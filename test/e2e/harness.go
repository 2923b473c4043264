// Package e2e runs complete audits against the real engine: scripted model
// responses, a fake sandbox, a temporary project tree, and the control
// plane plus event stream served over a live port.
package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/api"
	"github.com/argus-audit/argus/pkg/audit"
	"github.com/argus-audit/argus/pkg/config"
	"github.com/argus-audit/argus/pkg/eventstream"
	"github.com/argus-audit/argus/pkg/graph"
	"github.com/argus-audit/argus/pkg/llm"
	"github.com/argus-audit/argus/pkg/models"
)

// TestAudit is a booted audit stack. The engine is live but idle until
// StartAudit; the control plane is reachable at BaseURL from the start.
type TestAudit struct {
	Config    *config.Config
	Engine    *audit.Engine
	LLM       *ScriptedLLM
	Substrate *RecordingSubstrate
	Hub       *eventstream.Hub

	ProjectRoot string
	BaseURL     string
	WSURL       string

	t *testing.T
}

type testAuditConfig struct {
	cfg       *config.Config
	scripted  *ScriptedLLM
	client    llm.Client
	substrate *RecordingSubstrate
	files     map[string]string
}

// TestAuditOption configures the stack before boot.
type TestAuditOption func(*testAuditConfig)

// WithConfig replaces the default engine configuration.
func WithConfig(cfg *config.Config) TestAuditOption {
	return func(c *testAuditConfig) { c.cfg = cfg }
}

// WithScriptedLLM injects a pre-scripted model client.
func WithScriptedLLM(client *ScriptedLLM) TestAuditOption {
	return func(c *testAuditConfig) { c.scripted = client }
}

// WithLLM injects an arbitrary model client, typically a scripted one
// wrapped in the resilience stack. The TestAudit.LLM field stays nil.
func WithLLM(client llm.Client) TestAuditOption {
	return func(c *testAuditConfig) { c.client = client }
}

// WithProjectFiles seeds the temporary project tree. Keys are paths
// relative to the project root.
func WithProjectFiles(files map[string]string) TestAuditOption {
	return func(c *testAuditConfig) { c.files = files }
}

// testConfig is the default engine configuration with every external
// touchpoint disabled: no database, no checkpoint files, no event file.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Checkpoints.Store = "none"
	cfg.Database.Host = ""
	cfg.Events.File = ""
	cfg.Orchestration.ChildTimeout = 30 * time.Second
	return &cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// defaultProject is a one-file Python service with enough surface for the
// scripted scenarios to cite real locations.
var defaultProject = map[string]string{
	"app.py": `import os
import subprocess

DEBUG = True

def run(cmd):
    os.system("sh -c " + cmd)

def ping(host):
    return subprocess.check_output("ping -c1 " + host, shell=True)
`,
}

// SeedProject writes files into a fresh temp dir and returns its path.
func SeedProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return root
}

// NewTestAudit boots the full stack. Shutdown is registered via t.Cleanup
// in reverse order: event hub first so WebSocket handlers drain, then the
// HTTP listener, then the engine.
func NewTestAudit(t *testing.T, opts ...TestAuditOption) *TestAudit {
	t.Helper()

	tc := &testAuditConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = testConfig()
	}
	if tc.client == nil {
		if tc.scripted == nil {
			tc.scripted = NewScriptedLLM()
		}
		tc.client = tc.scripted
	}
	if tc.substrate == nil {
		tc.substrate = &RecordingSubstrate{}
	}
	if tc.files == nil {
		tc.files = defaultProject
	}

	eng, err := audit.New(context.Background(), tc.cfg, audit.Options{
		Logger:    testLogger(),
		LLM:       tc.client,
		Substrate: tc.substrate,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	hub := eventstream.New(eng.Emitter(), eventstream.Config{}, testLogger())
	srv := api.NewServer(tc.cfg.Server, eng.Graph(), hub, testLogger())
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	t.Cleanup(hub.Close)

	return &TestAudit{
		Config:      tc.cfg,
		Engine:      eng,
		LLM:         tc.scripted,
		Substrate:   tc.substrate,
		Hub:         hub,
		ProjectRoot: SeedProject(t, tc.files),
		BaseURL:     hs.URL,
		WSURL:       "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws",
		t:           t,
	}
}

// AuditRun is an audit executing in the background.
type AuditRun struct {
	rep  *audit.Report
	err  error
	done chan struct{}
}

// StartAudit launches Engine.Run in a goroutine.
func (a *TestAudit) StartAudit(ctx context.Context, task string) *AuditRun {
	run := &AuditRun{done: make(chan struct{})}
	go func() {
		defer close(run.done)
		run.rep, run.err = a.Engine.Run(ctx, audit.Request{Task: task, ProjectRoot: a.ProjectRoot})
	}()
	return run
}

// Wait blocks until the audit finishes and returns its report and error.
func (r *AuditRun) Wait(t *testing.T, timeout time.Duration) (*audit.Report, error) {
	t.Helper()
	select {
	case <-r.done:
		return r.rep, r.err
	case <-time.After(timeout):
		t.Fatal("timed out waiting for audit to finish")
		return nil, nil
	}
}

// envelope is the control plane's JSON wrapper.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func (a *TestAudit) getJSON(t *testing.T, path string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(a.BaseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeEnvelope(t, resp)
}

func (a *TestAudit) postJSON(t *testing.T, path string, body any) (int, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = strings.NewReader(string(data))
	}
	req, err := http.NewRequest(http.MethodPost, a.BaseURL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeEnvelope(t, resp)
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), "body: %s", raw)
	return env
}

// Graph fetches the live agent graph.
func (a *TestAudit) Graph(t *testing.T) graph.GraphView {
	t.Helper()
	code, env := a.getJSON(t, "/api/v1/graph")
	require.Equal(t, http.StatusOK, code, "error: %s", env.Error)
	var view graph.GraphView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	return view
}

// WaitForAgents polls the graph until it holds at least n nodes.
func (a *TestAudit) WaitForAgents(t *testing.T, n int, timeout time.Duration) graph.GraphView {
	t.Helper()
	var view graph.GraphView
	require.Eventually(t, func() bool {
		view = a.Graph(t)
		return len(view.Nodes) >= n
	}, timeout, 25*time.Millisecond, "graph never reached %d agents", n)
	return view
}

// StopAgent stops one agent's subtree over the control plane.
func (a *TestAudit) StopAgent(t *testing.T, id string) {
	t.Helper()
	code, env := a.postJSON(t, "/api/v1/agents/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, code, "error: %s", env.Error)
}

// StopAll stops every agent and returns the cancelled count.
func (a *TestAudit) StopAll(t *testing.T, excludeRoot bool) int {
	t.Helper()
	code, env := a.postJSON(t, "/api/v1/agents/stop-all", map[string]any{"exclude_root": excludeRoot})
	require.Equal(t, http.StatusOK, code, "error: %s", env.Error)
	var data struct {
		Stopped int `json:"stopped"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Stopped
}

// SendMessage injects an operator message into an agent's queue.
func (a *TestAudit) SendMessage(t *testing.T, id, text string) {
	t.Helper()
	code, env := a.postJSON(t, "/api/v1/agents/"+id+"/message", map[string]any{"message": text})
	require.Equal(t, http.StatusOK, code, "error: %s", env.Error)
}

// Findings fetches the merged finding list from the control plane.
func (a *TestAudit) Findings(t *testing.T) []models.Finding {
	t.Helper()
	code, env := a.getJSON(t, "/api/v1/findings")
	require.Equal(t, http.StatusOK, code, "error: %s", env.Error)
	var data struct {
		Findings []models.Finding `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Findings
}

// findNode returns the first graph node matching the predicate.
func findNode(view graph.GraphView, match func(graph.Node) bool) (graph.Node, bool) {
	for _, n := range view.Nodes {
		if match(n) {
			return n, true
		}
	}
	return graph.Node{}, false
}
