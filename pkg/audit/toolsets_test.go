package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/agent/orchestrator"
	"github.com/argus-audit/argus/pkg/config"
	"github.com/argus-audit/argus/pkg/models"
	"github.com/argus-audit/argus/pkg/tools"
)

func TestCatalogDefinitionsOrdered(t *testing.T) {
	catalog := map[string]config.AgentSpec{
		"zeta-analysis":  {Role: "analysis", Description: "z"},
		"alpha-analysis": {Role: "analysis", Description: "a"},
		"crypto":         {Role: "specialist", Description: "crypto review"},
		"verify":         {Role: "verification", Description: "verifies"},
		"recon":          {Role: "recon", Description: "maps"},
	}

	defs := catalogDefinitions(catalog)

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"recon", "alpha-analysis", "zeta-analysis", "verify", "crypto"}, names)
}

func TestCatalogDefinitionsSkipsUnknownRole(t *testing.T) {
	catalog := map[string]config.AgentSpec{
		"recon":  {Role: "recon", Description: "maps"},
		"wizard": {Role: "wizard", Description: "not a role"},
	}

	defs := catalogDefinitions(catalog)

	require.Len(t, defs, 1)
	assert.Equal(t, "recon", defs[0].Name)
}

func TestCatalogDefinitionsCarriesLimits(t *testing.T) {
	catalog := map[string]config.AgentSpec{
		"analysis": {Role: "analysis", Description: "hunts", MaxIterations: 25, TokenBudget: 300_000},
	}

	defs := catalogDefinitions(catalog)

	require.Len(t, defs, 1)
	assert.Equal(t, models.RoleAnalysis, defs[0].Role)
	assert.Equal(t, 25, defs[0].MaxIterations)
	assert.Equal(t, 300_000, defs[0].TokenBudget)
}

func registryHas(reg *tools.Registry, name string) bool {
	_, ok := reg.Get(name)
	return ok
}

func childRegistry(t *testing.T, eng *Engine, role models.Role, sub Substrate) *tools.Registry {
	t.Helper()
	def := orchestrator.Definition{Name: "child", Role: role, Description: "test child"}
	st := agent.NewState("", def.Name, role, "root", agent.StateConfig{})
	reg, err := eng.toolsetFunc(t.TempDir(), sub)(def, st)
	require.NoError(t, err)
	return reg
}

func TestToolsetFuncRoleGating(t *testing.T) {
	eng := newTestEngine(t, newRoleLLM(nil))
	sub := &fakeSubstrate{}

	recon := childRegistry(t, eng, models.RoleRecon, sub)
	assert.True(t, registryHas(recon, "read_file"))
	assert.True(t, registryHas(recon, "search_code"))
	assert.True(t, registryHas(recon, "pattern_match"))
	assert.True(t, registryHas(recon, "create_vulnerability_report"))
	assert.True(t, registryHas(recon, "agent_finish"))
	assert.False(t, registryHas(recon, "sandbox_exec"), "recon never executes anything")
	assert.False(t, registryHas(recon, "semgrep_scan"))

	analysis := childRegistry(t, eng, models.RoleAnalysis, sub)
	assert.True(t, registryHas(analysis, "semgrep_scan"))
	assert.True(t, registryHas(analysis, "sandbox_exec"))
	assert.True(t, registryHas(analysis, "run_code"))
	assert.True(t, registryHas(analysis, "python_test"))
	assert.False(t, registryHas(analysis, "universal_vuln_test"), "probing belongs to verification")

	verification := childRegistry(t, eng, models.RoleVerification, sub)
	assert.True(t, registryHas(verification, "sandbox_exec"))
	assert.True(t, registryHas(verification, "sandbox_http"))
	assert.True(t, registryHas(verification, "universal_vuln_test"))
	assert.False(t, registryHas(verification, "semgrep_scan"), "verification rechecks, it does not rescan")

	specialist := childRegistry(t, eng, models.RoleSpecialist, sub)
	assert.True(t, registryHas(specialist, "semgrep_scan"))
	assert.True(t, registryHas(specialist, "sandbox_exec"))
}

func TestToolsetFuncWithoutSubstrate(t *testing.T) {
	eng := newTestEngine(t, newRoleLLM(nil))

	reg := childRegistry(t, eng, models.RoleAnalysis, nil)

	assert.True(t, registryHas(reg, "read_file"))
	assert.True(t, registryHas(reg, "pattern_match"), "pattern matching works without a sandbox")
	assert.False(t, registryHas(reg, "sandbox_exec"))
	assert.False(t, registryHas(reg, "semgrep_scan"), "scanners need the sandbox")
}

func TestToolsetFuncScannerSelection(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Tools.Scanners = []string{"semgrep", "gitleaks"}
	eng, err := New(context.Background(), cfg, Options{Logger: testLogger(), LLM: newRoleLLM(nil), Substrate: &fakeSubstrate{}})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	reg := childRegistry(t, eng, models.RoleAnalysis, &fakeSubstrate{})

	assert.True(t, registryHas(reg, "semgrep_scan"))
	assert.True(t, registryHas(reg, "gitleaks_scan"))
	assert.False(t, registryHas(reg, "bandit_scan"))
	assert.False(t, registryHas(reg, "osv_scan"))
}

func TestToolsetFuncRAGTools(t *testing.T) {
	cfg := testEngineConfig()
	cfg.RAG.Endpoint = "http://localhost:9000"
	eng, err := New(context.Background(), cfg, Options{Logger: testLogger(), LLM: newRoleLLM(nil), Substrate: &fakeSubstrate{}})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	reg := childRegistry(t, eng, models.RoleAnalysis, nil)
	assert.True(t, registryHas(reg, "rag_query"))
	assert.True(t, registryHas(reg, "security_search"))

	plain := newTestEngine(t, newRoleLLM(nil))
	noRag := childRegistry(t, plain, models.RoleAnalysis, nil)
	assert.False(t, registryHas(noRag, "rag_query"))
}

func TestOrchestratorToolset(t *testing.T) {
	eng := newTestEngine(t, newRoleLLM(nil))
	root := agent.NewState("", "orchestrator", models.RoleOrchestrator, "", agent.StateConfig{})
	runner := orchestrator.NewRunner(root, orchestrator.Session{}, nil, orchestrator.Deps{Logger: testLogger()}, orchestrator.Guardrails{})

	reg, err := eng.orchestratorToolset(runner, root)
	require.NoError(t, err)

	for _, name := range []string{
		"think", "reflect", "view_agent_graph", "send_message", "wait_for_message",
		"create_sub_agent", "run_sub_agents", "collect_sub_agent_results", "finish_scan",
	} {
		assert.True(t, registryHas(reg, name), name)
	}
	assert.False(t, registryHas(reg, "read_file"), "the orchestrator reads nothing itself")
	assert.False(t, registryHas(reg, "sandbox_exec"))
}
