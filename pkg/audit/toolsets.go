package audit

import (
	"sort"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/agent/orchestrator"
	"github.com/argus-audit/argus/pkg/config"
	"github.com/argus-audit/argus/pkg/models"
	"github.com/argus-audit/argus/pkg/rag"
	"github.com/argus-audit/argus/pkg/ratelimit"
	"github.com/argus-audit/argus/pkg/tools"
	"github.com/argus-audit/argus/pkg/tools/sandboxed"
	"github.com/argus-audit/argus/pkg/tools/scanners"
)

// roleOrder fixes the catalog's prompt order: recon leads so the model is
// nudged toward mapping the project before hunting in it.
var roleOrder = map[models.Role]int{
	models.RoleRecon:        0,
	models.RoleAnalysis:     1,
	models.RoleVerification: 2,
	models.RoleSpecialist:   3,
}

// catalogDefinitions converts configured agent specs into dispatch
// definitions in a stable order. Specs with an unparseable role were
// already rejected by config validation.
func catalogDefinitions(catalog map[string]config.AgentSpec) []orchestrator.Definition {
	defs := make([]orchestrator.Definition, 0, len(catalog))
	for name, spec := range catalog {
		role, err := models.ParseRole(spec.Role)
		if err != nil {
			continue
		}
		defs = append(defs, orchestrator.Definition{
			Name:          name,
			Role:          role,
			Description:   spec.Description,
			MaxIterations: spec.MaxIterations,
			TokenBudget:   spec.TokenBudget,
		})
	}
	sort.Slice(defs, func(i, j int) bool {
		if roleOrder[defs[i].Role] != roleOrder[defs[j].Role] {
			return roleOrder[defs[i].Role] < roleOrder[defs[j].Role]
		}
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// toolsetFunc builds the per-child tool registry factory for one run. Every
// child gets the read-only file surface, reporting, messaging, and thinking
// tools; scanners and sandbox tools are role-gated, and all of them vanish
// when the sandbox is unavailable.
func (e *Engine) toolsetFunc(projectRoot string, sub Substrate) orchestrator.ToolsetFunc {
	return func(def orchestrator.Definition, st *agent.State) (*tools.Registry, error) {
		guard, err := tools.NewPathGuard(projectRoot, tools.GuardConfig{
			MaxFileSize:       e.cfg.Tools.MaxFileBytes,
			BlockedExtensions: e.cfg.Tools.BlockedExtensions,
		})
		if err != nil {
			return nil, err
		}

		reg := tools.NewRegistry(e.log)
		base := []tools.Tool{
			tools.NewThinkTool(),
			tools.NewReflectTool(),
			tools.NewAgentFinishTool(),
			tools.Limited(tools.NewReadFileTool(guard, 0), e.limits.Get(ratelimit.LimiterFileRead)),
			tools.NewListFilesTool(guard),
			tools.NewSearchCodeTool(guard),
			scanners.NewPatternMatchTool(guard),
			tools.NewReportTool(st),
			tools.NewSendMessageTool(e.registry, st.AgentID(), def.Name),
			tools.NewWaitForMessageTool(e.bus, st, 0),
		}
		if err := reg.RegisterAll(base...); err != nil {
			return nil, err
		}

		if e.rag != nil {
			semantic := []tools.Tool{
				rag.NewQueryTool(e.rag),
				rag.NewSecuritySearchTool(e.rag),
				rag.NewFunctionContextTool(e.rag),
			}
			if err := reg.RegisterAll(semantic...); err != nil {
				return nil, err
			}
		}

		if sub != nil {
			var extra []tools.Tool
			switch def.Role {
			case models.RoleAnalysis, models.RoleSpecialist:
				extra = append(extra, scannerTools(e.cfg.Tools.Scanners, sub)...)
				extra = append(extra,
					sandboxed.NewExecTool(sub),
					sandboxed.NewRunCodeTool(sub),
				)
				extra = append(extra, sandboxed.LanguageTestTools(sub)...)
			case models.RoleVerification:
				extra = append(extra,
					sandboxed.NewExecTool(sub),
					sandboxed.NewHTTPTool(sub),
					sandboxed.NewRunCodeTool(sub),
				)
				extra = append(extra, sandboxed.LanguageTestTools(sub)...)
				extra = append(extra, sandboxed.VulnTestTools(sub)...)
			}
			if err := reg.RegisterAll(e.limitExternal(extra)...); err != nil {
				return nil, err
			}
		}

		return reg, nil
	}
}

// limitExternal paces tools that leave the process (scanners, sandbox runs)
// with the per-tool limiter defaults.
func (e *Engine) limitExternal(ts []tools.Tool) []tools.Tool {
	out := make([]tools.Tool, len(ts))
	for i, t := range ts {
		out[i] = tools.Limited(t, e.limits.ForTool(t.Name()))
	}
	return out
}

// orchestratorToolset gives the root agent its control surface. The
// orchestrator never touches the project directly; it reasons over what its
// children report.
func (e *Engine) orchestratorToolset(runner *orchestrator.Runner, st *agent.State) (*tools.Registry, error) {
	reg := tools.NewRegistry(e.log)
	ts := []tools.Tool{
		tools.NewThinkTool(),
		tools.NewReflectTool(),
		tools.NewViewAgentGraphTool(e.graph, st.AgentID()),
		tools.NewSendMessageTool(e.registry, st.AgentID(), st.Name()),
		tools.NewWaitForMessageTool(e.bus, st, 0),
		tools.NewCreateSubAgentTool(runner),
		tools.NewRunSubAgentsTool(runner),
		tools.NewCollectSubAgentResultsTool(runner),
		tools.NewFinishScanTool(),
	}
	if err := reg.RegisterAll(ts...); err != nil {
		return nil, err
	}
	return reg, nil
}

// scannerTools maps configured scanner names onto their tools. Unknown
// names were rejected by config validation.
func scannerTools(names []string, exec scanners.Executor) []tools.Tool {
	out := make([]tools.Tool, 0, len(names))
	for _, name := range names {
		switch name {
		case "semgrep":
			out = append(out, scanners.NewSemgrepTool(exec))
		case "bandit":
			out = append(out, scanners.NewBanditTool(exec))
		case "gitleaks":
			out = append(out, scanners.NewGitleaksTool(exec))
		case "trufflehog":
			out = append(out, scanners.NewTrufflehogTool(exec))
		case "safety":
			out = append(out, scanners.NewSafetyTool(exec))
		case "npm_audit":
			out = append(out, scanners.NewNpmAuditTool(exec))
		case "osv":
			out = append(out, scanners.NewOSVTool(exec))
		}
	}
	return out
}
