package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/findings"
	"github.com/argus-audit/argus/pkg/models"
)

// reconFields are lifted verbatim from a recon child's answer into its
// previous_results entry so later children see the survey, not just a
// summary line.
var reconFields = []string{"tech_stack", "entry_points", "high_risk_areas", "project_structure"}

// harvest merges a child's findings into the aggregate, records the
// dispatch, and builds the role-aware observation for the orchestrator.
func (r *Runner) harvest(def Definition, task string, res *agent.Result) string {
	fs := append([]models.Finding(nil), res.Findings...)
	for i := range fs {
		if fs[i].DiscoveredBy == "" {
			fs[i].DiscoveredBy = def.Name
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.children[strings.ToLower(def.Name)]; ok {
		ch.running = false
	}

	before := r.agg.Len()
	r.agg.AddAll(fs...)
	merged := r.agg.Len() - before
	r.usage.Add(&res.TokensUsed)

	status := "completed"
	if !res.Success {
		status = "failed"
	}
	entry := map[string]any{
		"agent":          def.Name,
		"role":           def.Role.String(),
		"task":           task,
		"status":         status,
		"findings_count": len(fs),
	}
	if s, _ := res.Data["summary"].(string); s != "" {
		entry["summary"] = s
	}
	if res.Error != "" {
		entry["error"] = res.Error
	}
	if def.Role == models.RoleRecon {
		for _, k := range reconFields {
			if v, ok := res.Data[k]; ok {
				entry[k] = v
			}
		}
	}
	r.previous[strings.ToLower(def.Name)] = entry

	r.history = append(r.history, DispatchRecord{
		Agent:      def.Name,
		Task:       task,
		Status:     status,
		Iterations: res.Iterations,
		Reported:   len(fs),
		Merged:     merged,
		DurationMS: res.DurationMS,
		Error:      res.Error,
	})

	r.log.Info("dispatch complete",
		"agent", def.Name,
		"status", status,
		"iterations", res.Iterations,
		"findings", len(fs),
		"merged", merged,
		"total", r.agg.Len())

	return r.observationLocked(def, res, len(fs), merged)
}

// observationLocked renders the dispatch outcome the way the orchestrator's
// model should see it. Callers hold r.mu.
func (r *Runner) observationLocked(def Definition, res *agent.Result, reported, merged int) string {
	var b strings.Builder

	if !res.Success {
		fmt.Fprintf(&b, "%s failed after %d iterations: %s.", def.Name, res.Iterations, res.Error)
		if reported > 0 {
			fmt.Fprintf(&b, " %d partial findings were kept (total now %d).", reported, r.agg.Len())
		}
		b.WriteString(" Decide whether to retry, dispatch a different agent, or finish.")
		return b.String()
	}

	fmt.Fprintf(&b, "%s completed in %d iterations.", def.Name, res.Iterations)
	switch def.Role {
	case models.RoleRecon:
		if n := sliceLen(res.Data["entry_points"]); n > 0 {
			fmt.Fprintf(&b, " Mapped %d entry points.", n)
		}
		if n := sliceLen(res.Data["high_risk_areas"]); n > 0 {
			fmt.Fprintf(&b, " Flagged %d high-risk areas.", n)
		}
	case models.RoleVerification:
		verified := 0
		for i := range res.Findings {
			if res.Findings[i].IsVerified {
				verified++
			}
		}
		fmt.Fprintf(&b, " Confirmed %d of %d findings.", verified, reported)
	}
	if reported > 0 {
		fmt.Fprintf(&b, " Reported %d findings; %d new after merging (total now %d).", reported, merged, r.agg.Len())
	} else {
		b.WriteString(" No findings reported.")
	}
	if s, _ := res.Data["summary"].(string); s != "" {
		b.WriteString(" Summary: " + s)
	}
	return b.String()
}

// Summary renders the dispatch history and aggregate finding counts for
// the summarize action.
func (r *Runner) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.history) == 0 {
		return "No agents have been dispatched yet. Start with recon to map the project."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d dispatches so far:\n", len(r.history))
	for _, rec := range r.history {
		fmt.Fprintf(&b, "- %s: %s, %d findings in %d iterations", rec.Agent, rec.Status, rec.Reported, rec.Iterations)
		if rec.Error != "" {
			fmt.Fprintf(&b, " (%s)", rec.Error)
		}
		b.WriteByte('\n')
	}
	b.WriteString(summarizeFindings(r.agg.Items()))
	return b.String()
}

// summarizeFindings renders severity and type counts on one line each.
func summarizeFindings(fs []models.Finding) string {
	sum := findings.Summarize(fs)
	if sum.Total == 0 {
		return "No findings recorded yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Findings: %d total", sum.Total)
	if parts := severityParts(sum.BySeverity); len(parts) > 0 {
		b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	}
	if sum.Verified > 0 {
		fmt.Fprintf(&b, ", %d verified", sum.Verified)
	}
	b.WriteByte('.')
	if parts := typeParts(sum.ByType); len(parts) > 0 {
		b.WriteString(" Top types: " + strings.Join(parts, ", ") + ".")
	}
	return b.String()
}

func severityParts(counts map[string]int) []string {
	var parts []string
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow, models.SeverityInfo} {
		if n := counts[string(sev)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return parts
}

// typeParts lists up to five types by descending count.
func typeParts(counts map[string]int) []string {
	type tc struct {
		name string
		n    int
	}
	ordered := make([]tc, 0, len(counts))
	for name, n := range counts {
		if name == "" {
			continue
		}
		ordered = append(ordered, tc{name, n})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].n != ordered[j].n {
			return ordered[i].n > ordered[j].n
		}
		return ordered[i].name < ordered[j].name
	})
	if len(ordered) > 5 {
		ordered = ordered[:5]
	}
	parts := make([]string, 0, len(ordered))
	for _, t := range ordered {
		parts = append(parts, fmt.Sprintf("%s (%d)", t.name, t.n))
	}
	return parts
}

func sliceLen(v any) int {
	switch s := v.(type) {
	case []any:
		return len(s)
	case []string:
		return len(s)
	default:
		return 0
	}
}
