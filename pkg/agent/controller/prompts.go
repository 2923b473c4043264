package controller

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/models"
)

const auditorPreamble = `You are an expert application security auditor performing a static analysis of a source code repository. You work inside a sandboxed copy of the code with read access through your tools. Ground every claim in code you have actually read: cite the file path, the line numbers, and the vulnerable snippet.`

const corePrinciples = `## Core Principles

1. Verify before you report. Before recording any finding, read the file and confirm the vulnerable code exists at the cited location. Never report a finding for a file you have not opened.
2. Evidence over speculation. A dangerous function name is a lead, not a finding. Trace how untrusted input reaches it before concluding.
3. Rate severity by impact: critical for remote code execution or full data compromise, high for authentication bypass or injection with real reach, medium for constrained injection or sensitive data exposure, low for hardening gaps.
4. Never copy secret values into your output. Report the location and kind of an exposed credential, not the credential itself.
5. One finding per root cause. Multiple sinks fed by the same unvalidated input are one finding with multiple locations, not many findings.`

const formatInstructions = `## Response Format

Work in strict Reason/Act turns:

Thought: what you know so far and what to check next
Action: the tool to call, exactly as named in the tool list
Action Input: a JSON object with the tool's arguments

Stop after Action Input. The system runs the tool and returns an Observation; never write an Observation line yourself. Use {} when a tool takes no arguments.

When the investigation is complete, conclude:

Thought: closing reasoning
Final Answer: a JSON object with your results`

const orchestratorFocus = `## Your Role: Orchestrator

You coordinate the audit; you do not read code yourself. Your special actions:

Action: dispatch_agent
Action Input: {"agent": "<sub-agent name>", "task": "<precise instruction>", "context": {<optional extra context>}}

Action: summarize
Action Input: {}

Action: finish
Action Input: {"summary": "<final audit summary>"}

Run the phases in order: dispatch recon first to map the codebase, then analysis agents on the high-risk areas recon identified, then verification on the findings worth confirming. Dispatch at most two runs of any one agent. Call finish once a dispatch round produces no new findings.`

const reconFocus = `## Your Role: Reconnaissance

Map the codebase before anyone else touches it. Identify the technology stack, the entry points where untrusted input arrives, the authentication and authorization surfaces, and the areas most likely to hold vulnerabilities. Breadth over depth: flag suspicious code as an initial finding and move on rather than chasing any single lead.`

const analysisFocus = `## Your Role: Analysis

Perform a deep inspection of the areas assigned in your task. Trace data flow from entry points to dangerous sinks. Read the relevant code completely before judging it; a wrapper may sanitize what the call site does not.`

const verificationFocus = `## Your Role: Verification

Re-examine the findings handed to you and deliver a verdict on each: confirmed, false positive, or needs more work. Reread the cited code fresh rather than trusting the reporting agent's description. Demote anything whose evidence does not hold to a false positive with a reason.`

const specialistFocus = `## Your Role: Specialist

Apply your focused expertise to exactly the task you were given. Stay inside that scope and return your results.`

const finalAnswerShape = `## Final Answer Shape

Final Answer: {"findings": [{"title": "...", "vulnerability_type": "...", "severity": "critical|high|medium|low", "file_path": "relative/path.py", "line_start": 0, "line_end": 0, "description": "...", "code_snippet": "...", "confidence": 0.0}], "summary": "..."}

Report an empty findings array rather than inventing weak findings.`

const reconAnswerShape = `## Final Answer Shape

Final Answer: {"tech_stack": ["..."], "entry_points": ["..."], "high_risk_areas": ["..."], "project_structure": "...", "initial_findings": [{"title": "...", "vulnerability_type": "...", "severity": "...", "file_path": "...", "line_start": 0, "description": "..."}], "summary": "..."}`

// SystemPrompt composes the system message for a role: auditor preamble,
// role focus, sub-agent catalog for the orchestrator, the tool catalog,
// format rules, and the expected answer shape.
func SystemPrompt(role models.Role, toolCatalog string, subAgents []string) string {
	sections := []string{auditorPreamble, roleFocus(role)}
	if role.CanDispatch() && len(subAgents) > 0 {
		sections = append(sections, formatAgentCatalog(subAgents))
	}
	if toolCatalog != "" {
		sections = append(sections, "## Available Tools\n\n"+strings.TrimSpace(toolCatalog))
	}
	sections = append(sections, formatInstructions, answerShape(role), corePrinciples)
	return strings.Join(sections, "\n\n")
}

func roleFocus(role models.Role) string {
	switch role {
	case models.RoleOrchestrator:
		return orchestratorFocus
	case models.RoleRecon:
		return reconFocus
	case models.RoleAnalysis:
		return analysisFocus
	case models.RoleVerification:
		return verificationFocus
	default:
		return specialistFocus
	}
}

func answerShape(role models.Role) string {
	if role == models.RoleRecon {
		return reconAnswerShape
	}
	return finalAnswerShape
}

func formatAgentCatalog(subAgents []string) string {
	var b strings.Builder
	b.WriteString("## Available Sub-Agents\n\n")
	b.WriteString("Dispatch these with the dispatch_agent action. Give each a precise, self-contained task; sub-agents see only what you pass them.\n\n")
	for _, a := range subAgents {
		name, desc, found := strings.Cut(a, ":")
		if found {
			fmt.Fprintf(&b, "- **%s**: %s\n", strings.TrimSpace(name), strings.TrimSpace(desc))
		} else {
			fmt.Fprintf(&b, "- **%s**\n", strings.TrimSpace(a))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// contextKeyOrder fixes the position of the well-known context sections;
// anything else follows alphabetically.
var contextKeyOrder = []string{"project_info", "config", "previous_results", "findings", "handoff"}

// InitialUserMessage renders the task and its context into the opening
// user turn.
func InitialUserMessage(in *agent.RunInput) string {
	var b strings.Builder
	b.WriteString("## Task\n\n")
	b.WriteString(strings.TrimSpace(in.Task))
	b.WriteString("\n")

	ordered := make([]string, 0, len(in.Context))
	seen := make(map[string]bool, len(in.Context))
	for _, k := range contextKeyOrder {
		if _, ok := in.Context[k]; ok {
			ordered = append(ordered, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(in.Context))
	for k := range in.Context {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	for _, k := range ordered {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", titleizeKey(k), renderContextValue(in.Context[k]))
	}

	b.WriteString("\nBegin the investigation now.")
	return b.String()
}

// ForcedConclusionPrompt asks for a wrap-up once a budget is spent. The
// reason names which budget ran out.
func ForcedConclusionPrompt(reason string) string {
	return reason + ` You must conclude now.

Based only on what you actually observed:
- Report the findings you verified, with their evidence.
- Note the areas you examined and found clean.
- Name what you did not get to, without guessing at results.

Respond with exactly:

Thought: [brief closing reasoning]
Final Answer: [JSON object with your findings and summary]`
}

func titleizeKey(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func renderContextValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		b, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
