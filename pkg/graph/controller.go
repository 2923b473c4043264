package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/argus-audit/argus/pkg/events"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/findings"
	"github.com/argus-audit/argus/pkg/models"
)

// UserSender is the sender id stamped on operator-injected messages.
const UserSender = "user"

// GraphView is the structured graph plus a human-readable text tree.
type GraphView struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Tree  string `json:"tree"`
}

// ActiveAgents buckets non-terminal agents by what they are doing.
type ActiveAgents struct {
	Running  []Node `json:"running"`
	Waiting  []Node `json:"waiting"`
	Stopping []Node `json:"stopping"`
}

// Any reports whether any bucket is non-empty.
func (a ActiveAgents) Any() bool {
	return len(a.Running) > 0 || len(a.Waiting) > 0 || len(a.Stopping) > 0
}

// Controller exposes control and introspection operations atop the registry.
// It is the surface behind both the agent-facing graph tools and the HTTP
// control plane.
type Controller struct {
	reg     *Registry
	emitter *events.Emitter
	log     *slog.Logger
}

// NewController wires a controller. The emitter may be nil; control events
// are then dropped.
func NewController(reg *Registry, emitter *events.Emitter, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		reg:     reg,
		emitter: emitter,
		log:     log.With("component", "graph_controller"),
	}
}

// Registry returns the underlying registry.
func (c *Controller) Registry() *Registry { return c.reg }

// StopAgent requests stop on one agent and its descendants.
func (c *Controller) StopAgent(agentID string) error {
	if err := c.reg.StopAgent(agentID); err != nil {
		return err
	}
	c.emitInfo(fmt.Sprintf("stop requested for agent %s", agentID), agentID)
	return nil
}

// StopAllAgents requests stop on every agent, optionally sparing the root so
// it can report on its children's termination. Returns the number signalled.
func (c *Controller) StopAllAgents(excludeRoot bool) int {
	n := c.reg.StopAll(excludeRoot)
	c.emitInfo(fmt.Sprintf("stop requested for %d agents (exclude_root=%v)", n, excludeRoot), "")
	return n
}

// SendUserMessage injects an operator message into an agent's queue at high
// priority. Returns the message id.
func (c *Controller) SendUserMessage(to, text string) (string, error) {
	if _, ok := c.reg.GetNode(to); !ok {
		return "", faults.Newf(faults.CommAgentNotFound, "agent %s not registered", to)
	}
	b := c.reg.Bus()
	if b == nil {
		return "", faults.New(faults.CommMessageDelivery, "no message bus configured")
	}
	id := b.Send(UserSender, to, text, models.MessageInstruction, models.PriorityHigh)
	c.emitInfo(fmt.Sprintf("user message delivered to %s", to), to)
	return id, nil
}

// AgentGraph snapshots the tree as nodes, edges and a rendered text tree.
// currentID, when set, marks that agent in the rendering.
func (c *Controller) AgentGraph(currentID string) GraphView {
	nodes := c.reg.Tree()

	var edges []Edge
	for _, n := range nodes {
		if n.ParentID != "" {
			edges = append(edges, Edge{From: n.ParentID, To: n.AgentID})
		}
	}

	return GraphView{
		Nodes: nodes,
		Edges: edges,
		Tree:  c.renderTree(nodes, currentID),
	}
}

// renderTree draws the agent tree with box characters, one node per line.
func (c *Controller) renderTree(nodes []Node, currentID string) string {
	if len(nodes) == 0 {
		return "(no agents)"
	}

	children := make(map[string][]Node)
	var roots []Node
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.AgentID] = n
	}
	for _, n := range nodes {
		if n.ParentID == "" {
			roots = append(roots, n)
			continue
		}
		if _, ok := byID[n.ParentID]; !ok {
			// Orphaned by a cleared parent; promote so it still renders.
			roots = append(roots, n)
			continue
		}
		children[n.ParentID] = append(children[n.ParentID], n)
	}
	for id := range children {
		sort.Slice(children[id], func(i, j int) bool {
			return children[id][i].CreatedAt.Before(children[id][j].CreatedAt)
		})
	}

	var sb strings.Builder
	var walk func(n Node, prefix string, last bool, isRoot bool)
	walk = func(n Node, prefix string, last bool, isRoot bool) {
		line := fmt.Sprintf("%s [%s]", n.Name, n.Status)
		if n.Findings > 0 {
			line += fmt.Sprintf(" (%d findings)", n.Findings)
		}
		if n.AgentID == currentID {
			line += " <- you"
		}

		if isRoot {
			sb.WriteString(line)
			sb.WriteString("\n")
		} else {
			connector := "├── "
			if last {
				connector = "└── "
			}
			sb.WriteString(prefix + connector + line + "\n")
		}

		kids := children[n.AgentID]
		childPrefix := prefix
		if !isRoot {
			if last {
				childPrefix += "    "
			} else {
				childPrefix += "│   "
			}
		}
		for i, k := range kids {
			walk(k, childPrefix, i == len(kids)-1, false)
		}
	}

	for _, root := range roots {
		walk(root, "", true, true)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// StatusSummary counts agents by status.
func (c *Controller) StatusSummary() Stats {
	return c.reg.Statistics()
}

// CheckActiveAgents buckets non-terminal agents, skipping any excluded ids.
// The orchestrator uses this before finishing to confirm no child is still
// in flight.
func (c *Controller) CheckActiveAgents(exclude ...string) ActiveAgents {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	var out ActiveAgents
	for _, n := range c.reg.Tree() {
		if skip[n.AgentID] {
			continue
		}
		switch n.Status {
		case models.StatusRunning, models.StatusCreated:
			out.Running = append(out.Running, n)
		case models.StatusWaiting:
			out.Waiting = append(out.Waiting, n)
		case models.StatusStopping:
			out.Stopping = append(out.Stopping, n)
		}
	}
	return out
}

// CollectAllFindings flattens findings across every node, annotating each
// with the discovering agent's name and deduplicating by fingerprint so the
// orchestrator's merged copy of a child finding does not double-count.
// Children are drained before the root so discovered_by names the agent that
// actually found it.
func (c *Controller) CollectAllFindings() []models.Finding {
	nodes := c.reg.Tree()
	rootID := c.reg.RootID()

	set := findings.NewSet()
	collect := func(n Node) {
		st, ok := c.reg.GetState(n.AgentID)
		if !ok {
			return
		}
		for _, f := range st.Findings() {
			if f.DiscoveredBy == "" {
				f.DiscoveredBy = n.Name
			}
			set.Add(f)
		}
	}

	for _, n := range nodes {
		if n.AgentID != rootID {
			collect(n)
		}
	}
	for _, n := range nodes {
		if n.AgentID == rootID {
			collect(n)
		}
	}
	return set.Items()
}

// FindingsSummary counts collected findings by severity and type.
func (c *Controller) FindingsSummary() findings.Summary {
	return findings.Summarize(c.CollectAllFindings())
}

// Cleanup releases finished agent instances, keeping snapshots for
// reporting. Returns the number released.
func (c *Controller) Cleanup() int {
	n := c.reg.CleanupFinished()
	if n > 0 {
		c.emitInfo(fmt.Sprintf("released %d finished agent instances", n), "")
	}
	return n
}

func (c *Controller) emitInfo(msg, agentID string) {
	if c.emitter == nil {
		return
	}
	ev := events.New(events.TypeInfo, msg)
	ev.AgentID = agentID
	c.emitter.Emit(ev)
}
