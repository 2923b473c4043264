// Package graph owns the dynamic agent tree: a thread-safe registry mapping
// agent ids to node snapshots, live instances, state handles and message
// queues, plus a controller exposing stop/inspect/collect operations on top.
//
// The graph owns nodes; agents hold only agent_id handles. All read methods
// return snapshots rather than live references, so traversal never produces
// pointer cycles between parents and children.
package graph

import (
	"time"

	"github.com/argus-audit/argus/pkg/models"
)

// Node is an immutable snapshot of one agent in the tree.
type Node struct {
	AgentID   string             `json:"agent_id"`
	Name      string             `json:"name"`
	Role      models.Role        `json:"role"`
	ParentID  string             `json:"parent_id,omitempty"`
	Status    models.AgentStatus `json:"status"`
	Iteration int                `json:"iteration"`
	Findings  int                `json:"findings"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Edge is a parent → child link in the tree.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Stats summarizes the registry population by status.
type Stats struct {
	Total    int                        `json:"total"`
	ByStatus map[models.AgentStatus]int `json:"by_status"`
	Active   int                        `json:"active"`
	RootID   string                     `json:"root_id,omitempty"`
}
