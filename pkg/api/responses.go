package api

import (
	"github.com/argus-audit/argus/pkg/breaker"
	"github.com/argus-audit/argus/pkg/database"
	"github.com/argus-audit/argus/pkg/graph"
	"github.com/argus-audit/argus/pkg/models"
)

// envelope is the uniform response shape for /api/v1 routes.
type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func okEnvelope(data any) envelope      { return envelope{Status: "ok", Data: data} }
func errorEnvelope(msg string) envelope { return envelope{Status: "error", Error: msg} }

// StopResponse is returned by POST /api/v1/agents/:id/stop.
type StopResponse struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

// StopAllResponse is returned by POST /api/v1/agents/stop-all.
type StopAllResponse struct {
	Stopped     int  `json:"stopped"`
	ExcludeRoot bool `json:"exclude_root"`
}

// MessageResponse is returned by POST /api/v1/agents/:id/message.
type MessageResponse struct {
	MessageID string `json:"message_id"`
	AgentID   string `json:"agent_id"`
}

// FindingsResponse is returned by GET /api/v1/findings.
type FindingsResponse struct {
	Findings []models.Finding `json:"findings"`
	Count    int              `json:"count"`
}

// HealthResponse is returned by GET /healthz. It is safe for
// unauthenticated probes: engine-internal counters only, no external
// dependency checks.
type HealthResponse struct {
	Status        string                   `json:"status"`
	Version       string                   `json:"version"`
	Agents        graph.Stats              `json:"agents"`
	Configuration ConfigurationStats       `json:"configuration"`
	Database      *database.HealthStatus   `json:"database,omitempty"`
	Breakers      map[string]breaker.Stats `json:"breakers,omitempty"`
}

// ConfigurationStats counts loaded configuration items.
type ConfigurationStats struct {
	Agents   int `json:"agents"`
	Scanners int `json:"scanners"`
}
