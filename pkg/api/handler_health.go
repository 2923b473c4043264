package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/argus-audit/argus/pkg/breaker"
	"github.com/argus-audit/argus/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// healthHandler handles GET /healthz. Only the engine's own components are
// reported; external dependencies (LLM provider, Docker) are deliberately
// excluded so a flapping upstream cannot make an orchestrator restart us.
// A dead database degrades the report but keeps the probe green: audits
// run without persistence.
func (s *Server) healthHandler(c *gin.Context) {
	resp := &HealthResponse{
		Status:        healthStatusHealthy,
		Version:       version.GitCommit,
		Agents:        s.ctrl.StatusSummary(),
		Configuration: s.stats,
	}
	if s.hub == nil {
		resp.Status = healthStatusDegraded
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := s.db.Health(ctx)
		resp.Database = dbHealth
		if err != nil {
			resp.Status = healthStatusDegraded
		}
	}
	if s.breakers != nil {
		if stats := s.breakers.StatsAll(); len(stats) > 0 {
			resp.Breakers = stats
			for _, st := range stats {
				// An open circuit is the engine refusing calls itself,
				// not an upstream probe.
				if st.State == breaker.StateOpen {
					resp.Status = healthStatusDegraded
				}
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}
