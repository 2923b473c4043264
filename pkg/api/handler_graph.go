package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/argus-audit/argus/pkg/models"
)

// graphHandler handles GET /api/v1/graph. The optional current query
// parameter marks that agent in the rendered tree.
func (s *Server) graphHandler(c *gin.Context) {
	view := s.ctrl.AgentGraph(c.Query("current"))
	c.JSON(http.StatusOK, okEnvelope(view))
}

// listFindingsHandler handles GET /api/v1/findings. Findings are collected
// live from every agent in the graph, deduplicated, and sorted by severity.
// Optional filters: severity=<critical|high|medium|low|info>, verified=<bool>.
func (s *Server) listFindingsHandler(c *gin.Context) {
	var severity models.Severity
	if v := c.Query("severity"); v != "" {
		sev := models.Severity(strings.ToLower(v))
		if _, ok := models.SeverityOrder[sev]; !ok {
			c.JSON(http.StatusBadRequest, errorEnvelope("invalid severity: must be critical, high, medium, low, or info"))
			return
		}
		severity = sev
	}

	var verifiedOnly bool
	if v := c.Query("verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorEnvelope("invalid verified: must be a boolean"))
			return
		}
		verifiedOnly = b
	}

	all := s.ctrl.CollectAllFindings()
	items := make([]models.Finding, 0, len(all))
	for _, f := range all {
		if severity != "" && f.Severity != severity {
			continue
		}
		if verifiedOnly && !f.IsVerified {
			continue
		}
		items = append(items, f)
	}

	c.JSON(http.StatusOK, okEnvelope(&FindingsResponse{
		Findings: items,
		Count:    len(items),
	}))
}

// findingsSummaryHandler handles GET /api/v1/findings/summary.
func (s *Server) findingsSummaryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, okEnvelope(s.ctrl.FindingsSummary()))
}
