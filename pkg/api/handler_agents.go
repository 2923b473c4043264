package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// stopAgentHandler handles POST /api/v1/agents/:id/stop. Stop is cooperative
// and covers the agent's whole subtree.
func (s *Server) stopAgentHandler(c *gin.Context) {
	agentID := c.Param("id")

	if err := s.ctrl.StopAgent(agentID); err != nil {
		s.mapFault(c, err)
		return
	}

	c.JSON(http.StatusOK, okEnvelope(&StopResponse{
		AgentID: agentID,
		Message: "stop requested",
	}))
}

// StopAllRequest is the optional body for POST /api/v1/agents/stop-all.
type StopAllRequest struct {
	// ExcludeRoot leaves the orchestrator running so it can observe and
	// report on its children's termination.
	ExcludeRoot bool `json:"exclude_root"`
}

// stopAllHandler handles POST /api/v1/agents/stop-all. An empty body means
// stop everything, root included.
func (s *Server) stopAllHandler(c *gin.Context) {
	var req StopAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorEnvelope("invalid request body: "+err.Error()))
			return
		}
	}

	n := s.ctrl.StopAllAgents(req.ExcludeRoot)
	c.JSON(http.StatusOK, okEnvelope(&StopAllResponse{
		Stopped:     n,
		ExcludeRoot: req.ExcludeRoot,
	}))
}

// SendMessageRequest is the body for POST /api/v1/agents/:id/message.
type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// sendMessageHandler injects an operator instruction into a running agent's
// queue at high priority. The agent sees it on its next turn.
func (s *Server) sendMessageHandler(c *gin.Context) {
	agentID := c.Param("id")

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope("message is required"))
		return
	}

	id, err := s.ctrl.SendUserMessage(agentID, req.Message)
	if err != nil {
		s.mapFault(c, err)
		return
	}

	c.JSON(http.StatusOK, okEnvelope(&MessageResponse{
		MessageID: id,
		AgentID:   agentID,
	}))
}
