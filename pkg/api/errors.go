package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/argus-audit/argus/pkg/faults"
)

// mapFault writes a controller error as an HTTP error envelope. Unexpected
// kinds are reported as internal errors without leaking detail.
func (s *Server) mapFault(c *gin.Context, err error) {
	switch {
	case faults.IsKind(err, faults.CommAgentNotFound):
		c.JSON(http.StatusNotFound, errorEnvelope(err.Error()))
	case faults.IsKind(err, faults.ValidationInput):
		c.JSON(http.StatusBadRequest, errorEnvelope(err.Error()))
	default:
		s.log.Error("unexpected control plane error", "error", err)
		c.JSON(http.StatusInternalServerError, errorEnvelope("internal server error"))
	}
}
