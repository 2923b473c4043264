package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades GET /ws and hands the connection to the event hub.
// HandleConnection blocks until the client disconnects or the hub closes.
func (s *Server) wsHandler(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, errorEnvelope("event stream not available"))
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Same-origin requests always pass. Cross-origin browsers are
		// rejected unless their host matches an allowlisted pattern.
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		// Accept already wrote its own error response.
		s.log.Warn("websocket upgrade rejected", "error", err)
		return
	}

	s.hub.HandleConnection(c.Request.Context(), conn)
}
