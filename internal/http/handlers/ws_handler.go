// WebSocket HTTP handler.
//
// This file exposes the real-time endpoint:
//   - GET /ws   (upgrade, then server-push notification/distressAlert events)
//
// The connection is bound to the authenticated user's room; the protocol is
// push-only and carries the realtime.Event envelope.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-companion-backend/internal/realtime"
	"github.com/tbourn/go-companion-backend/internal/sysutil"
)

// wsUpgrader performs the HTTP→WebSocket upgrade. Origin checks are delegated
// to the CORS layer in front of the router.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler serves the real-time event stream for one user.
type WSHandler struct {
	hub *realtime.Hub
}

// NewWSHandler constructs a WSHandler bound to the given hub.
func NewWSHandler(hub *realtime.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Serve godoc
// @ID          wsConnect
// @Summary     Open the real-time event stream
// @Description Upgrades to a WebSocket bound to the current user. The server
// @Description pushes notification and distressAlert events; client frames
// @Description are ignored.
// @Tags        Realtime
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"        example(user123)
// @Param       user_id    query   string  false "User ID (browser WS clients cannot set headers)"  example(user123)
//
// @Success     101  {string} string "Switching Protocols"
// @Failure     400  {object} handlers.ErrorResponse "Upgrade failed"
// @Router      /ws [get]
func (h *WSHandler) Serve(c *gin.Context) {
	// Browser WebSocket clients cannot set custom headers, so a query param
	// takes precedence over the usual header lookup.
	uid := sysutil.FirstNonEmpty(c.Query("user_id"), userID(c))

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its own response; log and bail.
		log.Warn().Err(err).Str("user_id", uid).Msg("websocket upgrade failed")
		return
	}

	client := realtime.NewClient(h.hub, conn, uid)
	client.Serve()
}
