// File: internal/interfaces/http/handlers/ws_handler.go
// Upgrades widget and host websocket connections.

package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/interfaces/ws"
	"github.com/turtacn/mapsync/pkg/errors"
)

// WSHandler upgrades widget and host connections.
type WSHandler struct {
	gateway *ws.Gateway
	hub     *ws.Hub
	engine  SyncEngine
}

// NewWSHandler creates a WSHandler.  gateway or hub may be nil to disable
// the corresponding endpoint.
func NewWSHandler(gateway *ws.Gateway, hub *ws.Hub, e SyncEngine) *WSHandler {
	return &WSHandler{gateway: gateway, hub: hub, engine: e}
}

// Pane handles GET /ws/pane/:pane?provider=kind.
func (h *WSHandler) Pane(c *gin.Context) {
	if h.gateway == nil {
		writeError(c, errors.New(errors.CodeNotImplemented, "widget connections disabled"))
		return
	}
	id, ok := paneParam(c)
	if !ok {
		return
	}
	kind, err := pane.ParseProviderKind(c.Query("provider"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.gateway.ServePane(c.Writer, c.Request, id, kind); err != nil {
		writeError(c, err)
	}
}

// Host handles GET /ws/host.  The first frame is the current state.
func (h *WSHandler) Host(c *gin.Context) {
	if h.hub == nil {
		writeError(c, errors.New(errors.CodeNotImplemented, "host connections disabled"))
		return
	}
	var state interface{}
	if h.engine != nil {
		if snap, err := h.engine.Snapshot(c.Request.Context()); err == nil {
			state = snap
		}
	}
	h.hub.Serve(c.Writer, c.Request, state)
}
