// File: internal/interfaces/http/handlers/sync_handler.go
// REST surface over the sync engine: panes, viewport, marker, fullscreen, modes.

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/pkg/errors"
)

// SyncEngine is the part of the engine the host API drives.
type SyncEngine interface {
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	SetPaneConfig(ctx context.Context, id pane.ID, cfg pane.Config) error
	RemovePane(ctx context.Context, id pane.ID) error
	SetCanonicalViewport(ctx context.Context, v viewport.Viewport) error
	SelectSearchResult(ctx context.Context, v viewport.Viewport) error
	ClearSearchMarker(ctx context.Context) error
	SetFullscreenPane(ctx context.Context, id pane.ID) error
	EnterMode(ctx context.Context, id pane.ID, m pane.Mode, at *viewport.LatLng) error
	ExitMode(ctx context.Context, id pane.ID) error
}

// SyncHandler exposes the engine's host operations.
type SyncHandler struct {
	engine SyncEngine
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(e SyncEngine) *SyncHandler {
	return &SyncHandler{engine: e}
}

// PaneConfigRequest is the body of PUT /api/v1/panes/:pane.
type PaneConfigRequest struct {
	Provider  string `json:"provider" binding:"required"`
	Satellite bool   `json:"satellite"`
}

// ViewportRequest is a canonical viewport.
type ViewportRequest struct {
	Lat  *float64 `json:"lat" binding:"required"`
	Lng  *float64 `json:"lng" binding:"required"`
	Zoom *float64 `json:"zoom" binding:"required"`
}

func (r ViewportRequest) viewport() viewport.Viewport {
	return viewport.Viewport{Lat: *r.Lat, Lng: *r.Lng, Zoom: *r.Zoom}
}

// FullscreenRequest is the body of PUT /api/v1/fullscreen.  An empty pane
// leaves fullscreen.
type FullscreenRequest struct {
	Pane string `json:"pane"`
}

// ModeRequest is the body of PUT /api/v1/panes/:pane/mode.  Without a
// position the mode opens at the canonical center.
type ModeRequest struct {
	Mode string   `json:"mode" binding:"required"`
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
}

// State handles GET /api/v1/state.
func (h *SyncHandler) State(c *gin.Context) {
	snap, err := h.engine.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// SetPane handles PUT /api/v1/panes/:pane.
func (h *SyncHandler) SetPane(c *gin.Context) {
	id, ok := paneParam(c)
	if !ok {
		return
	}
	var req PaneConfigRequest
	if !bindJSON(c, &req) {
		return
	}
	kind, err := pane.ParseProviderKind(req.Provider)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, h.engine.SetPaneConfig(c.Request.Context(), id, pane.Config{Provider: kind, Satellite: req.Satellite}))
}

// RemovePane handles DELETE /api/v1/panes/:pane.
func (h *SyncHandler) RemovePane(c *gin.Context) {
	id, ok := paneParam(c)
	if !ok {
		return
	}
	h.respond(c, h.engine.RemovePane(c.Request.Context(), id))
}

// SetViewport handles PUT /api/v1/viewport.
func (h *SyncHandler) SetViewport(c *gin.Context) {
	var req ViewportRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c, h.engine.SetCanonicalViewport(c.Request.Context(), req.viewport()))
}

// SelectSearchResult handles POST /api/v1/search/select.
func (h *SyncHandler) SelectSearchResult(c *gin.Context) {
	var req ViewportRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c, h.engine.SelectSearchResult(c.Request.Context(), req.viewport()))
}

// ClearSearchMarker handles DELETE /api/v1/search/marker.
func (h *SyncHandler) ClearSearchMarker(c *gin.Context) {
	h.respond(c, h.engine.ClearSearchMarker(c.Request.Context()))
}

// SetFullscreen handles PUT /api/v1/fullscreen.
func (h *SyncHandler) SetFullscreen(c *gin.Context) {
	var req FullscreenRequest
	if !bindJSON(c, &req) {
		return
	}
	id := pane.None
	if strings.TrimSpace(req.Pane) != "" {
		var err error
		if id, err = pane.ParseID(req.Pane); err != nil {
			writeError(c, err)
			return
		}
	}
	h.respond(c, h.engine.SetFullscreenPane(c.Request.Context(), id))
}

// EnterMode handles PUT /api/v1/panes/:pane/mode.
func (h *SyncHandler) EnterMode(c *gin.Context) {
	id, ok := paneParam(c)
	if !ok {
		return
	}
	var req ModeRequest
	if !bindJSON(c, &req) {
		return
	}
	m, err := pane.ParseMode(req.Mode)
	if err != nil {
		writeError(c, err)
		return
	}
	var at *viewport.LatLng
	switch {
	case req.Lat != nil && req.Lng != nil:
		at = &viewport.LatLng{Lat: *req.Lat, Lng: *req.Lng}
	case req.Lat != nil || req.Lng != nil:
		writeError(c, errors.InvalidParam("lat and lng must be given together"))
		return
	}
	h.respond(c, h.engine.EnterMode(c.Request.Context(), id, m, at))
}

// ExitMode handles DELETE /api/v1/panes/:pane/mode.
func (h *SyncHandler) ExitMode(c *gin.Context) {
	id, ok := paneParam(c)
	if !ok {
		return
	}
	h.respond(c, h.engine.ExitMode(c.Request.Context(), id))
}

func (h *SyncHandler) respond(c *gin.Context, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
