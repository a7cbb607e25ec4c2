// File: internal/interfaces/ws/protocol.go
// Wire messages shared by widget and host connections.

// Package ws connects remote map widgets and host UIs over WebSocket.
//
// A browser page mounting a vendor widget opens /ws/pane/:pane and becomes
// that pane's provider.Widget: the engine drives it with commands and the
// page reports native events back, all in the provider's own units.  Host
// UIs open /ws/host and receive engine notifications.
package ws

import (
	"github.com/turtacn/mapsync/internal/sync/normalizer"
)

// Widget to engine message types.
const (
	TypeReady               = "ready"
	TypeView                = "view"
	TypeInteraction         = "interaction"
	TypeClick               = "click"
	TypePanorama            = "panorama"
	TypePanoramaUnavailable = "panorama_unavailable"
)

var inboundTypes = map[string]bool{
	TypeReady: true, TypeView: true, TypeInteraction: true,
	TypeClick: true, TypePanorama: true, TypePanoramaUnavailable: true,
}

// Engine to widget message types.
const (
	TypeSetView       = "set_view"
	TypeMapKind       = "map_kind"
	TypeOverlay       = "overlay"
	TypePanoramaOpen  = "panorama_open"
	TypePanoramaClose = "panorama_close"
	TypeMeasureBegin  = "measure_begin"
	TypeMeasureEnd    = "measure_end"
	TypeMarker        = "marker"
	TypeMarkerClear   = "marker_clear"
	TypeClose         = "close"
)

// Host channel message types besides engine notifications.
const (
	TypeState = "state"
)

// Interaction phases.
const (
	PhaseStart = "start"
	PhaseEnd   = "end"
)

// Message is the single JSON frame used in both directions.  Coordinates
// are native: X and Y follow the provider's axis order.
type Message struct {
	Type      string   `json:"type"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Zoom      *float64 `json:"zoom,omitempty"`
	Phase     string   `json:"phase,omitempty"`
	Satellite *bool    `json:"satellite,omitempty"`
	Name      string   `json:"name,omitempty"`
	On        *bool    `json:"on,omitempty"`
	Kind      string   `json:"kind,omitempty"`
}

func f64(v float64) *float64 { return &v }

func boolp(v bool) *bool { return &v }

func viewMessage(typ string, v normalizer.NativeView) Message {
	return Message{Type: typ, X: f64(v.Center.X), Y: f64(v.Center.Y), Zoom: f64(v.Zoom)}
}

func pointMessage(typ string, p normalizer.NativePoint) Message {
	return Message{Type: typ, X: f64(p.X), Y: f64(p.Y)}
}

// point returns the message's coordinate, if both axes are present.
func (m Message) point() (normalizer.NativePoint, bool) {
	if m.X == nil || m.Y == nil {
		return normalizer.NativePoint{}, false
	}
	return normalizer.NativePoint{X: *m.X, Y: *m.Y}, true
}

// view returns the message's native view, if complete.
func (m Message) view() (normalizer.NativeView, bool) {
	p, ok := m.point()
	if !ok || m.Zoom == nil {
		return normalizer.NativeView{}, false
	}
	return normalizer.NativeView{Center: p, Zoom: *m.Zoom}, true
}
