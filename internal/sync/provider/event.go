package provider

import (
	"fmt"
	"time"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
)

// EventKind classifies adapter events.
type EventKind int

const (
	ViewportChanged EventKind = iota
	InteractionStarted
	InteractionEnded
	Click
	PanoramaUnavailable
)

func (k EventKind) String() string {
	switch k {
	case ViewportChanged:
		return "viewport_changed"
	case InteractionStarted:
		return "interaction_started"
	case InteractionEnded:
		return "interaction_ended"
	case Click:
		return "click"
	case PanoramaUnavailable:
		return "panorama_unavailable"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Origin says what caused a viewport change.
type Origin int

const (
	// Organic changes come from the user manipulating the map.
	Organic Origin = iota
	// Programmatic changes are the widget echoing a write made by the adapter.
	Programmatic
	// Panorama changes come from walking inside an immersive panorama.
	Panorama
)

func (o Origin) String() string {
	switch o {
	case Organic:
		return "organic"
	case Programmatic:
		return "programmatic"
	case Panorama:
		return "panorama"
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// Event is a canonical, provider-independent notification from one pane.
type Event struct {
	Pane     pane.ID
	Kind     EventKind
	Origin   Origin
	Viewport viewport.Viewport
	// Point is set for Click events.
	Point viewport.LatLng
	At    time.Time
}

func (e Event) String() string {
	switch e.Kind {
	case ViewportChanged:
		return fmt.Sprintf("%s %s %s %s", e.Pane, e.Kind, e.Origin, e.Viewport)
	case Click:
		return fmt.Sprintf("%s %s %s", e.Pane, e.Kind, e.Point)
	}
	return fmt.Sprintf("%s %s", e.Pane, e.Kind)
}
