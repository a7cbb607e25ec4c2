package engine

import (
	"context"
	"time"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/sync/normalizer"
)

// PaneSnapshot describes one pane.
type PaneSnapshot struct {
	ID           pane.ID           `json:"id"`
	Provider     pane.ProviderKind `json:"provider"`
	Satellite    bool              `json:"satellite"`
	Initialized  bool              `json:"initialized"`
	InitAttempts int               `json:"init_attempts"`
	Mode         pane.Mode         `json:"mode"`
	Interacting  bool              `json:"interacting"`
	Hidden       bool              `json:"hidden"`
	// Receiving is false while the pane is out of the broadcast set, such as
	// between a reload and its re-initialisation.
	Receiving bool `json:"receiving"`
	// View is what the widget currently shows, in canonical terms.
	View    *viewport.Viewport `json:"view,omitempty"`
	MinZoom float64            `json:"min_zoom"`
	MaxZoom float64            `json:"max_zoom"`
}

// ProviderStatus is one registered provider runtime.
type ProviderStatus struct {
	Kind  pane.ProviderKind `json:"kind"`
	Ready bool              `json:"ready"`
}

// Snapshot is a read-only dump of engine state.
type Snapshot struct {
	Canonical  viewport.Viewport `json:"canonical"`
	Authority  pane.ID           `json:"authority,omitempty"`
	ExpiresAt  *time.Time        `json:"authority_expires_at,omitempty"`
	Fullscreen pane.ID           `json:"fullscreen,omitempty"`
	Marker     *viewport.LatLng  `json:"marker,omitempty"`
	// MarkerDistance is the marker's distance in meters from the canonical
	// center.
	MarkerDistance *float64         `json:"marker_distance_m,omitempty"`
	Providers      []ProviderStatus `json:"providers"`
	Panes          []PaneSnapshot   `json:"panes"`
}

// Pane returns the snapshot of id.
func (s Snapshot) Pane(id pane.ID) (PaneSnapshot, bool) {
	for _, p := range s.Panes {
		if p.ID == id {
			return p, true
		}
	}
	return PaneSnapshot{}, false
}

// Snapshot returns the current state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.call(ctx, func() error {
		snap = e.snapshot()
		return nil
	})
	return snap, err
}

func (e *Engine) snapshot() Snapshot {
	st := e.arb.State()
	snap := Snapshot{
		Canonical:  e.canonical,
		Authority:  st.Owner,
		Fullscreen: e.fullscreen,
		Panes:      make([]PaneSnapshot, 0, len(e.panes)),
	}
	if !st.Idle() {
		exp := st.ExpiresAt
		snap.ExpiresAt = &exp
	}
	if e.marker != nil {
		m := *e.marker
		snap.Marker = &m
		d := e.canonical.Center().DistanceMeters(m)
		snap.MarkerDistance = &d
	}
	if e.registry != nil {
		for _, k := range e.registry.Kinds() {
			snap.Providers = append(snap.Providers, ProviderStatus{Kind: k, Ready: e.registry.Ready(k)})
		}
	}
	for _, id := range e.paneIDs() {
		s := e.panes[id]
		ps := PaneSnapshot{
			ID:           id,
			Provider:     s.cfg.Provider,
			Satellite:    s.cfg.Satellite,
			Initialized:  s.initialized,
			InitAttempts: s.attempts,
			Mode:         e.modes.Mode(id),
			Interacting:  e.bc.Interacting(id),
			Hidden:       e.fullscreen != pane.None && e.fullscreen != id,
			Receiving:    e.bc.Registered(id),
		}
		if norm, err := normalizer.For(s.cfg.Provider); err == nil {
			ps.MinZoom, ps.MaxZoom = norm.CanonicalRange()
		}
		if s.initialized {
			if v, err := s.adapter.CurrentViewport(); err == nil {
				ps.View = &v
			}
		}
		snap.Panes = append(snap.Panes, ps)
	}
	return snap
}
