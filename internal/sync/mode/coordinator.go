// Package mode tracks each pane's tool or immersive mode and changes how that
// pane's events are routed while a mode is active.
package mode

import (
	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/sync/provider"
	"github.com/turtacn/mapsync/pkg/errors"
)

// Tools is the adapter surface a mode needs.
type Tools interface {
	EnterImmersiveMode(at viewport.LatLng) error
	ExitImmersiveMode() error
	BeginMeasurement(m pane.Mode) error
	EndMeasurement() error
	ApplyViewport(v viewport.Viewport) error
}

// Route says what the engine should do with an event.
type Route int

const (
	// Arbitrate passes a viewport change to the arbiter.
	Arbitrate Route = iota
	// Drop discards the event.
	Drop
	// Interaction forwards an interaction boundary.
	Interaction
	// AddressLookup asks the host for the address at the clicked point.
	AddressLookup
	// Unavailable reports that the pane's panorama has no imagery.
	Unavailable
)

// ChangeFunc is notified on every mode change of a pane.
type ChangeFunc func(p pane.ID, m pane.Mode)

// Coordinator owns the per-pane mode table.
type Coordinator struct {
	modes    map[pane.ID]pane.Mode
	onChange ChangeFunc
	log      logging.Logger
}

// New returns a coordinator with every pane in Normal.
func New(onChange ChangeFunc, log logging.Logger) *Coordinator {
	if onChange == nil {
		onChange = func(pane.ID, pane.Mode) {}
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Coordinator{modes: make(map[pane.ID]pane.Mode), onChange: onChange, log: log.Named("mode")}
}

// Mode returns p's current mode.
func (c *Coordinator) Mode(p pane.ID) pane.Mode {
	return c.modes[p]
}

// Modes returns a copy of every non-normal mode.
func (c *Coordinator) Modes() map[pane.ID]pane.Mode {
	out := make(map[pane.ID]pane.Mode, len(c.modes))
	for id, m := range c.modes {
		out[id] = m
	}
	return out
}

func (c *Coordinator) set(p pane.ID, m pane.Mode) {
	if c.modes[p] == m {
		return
	}
	if m == pane.ModeNormal {
		delete(c.modes, p)
	} else {
		c.modes[p] = m
	}
	c.log.Info("pane mode changed", logging.Pane(string(p)), logging.String("mode", m.String()))
	c.onChange(p, m)
}

// Enter switches p to m.  Any other active mode is fully cleaned up first.
// If m cannot be installed the pane is left in Normal and the error returned.
func (c *Coordinator) Enter(p pane.ID, tools Tools, m pane.Mode, at viewport.LatLng) error {
	cur := c.Mode(p)
	if cur == m {
		return nil
	}
	// A tool switch runs cur → Normal → m; reject m before cleaning up cur.
	if m != pane.ModeNormal && !pane.CanTransition(pane.ModeNormal, m) {
		return errors.New(errors.ErrCodeInvalidMode, "illegal mode transition").
			WithDetail(cur.String() + " -> " + m.String())
	}
	if cur != pane.ModeNormal {
		if err := c.Exit(p, tools); err != nil {
			c.log.Warn("mode cleanup failed", logging.Pane(string(p)), logging.Err(err))
		}
	}
	var err error
	switch m {
	case pane.ModeNormal:
		return nil
	case pane.ModeImmersivePanorama:
		err = tools.EnterImmersiveMode(at)
	case pane.ModeMeasuringDistance, pane.ModeMeasuringArea:
		err = tools.BeginMeasurement(m)
	}
	if err != nil {
		return err
	}
	c.set(p, m)
	return nil
}

// Exit returns p to Normal, releasing whatever its mode installed.
func (c *Coordinator) Exit(p pane.ID, tools Tools) error {
	var err error
	switch c.Mode(p) {
	case pane.ModeNormal:
		return nil
	case pane.ModeImmersivePanorama:
		err = tools.ExitImmersiveMode()
	case pane.ModeMeasuringDistance, pane.ModeMeasuringArea:
		err = tools.EndMeasurement()
	}
	c.set(p, pane.ModeNormal)
	return err
}

// Revert handles a NoImageryAvailable report for p.  Only p is affected.
func (c *Coordinator) Revert(p pane.ID, tools Tools) {
	if c.Mode(p) != pane.ModeImmersivePanorama {
		return
	}
	c.log.Warn("panorama unavailable, reverting pane", logging.Pane(string(p)))
	if err := c.Exit(p, tools); err != nil {
		c.log.Warn("panorama cleanup failed", logging.Pane(string(p)), logging.Err(err))
	}
}

// Forget drops p from the table when its adapter is torn down.  The adapter
// releases the native resources itself.
func (c *Coordinator) Forget(p pane.ID) {
	c.set(p, pane.ModeNormal)
}

// Route classifies ev according to its pane's mode.
func (c *Coordinator) Route(ev provider.Event) Route {
	m := c.Mode(ev.Pane)
	switch ev.Kind {
	case provider.InteractionStarted, provider.InteractionEnded:
		return Interaction
	case provider.Click:
		if m.SuppressesAddressLookup() {
			return Drop
		}
		return AddressLookup
	case provider.PanoramaUnavailable:
		if m != pane.ModeImmersivePanorama {
			return Drop
		}
		return Unavailable
	case provider.ViewportChanged:
		if ev.Origin == provider.Programmatic {
			return Drop
		}
		if m == pane.ModeImmersivePanorama {
			// Only the walking position drives the fleet; the thumbnail
			// map's own changes are echoes.
			if ev.Origin == provider.Panorama {
				return Arbitrate
			}
			return Drop
		}
		if ev.Origin == provider.Panorama {
			return Drop
		}
		return Arbitrate
	}
	return Drop
}

// FollowPanorama re-centres p's thumbnail map on an accepted panorama move.
func (c *Coordinator) FollowPanorama(p pane.ID, tools Tools, v viewport.Viewport) {
	if c.Mode(p) != pane.ModeImmersivePanorama {
		return
	}
	if err := tools.ApplyViewport(v); err != nil {
		c.log.Debug("mini-map recentre failed", logging.Pane(string(p)), logging.Err(err))
	}
}
