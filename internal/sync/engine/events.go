package engine

import (
	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/sync/arbiter"
	"github.com/turtacn/mapsync/internal/sync/broadcast"
	"github.com/turtacn/mapsync/internal/sync/mode"
	"github.com/turtacn/mapsync/internal/sync/provider"
	"github.com/turtacn/mapsync/pkg/errors"
)

// handleEvent runs on the loop for every adapter event of s.
func (e *Engine) handleEvent(s *slot, ev provider.Event) {
	if s.closed || e.panes[s.id] != s {
		e.metrics.RecordEvent(s.id.String(), ev.Kind.String(), "stale")
		return
	}
	id := s.id
	switch e.modes.Route(ev) {
	case mode.Drop:
		e.metrics.RecordEvent(id.String(), ev.Kind.String(), "suppressed")

	case mode.Interaction:
		e.metrics.RecordEvent(id.String(), ev.Kind.String(), "accepted")
		if ev.Kind == provider.InteractionStarted {
			e.bc.BeginInteraction(id)
			return
		}
		v, ok := e.bc.EndInteraction(id)
		if ok && e.arb.State().Owner != id {
			if e.bc.Deliver(id, v) {
				e.metrics.RecordBroadcast(id.String(), "applied")
			}
		}

	case mode.AddressLookup:
		e.metrics.RecordEvent(id.String(), ev.Kind.String(), "accepted")
		e.notify("address", func(l HostListener) { l.OnAddressRequested(id, ev.Point) })

	case mode.Unavailable:
		e.metrics.RecordEvent(id.String(), ev.Kind.String(), "accepted")
		e.modes.Revert(id, s.adapter)
		e.reportPaneError(id, errors.NoImageryAvailable("pane="+id.String()))

	case mode.Arbitrate:
		d := e.arb.Observe(id, ev.Viewport)
		e.metrics.RecordEvent(id.String(), ev.Kind.String(), d.String())
		switch d {
		case arbiter.Accepted:
			e.canonical = ev.Viewport
			e.recordBroadcast(e.bc.Broadcast(id, ev.Viewport))
			if ev.Origin == provider.Panorama {
				e.modes.FollowPanorama(id, s.adapter, ev.Viewport)
			}
			e.notify("viewport", func(l HostListener) { l.OnCanonicalViewportChanged(ev.Viewport) })
		case arbiter.Unchanged:
			e.bc.Accepted(id, ev.Viewport)
		case arbiter.Rejected:
			e.log.Debug("change rejected", logging.Pane(string(id)),
				logging.String("owner", e.arb.State().Owner.String()), logging.Any("viewport", ev.Viewport))
		}
	}
}

func (e *Engine) recordBroadcast(res broadcast.Result) {
	for _, id := range res.Applied {
		e.metrics.RecordBroadcast(id.String(), "applied")
	}
	for _, id := range res.Deferred {
		e.metrics.RecordBroadcast(id.String(), "deferred")
	}
	for _, id := range res.Skipped {
		e.metrics.RecordBroadcast(id.String(), "skipped")
	}
	for _, id := range res.Failed {
		e.metrics.RecordBroadcast(id.String(), "failed")
	}
}

func (e *Engine) onAuthority(from, to pane.ID) {
	e.metrics.RecordAuthority(from.String(), to.String())
	e.log.Debug("authority changed", logging.String("from", from.String()), logging.String("to", to.String()))
}

func (e *Engine) onModeChanged(p pane.ID, m pane.Mode) {
	e.metrics.ModeTransitions.WithLabelValues(p.String(), m.String()).Inc()
	e.notify("mode", func(l HostListener) { l.OnPaneModeChanged(p, m) })
}

func (e *Engine) onApplyError(p pane.ID, err error) {
	e.metrics.RecordBroadcast(p.String(), "error")
	e.paneErr(p, err)
}
