package engine

import (
	"context"
	"fmt"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/sync/arbiter"
	"github.com/turtacn/mapsync/internal/sync/provider"
	"github.com/turtacn/mapsync/pkg/errors"
)

// HostListener receives engine notifications for the host UI.  Callbacks run
// on the engine loop: they must return quickly and must not call back into
// the engine synchronously.
type HostListener interface {
	OnCanonicalViewportChanged(v viewport.Viewport)
	OnPaneModeChanged(p pane.ID, m pane.Mode)
	OnAddressRequested(p pane.ID, at viewport.LatLng)
	OnPaneError(p pane.ID, err error)
}

// ListenerFuncs adapts plain functions to HostListener.  Nil fields are
// ignored.
type ListenerFuncs struct {
	ViewportChanged  func(v viewport.Viewport)
	ModeChanged      func(p pane.ID, m pane.Mode)
	AddressRequested func(p pane.ID, at viewport.LatLng)
	PaneError        func(p pane.ID, err error)
}

func (f ListenerFuncs) OnCanonicalViewportChanged(v viewport.Viewport) {
	if f.ViewportChanged != nil {
		f.ViewportChanged(v)
	}
}

func (f ListenerFuncs) OnPaneModeChanged(p pane.ID, m pane.Mode) {
	if f.ModeChanged != nil {
		f.ModeChanged(p, m)
	}
}

func (f ListenerFuncs) OnAddressRequested(p pane.ID, at viewport.LatLng) {
	if f.AddressRequested != nil {
		f.AddressRequested(p, at)
	}
}

func (f ListenerFuncs) OnPaneError(p pane.ID, err error) {
	if f.PaneError != nil {
		f.PaneError(p, err)
	}
}

// AddListener registers l for all future notifications.
func (e *Engine) AddListener(l HostListener) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) notify(what string, fn func(HostListener)) {
	e.listenerMu.RLock()
	ls := append([]HostListener(nil), e.listeners...)
	e.listenerMu.RUnlock()
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("host listener panicked", logging.String("notification", what), logging.String("panic", fmt.Sprint(r)))
				}
			}()
			fn(l)
		}()
	}
}

// SetPaneConfig creates, reconfigures or switches the provider of a pane.
// A provider change destroys the old adapter before creating the new one.
func (e *Engine) SetPaneConfig(ctx context.Context, id pane.ID, cfg pane.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return e.call(ctx, func() error {
		e.setPaneConfig(id, cfg)
		return nil
	})
}

// RemovePane tears a pane down.
func (e *Engine) RemovePane(ctx context.Context, id pane.ID) error {
	return e.call(ctx, func() error {
		s, ok := e.panes[id]
		if !ok {
			return errors.New(errors.ErrCodeUnknownPane, "pane not found").WithDetail(id.String())
		}
		e.removePane(s)
		return nil
	})
}

// ReloadPane destroys a pane's adapter and creates a fresh one with the same
// configuration.  The new adapter polls its runtime until a widget is
// available again, e.g. after a remote widget reconnects.
func (e *Engine) ReloadPane(ctx context.Context, id pane.ID) error {
	return e.call(ctx, func() error {
		s, ok := e.panes[id]
		if !ok {
			return errors.New(errors.ErrCodeUnknownPane, "pane not found").WithDetail(id.String())
		}
		cfg := s.cfg
		e.teardown(s)
		e.createPane(id, cfg)
		return nil
	})
}

// SetCanonicalViewport moves every pane to v, e.g. after a search selection.
func (e *Engine) SetCanonicalViewport(ctx context.Context, v viewport.Viewport) error {
	if err := v.Validate(); err != nil {
		return err
	}
	return e.call(ctx, func() error {
		e.setCanonical(v.Normalized())
		return nil
	})
}

// SelectSearchResult moves every pane to v and marks its center on each.
// The previous marker is replaced.
func (e *Engine) SelectSearchResult(ctx context.Context, v viewport.Viewport) error {
	if err := v.Validate(); err != nil {
		return err
	}
	return e.call(ctx, func() error {
		v = v.Normalized()
		e.setCanonical(v)
		at := v.Center()
		e.marker = &at
		for _, s := range e.livePanes() {
			e.paneErr(s.id, s.adapter.ShowMarker(at))
		}
		return nil
	})
}

// ClearSearchMarker removes the search marker from every pane.
func (e *Engine) ClearSearchMarker(ctx context.Context) error {
	return e.call(ctx, func() error {
		e.marker = nil
		for _, s := range e.livePanes() {
			e.paneErr(s.id, s.adapter.ClearMarker())
		}
		return nil
	})
}

// SetFullscreenPane shows only id; pane.None shows every pane again.  Hidden
// panes skip broadcasts and catch up when shown.
func (e *Engine) SetFullscreenPane(ctx context.Context, id pane.ID) error {
	return e.call(ctx, func() error {
		if id != pane.None {
			if _, ok := e.panes[id]; !ok {
				return errors.New(errors.ErrCodeUnknownPane, "pane not found").WithDetail(id.String())
			}
		}
		e.fullscreen = id
		e.applyVisibility()
		return nil
	})
}

// EnterMode switches a pane's tool or immersive mode.  at is where a
// panorama opens; the zero value means the current canonical center.
func (e *Engine) EnterMode(ctx context.Context, id pane.ID, m pane.Mode, at *viewport.LatLng) error {
	if at != nil {
		if err := at.Validate(); err != nil {
			return err
		}
	}
	return e.call(ctx, func() error {
		s, err := e.livePane(id)
		if err != nil {
			return err
		}
		pos := e.canonical.Center()
		if at != nil {
			pos = at.Normalized()
		}
		if err := e.modes.Enter(id, s.adapter, m, pos); err != nil {
			e.log.Warn("mode change failed", logging.Pane(string(id)), logging.String("mode", m.String()), logging.Err(err))
			e.reportPaneError(id, err)
			return err
		}
		return nil
	})
}

// ExitMode returns a pane to Normal.
func (e *Engine) ExitMode(ctx context.Context, id pane.ID) error {
	return e.call(ctx, func() error {
		s, err := e.livePane(id)
		if err != nil {
			return err
		}
		return e.modes.Exit(id, s.adapter)
	})
}

// UpdateOptions applies new timings and tolerances.  Existing adapters keep
// their settle window until they are recreated.
func (e *Engine) UpdateOptions(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	return e.call(ctx, func() error {
		e.opts = opts
		e.arb.SetOptions(arbiter.Options{Quiescence: opts.Quiescence, Tolerance: opts.Tolerance})
		e.bc.SetTolerance(opts.Tolerance)
		for _, s := range e.panes {
			if s.adapter != nil {
				s.adapter.SetOptions(provider.Options{Settle: opts.Settle, EchoTolerance: opts.Tolerance})
			}
		}
		e.log.Info("engine options updated",
			logging.Duration("quiescence", opts.Quiescence),
			logging.Duration("settle", opts.Settle))
		return nil
	})
}

func (e *Engine) setCanonical(v viewport.Viewport) {
	e.arb.Reset(v)
	e.canonical = v
	res := e.bc.Broadcast(pane.None, v)
	e.recordBroadcast(res)
	e.log.Debug("canonical viewport set by host", logging.Any("viewport", v))
	e.notify("viewport", func(l HostListener) { l.OnCanonicalViewportChanged(v) })
}
