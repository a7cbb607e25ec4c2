package engine

import (
	"sort"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/sync/provider"
	"github.com/turtacn/mapsync/internal/sync/schedule"
	"github.com/turtacn/mapsync/pkg/errors"
)

// slot is a pane's single live adapter and everything scheduled for it.
type slot struct {
	id          pane.ID
	cfg         pane.Config
	adapter     provider.Adapter
	stopEvents  func()
	poll        schedule.Timer
	attempts    int
	initialized bool
	closed      bool
}

func (e *Engine) paneIDs() []pane.ID {
	ids := make([]pane.ID, 0, len(e.panes))
	for id := range e.panes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// livePanes returns initialised panes in id order.
func (e *Engine) livePanes() []*slot {
	var out []*slot
	for _, id := range e.paneIDs() {
		if s := e.panes[id]; s.initialized {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) livePane(id pane.ID) (*slot, error) {
	s, ok := e.panes[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownPane, "pane not found").WithDetail(id.String())
	}
	if !s.initialized {
		return nil, errors.ProviderUnavailable(s.cfg.Provider.String())
	}
	return s, nil
}

func (e *Engine) setPaneConfig(id pane.ID, cfg pane.Config) {
	if s, ok := e.panes[id]; ok {
		if s.cfg.Provider == cfg.Provider {
			if s.cfg.Satellite != cfg.Satellite {
				s.cfg = cfg
				if s.initialized {
					e.paneErr(id, s.adapter.ApplyMapKind(cfg.Satellite))
				}
			}
			return
		}
		e.log.Info("switching pane provider", logging.Pane(string(id)),
			logging.String("from", s.cfg.Provider.String()), logging.String("to", cfg.Provider.String()))
		e.teardown(s)
	}
	e.createPane(id, cfg)
}

func (e *Engine) createPane(id pane.ID, cfg pane.Config) {
	s := &slot{id: id, cfg: cfg}
	e.panes[id] = s

	a, err := e.newAdapter(id, cfg.Provider, e.loopClock, e.opts)
	if err != nil {
		e.log.Error("cannot create adapter", logging.Pane(string(id)), logging.Err(err))
		e.reportPaneError(id, err)
		return
	}
	s.adapter = a
	s.stopEvents = a.Observe(func(ev provider.Event) {
		e.post(func() { e.handleEvent(s, ev) })
	})
	e.tryInit(s)
}

// tryInit initialises s, rescheduling itself on the poll interval while the
// provider runtime is still loading.
func (e *Engine) tryInit(s *slot) {
	s.poll = nil
	if s.closed || s.initialized {
		return
	}
	err := s.adapter.Initialize(e.ctx, s.id.String(), e.canonical, s.cfg)
	switch {
	case err == nil:
		e.onInitialized(s)
	case errors.IsCode(err, errors.ErrCodeProviderUnavailable):
		s.attempts++
		e.metrics.InitRetriesTotal.WithLabelValues(s.id.String(), s.cfg.Provider.String()).Inc()
		if s.attempts == 1 {
			e.log.Info("provider not loaded yet, polling", logging.Pane(string(s.id)),
				logging.Provider(string(s.cfg.Provider)), logging.Duration("interval", e.opts.PollInterval))
		}
		s.poll = e.loopClock.AfterFunc(e.opts.PollInterval, func() { e.tryInit(s) })
	default:
		e.log.Error("adapter initialisation failed", logging.Pane(string(s.id)), logging.Err(err))
		e.reportPaneError(s.id, err)
	}
}

func (e *Engine) onInitialized(s *slot) {
	s.initialized = true
	e.bc.Register(s.adapter, e.canonical)
	e.metrics.PanesActive.WithLabelValues(s.cfg.Provider.String()).Inc()
	switch e.fullscreen {
	case pane.None:
	case s.id:
		// A recreated fullscreen pane keeps the others hidden.
		e.applyVisibility()
	default:
		e.bc.SetHidden(s.id, true)
	}
	if e.marker != nil {
		e.paneErr(s.id, s.adapter.ShowMarker(*e.marker))
	}
	e.log.Info("pane ready", logging.Pane(string(s.id)), logging.Provider(string(s.cfg.Provider)),
		logging.Int("attempts", s.attempts+1))
}

// teardown releases everything s owns: pending timers, the event
// subscription, authority, mode state and finally the adapter itself.
// Pane-level host state such as fullscreen survives; removePane clears it.
func (e *Engine) teardown(s *slot) {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	if s.poll != nil {
		s.poll.Stop()
		s.poll = nil
	}
	if s.stopEvents != nil {
		s.stopEvents()
	}
	e.arb.Release(s.id)
	e.bc.Unregister(s.id)
	e.modes.Forget(s.id)
	if s.adapter != nil {
		if err := s.adapter.Close(); err != nil {
			e.log.Warn("adapter close failed", logging.Pane(string(s.id)), logging.Err(err))
		}
	}
	if s.initialized {
		e.metrics.PanesActive.WithLabelValues(s.cfg.Provider.String()).Dec()
	}
	if e.panes[s.id] == s {
		delete(e.panes, s.id)
	}
	e.log.Info("pane torn down", logging.Pane(string(s.id)))
}

// removePane tears s down for good.
func (e *Engine) removePane(s *slot) {
	e.teardown(s)
	if e.fullscreen == s.id {
		e.fullscreen = pane.None
		e.applyVisibility()
	}
}

func (e *Engine) applyVisibility() {
	for _, s := range e.livePanes() {
		hidden := e.fullscreen != pane.None && e.fullscreen != s.id
		if v, ok := e.bc.SetHidden(s.id, hidden); ok {
			if e.bc.Deliver(s.id, v) {
				e.metrics.RecordBroadcast(s.id.String(), "applied")
			}
		}
	}
}

// paneErr logs and counts a failure confined to one pane.
func (e *Engine) paneErr(id pane.ID, err error) {
	if err == nil {
		return
	}
	e.metrics.AdapterErrorsTotal.WithLabelValues(id.String(), string(errors.GetCode(err))).Inc()
	e.log.Warn("pane operation failed", logging.Pane(string(id)), logging.Err(err))
}

func (e *Engine) reportPaneError(id pane.ID, err error) {
	e.metrics.AdapterErrorsTotal.WithLabelValues(id.String(), string(errors.GetCode(err))).Inc()
	e.notify("pane_error", func(l HostListener) { l.OnPaneError(id, err) })
}
