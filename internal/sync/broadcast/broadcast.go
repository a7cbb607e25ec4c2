// Package broadcast fans accepted canonical viewports out to every other pane.
package broadcast

import (
	"sort"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
)

// Target is the part of an adapter the broadcaster drives.
type Target interface {
	Pane() pane.ID
	ApplyViewport(v viewport.Viewport) error
}

// ErrorFunc receives apply failures.  A failing pane never stops delivery to
// the others.
type ErrorFunc func(p pane.ID, err error)

type entry struct {
	target      Target
	interacting bool
	hidden      bool
	applied     viewport.Viewport
	hasApplied  bool
	pending     *viewport.Viewport
}

// Result lists what a Broadcast did per pane.
type Result struct {
	Applied  []pane.ID
	Deferred []pane.ID
	Skipped  []pane.ID
	// Failed panes rejected the write; the next broadcast retries them.
	Failed []pane.ID
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeApplied
	outcomeFailed
)

// Broadcaster tracks per-pane delivery state.  Like the arbiter it is driven
// only from the engine loop.
type Broadcaster struct {
	tol     viewport.Tolerance
	onError ErrorFunc
	panes   map[pane.ID]*entry
}

// New returns an empty broadcaster.
func New(tol viewport.Tolerance, onError ErrorFunc) *Broadcaster {
	if onError == nil {
		onError = func(pane.ID, error) {}
	}
	return &Broadcaster{tol: tol, onError: onError, panes: make(map[pane.ID]*entry)}
}

// SetTolerance replaces the idempotence tolerance.
func (b *Broadcaster) SetTolerance(tol viewport.Tolerance) { b.tol = tol }

// Register adds t, which already shows at.
func (b *Broadcaster) Register(t Target, at viewport.Viewport) {
	e := &entry{target: t, applied: at, hasApplied: true}
	if old, ok := b.panes[t.Pane()]; ok {
		e.hidden = old.hidden
	}
	b.panes[t.Pane()] = e
}

// Unregister forgets p.
func (b *Broadcaster) Unregister(p pane.ID) {
	delete(b.panes, p)
}

// Registered reports whether p receives broadcasts.
func (b *Broadcaster) Registered(p pane.ID) bool {
	_, ok := b.panes[p]
	return ok
}

// Panes lists registered panes in order.
func (b *Broadcaster) Panes() []pane.ID {
	out := make([]pane.ID, 0, len(b.panes))
	for id := range b.panes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Accepted records that p itself moved to v.  Anything queued for p is
// superseded.
func (b *Broadcaster) Accepted(p pane.ID, v viewport.Viewport) {
	if e, ok := b.panes[p]; ok {
		e.applied, e.hasApplied = v, true
		e.pending = nil
	}
}

// Broadcast delivers v to every registered pane except source.  Panes under
// direct manipulation or hidden keep v pending instead.
func (b *Broadcaster) Broadcast(source pane.ID, v viewport.Viewport) Result {
	var res Result
	for _, id := range b.Panes() {
		if id == source {
			b.Accepted(id, v)
			continue
		}
		e := b.panes[id]
		if e.interacting || e.hidden {
			vv := v
			e.pending = &vv
			res.Deferred = append(res.Deferred, id)
			continue
		}
		switch b.deliver(e, v) {
		case outcomeApplied:
			res.Applied = append(res.Applied, id)
		case outcomeFailed:
			res.Failed = append(res.Failed, id)
		default:
			res.Skipped = append(res.Skipped, id)
		}
	}
	return res
}

// Deliver applies v to p alone, honouring the same suppression rules.  It
// reports whether the pane took the write.
func (b *Broadcaster) Deliver(p pane.ID, v viewport.Viewport) bool {
	e, ok := b.panes[p]
	if !ok {
		return false
	}
	if e.interacting || e.hidden {
		vv := v
		e.pending = &vv
		return false
	}
	return b.deliver(e, v) == outcomeApplied
}

func (b *Broadcaster) deliver(e *entry, v viewport.Viewport) outcome {
	e.pending = nil
	if e.hasApplied && e.applied.ApproxEqual(v, b.tol) {
		return outcomeSkipped
	}
	e.applied, e.hasApplied = v, true
	if err := e.target.ApplyViewport(v); err != nil {
		// Forget the write so the next broadcast retries.
		e.hasApplied = false
		b.onError(e.target.Pane(), err)
		return outcomeFailed
	}
	return outcomeApplied
}

// BeginInteraction suppresses inbound broadcasts to p.
func (b *Broadcaster) BeginInteraction(p pane.ID) {
	if e, ok := b.panes[p]; ok {
		e.interacting = true
	}
}

// EndInteraction resumes delivery to p and returns the viewport that arrived
// while it was being manipulated, if any.  The caller decides whether to
// Deliver it.
func (b *Broadcaster) EndInteraction(p pane.ID) (viewport.Viewport, bool) {
	e, ok := b.panes[p]
	if !ok {
		return viewport.Viewport{}, false
	}
	e.interacting = false
	return b.takePending(e)
}

// Interacting reports whether p is under direct manipulation.
func (b *Broadcaster) Interacting(p pane.ID) bool {
	e, ok := b.panes[p]
	return ok && e.interacting
}

// SetHidden hides or shows p.  Showing a pane returns the viewport it missed.
func (b *Broadcaster) SetHidden(p pane.ID, hidden bool) (viewport.Viewport, bool) {
	e, ok := b.panes[p]
	if !ok {
		return viewport.Viewport{}, false
	}
	e.hidden = hidden
	if hidden || e.interacting {
		return viewport.Viewport{}, false
	}
	return b.takePending(e)
}

func (b *Broadcaster) takePending(e *entry) (viewport.Viewport, bool) {
	if e.pending == nil {
		return viewport.Viewport{}, false
	}
	v := *e.pending
	e.pending = nil
	return v, true
}
