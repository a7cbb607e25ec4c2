// Package arbiter holds the single authority token that decides which pane
// may currently push viewport changes.
//
// The arbiter is a two-state machine, Idle and Authoritative(pane).  The
// first pane to report a real change takes authority; while it holds it,
// changes from every other pane are rejected because they are most likely
// echoes of the broadcast the owner triggered.  Authority is released once
// the owner has been quiet for the quiescence window.
package arbiter

import (
	"fmt"
	"time"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/sync/schedule"
)

// Decision is the outcome of observing a change.
type Decision int

const (
	// Accepted means the change becomes canonical and must be broadcast.
	Accepted Decision = iota
	// Unchanged means the change is within tolerance of the last broadcast.
	Unchanged
	// Rejected means another pane holds authority.
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Unchanged:
		return "unchanged"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Options configure the arbiter.
type Options struct {
	Quiescence time.Duration
	Tolerance  viewport.Tolerance
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{Quiescence: 100 * time.Millisecond, Tolerance: viewport.DefaultTolerance}
}

// State is a read-only snapshot of the authority cell.
type State struct {
	Owner     pane.ID   `json:"owner,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Idle reports whether no pane holds authority.
func (s State) Idle() bool { return s.Owner == pane.None }

// TransitionFunc is notified whenever the owner changes.  to is pane.None on
// release.
type TransitionFunc func(from, to pane.ID)

// Arbiter owns the authority cell.  It is not safe for concurrent use; the
// engine calls it from its loop, and the scheduler it is given must deliver
// timer callbacks on that same loop.
type Arbiter struct {
	clock        schedule.Scheduler
	opts         Options
	onTransition TransitionFunc

	owner   pane.ID
	expires time.Time
	timer   schedule.Timer
	gen     uint64

	last    viewport.Viewport
	hasLast bool
}

// New returns an idle arbiter.
func New(clock schedule.Scheduler, opts Options, onTransition TransitionFunc) *Arbiter {
	if onTransition == nil {
		onTransition = func(pane.ID, pane.ID) {}
	}
	return &Arbiter{clock: clock, opts: opts, onTransition: onTransition}
}

// SetOptions replaces the timing and tolerance settings.  A running
// quiescence timer keeps its original deadline.
func (a *Arbiter) SetOptions(opts Options) { a.opts = opts }

// Options returns the current settings.
func (a *Arbiter) Options() Options { return a.opts }

// State returns the authority cell.
func (a *Arbiter) State() State {
	return State{Owner: a.owner, ExpiresAt: a.expires}
}

// LastBroadcast returns the last accepted canonical viewport.
func (a *Arbiter) LastBroadcast() (viewport.Viewport, bool) {
	return a.last, a.hasLast
}

// Observe applies the transition rules to a viewport change from p.
func (a *Arbiter) Observe(p pane.ID, v viewport.Viewport) Decision {
	switch a.owner {
	case pane.None:
		if a.hasLast && v.ApproxEqual(a.last, a.opts.Tolerance) {
			return Unchanged
		}
		a.setOwner(p)
	case p:
		a.arm()
		if a.hasLast && v.ApproxEqual(a.last, a.opts.Tolerance) {
			return Unchanged
		}
	default:
		return Rejected
	}
	a.last, a.hasLast = v, true
	return Accepted
}

// Reset records v as the last broadcast and releases authority.  The host
// uses it when it sets the canonical viewport directly.
func (a *Arbiter) Reset(v viewport.Viewport) {
	a.release()
	a.last, a.hasLast = v, true
}

// Release drops authority if p holds it.  Used when p is torn down.
func (a *Arbiter) Release(p pane.ID) {
	if a.owner == p && p != pane.None {
		a.release()
	}
}

// Stop cancels the quiescence timer and returns to Idle.
func (a *Arbiter) Stop() { a.release() }

func (a *Arbiter) setOwner(p pane.ID) {
	from := a.owner
	a.owner = p
	a.arm()
	a.onTransition(from, p)
}

func (a *Arbiter) arm() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.expires = a.clock.Now().Add(a.opts.Quiescence)
	a.timer = a.clock.AfterFunc(a.opts.Quiescence, func() {
		// A callback already queued when the timer was re-armed is stale.
		if gen == a.gen {
			a.release()
		}
	})
}

func (a *Arbiter) release() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
	from := a.owner
	a.owner = pane.None
	a.expires = time.Time{}
	if from != pane.None {
		a.onTransition(from, pane.None)
	}
}
