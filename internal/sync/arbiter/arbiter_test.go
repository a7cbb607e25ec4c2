package arbiter

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/sync/schedule"
)

type transition struct{ from, to pane.ID }

func newTestArbiter() (*Arbiter, *schedule.Manual, *[]transition) {
	clock := schedule.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	var log []transition
	a := New(clock, DefaultOptions(), func(from, to pane.ID) { log = append(log, transition{from, to}) })
	return a, clock, &log
}

var (
	seoul = viewport.New(37.5665, 126.9780, 17)
	moved = viewport.New(37.5700, 126.9800, 17)
)

func TestObserve_IdleTakesAuthority(t *testing.T) {
	a, _, log := newTestArbiter()
	assert.True(t, a.State().Idle())

	assert.Equal(t, Accepted, a.Observe("left", seoul))
	assert.Equal(t, pane.ID("left"), a.State().Owner)
	assert.Equal(t, []transition{{pane.None, "left"}}, *log)
	last, ok := a.LastBroadcast()
	require.True(t, ok)
	assert.Equal(t, seoul, last)
}

func TestObserve_OwnerAcceptedOthersRejected(t *testing.T) {
	a, clock, _ := newTestArbiter()
	a.Observe("left", seoul)

	assert.Equal(t, Rejected, a.Observe("right", moved))
	clock.Advance(60 * time.Millisecond)
	assert.Equal(t, Accepted, a.Observe("left", moved))
	// The owner's own echo within epsilon keeps authority alive without a broadcast.
	clock.Advance(60 * time.Millisecond)
	assert.Equal(t, Unchanged, a.Observe("left", viewport.New(37.570001, 126.980001, 17)))
	clock.Advance(60 * time.Millisecond)
	assert.Equal(t, pane.ID("left"), a.State().Owner, "each event re-arms the quiescence timer")
	assert.Equal(t, Rejected, a.Observe("center", seoul))
}

func TestQuiescenceReleases(t *testing.T) {
	a, clock, log := newTestArbiter()
	a.Observe("left", seoul)
	assert.Equal(t, clock.Now().Add(100*time.Millisecond), a.State().ExpiresAt)

	clock.Advance(99 * time.Millisecond)
	assert.False(t, a.State().Idle())
	clock.Advance(time.Millisecond)
	assert.True(t, a.State().Idle())
	assert.Equal(t, []transition{{pane.None, "left"}, {"left", pane.None}}, *log)

	assert.Equal(t, Accepted, a.Observe("right", moved))
	assert.Equal(t, pane.ID("right"), a.State().Owner)
}

func TestObserve_IdleWithinEpsilonIsUnchanged(t *testing.T) {
	a, clock, log := newTestArbiter()
	a.Observe("left", seoul)
	clock.Advance(time.Second)
	*log = nil

	assert.Equal(t, Unchanged, a.Observe("right", viewport.New(37.566504, 126.978004, 17)))
	assert.True(t, a.State().Idle())
	assert.Empty(t, *log)

	// Any zoom change counts.
	assert.Equal(t, Accepted, a.Observe("right", viewport.New(37.5665, 126.978, 17.01)))
}

func TestReset(t *testing.T) {
	a, clock, _ := newTestArbiter()
	a.Observe("left", seoul)
	target := viewport.New(37.5663, 126.9779, 18)
	a.Reset(target)

	assert.True(t, a.State().Idle())
	last, _ := a.LastBroadcast()
	assert.Equal(t, target, last)
	assert.Equal(t, Unchanged, a.Observe("right", target))

	// The cancelled timer never fires into the new state.
	a.Observe("center", moved)
	clock.Advance(50 * time.Millisecond)
	assert.Equal(t, pane.ID("center"), a.State().Owner)
}

func TestRelease(t *testing.T) {
	a, _, _ := newTestArbiter()
	a.Observe("left", seoul)
	a.Release("right")
	assert.Equal(t, pane.ID("left"), a.State().Owner)
	a.Release("left")
	assert.True(t, a.State().Idle())
}

func TestStaleTimerCallbackIgnored(t *testing.T) {
	clock := schedule.NewManual(time.Now())
	var fired []func()
	// A scheduler that queues callbacks instead of running them mimics the
	// engine loop, where an expiry may already be queued when a new event
	// re-arms the timer.
	q := &queueScheduler{Manual: clock, queue: &fired}
	a := New(q, DefaultOptions(), nil)

	a.Observe("left", seoul)
	clock.Advance(100 * time.Millisecond)
	require.Len(t, fired, 1)
	a.Observe("left", moved)
	fired[0]()
	assert.Equal(t, pane.ID("left"), a.State().Owner)
}

type queueScheduler struct {
	*schedule.Manual
	queue *[]func()
}

func (q *queueScheduler) AfterFunc(d time.Duration, f func()) schedule.Timer {
	return q.Manual.AfterFunc(d, func() { *q.queue = append(*q.queue, f) })
}

func TestAuthorityExclusivity_RandomTraffic(t *testing.T) {
	a, clock, log := newTestArbiter()
	panes := []pane.ID{"left", "right", "center"}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		p := panes[rng.Intn(len(panes))]
		v := viewport.New(37+rng.Float64(), 127+rng.Float64(), float64(10+rng.Intn(8)))
		before := a.State().Owner
		d := a.Observe(p, v)
		switch {
		case before == pane.None:
			assert.NotEqual(t, Rejected, d)
		case before == p:
			assert.NotEqual(t, Rejected, d)
			assert.Equal(t, p, a.State().Owner)
		default:
			assert.Equal(t, Rejected, d)
			assert.Equal(t, before, a.State().Owner)
		}
		clock.Advance(time.Duration(rng.Intn(150)) * time.Millisecond)
	}

	// Every grant is preceded by a release: owners never overlap.
	holder := pane.None
	for _, tr := range *log {
		assert.Equal(t, holder, tr.from)
		if tr.to != pane.None {
			assert.Equal(t, pane.None, tr.from)
		}
		holder = tr.to
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "decision(9)", Decision(9).String())
}
