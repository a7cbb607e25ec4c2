// Package provider hides each map vendor's widget API behind one capability
// interface.  An Adapter owns exactly one native widget for one pane and
// translates between the widget's native events and canonical Events.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/sync/normalizer"
	"github.com/turtacn/mapsync/internal/sync/schedule"
	"github.com/turtacn/mapsync/pkg/errors"
)

// PanoramaOverlay is the provider layer shown while a panorama is open.
const PanoramaOverlay = "panorama"

// Adapter is the uniform capability surface of one pane's map widget.
//
// Methods are called from the engine loop.  After Close every method is a
// no-op that returns nil.
type Adapter interface {
	Pane() pane.ID
	Provider() pane.ProviderKind

	// Initialize creates the native widget.  It fails with
	// ProviderUnavailable while the provider runtime is not loaded and may
	// be retried; once it succeeds further calls do nothing.
	Initialize(ctx context.Context, container string, initial viewport.Viewport, cfg pane.Config) error
	Initialized() bool

	// Observe registers sink for this adapter's events.  Cancelling and
	// registering again restarts the stream.
	Observe(sink func(Event)) (cancel func())

	// SetOptions replaces the echo suppression settings for later events.
	SetOptions(opts Options)

	CurrentViewport() (viewport.Viewport, error)
	ApplyViewport(v viewport.Viewport) error
	ApplyMapKind(satellite bool) error

	EnterImmersiveMode(at viewport.LatLng) error
	ExitImmersiveMode() error
	BeginMeasurement(mode pane.Mode) error
	EndMeasurement() error

	ShowMarker(at viewport.LatLng) error
	ClearMarker() error

	// Close releases every native resource the adapter created.
	Close() error
}

// Options tune echo suppression.
type Options struct {
	// Settle is how long after a programmatic write every change event is
	// treated as its echo, unless the user is manipulating the map.
	Settle time.Duration
	// EchoTolerance decides whether a late change still matches the last write.
	EchoTolerance viewport.Tolerance
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{Settle: 250 * time.Millisecond, EchoTolerance: viewport.DefaultTolerance}
}

// WidgetAdapter implements Adapter on top of a Runtime-created Widget.
type WidgetAdapter struct {
	id       pane.ID
	kind     pane.ProviderKind
	registry *Registry
	norm     normalizer.Normalizer
	clock    schedule.Scheduler
	opts     Options
	log      logging.Logger

	mu             sync.Mutex
	widget         Widget
	removeListener func()
	sinks          map[int]func(Event)
	nextSink       int
	closed         bool

	interacting bool
	lastWrite   *normalizer.NativeView
	writeAt     time.Time
	last        viewport.Viewport
	haveLast    bool

	panorama      bool
	panoramaClick func(viewport.LatLng)
	measuring     string
	marker        bool
}

// NewWidgetAdapter builds an uninitialised adapter for pane id.
func NewWidgetAdapter(id pane.ID, kind pane.ProviderKind, registry *Registry, norm normalizer.Normalizer,
	clock schedule.Scheduler, opts Options, log logging.Logger) *WidgetAdapter {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &WidgetAdapter{
		id:       id,
		kind:     kind,
		registry: registry,
		norm:     norm,
		clock:    clock,
		opts:     opts,
		log:      log.Named("adapter").With(logging.Pane(string(id)), logging.Provider(string(kind))),
		sinks:    make(map[int]func(Event)),
	}
}

func (a *WidgetAdapter) Pane() pane.ID { return a.id }

func (a *WidgetAdapter) Provider() pane.ProviderKind { return a.kind }

func (a *WidgetAdapter) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.widget != nil && !a.closed
}

func (a *WidgetAdapter) Initialize(ctx context.Context, container string, initial viewport.Viewport, cfg pane.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	closed, done := a.closed, a.widget != nil
	a.mu.Unlock()
	if closed {
		return a.stale("initialize")
	}
	if done {
		return nil
	}

	rt, err := a.registry.Lookup(a.kind)
	if err != nil {
		return err
	}
	if !rt.Ready() {
		return errors.ProviderUnavailable(a.kind.String())
	}
	var w Widget
	if err := a.guard("new_widget", func() error {
		var e error
		w, e = rt.NewWidget(container)
		return e
	}); err != nil {
		return err
	}

	remove := w.Listen(a.onNative)
	a.mu.Lock()
	a.widget = w
	a.removeListener = remove
	a.mu.Unlock()

	// The initial position is a programmatic write like any other.
	_ = a.ApplyViewport(initial)
	_ = a.ApplyMapKind(cfg.Satellite)
	a.log.Info("adapter initialised", logging.String("container", container), logging.Any("viewport", initial))
	return nil
}

func (a *WidgetAdapter) Observe(sink func(Event)) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSink
	a.nextSink++
	a.sinks[id] = sink
	return func() {
		a.mu.Lock()
		delete(a.sinks, id)
		a.mu.Unlock()
	}
}

func (a *WidgetAdapter) SetOptions(opts Options) {
	a.mu.Lock()
	a.opts = opts
	a.mu.Unlock()
}

func (a *WidgetAdapter) CurrentViewport() (viewport.Viewport, error) {
	w, ok := a.live()
	if !ok {
		return viewport.Viewport{}, a.stale("current_viewport")
	}
	var nv normalizer.NativeView
	if err := a.guard("view", func() error {
		var e error
		nv, e = w.View()
		return e
	}); err != nil {
		return viewport.Viewport{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.keepZoom(a.norm.ToCanonical(nv)), nil
}

func (a *WidgetAdapter) ApplyViewport(v viewport.Viewport) error {
	w, ok := a.live()
	if !ok {
		return a.stale("apply_viewport")
	}
	nv := a.norm.FromCanonical(v)
	a.mu.Lock()
	a.lastWrite = &nv
	a.writeAt = a.clock.Now()
	a.last = v
	a.haveLast = true
	a.mu.Unlock()
	return a.guard("set_view", func() error { return w.SetView(nv) })
}

func (a *WidgetAdapter) ApplyMapKind(satellite bool) error {
	w, ok := a.live()
	if !ok {
		return a.stale("apply_map_kind")
	}
	return a.guard("set_map_kind", func() error { return w.SetMapKind(satellite) })
}

func (a *WidgetAdapter) EnterImmersiveMode(at viewport.LatLng) error {
	w, ok := a.live()
	if !ok {
		return a.stale("enter_immersive")
	}
	np := a.norm.FromCanonicalPoint(at)
	if err := a.guard("overlay_on", func() error { return w.SetOverlay(PanoramaOverlay, true) }); err != nil {
		return err
	}
	if err := a.guard("open_panorama", func() error { return w.OpenPanorama(np) }); err != nil {
		_ = a.guard("overlay_off", func() error { return w.SetOverlay(PanoramaOverlay, false) })
		return err
	}

	a.mu.Lock()
	a.panorama = true
	a.panoramaClick = func(p viewport.LatLng) {
		_ = a.guard("move_panorama", func() error { return w.OpenPanorama(a.norm.FromCanonicalPoint(p)) })
	}
	v := a.last.WithCenter(at)
	a.last = v
	a.mu.Unlock()

	a.emit(Event{Kind: ViewportChanged, Origin: Panorama, Viewport: v})
	return nil
}

func (a *WidgetAdapter) ExitImmersiveMode() error {
	w, ok := a.live()
	if !ok {
		return a.stale("exit_immersive")
	}
	a.mu.Lock()
	open := a.panorama
	a.panorama = false
	a.panoramaClick = nil
	a.mu.Unlock()
	if !open {
		return nil
	}
	err := a.guard("close_panorama", w.ClosePanorama)
	if e := a.guard("overlay_off", func() error { return w.SetOverlay(PanoramaOverlay, false) }); err == nil {
		err = e
	}
	return err
}

func measurementKind(mode pane.Mode) (string, error) {
	switch mode {
	case pane.ModeMeasuringDistance:
		return "distance", nil
	case pane.ModeMeasuringArea:
		return "area", nil
	}
	return "", errors.New(errors.ErrCodeInvalidMode, "not a measurement mode").WithDetail(mode.String())
}

func (a *WidgetAdapter) BeginMeasurement(mode pane.Mode) error {
	kind, err := measurementKind(mode)
	if err != nil {
		return err
	}
	w, ok := a.live()
	if !ok {
		return a.stale("begin_measurement")
	}
	if err := a.guard("begin_measurement", func() error { return w.BeginMeasurement(kind) }); err != nil {
		return err
	}
	a.mu.Lock()
	a.measuring = kind
	a.mu.Unlock()
	return nil
}

func (a *WidgetAdapter) EndMeasurement() error {
	w, ok := a.live()
	if !ok {
		return a.stale("end_measurement")
	}
	a.mu.Lock()
	active := a.measuring != ""
	a.measuring = ""
	a.mu.Unlock()
	if !active {
		return nil
	}
	return a.guard("end_measurement", w.EndMeasurement)
}

func (a *WidgetAdapter) ShowMarker(at viewport.LatLng) error {
	w, ok := a.live()
	if !ok {
		return a.stale("show_marker")
	}
	if err := a.guard("show_marker", func() error { return w.ShowMarker(a.norm.FromCanonicalPoint(at)) }); err != nil {
		return err
	}
	a.mu.Lock()
	a.marker = true
	a.mu.Unlock()
	return nil
}

func (a *WidgetAdapter) ClearMarker() error {
	w, ok := a.live()
	if !ok {
		return a.stale("clear_marker")
	}
	a.mu.Lock()
	had := a.marker
	a.marker = false
	a.mu.Unlock()
	if !had {
		return nil
	}
	return a.guard("clear_marker", w.ClearMarker)
}

// Close tears down mode resources first, then the marker, then the widget.
func (a *WidgetAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	w := a.widget
	remove := a.removeListener
	measuring, panorama, marker := a.measuring != "", a.panorama, a.marker
	a.closed = true
	a.widget = nil
	a.removeListener = nil
	a.sinks = make(map[int]func(Event))
	a.panoramaClick = nil
	a.mu.Unlock()

	if w == nil {
		return nil
	}
	if remove != nil {
		remove()
	}
	if measuring {
		_ = a.guard("end_measurement", w.EndMeasurement)
	}
	if panorama {
		_ = a.guard("close_panorama", w.ClosePanorama)
		_ = a.guard("overlay_off", func() error { return w.SetOverlay(PanoramaOverlay, false) })
	}
	if marker {
		_ = a.guard("clear_marker", w.ClearMarker)
	}
	err := a.guard("destroy", w.Destroy)
	a.log.Info("adapter closed")
	return err
}

func (a *WidgetAdapter) live() (Widget, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.widget == nil {
		return nil, false
	}
	return a.widget, true
}

// stale logs a call made after teardown (or before initialisation) and
// swallows it.
func (a *WidgetAdapter) stale(op string) error {
	a.log.Debug("ignoring adapter call", logging.Err(errors.StaleAdapterOperation(op)))
	return nil
}

// guard runs a native call, converting panics and foreign errors into
// NativeCallFailed.  Errors are logged here; callers may only count them.
func (a *WidgetAdapter) guard(op string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodeNativeCallFailed, "native widget call panicked").
				WithDetail(fmt.Sprintf("op=%s panic=%v", op, r))
		}
		if err != nil {
			a.log.Warn("native call failed", logging.String("op", op), logging.Err(err))
		}
	}()
	if err = f(); err != nil {
		var app *errors.AppError
		if !errors.As(err, &app) {
			err = errors.Wrap(err, errors.ErrCodeNativeCallFailed, "native widget call failed").WithDetail("op=" + op)
		}
	}
	return err
}

func (a *WidgetAdapter) emit(ev Event) {
	ev.Pane = a.id
	ev.At = a.clock.Now()
	a.mu.Lock()
	sinks := make([]func(Event), 0, len(a.sinks))
	for _, s := range a.sinks {
		sinks = append(sinks, s)
	}
	a.mu.Unlock()
	for _, s := range sinks {
		s(ev)
	}
}

// isEchoLocked reports whether a change to nv is the widget replaying the
// adapter's own write.
func (a *WidgetAdapter) isEchoLocked(nv normalizer.NativeView, now time.Time) bool {
	if a.interacting || a.lastWrite == nil {
		return false
	}
	if now.Sub(a.writeAt) < a.opts.Settle {
		return true
	}
	got := a.norm.ToCanonical(nv)
	want := a.norm.ToCanonical(*a.lastWrite)
	if got.ApproxEqual(want, a.opts.EchoTolerance) {
		return true
	}
	a.lastWrite = nil
	return false
}

// keepZoom carries the last known canonical zoom over a change that left an
// integer provider on the same native level, so a pure pan does not snap
// other panes to the rounded level.  Callers hold a.mu.
func (a *WidgetAdapter) keepZoom(v viewport.Viewport) viewport.Viewport {
	if a.norm.Quantum() == 0 || !a.haveLast {
		return v
	}
	if a.norm.FromCanonical(v).Zoom == a.norm.FromCanonical(a.last).Zoom {
		v.Zoom = a.last.Zoom
	}
	return v
}

func (a *WidgetAdapter) onNative(ne NativeEvent) {
	now := a.clock.Now()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	var (
		ev    Event
		click func(viewport.LatLng)
		send  = true
	)
	switch ne.Kind {
	case NativeInteractionStarted:
		a.interacting = true
		ev = Event{Kind: InteractionStarted}
	case NativeInteractionEnded:
		a.interacting = false
		ev = Event{Kind: InteractionEnded}
	case NativeViewChanged:
		v := a.keepZoom(a.norm.ToCanonical(ne.View))
		origin := Organic
		if a.isEchoLocked(ne.View, now) {
			origin = Programmatic
		}
		a.last = v
		a.haveLast = true
		ev = Event{Kind: ViewportChanged, Origin: origin, Viewport: v}
	case NativeClick:
		p := a.norm.ToCanonicalPoint(ne.Point)
		if a.panorama && a.panoramaClick != nil {
			click = a.panoramaClick
			ev.Point = p
			send = false
		} else {
			ev = Event{Kind: Click, Point: p}
		}
	case NativePanoramaMoved:
		if !a.panorama {
			send = false
			break
		}
		v := a.last.WithCenter(a.norm.ToCanonicalPoint(ne.Point))
		a.last = v
		ev = Event{Kind: ViewportChanged, Origin: Panorama, Viewport: v}
	case NativePanoramaUnavailable:
		// The panorama resources are released by ExitImmersiveMode.
		ev = Event{Kind: PanoramaUnavailable}
	default:
		send = false
	}
	a.mu.Unlock()

	if click != nil {
		click(ev.Point)
	}
	if send {
		a.emit(ev)
	}
}
