package provider

import (
	"sync"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/sync/normalizer"
	"github.com/turtacn/mapsync/pkg/errors"
)

// NativeEventKind enumerates what a vendor widget reports.
type NativeEventKind int

const (
	NativeViewChanged NativeEventKind = iota
	NativeInteractionStarted
	NativeInteractionEnded
	NativeClick
	NativePanoramaMoved
	NativePanoramaUnavailable
)

// NativeEvent is a raw widget notification in provider units.
type NativeEvent struct {
	Kind  NativeEventKind
	View  normalizer.NativeView
	Point normalizer.NativePoint
}

// Widget is the opaque vendor map object an adapter drives.  All values are
// in the provider's native representation.
type Widget interface {
	View() (normalizer.NativeView, error)
	SetView(v normalizer.NativeView) error
	SetMapKind(satellite bool) error
	// SetOverlay toggles a named provider layer (e.g. panorama coverage).
	SetOverlay(name string, on bool) error
	// OpenPanorama may fail synchronously with NoImageryAvailable, or later
	// via a NativePanoramaUnavailable event.
	OpenPanorama(at normalizer.NativePoint) error
	ClosePanorama() error
	BeginMeasurement(kind string) error
	EndMeasurement() error
	ShowMarker(at normalizer.NativePoint) error
	ClearMarker() error
	// Listen registers l and returns a function that removes it.
	Listen(l func(NativeEvent)) (remove func())
	Destroy() error
}

// Runtime is a loaded provider SDK able to create widgets.
type Runtime interface {
	Kind() pane.ProviderKind
	// Ready reports whether the provider's runtime has finished loading.
	Ready() bool
	NewWidget(container string) (Widget, error)
}

// Registry maps provider kinds to their runtimes.  It is populated during
// process setup; the sync core only queries it.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[pane.ProviderKind]Runtime
}

// NewRegistry builds a registry holding rts.
func NewRegistry(rts ...Runtime) *Registry {
	r := &Registry{runtimes: make(map[pane.ProviderKind]Runtime)}
	for _, rt := range rts {
		r.Register(rt)
	}
	return r
}

// Register installs rt, replacing any runtime of the same kind.
func (r *Registry) Register(rt Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[rt.Kind()] = rt
}

// Lookup returns the runtime for kind.
func (r *Registry) Lookup(kind pane.ProviderKind) (Runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[kind]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownProvider, "provider runtime not registered").WithDetail(kind.String())
	}
	return rt, nil
}

// Ready reports whether kind is registered and loaded.
func (r *Registry) Ready(kind pane.ProviderKind) bool {
	rt, err := r.Lookup(kind)
	return err == nil && rt.Ready()
}

// Kinds lists registered provider kinds.
func (r *Registry) Kinds() []pane.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pane.ProviderKind, 0, len(r.runtimes))
	for _, k := range pane.KnownProviders {
		if _, ok := r.runtimes[k]; ok {
			out = append(out, k)
		}
	}
	for k := range r.runtimes {
		known := false
		for _, kk := range pane.KnownProviders {
			known = known || k == kk
		}
		if !known {
			out = append(out, k)
		}
	}
	return out
}
