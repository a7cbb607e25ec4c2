// Package normalizer converts between provider-native map views and the
// canonical viewport.
//
// Every built-in provider uses an affine zoom mapping
//
//	native = Scale*canonical + Offset,  Scale ∈ {+1, -1}
//
// clamped to the provider's documented native range.  Integer-level providers
// round after the mapping, which makes the round trip lossy by at most one
// native level.
package normalizer

import (
	"fmt"
	"math"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/pkg/errors"
)

// AxisOrder describes how a provider lays out a coordinate pair.
type AxisOrder int

const (
	// OrderLatLng stores latitude in X and longitude in Y.
	OrderLatLng AxisOrder = iota
	// OrderLngLat stores longitude in X and latitude in Y.
	OrderLngLat
)

// NativePoint is a coordinate pair in a provider's own axis order.
type NativePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NativeView is a center and zoom in a provider's own representation.
type NativeView struct {
	Center NativePoint `json:"center"`
	Zoom   float64     `json:"zoom"`
}

func (n NativeView) String() string {
	return fmt.Sprintf("(%.6f,%.6f)z%.2f", n.Center.X, n.Center.Y, n.Zoom)
}

// Normalizer converts one provider's view representation.  Implementations
// must be pure.
type Normalizer interface {
	Provider() pane.ProviderKind
	ToCanonical(n NativeView) viewport.Viewport
	FromCanonical(v viewport.Viewport) NativeView
	ToCanonicalPoint(p NativePoint) viewport.LatLng
	FromCanonicalPoint(p viewport.LatLng) NativePoint
	// Quantum is the canonical zoom granularity; 0 for continuous providers.
	Quantum() float64
	// CanonicalRange is the canonical zoom interval the provider can display.
	CanonicalRange() (lo, hi float64)
}

// Profile parameterises an AffineNormalizer.
type Profile struct {
	Provider pane.ProviderKind
	Scale    float64
	Offset   float64
	MinZoom  float64
	MaxZoom  float64
	Integer  bool
	Order    AxisOrder
}

// Validate rejects profiles that cannot produce a monotonic clamped mapping.
func (p Profile) Validate() error {
	if p.Scale != 1 && p.Scale != -1 {
		return errors.New(errors.CodeInvalidParam, "zoom scale must be +1 or -1").
			WithDetail(fmt.Sprintf("provider=%s scale=%v", p.Provider, p.Scale))
	}
	if p.MinZoom > p.MaxZoom {
		return errors.New(errors.CodeInvalidParam, "native zoom range is empty").
			WithDetail(fmt.Sprintf("provider=%s min=%v max=%v", p.Provider, p.MinZoom, p.MaxZoom))
	}
	return nil
}

// Built-in provider profiles.
var (
	GoogleProfile = Profile{Provider: pane.ProviderGoogle, Scale: 1, Offset: 0, MinZoom: 0, MaxZoom: 22, Order: OrderLatLng}
	// Kakao counts levels down from street level: level 1 is the closest.
	KakaoProfile = Profile{Provider: pane.ProviderKakao, Scale: -1, Offset: 20, MinZoom: 1, MaxZoom: 14, Integer: true, Order: OrderLatLng}
	NaverProfile = Profile{Provider: pane.ProviderNaver, Scale: 1, Offset: 0, MinZoom: 6, MaxZoom: 21, Integer: true, Order: OrderLngLat}
)

// AffineNormalizer implements Normalizer for a Profile.
type AffineNormalizer struct {
	p Profile
}

// NewAffine builds a normalizer for p.
func NewAffine(p Profile) (*AffineNormalizer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &AffineNormalizer{p: p}, nil
}

// MustAffine is NewAffine for static profiles.
func MustAffine(p Profile) *AffineNormalizer {
	n, err := NewAffine(p)
	if err != nil {
		panic(err)
	}
	return n
}

// For returns the built-in normalizer for kind.
func For(kind pane.ProviderKind) (Normalizer, error) {
	switch kind {
	case pane.ProviderGoogle:
		return MustAffine(GoogleProfile), nil
	case pane.ProviderKakao:
		return MustAffine(KakaoProfile), nil
	case pane.ProviderNaver:
		return MustAffine(NaverProfile), nil
	}
	return nil, errors.New(errors.ErrCodeUnknownProvider, "no normalizer for provider").WithDetail(kind.String())
}

func (a *AffineNormalizer) Provider() pane.ProviderKind { return a.p.Provider }

// Profile returns the parameters a was built from.
func (a *AffineNormalizer) Profile() Profile { return a.p }

func (a *AffineNormalizer) Quantum() float64 {
	if a.p.Integer {
		return 1
	}
	return 0
}

func (a *AffineNormalizer) clampNative(z float64) float64 {
	if math.IsNaN(z) {
		z = a.p.MinZoom
	}
	z = math.Max(a.p.MinZoom, math.Min(a.p.MaxZoom, z))
	if a.p.Integer {
		z = math.Round(z)
	}
	return z
}

// ToCanonical clamps the native zoom to the provider range before mapping.
func (a *AffineNormalizer) ToCanonical(n NativeView) viewport.Viewport {
	z := (a.clampNative(n.Zoom) - a.p.Offset) / a.p.Scale
	return viewport.Viewport{Zoom: z}.WithCenter(a.ToCanonicalPoint(n.Center))
}

// FromCanonical maps, clamps and (for integer providers) rounds the zoom.
func (a *AffineNormalizer) FromCanonical(v viewport.Viewport) NativeView {
	return NativeView{
		Center: a.FromCanonicalPoint(v.Center()),
		Zoom:   a.clampNative(a.p.Scale*v.Zoom + a.p.Offset),
	}
}

func (a *AffineNormalizer) ToCanonicalPoint(p NativePoint) viewport.LatLng {
	if a.p.Order == OrderLngLat {
		return viewport.LatLng{Lat: p.Y, Lng: p.X}
	}
	return viewport.LatLng{Lat: p.X, Lng: p.Y}
}

func (a *AffineNormalizer) FromCanonicalPoint(p viewport.LatLng) NativePoint {
	if a.p.Order == OrderLngLat {
		return NativePoint{X: p.Lng, Y: p.Lat}
	}
	return NativePoint{X: p.Lat, Y: p.Lng}
}

func (a *AffineNormalizer) CanonicalRange() (lo, hi float64) {
	x := (a.p.MinZoom - a.p.Offset) / a.p.Scale
	y := (a.p.MaxZoom - a.p.Offset) / a.p.Scale
	if x > y {
		x, y = y, x
	}
	return viewport.ClampZoom(x), viewport.ClampZoom(y)
}
