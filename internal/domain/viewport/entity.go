// Package viewport defines the canonical, provider-agnostic map viewport and
// the tolerance rules used to compare viewports coming back from providers.
//
// Zoom is always expressed on one canonical scale (the vendor-A scale, web
// mercator levels 0–22).  Provider adapters convert to and from it through a
// normalizer; nothing outside an adapter ever sees a native zoom value.
package viewport

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/turtacn/mapsync/pkg/errors"
)

// Canonical zoom bounds.
const (
	MinZoom = 0.0
	MaxZoom = 22.0
)

// LatLng is a geographic coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// S2 converts the coordinate to an s2.LatLng.
func (p LatLng) S2() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lng)
}

// Normalized clamps latitude to [-90, 90] and wraps longitude to [-180, 180].
func (p LatLng) Normalized() LatLng {
	if math.Abs(p.Lat) <= 90 && math.Abs(p.Lng) <= 180 {
		return p
	}
	n := p.S2().Normalized()
	return LatLng{Lat: n.Lat.Degrees(), Lng: n.Lng.Degrees()}
}

// Validate rejects NaN/Inf components and latitudes outside [-90, 90].
func (p LatLng) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return errors.New(errors.ErrCodeInvalidViewport, "coordinate must be finite").
			WithDetail(p.String())
	}
	if !s2.LatLngFromDegrees(p.Lat, 0).IsValid() {
		return errors.New(errors.ErrCodeInvalidViewport, "latitude out of range").
			WithDetail(p.String())
	}
	return nil
}

// DistanceMeters returns the great-circle distance to q.
func (p LatLng) DistanceMeters(q LatLng) float64 {
	return p.S2().Distance(q.S2()).Radians() * EarthRadiusMeters
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// EarthRadiusMeters is the mean earth radius used for distance reporting.
const EarthRadiusMeters = 6371008.8

// Viewport is the canonical {center, zoom} triple shared by every pane.
type Viewport struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom float64 `json:"zoom"`
}

// New builds a normalized Viewport.
func New(lat, lng, zoom float64) Viewport {
	return Viewport{Lat: lat, Lng: lng, Zoom: zoom}.Normalized()
}

// Center returns the viewport center.
func (v Viewport) Center() LatLng {
	return LatLng{Lat: v.Lat, Lng: v.Lng}
}

// WithCenter returns a copy of v re-centered on p, keeping the zoom.
func (v Viewport) WithCenter(p LatLng) Viewport {
	v.Lat, v.Lng = p.Lat, p.Lng
	return v.Normalized()
}

// Normalized wraps the center and clamps zoom to [MinZoom, MaxZoom].
func (v Viewport) Normalized() Viewport {
	c := v.Center().Normalized()
	return Viewport{Lat: c.Lat, Lng: c.Lng, Zoom: ClampZoom(v.Zoom)}
}

// Validate checks that every component is finite and in range.
func (v Viewport) Validate() error {
	if err := v.Center().Validate(); err != nil {
		return err
	}
	if math.IsNaN(v.Zoom) || math.IsInf(v.Zoom, 0) {
		return errors.New(errors.ErrCodeInvalidViewport, "zoom must be finite").WithDetail(v.String())
	}
	if v.Zoom < MinZoom || v.Zoom > MaxZoom {
		return errors.New(errors.ErrCodeInvalidViewport, "zoom out of range").WithDetail(v.String())
	}
	return nil
}

func (v Viewport) String() string {
	return fmt.Sprintf("%.6f,%.6f@%.2f", v.Lat, v.Lng, v.Zoom)
}

// ClampZoom clamps z to the canonical zoom range.
func ClampZoom(z float64) float64 {
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

// Tolerance bounds the differences that count as "the same viewport".
// Provider round trips add floating-point and zoom-quantization noise, so
// viewports are never compared exactly.
type Tolerance struct {
	// Degrees is the maximum |Δlat| and |Δlng| (longitude compared modulo 360).
	Degrees float64 `mapstructure:"degrees" json:"degrees"`
	// Zoom is the maximum |Δzoom|.
	Zoom float64 `mapstructure:"zoom" json:"zoom"`
}

// DefaultTolerance matches ~1 m of center movement and treats any real zoom
// change as a change.
var DefaultTolerance = Tolerance{Degrees: 1e-5, Zoom: 1e-6}

// ApproxEqual reports whether v and o are within tol of each other.
func (v Viewport) ApproxEqual(o Viewport, tol Tolerance) bool {
	if math.Abs(v.Zoom-o.Zoom) > tol.Zoom {
		return false
	}
	return v.Center().ApproxEqual(o.Center(), tol)
}

// ApproxEqual compares two coordinates component-wise within tol.Degrees.
func (p LatLng) ApproxEqual(q LatLng, tol Tolerance) bool {
	if math.Abs(p.Lat-q.Lat) > tol.Degrees {
		return false
	}
	dLng := (s1.Angle(q.Lng-p.Lng) * s1.Degree).Normalized().Degrees()
	return math.Abs(dLng) <= tol.Degrees
}
