package normalizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/pkg/errors"
)

func allNormalizers(t *testing.T) []*AffineNormalizer {
	t.Helper()
	var out []*AffineNormalizer
	for _, k := range pane.KnownProviders {
		n, err := For(k)
		require.NoError(t, err)
		out = append(out, n.(*AffineNormalizer))
	}
	return out
}

func TestFor_Unknown(t *testing.T) {
	_, err := For("bing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownProvider))
}

func TestProfile_Validate(t *testing.T) {
	_, err := NewAffine(Profile{Provider: "x", Scale: 2, MaxZoom: 10})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = NewAffine(Profile{Provider: "x", Scale: 1, MinZoom: 5, MaxZoom: 4})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestRoundTrip_NativeWithinOneQuantum(t *testing.T) {
	for _, n := range allNormalizers(t) {
		p := n.Profile()
		q := math.Max(n.Quantum(), 1e-9)
		for z := p.MinZoom; z <= p.MaxZoom; z += 0.25 {
			native := NativeView{Center: NativePoint{X: 37.5, Y: 127}, Zoom: z}
			if p.Order == OrderLngLat {
				native.Center = NativePoint{X: 127, Y: 37.5}
			}
			back := n.FromCanonical(n.ToCanonical(native))
			assert.LessOrEqual(t, math.Abs(back.Zoom-z), q, "%s native zoom %v", p.Provider, z)
			assert.InDelta(t, native.Center.X, back.Center.X, 1e-12)
			assert.InDelta(t, native.Center.Y, back.Center.Y, 1e-12)
		}
	}
}

func TestRoundTrip_CanonicalWithinOneQuantum(t *testing.T) {
	for _, n := range allNormalizers(t) {
		lo, hi := n.CanonicalRange()
		q := math.Max(n.Quantum(), 1e-9)
		for z := lo; z <= hi; z += 0.1 {
			v := viewport.Viewport{Lat: 37.5665, Lng: 126.978, Zoom: z}
			back := n.ToCanonical(n.FromCanonical(v))
			assert.LessOrEqual(t, math.Abs(back.Zoom-z), q, "%s canonical zoom %v", n.Provider(), z)
			assert.True(t, back.Center().ApproxEqual(v.Center(), viewport.DefaultTolerance))
		}
	}
}

func TestKakao_LevelsCountDown(t *testing.T) {
	n := MustAffine(KakaoProfile)
	assert.Equal(t, 3.0, n.FromCanonical(viewport.New(37.5, 127, 17)).Zoom)
	assert.Equal(t, 2.0, n.FromCanonical(viewport.New(37.5, 127, 18)).Zoom)
	// Beyond the provider's closest level the native zoom clamps.
	assert.Equal(t, 1.0, n.FromCanonical(viewport.New(37.5, 127, 22)).Zoom)
	assert.Equal(t, 14.0, n.FromCanonical(viewport.New(37.5, 127, 0)).Zoom)
	assert.Equal(t, 17.0, n.ToCanonical(NativeView{Zoom: 3}).Zoom)
	lo, hi := n.CanonicalRange()
	assert.Equal(t, 6.0, lo)
	assert.Equal(t, 19.0, hi)
}

func TestNaver_AxisOrder(t *testing.T) {
	n := MustAffine(NaverProfile)
	nv := n.FromCanonical(viewport.New(37.57, 126.98, 17.4))
	assert.Equal(t, NativePoint{X: 126.98, Y: 37.57}, nv.Center)
	assert.Equal(t, 17.0, nv.Zoom)

	v := n.ToCanonical(NativeView{Center: NativePoint{X: 126.98, Y: 37.57}, Zoom: 3})
	assert.Equal(t, 37.57, v.Lat)
	assert.Equal(t, 126.98, v.Lng)
	assert.Equal(t, 6.0, v.Zoom, "native zoom clamps to the provider minimum")
}

func TestGoogle_IsIdentity(t *testing.T) {
	n := MustAffine(GoogleProfile)
	v := viewport.New(37.5663, 126.9779, 18.37)
	assert.Equal(t, v, n.ToCanonical(n.FromCanonical(v)))
	assert.Equal(t, 0.0, n.Quantum())
}

func TestToCanonical_NaNZoomClampsToMin(t *testing.T) {
	n := MustAffine(GoogleProfile)
	assert.Equal(t, 0.0, n.ToCanonical(NativeView{Zoom: math.NaN()}).Zoom)
}
