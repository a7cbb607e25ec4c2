package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/sync/provider"
	"github.com/turtacn/mapsync/pkg/errors"
)

type fakeTools struct {
	calls     []string
	noImagery bool
}

func (f *fakeTools) EnterImmersiveMode(at viewport.LatLng) error {
	if f.noImagery {
		return errors.NoImageryAvailable(at.String())
	}
	f.calls = append(f.calls, "panorama_open")
	return nil
}

func (f *fakeTools) ExitImmersiveMode() error {
	f.calls = append(f.calls, "panorama_close")
	return nil
}

func (f *fakeTools) BeginMeasurement(m pane.Mode) error {
	f.calls = append(f.calls, "measure_begin:"+m.String())
	return nil
}

func (f *fakeTools) EndMeasurement() error {
	f.calls = append(f.calls, "measure_end")
	return nil
}

func (f *fakeTools) ApplyViewport(v viewport.Viewport) error {
	f.calls = append(f.calls, "apply:"+v.String())
	return nil
}

type change struct {
	p pane.ID
	m pane.Mode
}

func newCoordinator() (*Coordinator, *[]change) {
	var log []change
	return New(func(p pane.ID, m pane.Mode) { log = append(log, change{p, m}) }, nil), &log
}

var at = viewport.LatLng{Lat: 37.50, Lng: 127.00}

func TestEnter_CleansUpPriorModeFirst(t *testing.T) {
	c, log := newCoordinator()
	tools := &fakeTools{}

	require.NoError(t, c.Enter("left", tools, pane.ModeMeasuringDistance, at))
	require.NoError(t, c.Enter("left", tools, pane.ModeImmersivePanorama, at))

	assert.Equal(t, []string{"measure_begin:measure_distance", "measure_end", "panorama_open"}, tools.calls)
	assert.Equal(t, pane.ModeImmersivePanorama, c.Mode("left"))
	assert.Equal(t, []change{
		{"left", pane.ModeMeasuringDistance},
		{"left", pane.ModeNormal},
		{"left", pane.ModeImmersivePanorama},
	}, *log)
}

func TestEnter_SameModeIsNoop(t *testing.T) {
	c, log := newCoordinator()
	tools := &fakeTools{}
	require.NoError(t, c.Enter("left", tools, pane.ModeMeasuringArea, at))
	require.NoError(t, c.Enter("left", tools, pane.ModeMeasuringArea, at))
	assert.Len(t, tools.calls, 1)
	assert.Len(t, *log, 1)
}

func TestEnter_NoImageryLeavesNormal(t *testing.T) {
	c, log := newCoordinator()
	tools := &fakeTools{noImagery: true}
	err := c.Enter("left", tools, pane.ModeImmersivePanorama, at)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNoImageryAvailable))
	assert.Equal(t, pane.ModeNormal, c.Mode("left"))
	assert.Empty(t, *log)
}

func TestEnter_InvalidMode(t *testing.T) {
	c, _ := newCoordinator()
	err := c.Enter("left", &fakeTools{}, pane.Mode(9), at)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidMode))
}

func TestEnter_IllegalTransitionKeepsCurrentMode(t *testing.T) {
	c, log := newCoordinator()
	tools := &fakeTools{}
	require.NoError(t, c.Enter("left", tools, pane.ModeMeasuringArea, at))

	err := c.Enter("left", tools, pane.Mode(9), at)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidMode))
	assert.Equal(t, pane.ModeMeasuringArea, c.Mode("left"))
	assert.Equal(t, []string{"measure_begin:measure_area"}, tools.calls)
	assert.Len(t, *log, 1)
}

func TestExitAndRevert(t *testing.T) {
	c, log := newCoordinator()
	tools := &fakeTools{}
	require.NoError(t, c.Enter("left", tools, pane.ModeImmersivePanorama, at))
	require.NoError(t, c.Enter("right", tools, pane.ModeMeasuringArea, at))

	c.Revert("left", tools)
	assert.Equal(t, pane.ModeNormal, c.Mode("left"))
	assert.Equal(t, pane.ModeMeasuringArea, c.Mode("right"), "other panes are unaffected")

	c.Revert("right", tools)
	assert.Equal(t, pane.ModeMeasuringArea, c.Mode("right"), "revert only applies to panoramas")

	require.NoError(t, c.Exit("right", tools))
	require.NoError(t, c.Exit("right", tools))
	assert.Empty(t, c.Modes())
	assert.Equal(t, change{"right", pane.ModeNormal}, (*log)[len(*log)-1])
}

func TestForget(t *testing.T) {
	c, log := newCoordinator()
	require.NoError(t, c.Enter("left", &fakeTools{}, pane.ModeMeasuringArea, at))
	c.Forget("left")
	c.Forget("left")
	assert.Equal(t, pane.ModeNormal, c.Mode("left"))
	assert.Len(t, *log, 2)
}

func TestRoute(t *testing.T) {
	c, _ := newCoordinator()
	tools := &fakeTools{}
	ev := func(p pane.ID, k provider.EventKind, o provider.Origin) provider.Event {
		return provider.Event{Pane: p, Kind: k, Origin: o}
	}

	assert.Equal(t, Arbitrate, c.Route(ev("left", provider.ViewportChanged, provider.Organic)))
	assert.Equal(t, Drop, c.Route(ev("left", provider.ViewportChanged, provider.Programmatic)))
	assert.Equal(t, Drop, c.Route(ev("left", provider.ViewportChanged, provider.Panorama)))
	assert.Equal(t, AddressLookup, c.Route(ev("left", provider.Click, provider.Organic)))
	assert.Equal(t, Interaction, c.Route(ev("left", provider.InteractionStarted, provider.Organic)))
	assert.Equal(t, Drop, c.Route(ev("left", provider.PanoramaUnavailable, provider.Organic)))

	require.NoError(t, c.Enter("left", tools, pane.ModeImmersivePanorama, at))
	assert.Equal(t, Arbitrate, c.Route(ev("left", provider.ViewportChanged, provider.Panorama)))
	assert.Equal(t, Drop, c.Route(ev("left", provider.ViewportChanged, provider.Organic)))
	assert.Equal(t, Unavailable, c.Route(ev("left", provider.PanoramaUnavailable, provider.Organic)))
	assert.Equal(t, AddressLookup, c.Route(ev("left", provider.Click, provider.Organic)))

	require.NoError(t, c.Enter("left", tools, pane.ModeMeasuringDistance, at))
	assert.Equal(t, Drop, c.Route(ev("left", provider.Click, provider.Organic)))
	assert.Equal(t, AddressLookup, c.Route(ev("right", provider.Click, provider.Organic)))
	require.NoError(t, c.Exit("left", tools))
	assert.Equal(t, AddressLookup, c.Route(ev("left", provider.Click, provider.Organic)))
}

func TestFollowPanorama(t *testing.T) {
	c, _ := newCoordinator()
	tools := &fakeTools{}
	v := viewport.New(37.5001, 127.0001, 17)
	c.FollowPanorama("left", tools, v)
	assert.Empty(t, tools.calls)

	require.NoError(t, c.Enter("left", tools, pane.ModeImmersivePanorama, at))
	c.FollowPanorama("left", tools, v)
	assert.Equal(t, "apply:"+v.String(), tools.calls[len(tools.calls)-1])
}
