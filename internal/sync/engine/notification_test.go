package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/pkg/errors"
)

func TestNotifier(t *testing.T) {
	var got []Notification
	n := Notifier{Send: func(m Notification) { got = append(got, m) }, Now: func() time.Time { return epoch }}

	n.OnCanonicalViewportChanged(start)
	n.OnPaneModeChanged("left", pane.ModeNormal)
	n.OnAddressRequested("right", viewport.LatLng{Lat: 37.5, Lng: 127})
	n.OnPaneError("center", errors.NoImageryAvailable("pane=center"))

	require.Len(t, got, 4)
	assert.Equal(t, NotifyViewport, got[0].Type)
	assert.Equal(t, start, *got[0].Viewport)
	assert.Equal(t, "normal", got[1].Mode)
	assert.Equal(t, viewport.LatLng{Lat: 37.5, Lng: 127}, *got[2].At)
	assert.Equal(t, string(errors.ErrCodeNoImageryAvailable), got[3].Code)
	assert.Equal(t, epoch, got[3].Time)

	raw, err := json.Marshal(got[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mode","pane":"left","mode":"normal","time":"2024-05-01T09:00:00Z"}`, string(raw))
}
