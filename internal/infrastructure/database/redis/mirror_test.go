package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/internal/testutil"
	"github.com/turtacn/mapsync/pkg/errors"
)

func TestMirror_WritesStateAndPublishes(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "test:"+ChannelEvents)
	require.NoError(t, err)
	defer sub.Close()
	_, err = sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	m := NewMirror(client, MirrorOptions{KeyPrefix: "test:", StateTTL: time.Hour}, testutil.NewMockLogger(), nil)
	l := m.Listener()
	v := viewport.New(37.5665, 126.978, 16)
	l.OnCanonicalViewportChanged(v)
	l.OnPaneModeChanged("left", pane.ModeImmersivePanorama)
	l.OnPaneModeChanged("right", pane.ModeMeasuringArea)
	l.OnPaneModeChanged("right", pane.ModeNormal)
	l.OnPaneError("center", errors.NoImageryAvailable("pane=center"))
	m.Close()

	got, ok, err := m.LastViewport(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v, got)
	assert.Equal(t, time.Hour, mr.TTL("test:"+KeyViewport))

	modes, err := m.Modes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[pane.ID]pane.Mode{"left": pane.ModeImmersivePanorama}, modes)

	var types []engine.NotificationType
	for i := 0; i < 5; i++ {
		select {
		case msg := <-sub.Channel():
			var n engine.Notification
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
			types = append(types, n.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d messages published", i)
		}
	}
	assert.Equal(t, []engine.NotificationType{
		engine.NotifyViewport, engine.NotifyMode, engine.NotifyMode, engine.NotifyMode, engine.NotifyPaneError,
	}, types)
}

func TestMirror_LastViewportMissing(t *testing.T) {
	client, _ := newTestClient(t)
	m := NewMirror(client, MirrorOptions{}, testutil.NewMockLogger(), nil)
	defer m.Close()

	_, ok, err := m.LastViewport(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMirror_LastViewportCorrupt(t *testing.T) {
	client, mr := newTestClient(t)
	require.NoError(t, mr.Set("mapsync:"+KeyViewport, `{"lat":123,"lng":0,"zoom":3}`))
	m := NewMirror(client, MirrorOptions{}, testutil.NewMockLogger(), nil)
	defer m.Close()

	_, ok, err := m.LastViewport(context.Background())
	assert.False(t, ok)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidViewport))
}

func TestMirror_WriteFailureIsLogged(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := NewClient(context.Background(), Config{Addrs: []string{mr.Addr()}, MaxRetries: -1}, logging.NewNopLogger())
	require.NoError(t, err)
	defer client.Close()
	log := testutil.NewMockLogger()
	m := NewMirror(client, MirrorOptions{WriteTimeout: 200 * time.Millisecond}, log, nil)
	mr.Close()

	m.Send(engine.Notification{Type: engine.NotifyAddress, Pane: "left"})
	m.Close()
	assert.True(t, log.HasMessage("warn", "mirror write failed"))
}

func TestMirror_SendAfterCloseIsIgnored(t *testing.T) {
	client, _ := newTestClient(t)
	m := NewMirror(client, MirrorOptions{}, testutil.NewMockLogger(), nil)
	m.Close()
	m.Close()
	assert.NotPanics(t, func() { m.Send(engine.Notification{Type: engine.NotifyViewport}) })
}

func TestReader_WatchDeliversPublishedNotifications(t *testing.T) {
	client, mr := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := NewReader(client, "watch:", testutil.NewMockLogger())
	got := make(chan engine.Notification, 4)
	done := make(chan error, 1)
	go func() {
		done <- r.Watch(ctx, func(n engine.Notification) error {
			got <- n
			if n.Type == engine.NotifyPaneError {
				return assert.AnError
			}
			return nil
		})
	}()

	// Wait until the subscription is live before publishing.
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("watch:*")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mr.Publish("watch:"+ChannelEvents, "not json")
	mr.Publish("watch:"+ChannelEvents, `{"type":"mode","pane":"left","mode":"measure_distance"}`)
	mr.Publish("watch:"+ChannelEvents, `{"type":"pane_error","pane":"right","code":"SYNC_002"}`)

	first := <-got
	assert.Equal(t, engine.NotifyMode, first.Type)
	assert.Equal(t, pane.ID("left"), first.Pane)
	assert.Equal(t, engine.NotifyPaneError, (<-got).Type)
	assert.ErrorIs(t, <-done, assert.AnError)
}

func TestReader_WatchOnClosedClient(t *testing.T) {
	client, _ := newTestClient(t)
	require.NoError(t, client.Close())
	err := NewReader(client, "", nil).Watch(context.Background(), func(engine.Notification) error { return nil })
	assert.ErrorIs(t, err, ErrClientClosed)
}
