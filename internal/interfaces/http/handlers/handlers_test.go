// File: internal/interfaces/http/handlers/handlers_test.go
// Handler tests against a mocked engine.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Snapshot(ctx context.Context) (engine.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(engine.Snapshot), args.Error(1)
}

func (m *mockEngine) SetPaneConfig(ctx context.Context, id pane.ID, cfg pane.Config) error {
	return m.Called(ctx, id, cfg).Error(0)
}

func (m *mockEngine) RemovePane(ctx context.Context, id pane.ID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockEngine) SetCanonicalViewport(ctx context.Context, v viewport.Viewport) error {
	return m.Called(ctx, v).Error(0)
}

func (m *mockEngine) SelectSearchResult(ctx context.Context, v viewport.Viewport) error {
	return m.Called(ctx, v).Error(0)
}

func (m *mockEngine) ClearSearchMarker(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockEngine) SetFullscreenPane(ctx context.Context, id pane.ID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockEngine) EnterMode(ctx context.Context, id pane.ID, md pane.Mode, at *viewport.LatLng) error {
	return m.Called(ctx, id, md, at).Error(0)
}

func (m *mockEngine) ExitMode(ctx context.Context, id pane.ID) error {
	return m.Called(ctx, id).Error(0)
}

func newSyncRouter(e SyncEngine) *gin.Engine {
	h := NewSyncHandler(e)
	r := gin.New()
	r.GET("/state", h.State)
	r.PUT("/panes/:pane", h.SetPane)
	r.DELETE("/panes/:pane", h.RemovePane)
	r.PUT("/panes/:pane/mode", h.EnterMode)
	r.DELETE("/panes/:pane/mode", h.ExitMode)
	r.PUT("/viewport", h.SetViewport)
	r.POST("/search/select", h.SelectSearchResult)
	r.DELETE("/search/marker", h.ClearSearchMarker)
	r.PUT("/fullscreen", h.SetFullscreen)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestState(t *testing.T) {
	e := new(mockEngine)
	snap := engine.Snapshot{
		Canonical: viewport.New(37.5, 127, 15),
		Panes:     []engine.PaneSnapshot{{ID: "left", Provider: pane.ProviderGoogle, Mode: pane.ModeMeasuringArea}},
	}
	e.On("Snapshot", mock.Anything).Return(snap, nil)

	w := do(newSyncRouter(e), http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got engine.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, snap.Canonical, got.Canonical)
	require.Len(t, got.Panes, 1)
	assert.Equal(t, pane.ModeMeasuringArea, got.Panes[0].Mode)
	assert.Contains(t, w.Body.String(), `"mode":"measure_area"`)
}

func TestSetPane(t *testing.T) {
	e := new(mockEngine)
	e.On("SetPaneConfig", mock.Anything, pane.ID("left"), pane.Config{Provider: pane.ProviderKakao, Satellite: true}).Return(nil)

	w := do(newSyncRouter(e), http.MethodPut, "/panes/left", `{"provider":"Kakao","satellite":true}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	e.AssertExpectations(t)
}

func TestSetPane_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   errors.ErrorCode
	}{
		{"invalid pane id", "/panes/Not%20A%20Pane", `{"provider":"google"}`, http.StatusNotFound, errors.ErrCodeUnknownPane},
		{"unknown provider", "/panes/left", `{"provider":"bing"}`, http.StatusBadRequest, errors.ErrCodeUnknownProvider},
		{"missing provider", "/panes/left", `{"satellite":true}`, http.StatusBadRequest, errors.CodeInvalidParam},
		{"malformed body", "/panes/left", `{`, http.StatusBadRequest, errors.CodeInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := new(mockEngine)
			w := do(newSyncRouter(e), http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code.String(), decodeError(t, w).Code)
			e.AssertNotCalled(t, "SetPaneConfig", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRemovePane_UnknownPane(t *testing.T) {
	e := new(mockEngine)
	e.On("RemovePane", mock.Anything, pane.ID("ghost")).
		Return(errors.New(errors.ErrCodeUnknownPane, "no such pane").WithDetail("pane=ghost"))

	w := do(newSyncRouter(e), http.MethodDelete, "/panes/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "no such pane", resp.Message)
	assert.Equal(t, "pane=ghost", resp.Detail)
}

func TestSetViewport(t *testing.T) {
	e := new(mockEngine)
	e.On("SetCanonicalViewport", mock.Anything, viewport.Viewport{Lat: 0, Lng: 127, Zoom: 12}).Return(nil)

	w := do(newSyncRouter(e), http.MethodPut, "/viewport", `{"lat":0,"lng":127,"zoom":12}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	e.AssertExpectations(t)
}

func TestSetViewport_MissingField(t *testing.T) {
	e := new(mockEngine)
	w := do(newSyncRouter(e), http.MethodPut, "/viewport", `{"lat":37,"lng":127}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetViewport_InvalidViewport(t *testing.T) {
	e := new(mockEngine)
	e.On("SetCanonicalViewport", mock.Anything, mock.Anything).
		Return(errors.New(errors.ErrCodeInvalidViewport, "latitude out of range"))

	w := do(newSyncRouter(e), http.MethodPut, "/viewport", `{"lat":95,"lng":127,"zoom":12}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrCodeInvalidViewport.String(), decodeError(t, w).Code)
}

func TestSearchMarker(t *testing.T) {
	e := new(mockEngine)
	e.On("SelectSearchResult", mock.Anything, viewport.Viewport{Lat: 37.4, Lng: 127.1, Zoom: 18}).Return(nil)
	e.On("ClearSearchMarker", mock.Anything).Return(nil)
	r := newSyncRouter(e)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/search/select", `{"lat":37.4,"lng":127.1,"zoom":18}`).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/search/marker", "").Code)
	e.AssertExpectations(t)
}

func TestSetFullscreen(t *testing.T) {
	e := new(mockEngine)
	e.On("SetFullscreenPane", mock.Anything, pane.ID("right")).Return(nil)
	e.On("SetFullscreenPane", mock.Anything, pane.None).Return(nil)
	r := newSyncRouter(e)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPut, "/fullscreen", `{"pane":"right"}`).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPut, "/fullscreen", `{"pane":""}`).Code)
	e.AssertExpectations(t)
}

func TestEnterMode(t *testing.T) {
	e := new(mockEngine)
	at := &viewport.LatLng{Lat: 37.5, Lng: 127}
	e.On("EnterMode", mock.Anything, pane.ID("left"), pane.ModeImmersivePanorama, at).Return(nil)
	e.On("EnterMode", mock.Anything, pane.ID("left"), pane.ModeMeasuringDistance, (*viewport.LatLng)(nil)).Return(nil)
	r := newSyncRouter(e)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPut, "/panes/left/mode", `{"mode":"panorama","lat":37.5,"lng":127}`).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPut, "/panes/left/mode", `{"mode":"measure_distance"}`).Code)
	e.AssertExpectations(t)
}

func TestEnterMode_Errors(t *testing.T) {
	e := new(mockEngine)
	r := newSyncRouter(e)

	w := do(r, http.MethodPut, "/panes/left/mode", `{"mode":"flying"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrCodeInvalidMode.String(), decodeError(t, w).Code)

	w = do(r, http.MethodPut, "/panes/left/mode", `{"mode":"panorama","lat":37.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.CodeInvalidParam.String(), decodeError(t, w).Code)
	e.AssertNotCalled(t, "EnterMode", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExitMode_ProviderUnavailable(t *testing.T) {
	e := new(mockEngine)
	e.On("ExitMode", mock.Anything, pane.ID("left")).Return(errors.ProviderUnavailable("naver"))

	w := do(newSyncRouter(e), http.MethodDelete, "/panes/left/mode", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "provider=naver", decodeError(t, w).Detail)
}

func TestWriteError_MasksInternal(t *testing.T) {
	e := new(mockEngine)
	e.On("ClearSearchMarker", mock.Anything).Return(errors.New(errors.ErrCodeInternal, "secret state dump"))

	w := do(newSyncRouter(e), http.MethodDelete, "/search/marker", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, errors.DefaultMessageForCode(errors.ErrCodeInternal), resp.Message)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestWriteError_ForeignError(t *testing.T) {
	e := new(mockEngine)
	e.On("Snapshot", mock.Anything).Return(engine.Snapshot{}, context.DeadlineExceeded)

	w := do(newSyncRouter(e), http.MethodGet, "/state", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, errors.ErrCodeInternal.String(), decodeError(t, w).Code)
}

func TestHealthHandler(t *testing.T) {
	healthy := CheckFunc{Component: "engine", Fn: func(context.Context) error { return nil }}
	broken := CheckFunc{Component: "redis", Fn: func(context.Context) error { return errors.Internal("dial refused") }}

	t.Run("liveness", func(t *testing.T) {
		r := gin.New()
		r.GET("/healthz", NewHealthHandler("v1.2.3", broken).Liveness)
		w := do(r, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"version":"v1.2.3"`)
	})

	t.Run("ready", func(t *testing.T) {
		r := gin.New()
		r.GET("/readyz", NewHealthHandler("dev", healthy).Readiness)
		w := do(r, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Components["engine"].Status)
	})

	t.Run("not ready", func(t *testing.T) {
		r := gin.New()
		r.GET("/readyz", NewHealthHandler("dev", healthy, broken).Readiness)
		w := do(r, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "unhealthy", resp.Components["redis"].Status)
		assert.Contains(t, resp.Components["redis"].Error, "dial refused")
	})

	t.Run("informational component", func(t *testing.T) {
		widgets := CheckFunc{Component: "widgets", Info: func() string { return "left=google" }}
		r := gin.New()
		r.GET("/readyz", NewHealthHandler("dev", healthy, widgets).Readiness)
		w := do(r, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Components["widgets"].Status)
		assert.Equal(t, "left=google", resp.Components["widgets"].Detail)
		assert.Empty(t, resp.Components["engine"].Detail)
	})
}

func TestWSHandler_Disabled(t *testing.T) {
	h := NewWSHandler(nil, nil, nil)
	r := gin.New()
	r.GET("/ws/pane/:pane", h.Pane)
	r.GET("/ws/host", h.Host)

	assert.Equal(t, http.StatusNotImplemented, do(r, http.MethodGet, "/ws/pane/left?provider=google", "").Code)
	assert.Equal(t, http.StatusNotImplemented, do(r, http.MethodGet, "/ws/host", "").Code)
}
