package engine

import (
	"time"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/pkg/errors"
)

// NotificationType names a host notification on the wire.
type NotificationType string

const (
	NotifyViewport  NotificationType = "viewport"
	NotifyMode      NotificationType = "mode"
	NotifyAddress   NotificationType = "address"
	NotifyPaneError NotificationType = "pane_error"
)

// Notification is the serialisable form of a HostListener callback, shared
// by the websocket hub and the external mirrors.
type Notification struct {
	Type     NotificationType   `json:"type"`
	Pane     pane.ID            `json:"pane,omitempty"`
	Viewport *viewport.Viewport `json:"viewport,omitempty"`
	Mode     string             `json:"mode,omitempty"`
	At       *viewport.LatLng   `json:"at,omitempty"`
	Code     string             `json:"code,omitempty"`
	Error    string             `json:"error,omitempty"`
	Time     time.Time          `json:"time"`
}

// Notifier turns HostListener callbacks into Notifications for Send.
type Notifier struct {
	Send func(Notification)
	// Now stamps notifications; nil means time.Now.
	Now func() time.Time
}

var _ HostListener = Notifier{}

func (n Notifier) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now().UTC()
}

func (n Notifier) OnCanonicalViewportChanged(v viewport.Viewport) {
	n.Send(Notification{Type: NotifyViewport, Viewport: &v, Time: n.now()})
}

func (n Notifier) OnPaneModeChanged(p pane.ID, m pane.Mode) {
	n.Send(Notification{Type: NotifyMode, Pane: p, Mode: m.String(), Time: n.now()})
}

func (n Notifier) OnAddressRequested(p pane.ID, at viewport.LatLng) {
	n.Send(Notification{Type: NotifyAddress, Pane: p, At: &at, Time: n.now()})
}

func (n Notifier) OnPaneError(p pane.ID, err error) {
	n.Send(Notification{
		Type:  NotifyPaneError,
		Pane:  p,
		Code:  string(errors.GetCode(err)),
		Error: err.Error(),
		Time:  n.now(),
	})
}
