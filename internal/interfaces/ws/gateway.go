// File: internal/interfaces/ws/gateway.go
// Remote widget runtimes served over websocket, one connection per pane.

package ws

import (
	"net/http"
	"sort"
	"sync"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mapsync/internal/sync/normalizer"
	"github.com/turtacn/mapsync/internal/sync/provider"
	"github.com/turtacn/mapsync/pkg/errors"
)

// Gateway accepts pane widget connections and exposes them to the engine as
// provider runtimes, one per provider kind.  A pane's container is its id.
type Gateway struct {
	opts    Options
	log     logging.Logger
	metrics *prometheus.SyncMetrics

	mu       sync.Mutex
	kinds    []pane.ProviderKind
	runtimes map[pane.ProviderKind]*Runtime
	conns    map[pane.ID]*paneConn
	onDetach func(pane.ID)
}

// NewGateway builds a gateway serving kinds.
func NewGateway(kinds []pane.ProviderKind, opts Options, log logging.Logger, metrics *prometheus.SyncMetrics) *Gateway {
	opts.applyDefaults()
	if metrics == nil {
		metrics = prometheus.NewNoopSyncMetrics()
	}
	g := &Gateway{
		opts:     opts,
		log:      log.Named("ws.pane"),
		metrics:  metrics,
		runtimes: make(map[pane.ProviderKind]*Runtime, len(kinds)),
		conns:    make(map[pane.ID]*paneConn),
	}
	for _, k := range kinds {
		if _, dup := g.runtimes[k]; dup {
			continue
		}
		g.kinds = append(g.kinds, k)
		g.runtimes[k] = &Runtime{kind: k, gw: g}
	}
	return g
}

// Runtimes returns the provider runtimes to register with the engine.
func (g *Gateway) Runtimes() []provider.Runtime {
	out := make([]provider.Runtime, 0, len(g.kinds))
	for _, k := range g.kinds {
		out = append(out, g.runtimes[k])
	}
	return out
}

// OnDetach installs f, called when a widget bound to a pane disconnects
// without the engine destroying it.
func (g *Gateway) OnDetach(f func(id pane.ID)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDetach = f
}

// Connected lists the panes with a live widget connection.
func (g *Gateway) Connected() map[pane.ID]pane.ProviderKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[pane.ID]pane.ProviderKind, len(g.conns))
	for id, c := range g.conns {
		out[id] = c.kind
	}
	return out
}

// ServePane upgrades the request and serves the widget of pane id until the
// connection ends.  A newer connection for the same pane replaces the old.
func (g *Gateway) ServePane(w http.ResponseWriter, r *http.Request, id pane.ID, kind pane.ProviderKind) error {
	if _, ok := g.runtimes[kind]; !ok {
		return errors.New(errors.ErrCodeUnknownProvider, "provider not served").WithDetail(kind.String())
	}
	conn, err := g.opts.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		g.log.Warn("websocket upgrade failed", logging.Pane(string(id)), logging.Err(err))
		return nil
	}
	pc := &paneConn{
		client: newClient(conn, ChannelPane, g.opts, g.log.With(logging.Pane(string(id)), logging.Provider(string(kind))), g.metrics),
		id:     id,
		kind:   kind,
	}

	g.mu.Lock()
	prev := g.conns[id]
	g.conns[id] = pc
	g.mu.Unlock()
	if prev != nil {
		pc.log.Info("replacing previous widget connection", logging.String("previous", string(prev.id)))
		prev.close()
	}

	g.metrics.WSClients.WithLabelValues(ChannelPane).Inc()
	pc.log.Info("widget connected")
	go pc.writePump()
	pc.readPump(pc.handle)
	g.detach(pc)
	return nil
}

func (g *Gateway) detach(pc *paneConn) {
	g.metrics.WSClients.WithLabelValues(ChannelPane).Dec()
	g.mu.Lock()
	if g.conns[pc.id] == pc {
		delete(g.conns, pc.id)
	}
	onDetach := g.onDetach
	g.mu.Unlock()

	pc.mu.Lock()
	orphaned := pc.widget != nil && !pc.widget.destroyed
	pc.mu.Unlock()
	pc.log.Info("widget disconnected", logging.Bool("orphaned", orphaned))
	if orphaned && onDetach != nil {
		onDetach(pc.id)
	}
}

// Close drops every widget connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*paneConn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.onDetach = nil
	g.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (g *Gateway) widget(kind pane.ProviderKind, container string) (provider.Widget, error) {
	g.mu.Lock()
	pc := g.conns[pane.ID(container)]
	g.mu.Unlock()
	if pc == nil || pc.kind != kind {
		return nil, errors.ProviderUnavailable(kind.String()).WithDetail("no widget connected for " + container)
	}
	return pc.bind()
}

func (g *Gateway) anyReady(kind pane.ProviderKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		if c.kind == kind && c.isReady() {
			return true
		}
	}
	return false
}

// Runtime is the provider runtime of one kind, backed by remote widgets.
type Runtime struct {
	kind pane.ProviderKind
	gw   *Gateway
}

func (r *Runtime) Kind() pane.ProviderKind { return r.kind }

// Ready reports whether any widget of this kind has connected and loaded.
func (r *Runtime) Ready() bool { return r.gw.anyReady(r.kind) }

func (r *Runtime) NewWidget(container string) (provider.Widget, error) {
	return r.gw.widget(r.kind, container)
}

// paneConn is one pane's widget connection.
type paneConn struct {
	*client
	id   pane.ID
	kind pane.ProviderKind

	mu      sync.Mutex
	ready   bool
	view    normalizer.NativeView
	hasView bool
	widget  *remoteWidget
}

func (c *paneConn) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *paneConn) bind() (provider.Widget, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed():
		return nil, errors.ProviderUnavailable(c.kind.String()).WithDetail("widget connection closed")
	default:
	}
	if !c.ready {
		return nil, errors.ProviderUnavailable(c.kind.String()).WithDetail("widget not ready")
	}
	if c.widget != nil {
		if c.widget.destroyed {
			return nil, errors.ProviderUnavailable(c.kind.String()).WithDetail("widget connection closing")
		}
		return nil, errors.New(errors.ErrCodeConflict, "widget already bound").WithDetail(c.id.String())
	}
	c.widget = &remoteWidget{conn: c, listeners: make(map[int]func(provider.NativeEvent))}
	return c.widget, nil
}

func (c *paneConn) handle(m Message) {
	var (
		ev provider.NativeEvent
		ok bool
	)
	switch m.Type {
	case TypeReady:
		c.mu.Lock()
		c.ready = true
		if v, has := m.view(); has {
			c.view, c.hasView = v, true
		}
		c.mu.Unlock()
		c.log.Info("widget ready")
		return
	case TypeView:
		v, has := m.view()
		if !has {
			return
		}
		c.mu.Lock()
		c.view, c.hasView = v, true
		c.mu.Unlock()
		ev, ok = provider.NativeEvent{Kind: provider.NativeViewChanged, View: v}, true
	case TypeInteraction:
		switch m.Phase {
		case PhaseStart:
			ev, ok = provider.NativeEvent{Kind: provider.NativeInteractionStarted}, true
		case PhaseEnd:
			ev, ok = provider.NativeEvent{Kind: provider.NativeInteractionEnded}, true
		}
	case TypeClick:
		if p, has := m.point(); has {
			ev, ok = provider.NativeEvent{Kind: provider.NativeClick, Point: p}, true
		}
	case TypePanorama:
		if p, has := m.point(); has {
			ev, ok = provider.NativeEvent{Kind: provider.NativePanoramaMoved, Point: p}, true
		}
	case TypePanoramaUnavailable:
		ev, ok = provider.NativeEvent{Kind: provider.NativePanoramaUnavailable}, true
	}
	if !ok {
		c.log.Debug("ignoring widget message", logging.String("type", m.Type))
		return
	}
	c.mu.Lock()
	w := c.widget
	c.mu.Unlock()
	if w != nil {
		w.fire(ev)
	}
}

// remoteWidget implements provider.Widget by sending commands to the page.
type remoteWidget struct {
	conn *paneConn

	// guarded by conn.mu
	destroyed bool
	listeners map[int]func(provider.NativeEvent)
	nextID    int
}

func (w *remoteWidget) send(m Message) error {
	w.conn.mu.Lock()
	destroyed := w.destroyed
	w.conn.mu.Unlock()
	if destroyed {
		return errors.New(errors.ErrCodeNativeCallFailed, "widget destroyed").WithDetail(m.Type)
	}
	return w.conn.enqueue(m)
}

func (w *remoteWidget) fire(ev provider.NativeEvent) {
	w.conn.mu.Lock()
	if w.destroyed {
		w.conn.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(w.listeners))
	for id := range w.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]func(provider.NativeEvent), 0, len(ids))
	for _, id := range ids {
		ls = append(ls, w.listeners[id])
	}
	w.conn.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (w *remoteWidget) View() (normalizer.NativeView, error) {
	w.conn.mu.Lock()
	defer w.conn.mu.Unlock()
	if !w.conn.hasView {
		return normalizer.NativeView{}, errors.New(errors.ErrCodeNativeCallFailed, "widget has not reported a view")
	}
	return w.conn.view, nil
}

func (w *remoteWidget) SetView(v normalizer.NativeView) error {
	if err := w.send(viewMessage(TypeSetView, v)); err != nil {
		return err
	}
	w.conn.mu.Lock()
	w.conn.view, w.conn.hasView = v, true
	w.conn.mu.Unlock()
	return nil
}

func (w *remoteWidget) SetMapKind(satellite bool) error {
	return w.send(Message{Type: TypeMapKind, Satellite: boolp(satellite)})
}

func (w *remoteWidget) SetOverlay(name string, on bool) error {
	return w.send(Message{Type: TypeOverlay, Name: name, On: boolp(on)})
}

// OpenPanorama cannot know about coverage synchronously; the page reports
// missing imagery with a panorama_unavailable message.
func (w *remoteWidget) OpenPanorama(at normalizer.NativePoint) error {
	return w.send(pointMessage(TypePanoramaOpen, at))
}

func (w *remoteWidget) ClosePanorama() error {
	return w.send(Message{Type: TypePanoramaClose})
}

func (w *remoteWidget) BeginMeasurement(kind string) error {
	return w.send(Message{Type: TypeMeasureBegin, Kind: kind})
}

func (w *remoteWidget) EndMeasurement() error {
	return w.send(Message{Type: TypeMeasureEnd})
}

func (w *remoteWidget) ShowMarker(at normalizer.NativePoint) error {
	return w.send(pointMessage(TypeMarker, at))
}

func (w *remoteWidget) ClearMarker() error {
	return w.send(Message{Type: TypeMarkerClear})
}

func (w *remoteWidget) Listen(l func(provider.NativeEvent)) (remove func()) {
	w.conn.mu.Lock()
	defer w.conn.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = l
	return func() {
		w.conn.mu.Lock()
		delete(w.listeners, id)
		w.conn.mu.Unlock()
	}
}

// Destroy tells the page to unmount the widget and ends the connection.
func (w *remoteWidget) Destroy() error {
	w.conn.mu.Lock()
	if w.destroyed {
		w.conn.mu.Unlock()
		return nil
	}
	w.destroyed = true
	w.listeners = make(map[int]func(provider.NativeEvent))
	w.conn.mu.Unlock()
	if err := w.conn.enqueue(Message{Type: TypeClose}); err != nil {
		w.conn.close()
	}
	return nil
}
