// File: internal/interfaces/cli/simulate.go
// simulate: drives the engine against simulated widgets offline.

package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/mapsync/internal/config"
	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/internal/sync/normalizer"
	"github.com/turtacn/mapsync/internal/sync/provider/sim"
	"github.com/turtacn/mapsync/internal/sync/schedule"
	"github.com/turtacn/mapsync/pkg/errors"
)

// Simulation scenarios.
const (
	ScenarioDrag     = "drag"
	ScenarioSearch   = "search"
	ScenarioPanorama = "panorama"
)

// simulationEpoch is the fixed clock origin, so reports are reproducible.
var simulationEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultSimulationPanes is used when the configuration declares no panes.
var DefaultSimulationPanes = []config.PaneConfig{
	{ID: "left", Provider: string(pane.ProviderGoogle)},
	{ID: "right", Provider: string(pane.ProviderKakao)},
	{ID: "center", Provider: string(pane.ProviderNaver)},
}

// SimulationOptions describes one scripted run.
type SimulationOptions struct {
	Scenario string
	Source   pane.ID
	Target   viewport.Viewport
	Steps    int
	Panes    []config.PaneConfig
	Engine   engine.Options
}

// SimulatedPane is the end state of one pane.
type SimulatedPane struct {
	ID        pane.ID               `json:"id"`
	Provider  pane.ProviderKind     `json:"provider"`
	Mode      pane.Mode             `json:"mode"`
	Native    normalizer.NativeView `json:"native"`
	Canonical viewport.Viewport     `json:"canonical"`
	Writes    int                   `json:"writes"`
}

// SimulationReport is the outcome of a run.
type SimulationReport struct {
	Scenario      string                `json:"scenario"`
	Source        pane.ID               `json:"source"`
	Target        viewport.Viewport     `json:"target"`
	Canonical     viewport.Viewport     `json:"canonical"`
	Panes         []SimulatedPane       `json:"panes"`
	Notifications []engine.Notification `json:"notifications"`
}

// TableHeaders implements the table output.
func (r *SimulationReport) TableHeaders() []string {
	return []string{"PANE", "PROVIDER", "MODE", "NATIVE", "LAT", "LNG", "ZOOM", "WRITES"}
}

// TableRows implements the table output.
func (r *SimulationReport) TableRows() [][]string {
	rows := make([][]string, 0, len(r.Panes))
	for _, p := range r.Panes {
		rows = append(rows, []string{
			p.ID.String(),
			p.Provider.String(),
			p.Mode.String(),
			p.Native.String(),
			fmt.Sprintf("%.6f", p.Canonical.Lat),
			fmt.Sprintf("%.6f", p.Canonical.Lng),
			fmt.Sprintf("%.2f", p.Canonical.Zoom),
			fmt.Sprintf("%d", p.Writes),
		})
	}
	return rows
}

func (r *SimulationReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "scenario %s from %s to (%.6f, %.6f) z%.2f\n", r.Scenario, r.Source, r.Target.Lat, r.Target.Lng, r.Target.Zoom)
	fmt.Fprintf(&sb, "canonical (%.6f, %.6f) z%.2f\n", r.Canonical.Lat, r.Canonical.Lng, r.Canonical.Zoom)
	for _, p := range r.Panes {
		fmt.Fprintf(&sb, "  %-8s %-7s %-16s %s writes=%d\n", p.ID, p.Provider, p.Mode, p.Native, p.Writes)
	}
	fmt.Fprintf(&sb, "%d host notifications", len(r.Notifications))
	return sb.String()
}

// NewSimulateCmd runs a scripted scenario over simulated providers.
func NewSimulateCmd() *cobra.Command {
	var (
		scenario string
		source   string
		lat      float64
		lng      float64
		zoom     float64
		steps    int
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted scenario against simulated map providers",
		Long: "simulate drives the engine with in-process providers and reports where every\n" +
			"pane ended up.  Scenarios: drag (a user drags the source pane), search (a\n" +
			"search result is selected), panorama (the source pane opens and walks a\n" +
			"street-level panorama).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			src, err := pane.ParseID(source)
			if err != nil {
				return err
			}
			panes := cliCtx.Config.Panes
			if len(panes) == 0 {
				panes = DefaultSimulationPanes
			}
			report, err := RunSimulation(cmd.Context(), SimulationOptions{
				Scenario: scenario,
				Source:   src,
				Target:   viewport.New(lat, lng, zoom),
				Steps:    steps,
				Panes:    panes,
				Engine:   cliCtx.Config.EngineOptions(),
			}, cliCtx.Logger)
			if err != nil {
				return err
			}
			return PrintResult(cmd, report)
		},
	}
	f := cmd.Flags()
	f.StringVar(&scenario, "scenario", ScenarioDrag, "scenario to run (drag, search, panorama)")
	f.StringVar(&source, "source", "left", "pane driving the scenario")
	f.Float64Var(&lat, "lat", 37.5700, "target latitude")
	f.Float64Var(&lng, "lng", 126.9800, "target longitude")
	f.Float64Var(&zoom, "zoom", 17, "target canonical zoom")
	f.IntVar(&steps, "steps", 5, "intermediate views of a drag")
	return cmd
}

// RunSimulation executes opts on a fresh engine driven by a manual clock.
func RunSimulation(ctx context.Context, opts SimulationOptions, log logging.Logger) (*SimulationReport, error) {
	if err := opts.Target.Validate(); err != nil {
		return nil, err
	}
	if opts.Steps <= 0 {
		opts.Steps = 1
	}

	reg, runtimes := sim.NewRegistry()
	clock := schedule.NewManual(simulationEpoch)
	var (
		mu     sync.Mutex
		notes  []engine.Notification
		record = engine.Notifier{
			Send: func(n engine.Notification) {
				mu.Lock()
				notes = append(notes, n)
				mu.Unlock()
			},
			Now: clock.Now,
		}
	)
	eng, err := engine.New(reg, opts.Engine, log, engine.WithScheduler(clock), engine.WithListener(record))
	if err != nil {
		return nil, err
	}
	eng.Start(ctx)
	defer eng.Stop()

	advance := func(d time.Duration) {
		clock.Advance(d)
		eng.Settle()
	}
	idle := opts.Engine.Quiescence + opts.Engine.Settle + time.Second

	kinds := make(map[pane.ID]pane.ProviderKind, len(opts.Panes))
	for _, pc := range opts.Panes {
		id, err := pane.ParseID(pc.ID)
		if err != nil {
			return nil, err
		}
		kind, err := pane.ParseProviderKind(pc.Provider)
		if err != nil {
			return nil, err
		}
		if err := eng.SetPaneConfig(ctx, id, pane.Config{Provider: kind, Satellite: pc.Satellite}); err != nil {
			return nil, err
		}
		kinds[id] = kind
	}
	advance(idle)

	srcKind, ok := kinds[opts.Source]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownPane, "source pane is not configured").WithDetail(opts.Source.String())
	}
	src := runtimes[srcKind].Widget(opts.Source.String())
	norm, err := normalizer.For(srcKind)
	if err != nil {
		return nil, err
	}
	for _, rt := range runtimes {
		for _, w := range rt.Widgets() {
			w.ResetCalls()
		}
	}
	mu.Lock()
	notes = nil
	mu.Unlock()

	switch opts.Scenario {
	case ScenarioDrag:
		snap, err := eng.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		path := make([]normalizer.NativeView, 0, opts.Steps)
		for i := 1; i <= opts.Steps; i++ {
			path = append(path, norm.FromCanonical(interpolate(snap.Canonical, opts.Target, float64(i)/float64(opts.Steps))))
		}
		src.Drag(path...)
		eng.Settle()
	case ScenarioSearch:
		if err := eng.SelectSearchResult(ctx, opts.Target); err != nil {
			return nil, err
		}
		eng.Settle()
	case ScenarioPanorama:
		snap, err := eng.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		at := snap.Canonical.Center()
		if err := eng.EnterMode(ctx, opts.Source, pane.ModeImmersivePanorama, &at); err != nil {
			return nil, err
		}
		advance(idle)
		src.WalkPanorama(norm.FromCanonicalPoint(opts.Target.Center()))
		eng.Settle()
	default:
		return nil, errors.InvalidParam("unknown scenario").WithDetail(opts.Scenario)
	}
	advance(idle)

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	report := &SimulationReport{
		Scenario:  opts.Scenario,
		Source:    opts.Source,
		Target:    opts.Target,
		Canonical: snap.Canonical,
	}
	for _, p := range snap.Panes {
		w := runtimes[p.Provider].Widget(p.ID.String())
		if w == nil {
			continue
		}
		n, err := normalizer.For(p.Provider)
		if err != nil {
			return nil, err
		}
		native := w.Current()
		report.Panes = append(report.Panes, SimulatedPane{
			ID:        p.ID,
			Provider:  p.Provider,
			Mode:      p.Mode,
			Native:    native,
			Canonical: n.ToCanonical(native),
			Writes:    len(w.SetViews()),
		})
	}
	sort.Slice(report.Panes, func(i, j int) bool { return report.Panes[i].ID < report.Panes[j].ID })
	mu.Lock()
	report.Notifications = append([]engine.Notification(nil), notes...)
	mu.Unlock()
	return report, nil
}

// interpolate returns the viewport a fraction t of the way from a to b.
func interpolate(a, b viewport.Viewport, t float64) viewport.Viewport {
	return viewport.New(
		a.Lat+(b.Lat-a.Lat)*t,
		a.Lng+(b.Lng-a.Lng)*t,
		a.Zoom+(b.Zoom-a.Zoom)*t,
	)
}
