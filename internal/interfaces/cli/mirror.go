// File: internal/interfaces/cli/mirror.go
// mirror show and mirror watch: read the Redis state mirror.

package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/mapsync/internal/config"
	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/infrastructure/database/redis"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/pkg/errors"
)

var errWatchDone = stderrors.New("watch limit reached")

// NewMirrorCmd groups the Redis state mirror tools.
func NewMirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Inspect the Redis state mirror of a running service",
	}
	cmd.AddCommand(newMirrorShowCmd(), newMirrorWatchCmd())
	return cmd
}

// MirrorState is the mirrored canonical viewport and non-normal pane modes.
type MirrorState struct {
	Viewport *viewport.Viewport    `json:"viewport,omitempty"`
	Modes    map[pane.ID]pane.Mode `json:"modes"`
}

func (s MirrorState) panes() []pane.ID {
	ids := make([]pane.ID, 0, len(s.Modes))
	for id := range s.Modes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s MirrorState) String() string {
	var sb strings.Builder
	if s.Viewport == nil {
		sb.WriteString("viewport: none")
	} else {
		fmt.Fprintf(&sb, "viewport: (%.6f, %.6f) z%.2f", s.Viewport.Lat, s.Viewport.Lng, s.Viewport.Zoom)
	}
	for _, id := range s.panes() {
		fmt.Fprintf(&sb, "\n%s: %s", id, s.Modes[id])
	}
	return sb.String()
}

func (s MirrorState) TableHeaders() []string { return []string{"PANE", "MODE"} }

func (s MirrorState) TableRows() [][]string {
	rows := make([][]string, 0, len(s.Modes))
	for _, id := range s.panes() {
		rows = append(rows, []string{id.String(), s.Modes[id].String()})
	}
	return rows
}

// ReadMirrorState loads the mirrored state through r.
func ReadMirrorState(ctx context.Context, r *redis.Reader) (MirrorState, error) {
	var st MirrorState
	v, ok, err := r.LastViewport(ctx)
	if err != nil {
		return st, err
	}
	if ok {
		st.Viewport = &v
	}
	if st.Modes, err = r.Modes(ctx); err != nil {
		return st, err
	}
	return st, nil
}

func openMirrorReader(ctx context.Context, rc config.RedisConfig, log logging.Logger) (*redis.Client, *redis.Reader, error) {
	if rc.Addr == "" {
		return nil, nil, errors.InvalidParam("redis.addr is not configured")
	}
	client, err := redis.NewClient(ctx, redis.Config{
		Addrs:       []string{rc.Addr},
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: rc.DialTimeout,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return client, redis.NewReader(client, rc.KeyPrefix, log), nil
}

func newMirrorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the mirrored viewport and pane modes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			client, reader, err := openMirrorReader(cmd.Context(), cliCtx.Config.Redis, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer client.Close()
			st, err := ReadMirrorState(cmd.Context(), reader)
			if err != nil {
				return err
			}
			return PrintResult(cmd, st)
		},
	}
}

func newMirrorWatchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print notifications as the service publishes them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			client, reader, err := openMirrorReader(cmd.Context(), cliCtx.Config.Redis, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer client.Close()
			return WatchMirror(cmd.Context(), reader, cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many notifications")
	return cmd
}

// WatchMirror prints one line per published notification until ctx ends or
// limit lines are printed.
func WatchMirror(ctx context.Context, r *redis.Reader, w io.Writer, limit int) error {
	printed := 0
	err := r.Watch(ctx, func(n engine.Notification) error {
		if _, err := fmt.Fprintf(w, "%s  %-10s %-8s %s\n", n.Time.UTC().Format(time.RFC3339Nano), n.Type, n.Pane, describeNotification(n)); err != nil {
			return err
		}
		printed++
		if limit > 0 && printed >= limit {
			return errWatchDone
		}
		return nil
	})
	if stderrors.Is(err, errWatchDone) || stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
