// File: internal/interfaces/cli/journal.go
// journal tail: reads the Kafka sync journal.

package cli

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/turtacn/mapsync/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/pkg/errors"
)

var errTailDone = stderrors.New("tail limit reached")

// NewJournalCmd groups the sync journal tools.
func NewJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the Kafka sync journal",
	}
	cmd.AddCommand(newJournalTailCmd())
	return cmd
}

// TailOptions filters and bounds a journal tail.
type TailOptions struct {
	// Types keeps only these notification types; empty keeps all.
	Types []string
	// Limit stops after this many printed events; 0 follows forever.
	Limit  int
	Format string
}

func newJournalTailCmd() *cobra.Command {
	var (
		fromBeginning bool
		partition     int
		opts          TailOptions
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print journal events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			kc := cliCtx.Config.Kafka
			tailer, err := kafka.NewTailer(kafka.TailConfig{
				Brokers:       kc.Brokers,
				Topic:         kc.Topic,
				Partition:     partition,
				FromBeginning: fromBeginning,
			}, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer tailer.Close()
			opts.Format = cliCtx.OutputFormat
			return TailJournal(cmd.Context(), tailer, cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&fromBeginning, "from-beginning", false, "start at the oldest retained event")
	f.IntVar(&partition, "partition", 0, "partition to read")
	f.StringSliceVar(&opts.Types, "type", nil, "only show these notification types (viewport, mode, address, pane_error)")
	f.IntVar(&opts.Limit, "limit", 0, "stop after this many events")
	return cmd
}

// TailJournal prints envelopes from t until ctx ends or the limit is hit.
func TailJournal(ctx context.Context, t *kafka.Tailer, w io.Writer, opts TailOptions) error {
	keep := make(map[string]bool, len(opts.Types))
	for _, typ := range opts.Types {
		keep[strings.TrimPrefix(strings.ToLower(typ), kafka.EventTypePrefix)] = true
	}
	printed := 0
	err := t.Tail(ctx, func(env *kafka.EventEnvelope, msg kafkago.Message) error {
		var n engine.Notification
		if err := env.DecodePayload(&n); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "decode journal payload").WithDetail(env.EventID)
		}
		if len(keep) > 0 && !keep[string(n.Type)] {
			return nil
		}
		if err := writeJournalEvent(w, opts.Format, env, n, msg.Offset); err != nil {
			return err
		}
		printed++
		if opts.Limit > 0 && printed >= opts.Limit {
			return errTailDone
		}
		return nil
	})
	if stderrors.Is(err, errTailDone) {
		return nil
	}
	return err
}

type journalLine struct {
	Offset    int64               `json:"offset"`
	EventID   string              `json:"event_id"`
	Timestamp time.Time           `json:"timestamp"`
	Event     engine.Notification `json:"event"`
}

func writeJournalEvent(w io.Writer, format string, env *kafka.EventEnvelope, n engine.Notification, offset int64) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(journalLine{Offset: offset, EventID: env.EventID, Timestamp: env.Timestamp, Event: n})
	}
	_, err := fmt.Fprintf(w, "%6d  %s  %-10s %-8s %s\n", offset, env.Timestamp.UTC().Format(time.RFC3339Nano), n.Type, n.Pane, describeNotification(n))
	return err
}

func describeNotification(n engine.Notification) string {
	switch n.Type {
	case engine.NotifyViewport:
		if n.Viewport != nil {
			return fmt.Sprintf("(%.6f, %.6f) z%.2f", n.Viewport.Lat, n.Viewport.Lng, n.Viewport.Zoom)
		}
	case engine.NotifyMode:
		return n.Mode
	case engine.NotifyAddress:
		if n.At != nil {
			return fmt.Sprintf("(%.6f, %.6f)", n.At.Lat, n.At.Lng)
		}
	case engine.NotifyPaneError:
		return strings.TrimSpace(n.Code + " " + n.Error)
	}
	return ""
}
