package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/behavior"
	"github.com/ecyb/daynight-tracking/internal/config"
	"github.com/ecyb/daynight-tracking/internal/dispatch"
	"github.com/ecyb/daynight-tracking/internal/emotion"
	"github.com/ecyb/daynight-tracking/internal/models"
	"github.com/ecyb/daynight-tracking/internal/session"
)

var (
	replayFile string
	replaySend bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run recorded page events through the engine and print the outcome",
	Long: `replay reads raw page events, one JSON object per line, feeds them to a
fresh session and prints every state transition followed by the final
state. Nothing is delivered unless --send is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(projectRoot)
		if err != nil {
			return err
		}
		log := zap.NewNop()
		if verbose {
			if log, err = zap.NewDevelopment(); err != nil {
				return err
			}
		}

		var sink dispatch.Sink = dispatch.NopSink{}
		if replaySend {
			s, closeSink, err := newSink(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			defer closeSink()
			sink = s
		}

		f, err := os.Open(replayFile)
		if err != nil {
			return fmt.Errorf("open replay file: %w", err)
		}
		defer f.Close()

		return replay(cmd.Context(), log, sessionConfig(cfg), sink, f, cmd.OutOrStdout())
	},
}

// readEvents decodes one RawEvent per non-blank line.
func readEvents(r io.Reader) ([]models.RawEvent, error) {
	var events []models.RawEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var ev models.RawEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func replay(ctx context.Context, log *zap.Logger, cfg session.Config, sink dispatch.Sink, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	events, err := readEvents(in)
	if err != nil {
		return err
	}

	s := session.New(log, session.Options{
		Identity: behavior.Identity{
			TrackingID: cfg.TrackingID,
			ProjectID:  cfg.ProjectID,
			SessionID:  "replay",
		},
		Thresholds:       cfg.Thresholds,
		ThrottleInterval: cfg.ThrottleInterval,
		FlushSize:        cfg.FlushSize,
		Dispatch:         cfg.Dispatch,
		Sink:             sink,
	})

	handled := 0
	for _, ev := range events {
		if s.Handle(ctx, ev) {
			handled++
		}
	}
	snap := s.Snapshot()
	if err := s.End(ctx); err != nil {
		log.Warn("Delivery failed during replay", zap.Error(err))
	}

	fmt.Fprintf(out, "events: %d read, %d handled\n", len(events), handled)
	for _, t := range snap.History {
		fmt.Fprintf(out, "%s  %-11s -> %-11s intensity=%.0f frustration=%.0f\n",
			t.At.UTC().Format(time.RFC3339Nano), t.From, t.To, t.Intensity, t.FrustrationScore)
	}
	printSnapshot(out, snap)
	return nil
}

func printSnapshot(out io.Writer, snap emotion.Snapshot) {
	c := snap.Counters
	fmt.Fprintf(out, "final: %s intensity=%.0f frustration=%.0f interactions=%d max_scroll=%d\n",
		snap.State, snap.Intensity, snap.FrustrationScore, snap.InteractionCount, snap.MaxScrollDepth)
	fmt.Fprintf(out, "signals: rage=%d dead=%d stalls=%d backtracks=%d form_churn=%d idle=%d\n",
		c.RapidClicks, c.DeadClicks, c.ScrollStalls, c.BacktrackEvents, c.FormChurns, c.IdleSpikes)
}
